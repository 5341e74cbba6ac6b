package bridge

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects bridge operational counters for Prometheus exposition.
// There is only one Matrix homeserver and one set of Rocket.Chat servers
// in play, so the label set is simple: direction, plus the error kind on
// the forward-error counter.
type Metrics struct {
	messagesForwarded   *prometheus.CounterVec
	adminRoomsCreated   prometheus.Counter
	virtualUsersCreated prometheus.Counter
	forwardErrors       *prometheus.CounterVec
	forwardLatency      *prometheus.HistogramVec
}

// NewMetrics registers the bridge's counters against reg and returns a
// Metrics handle. Passing prometheus.NewRegistry() per test keeps test
// runs from colliding on the default global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		messagesForwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "matrix_rocketchat_messages_forwarded_total",
			Help: "Messages forwarded between Matrix and Rocket.Chat.",
		}, []string{"direction"}),
		adminRoomsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "matrix_rocketchat_admin_rooms_created_total",
			Help: "Admin rooms successfully created.",
		}),
		virtualUsersCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "matrix_rocketchat_virtual_users_created_total",
			Help: "Virtual Matrix users lazily created to puppet Rocket.Chat senders.",
		}),
		forwardErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "matrix_rocketchat_forward_errors_total",
			Help: "Forwarding failures, labeled by error kind.",
		}, []string{"direction", "kind"}),
		forwardLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "matrix_rocketchat_forward_latency_seconds",
			Help:    "Time to forward one message to its destination.",
			Buckets: prometheus.DefBuckets,
		}, []string{"direction"}),
	}
}

// direction label values.
const (
	DirectionMatrixToRocketchat = "matrix_to_rocketchat"
	DirectionRocketchatToMatrix = "rocketchat_to_matrix"
)

func (m *Metrics) ObserveForwarded(direction string) {
	m.messagesForwarded.WithLabelValues(direction).Inc()
}

func (m *Metrics) ObserveForwardError(direction, kind string) {
	m.forwardErrors.WithLabelValues(direction, kind).Inc()
}

func (m *Metrics) ObserveAdminRoomCreated() {
	m.adminRoomsCreated.Inc()
}

func (m *Metrics) ObserveVirtualUserCreated() {
	m.virtualUsersCreated.Inc()
}

// Timer returns a function that, when called, records the elapsed time
// since Timer was called as a forward-latency observation for direction.
func (m *Metrics) Timer(direction string) func() {
	t := prometheus.NewTimer(m.forwardLatency.WithLabelValues(direction))
	return func() { t.ObserveDuration() }
}

// Handler serves the metrics registered against reg in the Prometheus
// exposition format. Callers must pass the same registry given to
// NewMetrics, or the counters it created will never show up.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
