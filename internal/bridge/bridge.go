package bridge

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/n42/matrix-rocketchat/internal/config"
	"github.com/n42/matrix-rocketchat/internal/identity"
	"github.com/n42/matrix-rocketchat/internal/matrixapi"
	"github.com/n42/matrix-rocketchat/internal/rocketchat"
	"github.com/n42/matrix-rocketchat/internal/rocketchatapi"
	"github.com/n42/matrix-rocketchat/internal/store"
)

// Bridge is the main entry point that ties all components together: the
// Matrix application service HTTP surface, the Rocket.Chat webhook
// surface, the shared Store, and the dispatcher/forwarder pair that moves
// events between them.
type Bridge struct {
	Config *config.Config
	Store  *store.Store
	Log    zerolog.Logger

	Identity   *identity.Mapper
	Matrix     matrixapi.Client
	Dispatcher *Dispatcher
	Forwarder  *Forwarder
	Inbound    *InboundHandler
	ASHandler  *ASHandler
	Metrics    *Metrics
	registry   *prometheus.Registry

	asServer      *http.Server
	webhookServer *http.Server
	mu            sync.Mutex
	running       bool
}

// New creates a new Bridge instance from the given configuration.
func New(cfg *config.Config, log zerolog.Logger) (*Bridge, error) {
	b := &Bridge{
		Config: cfg,
		Log:    log,
	}

	db, err := store.New(cfg.DatabaseURL, 20, 5)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	b.Store = db

	return b, nil
}

// Start initializes all components and starts the bridge.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return fmt.Errorf("bridge is already running")
	}

	b.Log.Info().Msg("starting matrix-rocketchat bridge")

	if err := b.Store.RunMigrations(ctx); err != nil {
		return fmt.Errorf("run store migrations: %w", err)
	}
	b.Log.Info().Msg("store migrations complete")

	b.registry = prometheus.NewRegistry()
	b.Metrics = NewMetrics(b.registry)

	b.Identity = identity.New(b.Config.SenderLocalpart, b.Config.HSDomain)
	b.Matrix = matrixapi.NewHTTPClient(b.Config.HSURL, b.Config.ASToken, b.Config.HTTPTimeout)

	newRocketchatClient := func(baseURL string, creds rocketchatapi.Credentials) rocketchatapi.Client {
		return rocketchatapi.NewHTTPClient(baseURL, creds, b.Config.HTTPTimeout)
	}

	b.Forwarder = NewForwarder(b.Log.With().Str("component", "forwarder").Logger(), b.Store, newRocketchatClient, b.Metrics)

	b.Dispatcher = NewDispatcher(DispatcherConfig{
		Log:                 b.Log.With().Str("component", "dispatcher").Logger(),
		Store:               b.Store,
		Matrix:              b.Matrix,
		Identity:            b.Identity,
		Forwarder:           b.Forwarder,
		AcceptRemoteInvites: b.Config.AcceptRemoteInvites,
		HSDomain:            b.Config.HSDomain,
		Metrics:             b.Metrics,
	})

	b.Inbound = NewInboundHandler(InboundHandlerConfig{
		Log:      b.Log.With().Str("component", "inbound").Logger(),
		Store:    b.Store,
		Matrix:   b.Matrix,
		Identity: b.Identity,
		Metrics:  b.Metrics,
	})

	b.ASHandler = NewASHandler(b.Log.With().Str("component", "as_handler").Logger(), b.Config.HSToken, b.Identity, b.Dispatcher)

	// Start HTTP server for the application service API.
	b.asServer = &http.Server{
		Addr:         b.Config.ASAddress,
		Handler:      b.ASHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		b.Log.Info().Str("addr", b.asServer.Addr).Msg("application service http server listening")
		if err := b.asServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			b.Log.Error().Err(err).Msg("application service http server error")
		}
	}()

	// Start the Rocket.Chat webhook server, alongside the metrics endpoint.
	b.startWebhookServer()

	b.running = true
	b.Log.Info().Msg("matrix-rocketchat bridge started successfully")

	return nil
}

// startWebhookServer wires the Rocket.Chat admission middleware around the
// inbound handler and serves it, along with Prometheus metrics, on its own
// listener (spec.md §4.3).
func (b *Bridge) startWebhookServer() {
	webhookMiddleware := rocketchat.NewMiddleware(b.Log.With().Str("component", "rocketchat_middleware").Logger(), storeServerLookup{b.Store})

	mux := http.NewServeMux()
	mux.Handle("POST /rocketchat", webhookMiddleware.Wrap(b.handleWebhook))
	mux.Handle("GET /metrics", Handler(b.registry))

	b.webhookServer = &http.Server{
		Addr:         b.Config.WebhookAddress,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		b.Log.Info().Str("addr", b.webhookServer.Addr).Msg("rocketchat webhook http server listening")
		if err := b.webhookServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			b.Log.Error().Err(err).Msg("rocketchat webhook http server error")
		}
	}()
}

// storeServerLookup adapts the transactional *store.Store to the
// single-method rocketchat.ServerLookup interface the admission
// middleware needs, opening and committing its own short-lived
// transaction per lookup.
type storeServerLookup struct {
	db *store.Store
}

func (l storeServerLookup) FindByToken(ctx context.Context, token string) (*store.RocketchatServer, error) {
	tx, err := l.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	server, err := tx.Servers.FindByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return server, tx.Commit()
}

// handleWebhook adapts InboundHandler.Handle to the rocketchat.MessageHandler shape.
func (b *Bridge) handleWebhook(w http.ResponseWriter, r *http.Request, msg *rocketchatapi.WebhookMessage, server *store.RocketchatServer) {
	if err := b.Inbound.Handle(r.Context(), msg, server); err != nil {
		b.Log.Error().Err(err).Msg("failed to handle rocketchat webhook message")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Stop gracefully shuts down all bridge components.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return nil
	}

	b.Log.Info().Msg("stopping matrix-rocketchat bridge")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if b.webhookServer != nil {
		if err := b.webhookServer.Shutdown(shutdownCtx); err != nil {
			b.Log.Error().Err(err).Msg("rocketchat webhook server shutdown error")
		}
	}

	if b.asServer != nil {
		if err := b.asServer.Shutdown(shutdownCtx); err != nil {
			b.Log.Error().Err(err).Msg("application service server shutdown error")
		}
	}

	if b.Store != nil {
		if err := b.Store.Close(); err != nil {
			b.Log.Error().Err(err).Msg("store close error")
		}
	}

	b.running = false
	b.Log.Info().Msg("matrix-rocketchat bridge stopped")

	return nil
}

// Run starts the bridge and blocks until a shutdown signal is received.
func (b *Bridge) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := b.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	b.Log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	return b.Stop()
}
