package bridge

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/n42/matrix-rocketchat/internal/identity"
	"github.com/n42/matrix-rocketchat/internal/matrixapi"
)

// ASHandler implements the Matrix Application Service HTTP API: the
// transaction push endpoint, the liveness probe, and the user/room query
// endpoints a homeserver uses to ask the bridge about its own namespace
// (spec.md §6).
type ASHandler struct {
	log        zerolog.Logger
	hsToken    string
	identity   *identity.Mapper
	dispatcher *Dispatcher
	mux        *http.ServeMux
}

// asTransaction is the wire shape of a homeserver transaction push.
type asTransaction struct {
	Events []asEvent `json:"events"`
}

// asEvent is the wire shape of a single pushed event.
type asEvent struct {
	ID             string                 `json:"event_id"`
	Type           string                 `json:"type"`
	RoomID         string                 `json:"room_id"`
	Sender         string                 `json:"sender"`
	StateKey       *string                `json:"state_key,omitempty"`
	Content        map[string]interface{} `json:"content"`
	OriginServerTS int64                  `json:"origin_server_ts"`
}

// NewASHandler builds an ASHandler.
func NewASHandler(log zerolog.Logger, hsToken string, id *identity.Mapper, dispatcher *Dispatcher) *ASHandler {
	h := &ASHandler{log: log, hsToken: hsToken, identity: id, dispatcher: dispatcher, mux: http.NewServeMux()}
	h.registerRoutes()
	return h
}

func (h *ASHandler) registerRoutes() {
	h.mux.HandleFunc("PUT /transactions/{txnId}", h.handleTransaction)
	h.mux.HandleFunc("PUT /_matrix/app/v1/transactions/{txnId}", h.handleTransaction)
	h.mux.HandleFunc("GET /users/{userId}", h.handleUserQuery)
	h.mux.HandleFunc("GET /_matrix/app/v1/users/{userId}", h.handleUserQuery)
	h.mux.HandleFunc("GET /rooms/{roomAlias}", h.handleRoomQuery)
	h.mux.HandleFunc("GET /_matrix/app/v1/rooms/{roomAlias}", h.handleRoomQuery)
	h.mux.HandleFunc("GET /{$}", h.handleLiveness)
}

// ServeHTTP implements http.Handler.
func (h *ASHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// authenticate verifies the hs_token the homeserver presents on every
// inbound call (spec.md §6).
func (h *ASHandler) authenticate(r *http.Request) bool {
	token := r.URL.Query().Get("access_token")
	if token == "" {
		auth := r.Header.Get("Authorization")
		if strings.HasPrefix(auth, "Bearer ") {
			token = strings.TrimPrefix(auth, "Bearer ")
		}
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.hsToken)) == 1
}

func (h *ASHandler) handleTransaction(w http.ResponseWriter, r *http.Request) {
	if !h.authenticate(r) {
		h.jsonError(w, http.StatusForbidden, "M_FORBIDDEN", "bad token")
		return
	}

	var txn asTransaction
	if err := json.NewDecoder(r.Body).Decode(&txn); err != nil {
		h.jsonError(w, http.StatusBadRequest, "M_BAD_JSON", "invalid JSON")
		return
	}

	events := make([]matrixapi.Event, 0, len(txn.Events))
	for _, e := range txn.Events {
		events = append(events, matrixapi.Event{
			ID:             e.ID,
			Type:           e.Type,
			RoomID:         e.RoomID,
			Sender:         e.Sender,
			StateKey:       e.StateKey,
			Content:        e.Content,
			OriginServerTS: e.OriginServerTS,
		})
	}

	h.dispatcher.HandleTransaction(r.Context(), events)
	h.jsonOK(w)
}

// handleUserQuery answers the homeserver's "does this application-service
// user exist" query, used to lazily provision virtual users (spec.md §6).
func (h *ASHandler) handleUserQuery(w http.ResponseWriter, r *http.Request) {
	if !h.authenticate(r) {
		h.jsonError(w, http.StatusForbidden, "M_FORBIDDEN", "bad token")
		return
	}

	userID := r.PathValue("userId")
	if userID == "" || !h.identity.IsApplicationServiceUser(userID) {
		h.jsonError(w, http.StatusNotFound, "M_NOT_FOUND", "user not found")
		return
	}
	h.jsonOK(w)
}

// handleRoomQuery: this bridge never publishes Matrix room aliases.
func (h *ASHandler) handleRoomQuery(w http.ResponseWriter, r *http.Request) {
	if !h.authenticate(r) {
		h.jsonError(w, http.StatusForbidden, "M_FORBIDDEN", "bad token")
		return
	}
	h.jsonError(w, http.StatusNotFound, "M_NOT_FOUND", "room not found")
}

// handleLiveness serves the unauthenticated root liveness probe (spec.md
// §6) — its body is a wire contract, kept verbatim.
func (h *ASHandler) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "Your Rocket.Chat <-> Matrix application service is running\n")
}

func (h *ASHandler) jsonOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{}`)
}

func (h *ASHandler) jsonError(w http.ResponseWriter, status int, errCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp, _ := json.Marshal(map[string]string{"errcode": errCode, "error": message})
	_, _ = w.Write(resp)
}
