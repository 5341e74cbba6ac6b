// Package rocketchat hosts the HTTP-facing pieces of the Rocket.Chat side
// of the bridge: the admission middleware that authenticates inbound
// webhook posts before any handler sees them (spec.md §4.3).
package rocketchat

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/n42/matrix-rocketchat/internal/errs"
	"github.com/n42/matrix-rocketchat/internal/rocketchatapi"
	"github.com/n42/matrix-rocketchat/internal/store"
)

// ServerLookup is the slice of Store the middleware needs: resolving a
// webhook token to the server that registered it.
type ServerLookup interface {
	FindByToken(ctx context.Context, token string) (*store.RocketchatServer, error)
}

// MessageHandler is the shape of a handler the middleware can wrap. It
// receives the parsed webhook body and the matched server alongside the
// usual request/response pair, so downstream code never re-parses the
// body or re-queries the server (spec.md §4.3).
type MessageHandler func(w http.ResponseWriter, r *http.Request, msg *rocketchatapi.WebhookMessage, server *store.RocketchatServer)

// Middleware authenticates Rocket.Chat webhook posts.
type Middleware struct {
	log     zerolog.Logger
	servers ServerLookup
}

// NewMiddleware builds a Middleware that resolves tokens via servers.
func NewMiddleware(log zerolog.Logger, servers ServerLookup) *Middleware {
	return &Middleware{log: log, servers: servers}
}

// Wrap returns an http.HandlerFunc that authenticates the request before
// delegating to next. A body read failure (or a failed server lookup)
// answers 500, unparseable JSON 400, and a missing or unknown token 403;
// the two token rejections share a status and are told apart by the error
// kind in the JSON response body and the log line.
func (m *Middleware) Wrap(next MessageHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			m.reject(w, errs.Wrap(errs.InternalServerError, err, "read webhook body"))
			return
		}

		var msg rocketchatapi.WebhookMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			m.reject(w, errs.Wrap(errs.InvalidJSON, err, "parse webhook body"))
			return
		}

		if msg.Token == nil || *msg.Token == "" {
			m.reject(w, errs.New(errs.MissingRocketchatToken, "webhook message carries no token"))
			return
		}

		server, err := m.servers.FindByToken(r.Context(), *msg.Token)
		if err != nil {
			m.reject(w, errs.Wrap(errs.InternalServerError, err, "look up server by token"))
			return
		}
		if server == nil {
			m.reject(w, errs.New(errs.InvalidRocketchatToken, "no server registered for token"))
			return
		}

		next(w, r, &msg, server)
	}
}

func (m *Middleware) reject(w http.ResponseWriter, err *errs.Error) {
	status := http.StatusForbidden
	switch err.Kind {
	case errs.InternalServerError:
		status = http.StatusInternalServerError
	case errs.InvalidJSON:
		status = http.StatusBadRequest
	case errs.MissingRocketchatToken, errs.InvalidRocketchatToken:
		status = http.StatusForbidden
	}

	m.log.Warn().Str("kind", err.Kind.String()).Err(err).Msg("rejecting rocketchat webhook")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp, _ := json.Marshal(map[string]string{"error": err.Kind.String()})
	_, _ = w.Write(resp)
}
