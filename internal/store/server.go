package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/n42/matrix-rocketchat/internal/errs"
)

// RocketchatServer is a Rocket.Chat backend registered with the bridge via
// the admin-room `connect` command (spec.md §3, SPEC_FULL.md §4.7). Token
// is nil when the operator hasn't enabled inbound webhooks for this
// server (spec.md §3): such a server never matches an inbound webhook
// post, but can still be used as a forwarding target for outbound
// messages.
type RocketchatServer struct {
	ID        string
	URL       string
	Token     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

const serverColumns = `id, url, token, created_at, updated_at`

func scanServer(row interface{ Scan(...interface{}) error }) (*RocketchatServer, error) {
	var srv RocketchatServer
	err := row.Scan(&srv.ID, &srv.URL, &srv.Token, &srv.CreatedAt, &srv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &srv, nil
}

// ServerStore persists RocketchatServer rows.
type ServerStore struct {
	q querier
}

// FindByID returns the server with the given id, or (nil, nil) if none
// exists.
func (s *ServerStore) FindByID(ctx context.Context, id string) (*RocketchatServer, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+serverColumns+` FROM rocketchat_servers WHERE id = $1`, id)
	srv, err := scanServer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.BackendError, err, "find server by id")
	}
	return srv, nil
}

// FindByToken returns the server whose webhook token matches, or (nil,
// nil) if no server is registered with that token. This is the lookup the
// admission middleware uses on every inbound webhook (spec.md §4.3).
func (s *ServerStore) FindByToken(ctx context.Context, token string) (*RocketchatServer, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+serverColumns+` FROM rocketchat_servers WHERE token = $1`, token)
	srv, err := scanServer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.BackendError, err, "find server by token")
	}
	return srv, nil
}

// List returns every registered Rocket.Chat server, used to render the
// admin-room `list` command (SPEC_FULL.md §4.7).
func (s *ServerStore) List(ctx context.Context) ([]*RocketchatServer, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+serverColumns+` FROM rocketchat_servers ORDER BY created_at`)
	if err != nil {
		return nil, errs.Wrap(errs.BackendError, err, "list servers")
	}
	defer rows.Close()

	var servers []*RocketchatServer
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, errs.Wrap(errs.BackendError, err, "scan server")
		}
		servers = append(servers, srv)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.BackendError, err, "list servers")
	}
	return servers, nil
}

// Insert creates a new server row. A duplicate token yields
// errs.UniqueViolation, which the admin-room `connect` command turns into
// "A Rocket.Chat server with that token is already connected." (SPEC_FULL.md
// §4.7).
func (s *ServerStore) Insert(ctx context.Context, srv *RocketchatServer) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO rocketchat_servers (`+serverColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		srv.ID, srv.URL, srv.Token, srv.CreatedAt, srv.UpdatedAt)
	return wrapWriteErr(err, "insert server")
}

// Update persists changes to an existing server row, keyed by ID.
func (s *ServerStore) Update(ctx context.Context, srv *RocketchatServer) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE rocketchat_servers SET url = $2, token = $3, updated_at = $4 WHERE id = $1`,
		srv.ID, srv.URL, srv.Token, srv.UpdatedAt)
	return wrapWriteErr(err, "update server")
}

// Delete removes a server row.
func (s *ServerStore) Delete(ctx context.Context, id string) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM rocketchat_servers WHERE id = $1`, id)
	return wrapWriteErr(err, "delete server")
}
