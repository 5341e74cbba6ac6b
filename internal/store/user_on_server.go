package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/n42/matrix-rocketchat/internal/errs"
)

// UserOnRocketchatServer links a Matrix user to their identity on one
// Rocket.Chat server — either a real logged-in user, or a lazily-created
// virtual user puppeting a Rocket.Chat-originated sender (spec.md §3,
// SPEC_FULL.md §4.6).
type UserOnRocketchatServer struct {
	MatrixUserID        string
	RocketchatServerID  string
	IsVirtualUser       bool
	RocketchatUserID    string
	RocketchatUsername  string
	RocketchatAuthToken *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

const userOnServerColumns = `matrix_user_id, rocketchat_server_id, is_virtual_user,
	rocketchat_user_id, rocketchat_username, rocketchat_auth_token, created_at, updated_at`

func scanUserOnServer(row interface{ Scan(...interface{}) error }) (*UserOnRocketchatServer, error) {
	var u UserOnRocketchatServer
	err := row.Scan(&u.MatrixUserID, &u.RocketchatServerID, &u.IsVirtualUser,
		&u.RocketchatUserID, &u.RocketchatUsername, &u.RocketchatAuthToken, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UserOnServerStore persists UserOnRocketchatServer rows.
type UserOnServerStore struct {
	q querier
}

// Find returns the link row for (matrixUserID, serverID), or (nil, nil) if
// the user has no identity on that server yet.
func (s *UserOnServerStore) Find(ctx context.Context, matrixUserID, serverID string) (*UserOnRocketchatServer, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+userOnServerColumns+` FROM users_on_rocketchat_servers
		 WHERE matrix_user_id = $1 AND rocketchat_server_id = $2`,
		matrixUserID, serverID)
	u, err := scanUserOnServer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.BackendError, err, "find user on rocketchat server")
	}
	return u, nil
}

// FindByRocketchatUserID returns the link row for the given Rocket.Chat
// server's user id, used to resolve a webhook sender to the virtual user
// that puppets them (SPEC_FULL.md §4.6), or (nil, nil) if none exists yet.
func (s *UserOnServerStore) FindByRocketchatUserID(ctx context.Context, serverID, rocketchatUserID string) (*UserOnRocketchatServer, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+userOnServerColumns+` FROM users_on_rocketchat_servers
		 WHERE rocketchat_server_id = $1 AND rocketchat_user_id = $2 AND is_virtual_user = true`,
		serverID, rocketchatUserID)
	u, err := scanUserOnServer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.BackendError, err, "find user on rocketchat server by rocketchat user id")
	}
	return u, nil
}

// Insert creates a new link row.
func (s *UserOnServerStore) Insert(ctx context.Context, u *UserOnRocketchatServer) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO users_on_rocketchat_servers (`+userOnServerColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.MatrixUserID, u.RocketchatServerID, u.IsVirtualUser,
		u.RocketchatUserID, u.RocketchatUsername, u.RocketchatAuthToken, u.CreatedAt, u.UpdatedAt)
	return wrapWriteErr(err, "insert user on rocketchat server")
}

// Update persists changes to an existing link row, keyed by
// (MatrixUserID, RocketchatServerID).
func (s *UserOnServerStore) Update(ctx context.Context, u *UserOnRocketchatServer) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE users_on_rocketchat_servers
		 SET rocketchat_user_id = $3, rocketchat_username = $4, rocketchat_auth_token = $5, updated_at = $6
		 WHERE matrix_user_id = $1 AND rocketchat_server_id = $2`,
		u.MatrixUserID, u.RocketchatServerID, u.RocketchatUserID, u.RocketchatUsername, u.RocketchatAuthToken, u.UpdatedAt)
	return wrapWriteErr(err, "update user on rocketchat server")
}

// Delete removes a link row.
func (s *UserOnServerStore) Delete(ctx context.Context, matrixUserID, serverID string) error {
	_, err := s.q.ExecContext(ctx,
		`DELETE FROM users_on_rocketchat_servers WHERE matrix_user_id = $1 AND rocketchat_server_id = $2`,
		matrixUserID, serverID)
	return wrapWriteErr(err, "delete user on rocketchat server")
}

// Credentials reports whether this link carries real Rocket.Chat login
// credentials (empty for virtual users and for real users who never
// logged in), per spec.md §9's explicit-substitution design note.
func (u *UserOnRocketchatServer) Credentials() (userID, authToken string, ok bool) {
	if u.RocketchatAuthToken == nil || *u.RocketchatAuthToken == "" {
		return "", "", false
	}
	return u.RocketchatUserID, *u.RocketchatAuthToken, true
}
