package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/n42/matrix-rocketchat/internal/errs"
)

// User is a Matrix user known to the bridge (spec.md §3's User entity),
// created on first observation — either a real homeserver user sending a
// message, or a virtual/puppet user the bridge registered itself. The
// rate-limit bookkeeping (LastMessageSent) is only ever bumped for real
// senders; a virtual user's row keeps the value set when it was inserted.
// UserOnRocketchatServer carries the Rocket.Chat-specific
// identity details for both kinds.
type User struct {
	MatrixUserID    string
	Language        string
	LastMessageSent time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

const userColumns = `matrix_user_id, language, last_message_sent, created_at, updated_at`

// UserStore persists User rows.
type UserStore struct {
	q querier
}

// FindByMatrixUserID returns the user with the given Matrix user id, or
// (nil, nil) if no such user is known yet.
func (s *UserStore) FindByMatrixUserID(ctx context.Context, matrixUserID string) (*User, error) {
	var u User
	err := s.q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE matrix_user_id = $1`, matrixUserID).
		Scan(&u.MatrixUserID, &u.Language, &u.LastMessageSent, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.BackendError, err, "find user by matrix user id")
	}
	return &u, nil
}

// Insert creates a new user row.
func (s *UserStore) Insert(ctx context.Context, u *User) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		u.MatrixUserID, u.Language, u.LastMessageSent, u.CreatedAt, u.UpdatedAt)
	return wrapWriteErr(err, "insert user")
}

// Update persists changes to an existing user row, keyed by MatrixUserID.
// Used mainly to bump LastMessageSent, the rate-limit clock (spec.md §4.2).
func (s *UserStore) Update(ctx context.Context, u *User) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE users SET language = $2, last_message_sent = $3, updated_at = $4
		 WHERE matrix_user_id = $1`,
		u.MatrixUserID, u.Language, u.LastMessageSent, u.UpdatedAt)
	return wrapWriteErr(err, "update user")
}

// Delete removes a user row.
func (s *UserStore) Delete(ctx context.Context, matrixUserID string) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM users WHERE matrix_user_id = $1`, matrixUserID)
	return wrapWriteErr(err, "delete user")
}
