// Package store owns every persistent tuple the bridge manages: rooms,
// users, Rocket.Chat server registrations, and the membership relations
// between them (spec.md §3). All other components hold only transient,
// request-scoped views; the Store is the single source of truth.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/n42/matrix-rocketchat/internal/errs"
)

// querier is satisfied by both *sql.DB and *sql.Tx, so entity stores don't
// need to know whether they're running inside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store owns the connection pool and schema migrations. Handlers never
// query through Store directly — they call Begin and use the returned Tx.
// Most handler calls open one Tx; admin-room creation opens several in
// sequence, and a forwarded message opens one in the dispatcher and one in
// the Forwarder.
type Store struct {
	db *sql.DB
}

// New opens a connection pool against a PostgreSQL database and pings it.
func New(dataSourceName string, maxOpen, maxIdle int) (*Store, error) {
	db, err := sql.Open("postgres", dataSourceName)
	if err != nil {
		return nil, errs.Wrap(errs.BackendError, err, "open database")
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, errs.Wrap(errs.BackendError, err, "ping database")
	}

	return &Store{db: db}, nil
}

// NewFromDB wraps an already-open *sql.DB, used by tests that hand in a
// sqlmock-backed database.
func NewFromDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Tx is a transactional view of the Store. Its opener either commits it
// after all its mutations succeed, or rolls it back on the first error.
type Tx struct {
	tx *sql.Tx

	Rooms          *RoomStore
	Users          *UserStore
	Servers        *ServerStore
	UsersOnServers *UserOnServerStore
	UsersInRooms   *UserInRoomStore
}

// Begin opens a new transaction-scoped view of the store.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errs.Wrap(errs.BackendError, err, "begin transaction")
	}
	return &Tx{
		tx:             tx,
		Rooms:          &RoomStore{q: tx},
		Users:          &UserStore{q: tx},
		Servers:        &ServerStore{q: tx},
		UsersOnServers: &UserOnServerStore{q: tx},
		UsersInRooms:   &UserInRoomStore{q: tx},
	}, nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return errs.Wrap(errs.BackendError, err, "commit transaction")
	}
	return nil
}

// Rollback rolls back the transaction. Calling it after a successful
// Commit is a no-op error from database/sql that callers may ignore, so
// the idiomatic pattern is `defer tx.Rollback()` right after Begin.
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if err != nil && err != sql.ErrTxDone {
		return errs.Wrap(errs.BackendError, err, "rollback transaction")
	}
	return nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code == "23505"
}

// wrapWriteErr classifies a write-path error from the database driver into
// the Store's closed taxonomy.
func wrapWriteErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return errs.Wrap(errs.UniqueViolation, err, msg)
	}
	return errs.Wrap(errs.BackendError, err, msg)
}
