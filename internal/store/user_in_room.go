package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/n42/matrix-rocketchat/internal/errs"
)

// UserInRoom is a membership row tying a Matrix user to a room, used to
// dedupe invites/joins and to drive the "who do I know is in this room"
// queries the dispatcher needs (spec.md §3, §4.4).
type UserInRoom struct {
	MatrixUserID string
	MatrixRoomID string
	CreatedAt    time.Time
}

// UserInRoomStore persists UserInRoom rows.
type UserInRoomStore struct {
	q querier
}

// Find reports whether matrixUserID is recorded as a member of
// matrixRoomID, returning (nil, nil) if not.
func (s *UserInRoomStore) Find(ctx context.Context, matrixUserID, matrixRoomID string) (*UserInRoom, error) {
	var m UserInRoom
	err := s.q.QueryRowContext(ctx,
		`SELECT matrix_user_id, matrix_room_id, created_at FROM users_in_rooms
		 WHERE matrix_user_id = $1 AND matrix_room_id = $2`,
		matrixUserID, matrixRoomID).
		Scan(&m.MatrixUserID, &m.MatrixRoomID, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.BackendError, err, "find user in room")
	}
	return &m, nil
}

// Insert records matrixUserID as a member of matrixRoomID. Duplicate
// inserts are a no-op (ON CONFLICT DO NOTHING) since membership events can
// legitimately be delivered more than once (spec.md §4.4's idempotent-join
// invariant).
func (s *UserInRoomStore) Insert(ctx context.Context, matrixUserID, matrixRoomID string, createdAt time.Time) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO users_in_rooms (matrix_user_id, matrix_room_id, created_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (matrix_user_id, matrix_room_id) DO NOTHING`,
		matrixUserID, matrixRoomID, createdAt)
	if err != nil {
		return errs.Wrap(errs.BackendError, err, "insert user in room")
	}
	return nil
}

// Delete removes a single membership row. Deleting a membership that
// doesn't exist is a no-op, matching the "leave of an unknown room" and
// "leave from a room the user was never recorded in" invariants (spec.md
// §4.4).
func (s *UserInRoomStore) Delete(ctx context.Context, matrixUserID, matrixRoomID string) error {
	_, err := s.q.ExecContext(ctx,
		`DELETE FROM users_in_rooms WHERE matrix_user_id = $1 AND matrix_room_id = $2`,
		matrixUserID, matrixRoomID)
	return wrapWriteErr(err, "delete user in room")
}

// DeleteAllForRoom removes every membership row for matrixRoomID. Callers
// must run this before RoomStore.Delete on the same room — the
// users_in_rooms.matrix_room_id foreign key rejects deleting a room that
// still has membership rows (spec.md §4.4's teardown and creation-abort
// algorithms both delete the room and its membership rows together).
func (s *UserInRoomStore) DeleteAllForRoom(ctx context.Context, matrixRoomID string) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM users_in_rooms WHERE matrix_room_id = $1`, matrixRoomID)
	return wrapWriteErr(err, "delete all memberships for room")
}
