package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/n42/matrix-rocketchat/internal/errs"
)

// Room is a bridged or admin Matrix room (spec.md §3's Room entity).
type Room struct {
	MatrixRoomID        string
	DisplayName         string
	RocketchatServerID  *string
	RocketchatRoomID    *string
	IsAdminRoom         bool
	IsBridged           bool
	IsDirectMessageRoom bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

const roomColumns = `matrix_room_id, display_name, rocketchat_server_id, rocketchat_room_id,
	is_admin_room, is_bridged, is_direct_message_room, created_at, updated_at`

func scanRoom(row interface{ Scan(...interface{}) error }) (*Room, error) {
	var r Room
	err := row.Scan(&r.MatrixRoomID, &r.DisplayName, &r.RocketchatServerID, &r.RocketchatRoomID,
		&r.IsAdminRoom, &r.IsBridged, &r.IsDirectMessageRoom, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// RoomStore persists Room rows.
type RoomStore struct {
	q querier
}

// FindByMatrixRoomID returns the room with the given Matrix room id, or
// (nil, nil) if no such room exists.
func (s *RoomStore) FindByMatrixRoomID(ctx context.Context, matrixRoomID string) (*Room, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE matrix_room_id = $1`, matrixRoomID)
	room, err := scanRoom(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.BackendError, err, "find room by matrix room id")
	}
	return room, nil
}

// FindByRocketchatRoom returns the room bridged to the given Rocket.Chat
// server/channel pair, or (nil, nil) if none is bridged yet.
func (s *RoomStore) FindByRocketchatRoom(ctx context.Context, serverID, rocketchatRoomID string) (*Room, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+roomColumns+` FROM rooms
		 WHERE rocketchat_server_id = $1 AND rocketchat_room_id = $2`,
		serverID, rocketchatRoomID)
	room, err := scanRoom(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.BackendError, err, "find room by rocketchat room")
	}
	return room, nil
}

// Insert creates a new room row.
func (s *RoomStore) Insert(ctx context.Context, r *Room) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO rooms (`+roomColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.MatrixRoomID, r.DisplayName, r.RocketchatServerID, r.RocketchatRoomID,
		r.IsAdminRoom, r.IsBridged, r.IsDirectMessageRoom, r.CreatedAt, r.UpdatedAt)
	return wrapWriteErr(err, "insert room")
}

// Update persists changes to an existing room row, keyed by MatrixRoomID.
func (s *RoomStore) Update(ctx context.Context, r *Room) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE rooms SET display_name = $2, rocketchat_server_id = $3, rocketchat_room_id = $4,
		 is_admin_room = $5, is_bridged = $6, is_direct_message_room = $7, updated_at = $8
		 WHERE matrix_room_id = $1`,
		r.MatrixRoomID, r.DisplayName, r.RocketchatServerID, r.RocketchatRoomID,
		r.IsAdminRoom, r.IsBridged, r.IsDirectMessageRoom, r.UpdatedAt)
	return wrapWriteErr(err, "update room")
}

// Delete removes a room row. Callers tearing down an admin room must
// delete its UserInRoom rows first via UserInRoomStore.DeleteAllForRoom —
// the users_in_rooms.matrix_room_id foreign key otherwise rejects this.
func (s *RoomStore) Delete(ctx context.Context, matrixRoomID string) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM rooms WHERE matrix_room_id = $1`, matrixRoomID)
	return wrapWriteErr(err, "delete room")
}

// Users returns the Matrix user ids of every member currently recorded for
// roomID (derived query, spec.md §3).
func (s *RoomStore) Users(ctx context.Context, matrixRoomID string) ([]string, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT matrix_user_id FROM users_in_rooms WHERE matrix_room_id = $1`, matrixRoomID)
	if err != nil {
		return nil, errs.Wrap(errs.BackendError, err, "list room members")
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errs.Wrap(errs.BackendError, err, "scan room member")
		}
		userIDs = append(userIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.BackendError, err, "list room members")
	}
	return userIDs, nil
}

// RocketchatServer returns the Rocket.Chat server this room is bridged to,
// or (nil, nil) if the room isn't bridged to one (derived query, spec.md
// §3).
func (s *RoomStore) RocketchatServer(ctx context.Context, r *Room, servers *ServerStore) (*RocketchatServer, error) {
	if r.RocketchatServerID == nil {
		return nil, nil
	}
	return servers.FindByID(ctx, *r.RocketchatServerID)
}
