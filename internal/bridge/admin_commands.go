package bridge

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/n42/matrix-rocketchat/internal/errs"
	"github.com/n42/matrix-rocketchat/internal/store"
)

// handleAdminCommand parses and executes a plain-text admin-room command
// (SPEC_FULL.md §4.7), supplemented from the original Rust implementation's
// admin-room command convention — spec.md's distillation names the
// `Bridged` state but never specifies the grammar that reaches it.
func (d *Dispatcher) handleAdminCommand(ctx context.Context, room *store.Room, sender, body string) error {
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return nil
	}

	switch fields[0] {
	case "connect":
		return d.cmdConnect(ctx, room, fields[1:])
	case "bridge":
		return d.cmdBridge(ctx, room, fields[1:])
	case "list":
		return d.cmdList(ctx, room)
	case "help":
		d.notify(ctx, room.MatrixRoomID, msgHelp)
		return nil
	default:
		d.notify(ctx, room.MatrixRoomID, msgUnrecognizedCommand)
		return nil
	}
}

// cmdConnect implements `connect <url> [<token>]`. The token is optional
// (spec.md §3: a server whose operator hasn't enabled inbound webhooks has
// no token at all) — a server registered without one can still receive
// forwarded Matrix messages, it just never matches an inbound webhook.
func (d *Dispatcher) cmdConnect(ctx context.Context, room *store.Room, args []string) error {
	if len(args) < 1 {
		d.notify(ctx, room.MatrixRoomID, msgUnrecognizedCommand)
		return nil
	}
	url := args[0]
	var token *string
	if len(args) >= 2 {
		token = &args[1]
	}

	tx, err := d.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	srv := &store.RocketchatServer{
		ID:        uuid.NewString(),
		URL:       url,
		Token:     token,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.Servers.Insert(ctx, srv); err != nil {
		if errs.Is(err, errs.UniqueViolation) {
			d.notify(ctx, room.MatrixRoomID, msgTokenAlreadyConnected)
			return nil
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	d.notify(ctx, room.MatrixRoomID, "Connected Rocket.Chat server "+url+".")
	return nil
}

// cmdBridge implements `bridge [<server_id>] <matrix_room_id> <rocketchat_room_id>`,
// the only path that advances a room to the Bridged state (spec.md §4.4's
// state machine summary).
func (d *Dispatcher) cmdBridge(ctx context.Context, room *store.Room, args []string) error {
	var serverID, matrixRoomID, rocketchatRoomID string
	switch len(args) {
	case 2:
		matrixRoomID, rocketchatRoomID = args[0], args[1]
	case 3:
		serverID, matrixRoomID, rocketchatRoomID = args[0], args[1], args[2]
	default:
		d.notify(ctx, room.MatrixRoomID, msgUnrecognizedCommand)
		return nil
	}

	tx, err := d.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if serverID == "" {
		servers, err := tx.Servers.List(ctx)
		if err != nil {
			return err
		}
		if len(servers) == 0 {
			d.notify(ctx, room.MatrixRoomID, msgNoServerConnected)
			return nil
		}
		serverID = servers[0].ID
	}

	existing, err := tx.Rooms.FindByMatrixRoomID(ctx, matrixRoomID)
	if err != nil {
		return err
	}

	now := time.Now()
	target := existing
	isNew := target == nil
	if isNew {
		target = &store.Room{MatrixRoomID: matrixRoomID, CreatedAt: now}
	}
	target.RocketchatServerID = &serverID
	target.RocketchatRoomID = &rocketchatRoomID
	target.IsBridged = true
	target.UpdatedAt = now

	if isNew {
		err = tx.Rooms.Insert(ctx, target)
	} else {
		err = tx.Rooms.Update(ctx, target)
	}
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	d.notify(ctx, room.MatrixRoomID, "Bridged "+matrixRoomID+" to Rocket.Chat channel "+rocketchatRoomID+".")
	return nil
}

// cmdList implements `list`.
func (d *Dispatcher) cmdList(ctx context.Context, room *store.Room) error {
	tx, err := d.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	servers, err := tx.Servers.List(ctx)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if len(servers) == 0 {
		d.notify(ctx, room.MatrixRoomID, msgNoServerConnected)
		return nil
	}

	var names []string
	for _, s := range servers {
		names = append(names, s.ID+" - "+s.URL)
	}
	d.notify(ctx, room.MatrixRoomID, "Connected Rocket.Chat servers:\n  "+strings.Join(names, "\n  "))
	return nil
}
