package bridge

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/n42/matrix-rocketchat/internal/errs"
	"github.com/n42/matrix-rocketchat/internal/identity"
	"github.com/n42/matrix-rocketchat/internal/matrixapi"
	"github.com/n42/matrix-rocketchat/internal/store"
)

// Dispatcher consumes batches of Matrix events from the homeserver's
// transaction endpoint, routes each to a handler by type and membership
// state, and hosts the admin-room lifecycle state machine (spec.md §4.4).
type Dispatcher struct {
	log                 zerolog.Logger
	db                  *store.Store
	matrix              matrixapi.Client
	identity            *identity.Mapper
	forwarder           *Forwarder
	acceptRemoteInvites bool
	hsDomain            string
	metrics             *Metrics
}

// DispatcherConfig wires a Dispatcher's collaborators.
type DispatcherConfig struct {
	Log                 zerolog.Logger
	Store               *store.Store
	Matrix              matrixapi.Client
	Identity            *identity.Mapper
	Forwarder           *Forwarder
	AcceptRemoteInvites bool
	HSDomain            string
	// Metrics may be nil, in which case observations are skipped.
	Metrics *Metrics
}

// NewDispatcher builds a Dispatcher from cfg.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		log:                 cfg.Log,
		db:                  cfg.Store,
		matrix:              cfg.Matrix,
		identity:            cfg.Identity,
		forwarder:           cfg.Forwarder,
		acceptRemoteInvites: cfg.AcceptRemoteInvites,
		hsDomain:            cfg.HSDomain,
		metrics:             cfg.Metrics,
	}
}

// HandleTransaction processes every event in a homeserver transaction in
// arrival order, on the calling goroutine, never reordering them (spec.md
// §5). A per-event failure is logged and does not abort the batch — the
// transaction endpoint still responds 200 (spec.md §6).
//
// Propagation policy (spec.md §7): handlers recover locally only for the
// classes spec.md §4 calls out explicitly (unknown-room leave,
// parse-failure during creator lookup, forget failure during teardown,
// display-name failure) — those already notified, if at all, on their own
// terms. Any other error reaching here is "uncaught": it produces the
// literal "An internal error occurred" message in the event's room, when
// the room is addressable.
func (d *Dispatcher) HandleTransaction(ctx context.Context, events []matrixapi.Event) {
	for _, evt := range events {
		if err := d.handleEvent(ctx, evt); err != nil {
			d.log.Error().Err(err).Str("event_id", evt.ID).Str("type", evt.Type).
				Msg("failed to handle matrix event")
			if !alreadyNotified(err) && evt.RoomID != "" {
				d.notify(ctx, evt.RoomID, msgInternalError)
			}
		}
	}
}

// notifiedError marks an error whose handler already delivered a
// user-visible notice about it, so HandleTransaction's generic catch-all
// doesn't double-notify the room.
type notifiedError struct{ cause error }

func (e *notifiedError) Error() string { return e.cause.Error() }
func (e *notifiedError) Unwrap() error { return e.cause }

// markNotified wraps err, if non-nil, to suppress HandleTransaction's
// generic "An internal error occurred" notice for it.
func markNotified(err error) error {
	if err == nil {
		return nil
	}
	return &notifiedError{cause: err}
}

func alreadyNotified(err error) bool {
	var n *notifiedError
	return errors.As(err, &n)
}

func (d *Dispatcher) handleEvent(ctx context.Context, evt matrixapi.Event) error {
	switch evt.Type {
	case "m.room.member":
		return d.handleMember(ctx, evt)
	case "m.room.message":
		return d.handleMessage(ctx, evt)
	default:
		return nil
	}
}

// handleMember implements the admin-room creation and teardown rules and
// the membership event filters of spec.md §4.4.
func (d *Dispatcher) handleMember(ctx context.Context, evt matrixapi.Event) error {
	membership := evt.Membership()
	if membership != "invite" && membership != "join" && membership != "leave" {
		return nil
	}

	botUserID, err := d.identity.BotUserID()
	if err != nil {
		return err
	}

	stateKey := ""
	if evt.StateKey != nil {
		stateKey = *evt.StateKey
	}

	if stateKey == botUserID && membership == "invite" {
		return d.handleBotInvited(ctx, evt)
	}

	tx, err := d.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	room, err := tx.Rooms.FindByMatrixRoomID(ctx, evt.RoomID)
	if err != nil {
		return err
	}
	if room == nil {
		return tx.Commit()
	}

	if room.IsAdminRoom {
		// (a) the inviter leaving voluntarily: sender == state_key on a
		// leave is always a self-leave, never a kick.
		if membership == "leave" && stateKey == evt.Sender {
			return d.teardownAdminRoom(ctx, tx, room, false)
		}
		// (b) any third party joining or being invited — the inviting
		// sender and the invited/joining state_key are different users
		// for the realistic invite case, so this must NOT require
		// stateKey == evt.Sender the way (a) does.
		if (membership == "join" || membership == "invite") && stateKey != botUserID {
			known, err := tx.UsersInRooms.Find(ctx, stateKey, room.MatrixRoomID)
			if err != nil {
				return err
			}
			if membership == "join" && known != nil {
				return tx.Commit()
			}
			return d.teardownAdminRoom(ctx, tx, room, true)
		}
	}

	if membership == "join" {
		known, err := tx.UsersInRooms.Find(ctx, stateKey, room.MatrixRoomID)
		if err != nil {
			return err
		}
		if known != nil {
			return tx.Commit()
		}
		if err := tx.UsersInRooms.Insert(ctx, stateKey, room.MatrixRoomID, time.Now()); err != nil {
			return err
		}
	}
	if membership == "leave" {
		if err := tx.UsersInRooms.Delete(ctx, stateKey, room.MatrixRoomID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// handleBotInvited runs the 8-step admin-room creation algorithm (spec.md
// §4.4).
func (d *Dispatcher) handleBotInvited(ctx context.Context, evt matrixapi.Event) error {
	// Step 1: drop silently if the inviting domain isn't ours and remote
	// invites are disabled.
	if !d.acceptRemoteInvites && roomDomain(evt.RoomID) != d.hsDomain {
		return nil
	}

	inviter := evt.Sender

	// Step 2: fetch room creation state. A transport failure is
	// user-visible and the bot leaves; a response the bot couldn't parse
	// leaves silently with no notice (spec.md §4.4 step 2).
	create, err := d.matrix.GetRoomCreate(ctx, evt.RoomID)
	if err != nil {
		botUserID := d.botUserIDOrEmpty(ctx)
		if errs.Is(err, errs.MatrixAPIError) {
			d.notify(ctx, inviter, msgInternalError)
			_ = d.matrix.LeaveRoom(ctx, evt.RoomID, botUserID)
			return markNotified(err)
		}
		d.log.Warn().Err(err).Str("room_id", evt.RoomID).
			Msg("could not parse room creation state, leaving admin room invite silently")
		_ = d.matrix.LeaveRoom(ctx, evt.RoomID, botUserID)
		return nil
	}

	// Step 3: only the room creator may invite the bot.
	if create.Creator != inviter {
		d.notify(ctx, inviter, msgOnlyCreatorCanInvite)
		return nil
	}

	botUserID, err := d.identity.BotUserID()
	if err != nil {
		return err
	}

	// Step 4: accept the invite.
	if err := d.matrix.JoinRoom(ctx, evt.RoomID, botUserID); err != nil {
		d.log.Warn().Err(err).Str("room_id", evt.RoomID).Msg("failed to join admin room invite")
		return nil
	}

	// Step 5: persist the room.
	tx, err := d.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	room := &store.Room{
		MatrixRoomID: evt.RoomID,
		IsAdminRoom:  true,
		IsBridged:    false,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := tx.Rooms.Insert(ctx, room); err != nil {
		return err
	}
	if err := tx.UsersInRooms.Insert(ctx, inviter, evt.RoomID, now); err != nil {
		return err
	}
	if err := tx.UsersInRooms.Insert(ctx, botUserID, evt.RoomID, now); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	// Step 6: fetch member list and enforce the two-member invariant (R3).
	members, err := d.matrix.GetMembers(ctx, evt.RoomID)
	if err != nil {
		return d.abortAdminRoomCreation(ctx, evt.RoomID, botUserID, inviter, msgInternalError, true)
	}

	extraneous := false
	count := 0
	for _, m := range members {
		if m.Membership != "join" && m.Membership != "invite" {
			continue
		}
		count++
		if m.UserID != inviter && m.UserID != botUserID {
			extraneous = true
		}
	}
	if count > 2 || extraneous {
		return d.abortAdminRoomCreation(ctx, evt.RoomID, botUserID, inviter, msgTooManyMembers, false)
	}

	// Step 7: set the display name.
	nameErr := d.matrix.SetRoomName(ctx, evt.RoomID, botUserID, "Rocket.Chat Bridge")
	if nameErr != nil {
		d.notify(ctx, evt.RoomID, msgInternalError)
	}

	// Step 8: send the welcome message.
	return d.sendWelcome(ctx, evt.RoomID, botUserID)
}

// abortAdminRoomCreation handles both the "too many members" and the
// "member list fetch failed" admin-room-creation abort paths (spec.md
// §4.4 step 6). notice, if non-empty, is sent before leaving;
// transportFailure marks the member-list-fetch path, on which a failed
// leave is returned as-is instead of sending an extra internal-error notice.
func (d *Dispatcher) abortAdminRoomCreation(ctx context.Context, roomID, botUserID, inviter, notice string, transportFailure bool) error {
	if notice != "" {
		d.notify(ctx, roomID, notice)
	}

	tx, err := d.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := tx.UsersInRooms.DeleteAllForRoom(ctx, roomID); err != nil {
		return err
	}
	if err := tx.Rooms.Delete(ctx, roomID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if err := d.matrix.LeaveRoom(ctx, roomID, botUserID); err != nil {
		if !transportFailure {
			d.notify(ctx, roomID, msgInternalError)
			return markNotified(err)
		}
		return err
	}
	// A forget failure is swallowed silently (spec.md §4.4 step 6).
	_ = d.matrix.ForgetRoom(ctx, roomID, botUserID)
	return nil
}

// teardownAdminRoom implements spec.md §4.4's admin-room teardown rules.
// announceThirdParty distinguishes case (b) — a third party joining —
// from case (a) — the inviter leaving.
func (d *Dispatcher) teardownAdminRoom(ctx context.Context, tx *store.Tx, room *store.Room, announceThirdParty bool) error {
	botUserID, err := d.identity.BotUserID()
	if err != nil {
		return err
	}

	if announceThirdParty {
		d.notify(ctx, room.MatrixRoomID, msgThirdPartyJoined)
	}

	if err := tx.UsersInRooms.DeleteAllForRoom(ctx, room.MatrixRoomID); err != nil {
		return err
	}
	if err := tx.Rooms.Delete(ctx, room.MatrixRoomID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	_ = d.matrix.LeaveRoom(ctx, room.MatrixRoomID, botUserID)
	_ = d.matrix.ForgetRoom(ctx, room.MatrixRoomID, botUserID)
	return nil
}

// sendWelcome sends the admin-room welcome message, listing currently
// connected Rocket.Chat servers (spec.md §4.4 step 8).
func (d *Dispatcher) sendWelcome(ctx context.Context, roomID, botUserID string) error {
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

	body := msgWelcomeGreeting + ". Type `help` for a list of commands.\n\n"
	if len(servers) == 0 {
		body += msgNoServerConnected
	} else {
		var names []string
		for _, s := range servers {
			names = append(names, s.URL)
		}
		body += "Connected Rocket.Chat servers:\n  " + strings.Join(names, "\n  ")
	}

	if _, err := d.matrix.SendNotice(ctx, roomID, botUserID, body); err != nil {
		return err
	}
	if d.metrics != nil {
		d.metrics.ObserveAdminRoomCreated()
	}
	return nil
}

func (d *Dispatcher) notify(ctx context.Context, roomID, body string) {
	botUserID, err := d.identity.BotUserID()
	if err != nil {
		return
	}
	if _, err := d.matrix.SendNotice(ctx, roomID, botUserID, body); err != nil {
		d.log.Warn().Err(err).Str("room_id", roomID).Msg("failed to send admin room notice")
	}
}

func (d *Dispatcher) botUserIDOrEmpty(ctx context.Context) string {
	id, err := d.identity.BotUserID()
	if err != nil {
		return ""
	}
	return id
}

// handleMessage implements the m.room.message event filters (spec.md
// §4.4) and routes surviving events to the admin-room command parser or
// the Forwarder.
func (d *Dispatcher) handleMessage(ctx context.Context, evt matrixapi.Event) error {
	botUserID, err := d.identity.BotUserID()
	if err != nil {
		return err
	}
	if evt.Sender == botUserID {
		return nil
	}
	if d.identity.IsApplicationServiceVirtualUser(evt.Sender) {
		return nil
	}

	tx, err := d.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	room, err := tx.Rooms.FindByMatrixRoomID(ctx, evt.RoomID)
	if err != nil {
		return err
	}
	if room == nil {
		return tx.Commit()
	}

	if room.IsAdminRoom {
		if err := tx.Commit(); err != nil {
			return err
		}
		msg := matrixapi.ParseMessage(evt.Content)
		return d.handleAdminCommand(ctx, room, evt.Sender, msg.Body)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	if d.forwarder == nil {
		return nil
	}
	return d.forwarder.Forward(ctx, evt)
}

func roomDomain(matrixRoomID string) string {
	idx := strings.IndexByte(matrixRoomID, ':')
	if idx < 0 || idx == len(matrixRoomID)-1 {
		return ""
	}
	return matrixRoomID[idx+1:]
}
