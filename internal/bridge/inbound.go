package bridge

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/n42/matrix-rocketchat/internal/identity"
	"github.com/n42/matrix-rocketchat/internal/matrixapi"
	"github.com/n42/matrix-rocketchat/internal/rocketchatapi"
	"github.com/n42/matrix-rocketchat/internal/store"
)

// InboundHandler mirrors Rocket.Chat-originated messages into Matrix via a
// lazily-created virtual user (SPEC_FULL.md §4.6), grounded on the
// teacher's PuppetManager.GetOrCreate pattern and the original Rust
// implementation's UsersOnRocketchatServers virtual-user bookkeeping.
type InboundHandler struct {
	log           zerolog.Logger
	db            *store.Store
	matrix        matrixapi.Client
	identity      *identity.Mapper
	botRocketUser string // the bridge's own Rocket.Chat bot account, echoes of which are suppressed
	metrics       *Metrics
}

// InboundHandlerConfig wires an InboundHandler's collaborators.
type InboundHandlerConfig struct {
	Log           zerolog.Logger
	Store         *store.Store
	Matrix        matrixapi.Client
	Identity      *identity.Mapper
	BotRocketUser string
	// Metrics may be nil, in which case observations are skipped.
	Metrics *Metrics
}

// NewInboundHandler builds an InboundHandler.
func NewInboundHandler(cfg InboundHandlerConfig) *InboundHandler {
	return &InboundHandler{
		log:           cfg.Log,
		db:            cfg.Store,
		matrix:        cfg.Matrix,
		identity:      cfg.Identity,
		botRocketUser: cfg.BotRocketUser,
		metrics:       cfg.Metrics,
	}
}

// Handle processes one Rocket.Chat webhook message already authenticated
// by the admission middleware (SPEC_FULL.md §4.6).
func (h *InboundHandler) Handle(ctx context.Context, msg *rocketchatapi.WebhookMessage, server *store.RocketchatServer) error {
	if msg.UserID == h.botRocketUser {
		return nil
	}

	tx, err := h.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	room, err := tx.Rooms.FindByRocketchatRoom(ctx, server.ID, msg.ChannelID)
	if err != nil {
		return err
	}
	if room == nil {
		h.log.Debug().Str("channel_id", msg.ChannelID).Msg("message posted to unbridged channel")
		return tx.Commit()
	}

	virtualUserID, err := h.ensureVirtualUser(ctx, tx, server, msg, room)
	if err != nil {
		return err
	}

	if _, err := h.matrix.SendMessage(ctx, room.MatrixRoomID, virtualUserID, map[string]interface{}{
		"msgtype": "m.text",
		"body":    msg.Text,
	}); err != nil {
		return err
	}

	return tx.Commit()
}

// ensureVirtualUser returns the virtual user puppeting msg.UserID,
// creating it (and joining it to room) on first sight.
func (h *InboundHandler) ensureVirtualUser(ctx context.Context, tx *store.Tx, server *store.RocketchatServer, msg *rocketchatapi.WebhookMessage, room *store.Room) (string, error) {
	link, err := tx.UsersOnServers.FindByRocketchatUserID(ctx, server.ID, msg.UserID)
	if err != nil {
		return "", err
	}

	virtualUserID := h.identity.VirtualUserID(msg.UserID)

	if link == nil {
		now := time.Now()
		if err := h.matrix.EnsureRegistered(ctx, virtualUserID); err != nil {
			return "", err
		}

		// users_on_rocketchat_servers.matrix_user_id references users, so
		// the virtual user needs its own row there too before the link
		// below can be inserted.
		if err := tx.Users.Insert(ctx, &store.User{
			MatrixUserID:    virtualUserID,
			Language:        "en",
			LastMessageSent: now,
			CreatedAt:       now,
			UpdatedAt:       now,
		}); err != nil {
			return "", err
		}

		link = &store.UserOnRocketchatServer{
			MatrixUserID:       virtualUserID,
			RocketchatServerID: server.ID,
			IsVirtualUser:      true,
			RocketchatUserID:   msg.UserID,
			RocketchatUsername: msg.UserName,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := tx.UsersOnServers.Insert(ctx, link); err != nil {
			return "", err
		}
		if h.metrics != nil {
			h.metrics.ObserveVirtualUserCreated()
		}
	}

	member, err := tx.UsersInRooms.Find(ctx, virtualUserID, room.MatrixRoomID)
	if err != nil {
		return "", err
	}
	if member == nil {
		if err := h.matrix.InviteToRoom(ctx, room.MatrixRoomID, virtualUserID); err != nil {
			return "", err
		}
		if err := h.matrix.JoinRoom(ctx, room.MatrixRoomID, virtualUserID); err != nil {
			return "", err
		}
		if err := tx.UsersInRooms.Insert(ctx, virtualUserID, room.MatrixRoomID, time.Now()); err != nil {
			return "", err
		}
	}

	return virtualUserID, nil
}
