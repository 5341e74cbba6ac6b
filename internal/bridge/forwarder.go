package bridge

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/n42/matrix-rocketchat/internal/errs"
	"github.com/n42/matrix-rocketchat/internal/matrixapi"
	"github.com/n42/matrix-rocketchat/internal/rocketchatapi"
	"github.com/n42/matrix-rocketchat/internal/store"
)

// RocketchatClientFactory builds a Rocket.Chat API client bound to a
// specific server URL and user credentials. Indirected behind a factory
// function because each forwarded message may authenticate as a
// different Matrix user's Rocket.Chat identity (spec.md §4.5).
type RocketchatClientFactory func(baseURL string, creds rocketchatapi.Credentials) rocketchatapi.Client

// Forwarder forwards validated Matrix message events to their bridged
// Rocket.Chat channel (spec.md §4.5), grounded on the original Rust
// implementation's event forwarder.
type Forwarder struct {
	log       zerolog.Logger
	db        *store.Store
	newClient RocketchatClientFactory
	metrics   *Metrics
}

// NewForwarder builds a Forwarder. metrics may be nil, in which case
// observations are skipped.
func NewForwarder(log zerolog.Logger, db *store.Store, newClient RocketchatClientFactory, metrics *Metrics) *Forwarder {
	return &Forwarder{log: log, db: db, newClient: newClient, metrics: metrics}
}

// Forward implements the four-step algorithm of spec.md §4.5.
func (f *Forwarder) Forward(ctx context.Context, evt matrixapi.Event) error {
	tx, err := f.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	room, err := tx.Rooms.FindByMatrixRoomID(ctx, evt.RoomID)
	if err != nil {
		return err
	}
	if room == nil || room.RocketchatServerID == nil || room.RocketchatRoomID == nil {
		f.log.Debug().Str("room_id", evt.RoomID).Msg("skipping, not bridged")
		return tx.Commit()
	}

	server, err := tx.Servers.FindByID(ctx, *room.RocketchatServerID)
	if err != nil {
		return err
	}
	if server == nil {
		f.log.Debug().Str("room_id", evt.RoomID).Msg("skipping, not bridged")
		return tx.Commit()
	}

	userOnServer, err := tx.UsersOnServers.Find(ctx, evt.Sender, server.ID)
	if err != nil {
		return err
	}
	if userOnServer != nil && userOnServer.IsVirtualUser {
		f.log.Debug().Str("sender", evt.Sender).Msg("suppressing echo of bridge-injected message")
		return tx.Commit()
	}

	msg := matrixapi.ParseMessage(evt.Content)

	switch msg.MsgType {
	case "m.text":
		var userID, authToken string
		if userOnServer != nil {
			userID, authToken, _ = userOnServer.Credentials()
		}
		client := f.newClient(server.URL, rocketchatapi.Credentials{UserID: userID, AuthToken: authToken})

		var stopTimer func()
		if f.metrics != nil {
			stopTimer = f.metrics.Timer(DirectionMatrixToRocketchat)
		}
		err := client.PostChatMessage(ctx, *room.RocketchatRoomID, msg.Body)
		if stopTimer != nil {
			stopTimer()
		}
		if err != nil {
			if f.metrics != nil {
				f.metrics.ObserveForwardError(DirectionMatrixToRocketchat, errs.KindOf(err).String())
			}
			return err
		}
		if f.metrics != nil {
			f.metrics.ObserveForwarded(DirectionMatrixToRocketchat)
		}
	default:
		f.log.Info().Str("msgtype", msg.MsgType).
			Msgf("Forwarding the type %s is not implemented.", msg.MsgType)
		return tx.Commit()
	}

	if err := f.bumpLastMessageSent(ctx, tx, evt.Sender); err != nil {
		return err
	}

	return tx.Commit()
}

// bumpLastMessageSent records senderID's rate-limit clock (spec.md §4.2),
// creating its User row on first observation (spec.md §3's lifecycle rule)
// when this is the first message the bridge has ever forwarded for them.
func (f *Forwarder) bumpLastMessageSent(ctx context.Context, tx *store.Tx, senderID string) error {
	now := time.Now()

	user, err := tx.Users.FindByMatrixUserID(ctx, senderID)
	if err != nil {
		return err
	}
	if user == nil {
		return tx.Users.Insert(ctx, &store.User{
			MatrixUserID:    senderID,
			Language:        "en",
			LastMessageSent: now,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
	}

	user.LastMessageSent = now
	return tx.Users.Update(ctx, user)
}
