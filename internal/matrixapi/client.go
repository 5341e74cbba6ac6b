package matrixapi

import "context"

// Client abstracts the Matrix client-server calls the dispatcher and
// forwarder need. The concrete implementation (raw HTTP client against the
// homeserver, authenticated with as_token) is out of scope per spec.md §1;
// this interface is the stated contract the core depends on.
type Client interface {
	// JoinRoom makes userID join roomID. userID is typically the bot, but
	// virtual users join their own bridged rooms too (SPEC_FULL.md §4.6).
	JoinRoom(ctx context.Context, roomID, userID string) error
	// LeaveRoom makes userID leave roomID.
	LeaveRoom(ctx context.Context, roomID, userID string) error
	// ForgetRoom makes userID forget roomID after leaving it.
	ForgetRoom(ctx context.Context, roomID, userID string) error
	// InviteToRoom invites userID to roomID, sent by the bot.
	InviteToRoom(ctx context.Context, roomID, userID string) error

	// SendMessage sends an m.room.message event into roomID as senderID
	// and returns the resulting event id.
	SendMessage(ctx context.Context, roomID, senderID string, content map[string]interface{}) (string, error)
	// SendNotice is a convenience wrapper used for bridge-authored
	// administrative messages (welcome text, error notices).
	SendNotice(ctx context.Context, roomID, senderID, body string) (string, error)

	// SetRoomName sends an m.room.name state event with an empty state
	// key, used to set the admin room's display name.
	SetRoomName(ctx context.Context, roomID, senderID, name string) error

	// GetRoomCreate fetches the m.room.create state event for roomID.
	GetRoomCreate(ctx context.Context, roomID string) (*RoomCreate, error)
	// GetMembers fetches the current membership list of roomID.
	GetMembers(ctx context.Context, roomID string) ([]Member, error)

	// EnsureRegistered registers userID as an application-service user if
	// it doesn't already exist. Used before a virtual user's first action.
	EnsureRegistered(ctx context.Context, userID string) error
}
