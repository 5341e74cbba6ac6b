// Package rocketchatapi models the slice of the Rocket.Chat REST API the
// bridge depends on, and the inbound webhook payload shape.
package rocketchatapi

import "context"

// WebhookMessage is the JSON body Rocket.Chat posts to the bridge's
// inbound webhook route. Only the fields the admission middleware and the
// inbound handler need are modeled (spec.md §1 treats the wire format as a
// given contract).
type WebhookMessage struct {
	Token       *string `json:"token"`
	ChannelID   string  `json:"channel_id"`
	ChannelName string  `json:"channel_name"`
	UserID      string  `json:"user_id"`
	UserName    string  `json:"user_name"`
	Text        string  `json:"text"`
	MessageID   string  `json:"message_id"`
}

// Client abstracts the Rocket.Chat REST calls the forwarder needs. The
// concrete HTTP implementation is out of scope per spec.md §1; this
// interface is the stated contract.
type Client interface {
	// PostChatMessage posts text into channelID, authenticated as the
	// credentials this Client was constructed with.
	PostChatMessage(ctx context.Context, channelID, text string) error
}

// Credentials are a Rocket.Chat user's auth material. Per spec.md §9's
// design note, the forwarder must make the "missing credentials become
// empty strings" substitution explicit rather than silent; Credentials is
// that explicit boundary.
type Credentials struct {
	UserID    string
	AuthToken string
}

// Empty reports whether neither credential is set — i.e. the user has
// never logged into Rocket.Chat through the bridge.
func (c Credentials) Empty() bool {
	return c.UserID == "" && c.AuthToken == ""
}
