// Package identity implements the pure, side-effect-free predicates that
// decide whether a Matrix user id belongs to the bridge's application
// service namespace.
package identity

import (
	"regexp"

	"github.com/n42/matrix-rocketchat/internal/errs"
)

// matrixUserIDPattern is a permissive check for the `@localpart:domain`
// shape; the homeserver is the authority on full grammar validity, this
// just rejects the obviously malformed.
var matrixUserIDPattern = regexp.MustCompile(`^@[^:]+:.+$`)

// Mapper builds and recognizes the bridge's own Matrix identities.
//
// It is configured once at startup with the bot's local name and the
// homeserver's domain, and never performs I/O.
type Mapper struct {
	senderLocalpart string
	hsDomain        string
}

// New creates a Mapper for the given sender localpart and homeserver domain.
func New(senderLocalpart, hsDomain string) *Mapper {
	return &Mapper{senderLocalpart: senderLocalpart, hsDomain: hsDomain}
}

// BotUserID returns the bridge bot's own Matrix user id, e.g.
// "@rocketchat:example.org".
func (m *Mapper) BotUserID() (string, error) {
	id := "@" + m.senderLocalpart + ":" + m.hsDomain
	if !matrixUserIDPattern.MatchString(id) {
		return "", errs.New(errs.InvalidUserID, "constructed bot user id is not a valid Matrix id: "+id)
	}
	return id, nil
}

// IsApplicationServiceUser reports whether u belongs to the bridge's
// namespace at all, including the bot user itself.
func (m *Mapper) IsApplicationServiceUser(u string) bool {
	prefix := "@" + m.senderLocalpart
	return len(u) >= len(prefix) && u[:len(prefix)] == prefix
}

// IsApplicationServiceVirtualUser reports whether u is a bridge-created
// virtual user — i.e. in the namespace but not the bot itself. The
// trailing underscore after the localpart is the namespace convention for
// virtual users, so the bot user ("@rocketchat:...") is excluded while
// "@rocketchat_wxid123:..." is included.
func (m *Mapper) IsApplicationServiceVirtualUser(u string) bool {
	prefix := "@" + m.senderLocalpart + "_"
	return len(u) >= len(prefix) && u[:len(prefix)] == prefix
}

// VirtualUserID constructs the Matrix id of the virtual user mirroring the
// given Rocket.Chat user id.
func (m *Mapper) VirtualUserID(rocketchatUserID string) string {
	return "@" + m.senderLocalpart + "_" + rocketchatUserID + ":" + m.hsDomain
}
