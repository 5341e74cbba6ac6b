package bridge

import (
	"context"

	"github.com/pkg/errors"

	"github.com/n42/matrix-rocketchat/internal/errs"
	"github.com/n42/matrix-rocketchat/internal/matrixapi"
)

// fakeMatrixClient is a hand-written in-memory stand-in for
// matrixapi.Client, used by dispatcher/forwarder/inbound-handler tests per
// SPEC_FULL.md §8. It records every call so tests can assert on dispatcher
// behavior without a real homeserver.
type fakeMatrixClient struct {
	joined   []string
	left     []string
	forgot   []string
	invited  []string
	notices  []string
	messages []sentMessage

	roomCreate map[string]*matrixapi.RoomCreate
	members    map[string][]matrixapi.Member

	failGetRoomCreate   bool
	failParseRoomCreate bool
	failGetMembers      bool
	failSetRoomName     bool
	failJoin            bool
}

type sentMessage struct {
	RoomID   string
	SenderID string
	Content  map[string]interface{}
}

func newFakeMatrixClient() *fakeMatrixClient {
	return &fakeMatrixClient{
		roomCreate: map[string]*matrixapi.RoomCreate{},
		members:    map[string][]matrixapi.Member{},
	}
}

func (f *fakeMatrixClient) JoinRoom(ctx context.Context, roomID, userID string) error {
	if f.failJoin {
		return errTransport
	}
	f.joined = append(f.joined, roomID+"|"+userID)
	return nil
}

func (f *fakeMatrixClient) LeaveRoom(ctx context.Context, roomID, userID string) error {
	f.left = append(f.left, roomID+"|"+userID)
	return nil
}

func (f *fakeMatrixClient) ForgetRoom(ctx context.Context, roomID, userID string) error {
	f.forgot = append(f.forgot, roomID+"|"+userID)
	return nil
}

func (f *fakeMatrixClient) InviteToRoom(ctx context.Context, roomID, userID string) error {
	f.invited = append(f.invited, roomID+"|"+userID)
	return nil
}

func (f *fakeMatrixClient) SendMessage(ctx context.Context, roomID, senderID string, content map[string]interface{}) (string, error) {
	f.messages = append(f.messages, sentMessage{RoomID: roomID, SenderID: senderID, Content: content})
	return "$event:example.com", nil
}

func (f *fakeMatrixClient) SendNotice(ctx context.Context, roomID, senderID, body string) (string, error) {
	f.notices = append(f.notices, body)
	return f.SendMessage(ctx, roomID, senderID, map[string]interface{}{"msgtype": "m.notice", "body": body})
}

func (f *fakeMatrixClient) SetRoomName(ctx context.Context, roomID, senderID, name string) error {
	if f.failSetRoomName {
		return errTransport
	}
	return nil
}

func (f *fakeMatrixClient) GetRoomCreate(ctx context.Context, roomID string) (*matrixapi.RoomCreate, error) {
	if f.failGetRoomCreate {
		return nil, errs.Wrap(errs.MatrixAPIError, errTransport, "get room create")
	}
	if f.failParseRoomCreate {
		return nil, errors.Wrap(errParse, "decode response body")
	}
	return f.roomCreate[roomID], nil
}

func (f *fakeMatrixClient) GetMembers(ctx context.Context, roomID string) ([]matrixapi.Member, error) {
	if f.failGetMembers {
		return nil, errTransport
	}
	return f.members[roomID], nil
}

func (f *fakeMatrixClient) EnsureRegistered(ctx context.Context, userID string) error {
	return nil
}

var errTransport = transportError{}
var errParse = parseError{}

type transportError struct{}

func (transportError) Error() string { return "simulated transport failure" }

type parseError struct{}

func (parseError) Error() string { return "simulated malformed response body" }
