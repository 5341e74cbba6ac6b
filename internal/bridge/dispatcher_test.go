package bridge

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n42/matrix-rocketchat/internal/identity"
	"github.com/n42/matrix-rocketchat/internal/matrixapi"
	"github.com/n42/matrix-rocketchat/internal/store"
)

func newTestDispatcher(t *testing.T, mc *fakeMatrixClient) (*Dispatcher, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	st := store.NewFromDB(db)
	id := identity.New("rocketchat", "example.com")

	d := NewDispatcher(DispatcherConfig{
		Log:                 zerolog.Nop(),
		Store:               st,
		Matrix:              mc,
		Identity:            id,
		AcceptRemoteInvites: true,
		HSDomain:            "example.com",
	})
	return d, mock, db
}

func TestDispatcher_AdminRoomCreation_HappyPath(t *testing.T) {
	mc := newFakeMatrixClient()
	mc.roomCreate["!admin:example.com"] = &matrixapi.RoomCreate{Creator: "@alice:example.com"}
	mc.members["!admin:example.com"] = []matrixapi.Member{
		{UserID: "@alice:example.com", Membership: "join"},
		{UserID: "@rocketchat:example.com", Membership: "join"},
	}

	d, mock, db := newTestDispatcher(t, mc)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO rooms").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO users_in_rooms").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO users_in_rooms").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .* FROM rocketchat_servers ORDER BY created_at").
		WillReturnRows(sqlmock.NewRows([]string{"id", "url", "token", "created_at", "updated_at"}))
	mock.ExpectCommit()

	evt := matrixapi.Event{
		ID:       "$evt1",
		Type:     "m.room.member",
		RoomID:   "!admin:example.com",
		Sender:   "@alice:example.com",
		StateKey: strPtr("@rocketchat:example.com"),
		Content:  map[string]interface{}{"membership": "invite"},
	}

	d.HandleTransaction(context.Background(), []matrixapi.Event{evt})

	assert.Contains(t, mc.joined, "!admin:example.com|@rocketchat:example.com")
	require.NotEmpty(t, mc.notices)
	assert.Contains(t, mc.notices[len(mc.notices)-1], msgNoServerConnected)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatcher_AdminRoomCreation_RejectsNonCreatorInviter(t *testing.T) {
	mc := newFakeMatrixClient()
	mc.roomCreate["!admin:example.com"] = &matrixapi.RoomCreate{Creator: "@someoneelse:example.com"}

	d, mock, db := newTestDispatcher(t, mc)
	defer db.Close()

	evt := matrixapi.Event{
		ID:       "$evt1",
		Type:     "m.room.member",
		RoomID:   "!admin:example.com",
		Sender:   "@alice:example.com",
		StateKey: strPtr("@rocketchat:example.com"),
		Content:  map[string]interface{}{"membership": "invite"},
	}

	d.HandleTransaction(context.Background(), []matrixapi.Event{evt})

	assert.Empty(t, mc.joined)
	require.Len(t, mc.notices, 1)
	assert.Equal(t, msgOnlyCreatorCanInvite, mc.notices[0])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatcher_AdminRoomCreation_TooManyMembers(t *testing.T) {
	mc := newFakeMatrixClient()
	mc.roomCreate["!admin:example.com"] = &matrixapi.RoomCreate{Creator: "@alice:example.com"}
	mc.members["!admin:example.com"] = []matrixapi.Member{
		{UserID: "@alice:example.com", Membership: "join"},
		{UserID: "@rocketchat:example.com", Membership: "join"},
		{UserID: "@mallory:example.com", Membership: "join"},
	}

	d, mock, db := newTestDispatcher(t, mc)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO rooms").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO users_in_rooms").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO users_in_rooms").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM users_in_rooms").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM rooms").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	evt := matrixapi.Event{
		ID:       "$evt1",
		Type:     "m.room.member",
		RoomID:   "!admin:example.com",
		Sender:   "@alice:example.com",
		StateKey: strPtr("@rocketchat:example.com"),
		Content:  map[string]interface{}{"membership": "invite"},
	}

	d.HandleTransaction(context.Background(), []matrixapi.Event{evt})

	require.NotEmpty(t, mc.notices)
	assert.Equal(t, msgTooManyMembers, mc.notices[0])
	assert.Contains(t, mc.left, "!admin:example.com|@rocketchat:example.com")
	assert.Contains(t, mc.forgot, "!admin:example.com|@rocketchat:example.com")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatcher_IgnoresUninterestingMembership(t *testing.T) {
	mc := newFakeMatrixClient()
	d, mock, db := newTestDispatcher(t, mc)
	defer db.Close()

	evt := matrixapi.Event{
		ID:       "$evt1",
		Type:     "m.room.member",
		RoomID:   "!room:example.com",
		Sender:   "@alice:example.com",
		StateKey: strPtr("@alice:example.com"),
		Content:  map[string]interface{}{"membership": "ban"},
	}

	d.HandleTransaction(context.Background(), []matrixapi.Event{evt})

	assert.Empty(t, mc.joined)
	assert.Empty(t, mc.notices)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestDispatcher_BotInvited_TransportFailureNotifiesAndLeaves exercises the
// transport-failure half of handleBotInvited step 2 (spec.md §4.4): a
// GetRoomCreate failure tagged errs.MatrixAPIError notifies the inviter and
// leaves the room.
func TestDispatcher_BotInvited_TransportFailureNotifiesAndLeaves(t *testing.T) {
	mc := newFakeMatrixClient()
	mc.failGetRoomCreate = true

	d, mock, db := newTestDispatcher(t, mc)
	defer db.Close()

	evt := matrixapi.Event{
		ID:       "$evt1",
		Type:     "m.room.member",
		RoomID:   "!admin:example.com",
		Sender:   "@alice:example.com",
		StateKey: strPtr("@rocketchat:example.com"),
		Content:  map[string]interface{}{"membership": "invite"},
	}

	d.HandleTransaction(context.Background(), []matrixapi.Event{evt})

	require.NotEmpty(t, mc.notices)
	assert.Contains(t, mc.notices[0], msgInternalError)
	assert.Contains(t, mc.left, "!admin:example.com|@rocketchat:example.com")
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestDispatcher_BotInvited_ParseFailureLeavesSilently exercises the
// parse-failure half of handleBotInvited step 2: an undecodable response
// body leaves the room with no user-visible notice at all.
func TestDispatcher_BotInvited_ParseFailureLeavesSilently(t *testing.T) {
	mc := newFakeMatrixClient()
	mc.failParseRoomCreate = true

	d, mock, db := newTestDispatcher(t, mc)
	defer db.Close()

	evt := matrixapi.Event{
		ID:       "$evt1",
		Type:     "m.room.member",
		RoomID:   "!admin:example.com",
		Sender:   "@alice:example.com",
		StateKey: strPtr("@rocketchat:example.com"),
		Content:  map[string]interface{}{"membership": "invite"},
	}

	d.HandleTransaction(context.Background(), []matrixapi.Event{evt})

	assert.Empty(t, mc.notices)
	assert.Contains(t, mc.left, "!admin:example.com|@rocketchat:example.com")
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestDispatcher_AdminRoomTeardown_InviterLeaves covers trigger (a) of
// spec.md §4.4's admin-room teardown: the inviter leaving voluntarily.
func TestDispatcher_AdminRoomTeardown_InviterLeaves(t *testing.T) {
	mc := newFakeMatrixClient()
	d, mock, db := newTestDispatcher(t, mc)
	defer db.Close()

	now := time.Now()
	roomRows := sqlmock.NewRows([]string{
		"matrix_room_id", "display_name", "rocketchat_server_id", "rocketchat_room_id",
		"is_admin_room", "is_bridged", "is_direct_message_room", "created_at", "updated_at",
	}).AddRow("!admin:example.com", "", nil, nil, true, false, false, now, now)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .* FROM rooms WHERE matrix_room_id").
		WithArgs("!admin:example.com").
		WillReturnRows(roomRows)
	mock.ExpectExec("DELETE FROM users_in_rooms").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM rooms").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	evt := matrixapi.Event{
		ID:       "$evt2",
		Type:     "m.room.member",
		RoomID:   "!admin:example.com",
		Sender:   "@alice:example.com",
		StateKey: strPtr("@alice:example.com"),
		Content:  map[string]interface{}{"membership": "leave"},
	}

	d.HandleTransaction(context.Background(), []matrixapi.Event{evt})

	assert.Contains(t, mc.left, "!admin:example.com|@rocketchat:example.com")
	assert.Contains(t, mc.forgot, "!admin:example.com|@rocketchat:example.com")
	assert.Empty(t, mc.notices)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestDispatcher_AdminRoomTeardown_ThirdPartyInvited covers trigger (b) of
// spec.md §4.4's admin-room teardown: the realistic invite case where
// sender (the inviter) and state_key (the invitee) differ. This exercises
// the fix for the defect where the block was gated on stateKey == evt.Sender.
func TestDispatcher_AdminRoomTeardown_ThirdPartyInvited(t *testing.T) {
	mc := newFakeMatrixClient()
	d, mock, db := newTestDispatcher(t, mc)
	defer db.Close()

	now := time.Now()
	roomRows := sqlmock.NewRows([]string{
		"matrix_room_id", "display_name", "rocketchat_server_id", "rocketchat_room_id",
		"is_admin_room", "is_bridged", "is_direct_message_room", "created_at", "updated_at",
	}).AddRow("!admin:example.com", "", nil, nil, true, false, false, now, now)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .* FROM rooms WHERE matrix_room_id").
		WithArgs("!admin:example.com").
		WillReturnRows(roomRows)
	mock.ExpectQuery("SELECT .* FROM users_in_rooms").
		WithArgs("@mallory:example.com", "!admin:example.com").
		WillReturnRows(sqlmock.NewRows(nil))
	mock.ExpectExec("DELETE FROM users_in_rooms").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM rooms").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	evt := matrixapi.Event{
		ID:       "$evt3",
		Type:     "m.room.member",
		RoomID:   "!admin:example.com",
		Sender:   "@alice:example.com",
		StateKey: strPtr("@mallory:example.com"),
		Content:  map[string]interface{}{"membership": "invite"},
	}

	d.HandleTransaction(context.Background(), []matrixapi.Event{evt})

	require.NotEmpty(t, mc.notices)
	assert.Equal(t, msgThirdPartyJoined, mc.notices[0])
	assert.Contains(t, mc.left, "!admin:example.com|@rocketchat:example.com")
	assert.Contains(t, mc.forgot, "!admin:example.com|@rocketchat:example.com")
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestDispatcher_UnknownRoomLeave_NoOp covers spec.md §4.4's rule that a
// membership event for a room the Store has never seen is a pure no-op: no
// Matrix API calls, no error, no notice.
func TestDispatcher_UnknownRoomLeave_NoOp(t *testing.T) {
	mc := newFakeMatrixClient()
	d, mock, db := newTestDispatcher(t, mc)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .* FROM rooms WHERE matrix_room_id").
		WithArgs("!unknown:example.com").
		WillReturnRows(sqlmock.NewRows(nil))
	mock.ExpectCommit()

	evt := matrixapi.Event{
		ID:       "$evt4",
		Type:     "m.room.member",
		RoomID:   "!unknown:example.com",
		Sender:   "@alice:example.com",
		StateKey: strPtr("@alice:example.com"),
		Content:  map[string]interface{}{"membership": "leave"},
	}

	d.HandleTransaction(context.Background(), []matrixapi.Event{evt})

	assert.Empty(t, mc.left)
	assert.Empty(t, mc.forgot)
	assert.Empty(t, mc.notices)
	require.NoError(t, mock.ExpectationsWereMet())
}

func strPtr(s string) *string { return &s }
