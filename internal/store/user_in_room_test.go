package store

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func newMockUserInRoomStore(t *testing.T) (*UserInRoomStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return &UserInRoomStore{q: db}, mock, func() { db.Close() }
}

func TestUserInRoomStore_Insert_DuplicateIsNoOp(t *testing.T) {
	store, mock, closeFn := newMockUserInRoomStore(t)
	defer closeFn()

	mock.ExpectExec("INSERT INTO users_in_rooms").
		WithArgs("@alice:example.com", "!room:example.com", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Insert(context.Background(), "@alice:example.com", "!room:example.com", time.Now())
	require.NoError(t, err)
}

func TestUserInRoomStore_Delete_UnknownIsNoOp(t *testing.T) {
	store, mock, closeFn := newMockUserInRoomStore(t)
	defer closeFn()

	mock.ExpectExec("DELETE FROM users_in_rooms").
		WithArgs("@bob:example.com", "!room:example.com").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Delete(context.Background(), "@bob:example.com", "!room:example.com")
	require.NoError(t, err)
}

func TestUserInRoomStore_DeleteAllForRoom(t *testing.T) {
	store, mock, closeFn := newMockUserInRoomStore(t)
	defer closeFn()

	mock.ExpectExec("DELETE FROM users_in_rooms WHERE matrix_room_id").
		WithArgs("!room:example.com").
		WillReturnResult(sqlmock.NewResult(0, 2))

	err := store.DeleteAllForRoom(context.Background(), "!room:example.com")
	require.NoError(t, err)
}
