package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cpsocial/internal/models"
	"cpsocial/internal/storage"
	"cpsocial/internal/testutil"
)

func TestRoomRepository_RecountUnread(t *testing.T) {
	db := testutil.TestDB(t)
	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")
	rooms := storage.NewGormRoomRepository(db)
	repo := storage.NewGormMessageRepository(db)
	ctx := context.Background()

	room := &models.Room{Type: models.RoomTypeGroup, Name: "g", CreatorID: alice.ID}
	require.NoError(t, rooms.Create(ctx, room))
	_, err := rooms.AddMember(ctx, &models.RoomMember{RoomID: room.ID, UserID: bob.ID})
	require.NoError(t, err)

	var ids []uint
	for _, sender := range []uint{alice.ID, bob.ID, alice.ID, alice.ID} {
		m := &models.Message{RoomID: room.ID, SenderID: sender, Type: models.MessageTypeText, Content: "m"}
		require.NoError(t, repo.Create(ctx, m))
		ids = append(ids, m.ID)
	}
	other := &models.Message{RoomID: room.ID + 1, SenderID: alice.ID, Type: models.MessageTypeText, Content: "elsewhere"}
	require.NoError(t, repo.Create(ctx, other))

	count := func() int {
		member, err := rooms.GetMember(ctx, room.ID, bob.ID)
		require.NoError(t, err)
		return member.UnreadCount
	}

	require.NoError(t, rooms.RecountUnread(ctx, room.ID, bob.ID, 0))
	assert.Equal(t, 3, count(), "own messages and other rooms are not counted")

	require.NoError(t, rooms.RecountUnread(ctx, room.ID, bob.ID, ids[2]))
	assert.Equal(t, 1, count())

	require.NoError(t, rooms.RecountUnread(ctx, room.ID, bob.ID, ids[3]))
	assert.Equal(t, 0, count())
}
