package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cpsocial/internal/models"
	"cpsocial/internal/storage"
	"cpsocial/internal/testutil"
)

func TestMessageRepository_ListByRoom(t *testing.T) {
	db := testutil.TestDB(t)
	alice := testutil.CreateUser(t, db, "alice")
	rooms := storage.NewGormRoomRepository(db)
	repo := storage.NewGormMessageRepository(db)
	ctx := context.Background()

	room := &models.Room{Type: models.RoomTypeGroup, Name: "g", CreatorID: alice.ID}
	require.NoError(t, rooms.Create(ctx, room))

	var ids []uint
	for _, content := range []string{"one", "two", "three", "four"} {
		m := &models.Message{RoomID: room.ID, SenderID: alice.ID, Type: models.MessageTypeText, Content: content}
		require.NoError(t, repo.Create(ctx, m))
		ids = append(ids, m.ID)
	}

	latest, err := repo.ListByRoom(ctx, room.ID, 0, 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "three", latest[0].Content)
	assert.Equal(t, "four", latest[1].Content)
	assert.Equal(t, "alice", latest[0].Sender.Username)

	older, err := repo.ListByRoom(ctx, room.ID, ids[2], 10)
	require.NoError(t, err)
	require.Len(t, older, 2)
	assert.Equal(t, "one", older[0].Content)
}

func TestMessageRepository_Reactions(t *testing.T) {
	db := testutil.TestDB(t)
	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")
	repo := storage.NewGormMessageRepository(db)
	ctx := context.Background()

	m := &models.Message{RoomID: 1, SenderID: alice.ID, Type: models.MessageTypeText, Content: "hi"}
	require.NoError(t, repo.Create(ctx, m))

	for i := 0; i < 2; i++ {
		require.NoError(t, repo.AddReaction(ctx, &models.Reaction{MessageID: m.ID, UserID: alice.ID, Emoji: "👍"}))
	}
	require.NoError(t, repo.AddReaction(ctx, &models.Reaction{MessageID: m.ID, UserID: bob.ID, Emoji: "👍"}))

	reactions, err := repo.ListReactions(ctx, []uint{m.ID})
	require.NoError(t, err)
	groups := models.GroupReactions(reactions)
	require.Len(t, groups, 1)
	assert.Equal(t, 2, groups[0].Count)
	assert.ElementsMatch(t, []uint{alice.ID, bob.ID}, groups[0].Users)

	require.NoError(t, repo.RemoveReaction(ctx, m.ID, alice.ID, "👍"))
	reactions, err = repo.ListReactions(ctx, []uint{m.ID})
	require.NoError(t, err)
	assert.Len(t, reactions, 1)
}

func TestMessageRepository_MarkReadIsMonotonic(t *testing.T) {
	db := testutil.TestDB(t)
	alice := testutil.CreateUser(t, db, "alice")
	repo := storage.NewGormMessageRepository(db)
	ctx := context.Background()

	receipt, err := repo.MarkRead(ctx, 1, alice.ID, 10, time.Now().UTC())
	require.NoError(t, err)
	assert.EqualValues(t, 10, receipt.LastReadMessageID)

	receipt, err = repo.MarkRead(ctx, 1, alice.ID, 4, time.Now().UTC())
	require.NoError(t, err)
	assert.EqualValues(t, 10, receipt.LastReadMessageID)

	receipt, err = repo.MarkRead(ctx, 1, alice.ID, 12, time.Now().UTC())
	require.NoError(t, err)
	assert.EqualValues(t, 12, receipt.LastReadMessageID)
}

func TestMessageRepository_UpdateLiveSkipsDeletedAndForeign(t *testing.T) {
	db := testutil.TestDB(t)
	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")
	repo := storage.NewGormMessageRepository(db)
	ctx := context.Background()

	m := &models.Message{RoomID: 1, SenderID: alice.ID, Type: models.MessageTypeText, Content: "hi"}
	require.NoError(t, repo.Create(ctx, m))

	n, err := repo.UpdateLive(ctx, m.ID, bob.ID, map[string]interface{}{"content": "hijack"})
	require.NoError(t, err)
	assert.Zero(t, n, "other senders cannot update")

	n, err = repo.UpdateLive(ctx, m.ID, 0, map[string]interface{}{"is_deleted": true, "content": ""})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = repo.UpdateLive(ctx, m.ID, alice.ID, map[string]interface{}{"content": "revived"})
	require.NoError(t, err)
	assert.Zero(t, n, "deleted rows are frozen")

	got, err := repo.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDeleted)
	assert.Empty(t, got.Content)
}
