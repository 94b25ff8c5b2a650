package storage_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cpsocial/internal/models"
	"cpsocial/internal/storage"
	"cpsocial/internal/testutil"
)

func newEdge(from, to uint) *models.Friendship {
	return &models.Friendship{
		RequesterID: from,
		AddresseeID: to,
		Status:      models.FriendshipPending,
		RequestedAt: time.Now().UTC(),
	}
}

func TestFriendshipRepository_CreateIfAbsent_OnePerPair(t *testing.T) {
	db := testutil.TestDB(t)
	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")
	repo := storage.NewGormFriendshipRepository(db)
	ctx := context.Background()

	inserted, err := repo.CreateIfAbsent(ctx, newEdge(alice.ID, bob.ID))
	require.NoError(t, err)
	assert.True(t, inserted)

	// the reverse direction hits the same canonical pair
	inserted, err = repo.CreateIfAbsent(ctx, newEdge(bob.ID, alice.ID))
	require.NoError(t, err)
	assert.False(t, inserted)

	var count int64
	require.NoError(t, db.Model(&models.Friendship{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestFriendshipRepository_CreateIfAbsent_Concurrent(t *testing.T) {
	db := testutil.TestDB(t)
	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")
	repo := storage.NewGormFriendshipRepository(db)

	var wg sync.WaitGroup
	results := make([]bool, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := alice.ID, bob.ID
			if i%2 == 1 {
				from, to = to, from
			}
			ok, err := repo.CreateIfAbsent(context.Background(), newEdge(from, to))
			assert.NoError(t, err)
			results[i] = ok
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, ok := range results {
		if ok {
			wins++
		}
	}
	assert.Equal(t, 1, wins)
}

func TestFriendshipRepository_Respond(t *testing.T) {
	db := testutil.TestDB(t)
	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")
	repo := storage.NewGormFriendshipRepository(db)
	ctx := context.Background()

	edge := newEdge(alice.ID, bob.ID)
	_, err := repo.CreateIfAbsent(ctx, edge)
	require.NoError(t, err)

	// only the addressee may respond
	n, err := repo.Respond(ctx, edge.ID, alice.ID, models.FriendshipAccepted, time.Now().UTC())
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	n, err = repo.Respond(ctx, edge.ID, bob.ID, models.FriendshipAccepted, time.Now().UTC())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	// already accepted
	n, err = repo.Respond(ctx, edge.ID, bob.ID, models.FriendshipRejected, time.Now().UTC())
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	friends, err := repo.AreUsersFriends(ctx, bob.ID, alice.ID)
	require.NoError(t, err)
	assert.True(t, friends)

	ids, err := repo.GetFriendIDs(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{bob.ID}, ids)
}

func TestFriendshipRepository_DeleteAccepted(t *testing.T) {
	db := testutil.TestDB(t)
	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")
	repo := storage.NewGormFriendshipRepository(db)
	ctx := context.Background()

	edge := newEdge(alice.ID, bob.ID)
	_, err := repo.CreateIfAbsent(ctx, edge)
	require.NoError(t, err)

	n, err := repo.DeleteAccepted(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n, "pending edges are not removed")

	_, err = repo.Respond(ctx, edge.ID, bob.ID, models.FriendshipAccepted, time.Now().UTC())
	require.NoError(t, err)

	n, err = repo.DeleteAccepted(ctx, bob.ID, alice.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = repo.GetByPair(ctx, alice.ID, bob.ID)
	assert.True(t, storage.IsNotFound(err))
}

func TestFriendshipRepository_UpsertBlocked(t *testing.T) {
	db := testutil.TestDB(t)
	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")
	repo := storage.NewGormFriendshipRepository(db)
	ctx := context.Background()

	_, err := repo.CreateIfAbsent(ctx, newEdge(alice.ID, bob.ID))
	require.NoError(t, err)

	require.NoError(t, repo.UpsertBlocked(ctx, bob.ID, alice.ID, time.Now().UTC()))

	edge, err := repo.GetByPair(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FriendshipBlocked, edge.Status)
	require.NotNil(t, edge.BlockedBy)
	assert.Equal(t, bob.ID, *edge.BlockedBy)
	assert.Equal(t, bob.ID, edge.RequesterID)
}
