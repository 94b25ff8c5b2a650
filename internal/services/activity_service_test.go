package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cpsocial/internal/models"
	"cpsocial/internal/testutil"
)

func TestActivityFeed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := testutil.CreateUser(t, f.db, "alice")
	bob := testutil.CreateUser(t, f.db, "bob")
	carol := testutil.CreateUser(t, f.db, "carol")
	f.befriend(t, alice, bob)

	require.NoError(t, f.activities.Record(ctx, bob.ID, models.ActivityProblemsSolved, 0, map[string]int{"solved": 3}))
	require.NoError(t, f.activities.Record(ctx, carol.ID, models.ActivityProblemsSolved, 0, nil))

	all, err := f.activities.Feed(ctx, alice.ID, FeedAll, 20)
	require.NoError(t, err)
	authors := map[uint]bool{}
	for _, a := range all {
		authors[a.UserID] = true
	}
	assert.True(t, authors[alice.ID])
	assert.True(t, authors[bob.ID])
	assert.False(t, authors[carol.ID], "strangers never show up")
	assert.Equal(t, models.ActivityProblemsSolved, all[0].Type, "newest first")
	assert.Equal(t, "bob", all[0].User.Username)
	assert.JSONEq(t, `{"solved":3}`, string(all[0].Metadata))

	friendsOnly, err := f.activities.Feed(ctx, alice.ID, FeedFriends, 20)
	require.NoError(t, err)
	for _, a := range friendsOnly {
		assert.Equal(t, bob.ID, a.UserID)
	}

	mine, err := f.activities.Feed(ctx, alice.ID, FeedMine, 20)
	require.NoError(t, err)
	require.NotEmpty(t, mine)
	for _, a := range mine {
		assert.Equal(t, alice.ID, a.UserID)
	}

	_, err = f.activities.Feed(ctx, alice.ID, "everyone", 20)
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestActivityFeed_Limit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := testutil.CreateUser(t, f.db, "alice")
	for i := 0; i < 5; i++ {
		require.NoError(t, f.activities.Record(ctx, alice.ID, models.ActivityProfileUpdated, 0, nil))
	}
	feed, err := f.activities.Feed(ctx, alice.ID, FeedMine, 3)
	require.NoError(t, err)
	assert.Len(t, feed, 3)
}
