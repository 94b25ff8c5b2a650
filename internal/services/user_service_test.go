package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"cpsocial/internal/models"
	"cpsocial/internal/storage"
	"cpsocial/internal/testutil"
)

func newUserService(t *testing.T, f *fixture, cache Cache) *userService {
	t.Helper()
	userRepo := storage.NewGormUserRepository(f.db)
	lb := NewLeaderboardService(userRepo, storage.NewGormFriendshipRepository(f.db), cache, time.Minute, nil)
	return NewUserService(f.db, userRepo, lb, cache, time.Minute, testutil.TestLogger(t)).(*userService)
}

func strPtr(s string) *string { return &s }

func TestUpdateUserProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := newUserService(t, f, nil)
	alice := testutil.CreateUser(t, f.db, "alice")

	updated, err := svc.UpdateUserProfile(ctx, alice.ID, ProfileUpdate{
		DisplayName:    strPtr(" Alice <3 "),
		Bio:            strPtr("graphs & dp"),
		PracticeHandle: strPtr("alice_cf!"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Alice &lt;3", updated.DisplayName)
	assert.Equal(t, "graphs &amp; dp", updated.Bio)
	assert.Equal(t, "alice_cf", updated.PracticeHandle)

	_, err = svc.UpdateUserProfile(ctx, 999, ProfileUpdate{Bio: strPtr("x")})
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = svc.GetUserProfile(ctx, 999)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUpdateStats_Streak(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cache := &mockCache{}
	cache.On("Delete", mock.Anything, []string{globalLeaderboardKey}).Return(nil)
	svc := newUserService(t, f, cache)
	alice := testutil.CreateUser(t, f.db, "alice")

	day := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return day }

	u, err := svc.UpdateStats(ctx, alice.ID, StatsUpdate{EasySolved: 2, MediumSolved: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, u.TotalSolved)
	assert.Equal(t, 1, u.CurrentStreak)

	day = day.Add(5 * time.Hour)
	u, err = svc.UpdateStats(ctx, alice.ID, StatsUpdate{EasySolved: 3, MediumSolved: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, u.CurrentStreak, "same day keeps the streak")

	day = day.Add(24 * time.Hour)
	u, err = svc.UpdateStats(ctx, alice.ID, StatsUpdate{EasySolved: 3, MediumSolved: 1, HardSolved: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, u.CurrentStreak)
	assert.Equal(t, 2, u.LongestStreak)

	day = day.Add(72 * time.Hour)
	u, err = svc.UpdateStats(ctx, alice.ID, StatsUpdate{EasySolved: 4, MediumSolved: 1, HardSolved: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, u.CurrentStreak, "a gap restarts the streak")
	assert.Equal(t, 2, u.LongestStreak)

	stored, err := svc.GetUserProfile(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, stored.TotalSolved)

	var solved int64
	require.NoError(t, f.db.Model(&models.Activity{}).
		Where("user_id = ? AND type = ?", alice.ID, models.ActivityProblemsSolved).Count(&solved).Error)
	assert.EqualValues(t, 4, solved)
	cache.AssertNumberOfCalls(t, "Delete", 4)

	_, err = svc.UpdateStats(ctx, alice.ID, StatsUpdate{EasySolved: -1})
	assert.Equal(t, KindInvalid, KindOf(err))
}

func TestAdvanceStreak(t *testing.T) {
	now := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)
	yesterday := now.Add(-20 * time.Hour)
	lastWeek := now.Add(-7 * 24 * time.Hour)

	tests := []struct {
		name       string
		prev       models.UserStats
		solvedMore bool
		want       int
	}{
		{"first solve", models.UserStats{}, true, 1},
		{"continues from yesterday", models.UserStats{CurrentStreak: 6, LastSolvedAt: &yesterday}, true, 7},
		{"restarts after a gap", models.UserStats{CurrentStreak: 6, LastSolvedAt: &lastWeek}, true, 1},
		{"no progress keeps a live streak", models.UserStats{CurrentStreak: 6, LastSolvedAt: &yesterday}, false, 6},
		{"no progress drops a stale streak", models.UserStats{CurrentStreak: 6, LastSolvedAt: &lastWeek}, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := advanceStreak(tt.prev, tt.solvedMore, now)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSearchUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := newUserService(t, f, nil)
	alice := testutil.CreateUser(t, f.db, "alice")
	testutil.CreateUser(t, f.db, "alicia")
	testutil.CreateUser(t, f.db, "bob_ali")
	testutil.CreateUser(t, f.db, "zed")

	got, err := svc.SearchUsers(ctx, "ALI", alice.ID, 10)
	require.NoError(t, err)
	names := make([]string, 0, len(got))
	for _, u := range got {
		names = append(names, u.Username)
	}
	assert.Equal(t, []string{"alicia", "bob_ali"}, names)

	got, err = svc.SearchUsers(ctx, "%%%", alice.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, got, "wildcards alone match nothing")

	got, err = svc.SearchUsers(ctx, "ali", alice.ID, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSearchUsers_UsesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cache := &mockCache{}
	cache.On("Get", mock.Anything, "search:1:50:bo", mock.Anything).Return(false, nil).Once()
	cache.On("Set", mock.Anything, "search:1:50:bo", mock.Anything, time.Minute).Return(nil).Once()
	svc := newUserService(t, f, cache)
	alice := testutil.CreateUser(t, f.db, "alice")
	require.Equal(t, uint(1), alice.ID)
	testutil.CreateUser(t, f.db, "bob")

	got, err := svc.SearchUsers(ctx, "bo", alice.ID, 500)
	require.NoError(t, err)
	require.Len(t, got, 1)
	cache.AssertExpectations(t)
}
