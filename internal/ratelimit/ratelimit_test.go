package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestLimiter(rules map[Class]Rule) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := New(NewMemoryStore(), rules, nil)
	l.now = clock.now
	return l, clock
}

func TestLimiter_APIClassRejectsSixtyFirst(t *testing.T) {
	l, _ := newTestLimiter(map[Class]Rule{ClassAPI: {Window: time.Minute, Max: 60}})
	ctx := context.Background()

	for i := 1; i <= 60; i++ {
		res := l.Allow(ctx, ClassAPI, "10.0.0.1")
		require.True(t, res.Allowed, "request %d", i)
		assert.Equal(t, 60-i, res.Remaining)
	}
	res := l.Allow(ctx, ClassAPI, "10.0.0.1")
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, 60, res.Limit)

	// other clients have their own budget
	assert.True(t, l.Allow(ctx, ClassAPI, "10.0.0.2").Allowed)
}

func TestLimiter_WindowResets(t *testing.T) {
	l, clock := newTestLimiter(map[Class]Rule{ClassAuth: {Window: 15 * time.Minute, Max: 5}})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.True(t, l.Allow(ctx, ClassAuth, "ip").Allowed)
	}
	first := l.Allow(ctx, ClassAuth, "ip")
	require.False(t, first.Allowed)
	assert.Equal(t, clock.t.Add(15*time.Minute), first.ResetAt)

	clock.t = clock.t.Add(15*time.Minute - time.Second)
	assert.False(t, l.Allow(ctx, ClassAuth, "ip").Allowed)

	clock.t = clock.t.Add(time.Second)
	res := l.Allow(ctx, ClassAuth, "ip")
	assert.True(t, res.Allowed)
	assert.Equal(t, 4, res.Remaining)
}

func TestLimiter_ClassesAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(map[Class]Rule{
		ClassStrict: {Window: time.Minute, Max: 1},
		ClassAPI:    {Window: time.Minute, Max: 1},
	})
	ctx := context.Background()

	assert.True(t, l.Allow(ctx, ClassStrict, "ip").Allowed)
	assert.False(t, l.Allow(ctx, ClassStrict, "ip").Allowed)
	assert.True(t, l.Allow(ctx, ClassAPI, "ip").Allowed)
	// unknown classes are not limited
	assert.True(t, l.Allow(ctx, Class("other"), "ip").Allowed)
}

type failingStore struct{}

func (failingStore) Incr(context.Context, string, time.Duration, time.Time) (int, time.Time, error) {
	return 0, time.Time{}, errors.New("down")
}

func TestLimiter_StoreFailureAllows(t *testing.T) {
	l := New(failingStore{}, map[Class]Rule{ClassAPI: {Window: time.Minute, Max: 1}}, nil)
	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow(context.Background(), ClassAPI, "ip").Allowed)
	}
}

func TestMemoryStore_ConcurrentCount(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = s.Incr(context.Background(), "k", time.Minute, now)
		}()
	}
	wg.Wait()
	count, _, err := s.Incr(context.Background(), "k", time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, 101, count)
}

func TestMemoryStore_Sweep(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	_, _, _ = s.Incr(context.Background(), "old", time.Second, now)
	_, _, _ = s.Incr(context.Background(), "new", time.Hour, now)

	assert.Equal(t, 1, s.Sweep(now.Add(time.Minute)))
	assert.Equal(t, 1, s.Len())
}
