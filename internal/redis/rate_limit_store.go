package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const rateLimitKeyPrefix = "rl:"

// RateLimitStore keeps fixed-window counters in Redis so several API
// processes share one budget per client.
type RateLimitStore struct {
	client redis.Cmdable
}

// NewRateLimitStore wraps client.
func NewRateLimitStore(client redis.Cmdable) *RateLimitStore {
	return &RateLimitStore{client: client}
}

// Incr counts one hit in the window for key. The key expires with the window,
// so the first hit after expiry starts a new one.
func (s *RateLimitStore) Incr(ctx context.Context, key string, window time.Duration, now time.Time) (int, time.Time, error) {
	k := rateLimitKeyPrefix + key
	count, err := s.client.Incr(ctx, k).Result()
	if err != nil {
		return 0, time.Time{}, err
	}
	if count == 1 {
		if err := s.client.PExpire(ctx, k, window).Err(); err != nil {
			return 0, time.Time{}, err
		}
		return 1, now.Add(window), nil
	}
	ttl, err := s.client.PTTL(ctx, k).Result()
	if err != nil {
		return 0, time.Time{}, err
	}
	if ttl < 0 {
		// lost the expiry (crash between INCR and PEXPIRE); restore it
		if err := s.client.PExpire(ctx, k, window).Err(); err != nil {
			return 0, time.Time{}, err
		}
		ttl = window
	}
	return int(count), now.Add(ttl), nil
}
