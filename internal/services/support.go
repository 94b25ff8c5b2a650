package services

import (
	"context"
	"time"

	"cpsocial/internal/imtypes"
)

// Cache is the optional read-through cache used by the leaderboard and search.
// Implementations may fail; callers log and carry on.
type Cache interface {
	Get(ctx context.Context, key string, dst interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type noopCache struct{}

func (noopCache) Get(context.Context, string, interface{}) (bool, error)        { return false, nil }
func (noopCache) Set(context.Context, string, interface{}, time.Duration) error { return nil }
func (noopCache) Delete(context.Context, ...string) error                       { return nil }

// NoopCache is a Cache that never stores anything.
func NoopCache() Cache { return noopCache{} }

// EventPublisher fans domain events out to other processes.
type EventPublisher interface {
	Publish(ctx context.Context, event imtypes.DomainEvent) error
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, imtypes.DomainEvent) error { return nil }

// NoopPublisher drops every event.
func NoopPublisher() EventPublisher { return noopPublisher{} }

// Now returns the current time in UTC. All stored timestamps use it so that
// string-ordered SQLite columns compare correctly.
func Now() time.Time {
	return time.Now().UTC()
}
