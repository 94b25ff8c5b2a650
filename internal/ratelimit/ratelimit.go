// Package ratelimit implements fixed-window request counters keyed by client
// address. The limiter is best effort: counters are per process unless a
// shared Store is used, and a failing store lets requests through.
package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"cpsocial/internal/config"
)

// Class names a group of endpoints that share one budget.
type Class string

const (
	ClassAuth   Class = "auth"
	ClassAPI    Class = "api"
	ClassStrict Class = "strict"
)

// Rule is the budget of one class: at most Max requests per Window.
type Rule struct {
	Window time.Duration
	Max    int
}

// Store counts hits in fixed windows.
type Store interface {
	// Incr records one hit for key and returns the count in the current
	// window together with the time the window ends. A key whose window has
	// ended starts a new window at now.
	Incr(ctx context.Context, key string, window time.Duration, now time.Time) (count int, resetAt time.Time, err error)
}

// Result is the outcome of one Allow call.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter applies per-class rules on top of a Store.
type Limiter struct {
	store Store
	rules map[Class]Rule
	now   func() time.Time
	log   *zap.Logger
}

// New returns a Limiter. Classes missing from rules are never limited.
func New(store Store, rules map[Class]Rule, log *zap.Logger) *Limiter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Limiter{store: store, rules: rules, now: time.Now, log: log}
}

// RulesFromConfig maps the configured classes.
func RulesFromConfig(cfg config.RateLimitConfig) map[Class]Rule {
	return map[Class]Rule{
		ClassAuth:   {Window: cfg.Auth.Window, Max: cfg.Auth.Max},
		ClassAPI:    {Window: cfg.API.Window, Max: cfg.API.Max},
		ClassStrict: {Window: cfg.Strict.Window, Max: cfg.Strict.Max},
	}
}

// Allow counts one request of class from key and reports whether it is
// within budget.
func (l *Limiter) Allow(ctx context.Context, class Class, key string) Result {
	rule, ok := l.rules[class]
	if !ok || rule.Max <= 0 || rule.Window <= 0 {
		return Result{Allowed: true, Limit: 0, Remaining: 0}
	}

	now := l.now()
	count, resetAt, err := l.store.Incr(ctx, string(class)+":"+key, rule.Window, now)
	if err != nil {
		l.log.Warn("rate limit store failed, allowing request",
			zap.String("class", string(class)), zap.Error(err))
		return Result{Allowed: true, Limit: rule.Max, Remaining: rule.Max, ResetAt: now.Add(rule.Window)}
	}

	remaining := rule.Max - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count <= rule.Max,
		Limit:     rule.Max,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}
