// Package ratelimit provides sliding-window per-key request gates for
// abusable operations: verification email sends and code-guess attempts.
// The two gates are separate Limiter instances with independent key
// namespaces, so hitting one never affects the other.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Store is the backing state for a Limiter. Hit must be atomic: checking
// the window and recording the attempt are a single step, never a read
// followed by a write.
type Store interface {
	// Hit records an attempt for key if the window has capacity.
	// Returns whether the attempt was allowed and, when denied, how long
	// until the next attempt would be allowed.
	Hit(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, retryAfter time.Duration, err error)

	// RetryAfter reports how long until the next attempt for key would be
	// allowed, without recording anything. Zero means allowed now.
	RetryAfter(ctx context.Context, key string, limit int, window time.Duration) (time.Duration, error)

	// Reset clears all recorded attempts for key.
	Reset(ctx context.Context, key string) error
}

// Limiter is a sliding-window rate limiter over an injected Store.
type Limiter struct {
	store  Store
	prefix string
	limit  int
	window time.Duration
}

// New creates a Limiter allowing limit attempts per key per window.
// The prefix namespaces keys so independent limiters never interact.
func New(store Store, prefix string, limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = 1
	}
	return &Limiter{
		store:  store,
		prefix: prefix,
		limit:  limit,
		window: window,
	}
}

// Allow atomically checks and records an attempt for key.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	allowed, _, err := l.store.Hit(ctx, l.prefix+":"+key, l.limit, l.window)
	if err != nil {
		return false, fmt.Errorf("rate limit check: %w", err)
	}
	return allowed, nil
}

// RemainingTime reports how long until the next attempt for key would be
// allowed. Zero means an attempt is allowed now.
func (l *Limiter) RemainingTime(ctx context.Context, key string) (time.Duration, error) {
	return l.store.RetryAfter(ctx, l.prefix+":"+key, l.limit, l.window)
}

// Reset clears the window for key so the next attempt is allowed
// immediately. Used after successful verification.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.store.Reset(ctx, l.prefix+":"+key)
}
