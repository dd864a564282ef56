package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for single-node deployments and
// tests. Expired windows are evicted lazily: each Hit prunes the touched
// key, and a full sweep runs when the map has not been swept for longer
// than the largest window seen.
type MemoryStore struct {
	mu        sync.Mutex
	attempts  map[string][]time.Time
	lastSweep time.Time
	maxWindow time.Duration

	// now is swappable for tests
	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		attempts:  make(map[string][]time.Time),
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

// Hit implements Store.
func (s *MemoryStore) Hit(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.maybeSweep(now)

	live := s.prune(key, now, window)
	if len(live) >= limit {
		return false, s.retryAfterLocked(live, now, window), nil
	}

	s.attempts[key] = append(live, now)
	return true, 0, nil
}

// RetryAfter implements Store.
func (s *MemoryStore) RetryAfter(ctx context.Context, key string, limit int, window time.Duration) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	live := s.prune(key, now, window)
	if len(live) < limit {
		return 0, nil
	}
	return s.retryAfterLocked(live, now, window), nil
}

// Reset implements Store.
func (s *MemoryStore) Reset(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.attempts, key)
	s.mu.Unlock()
	return nil
}

// prune drops expired timestamps for key and returns the live slice.
// Caller holds s.mu.
func (s *MemoryStore) prune(key string, now time.Time, window time.Duration) []time.Time {
	if window > s.maxWindow {
		s.maxWindow = window
	}
	cutoff := now.Add(-window)
	old := s.attempts[key]
	live := old[:0]
	for _, ts := range old {
		if ts.After(cutoff) {
			live = append(live, ts)
		}
	}
	if len(live) == 0 {
		delete(s.attempts, key)
		return nil
	}
	s.attempts[key] = live
	return live
}

// retryAfterLocked computes time until the oldest live attempt expires.
// Caller holds s.mu; live is non-empty.
func (s *MemoryStore) retryAfterLocked(live []time.Time, now time.Time, window time.Duration) time.Duration {
	oldest := live[0]
	for _, ts := range live[1:] {
		if ts.Before(oldest) {
			oldest = ts
		}
	}
	remaining := oldest.Add(window).Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// maybeSweep walks the whole map when it has gone unswept long enough
// that fully-expired keys may be lingering. Caller holds s.mu.
func (s *MemoryStore) maybeSweep(now time.Time) {
	if s.maxWindow == 0 || now.Sub(s.lastSweep) < s.maxWindow {
		return
	}
	cutoff := now.Add(-s.maxWindow)
	for key, stamps := range s.attempts {
		expired := true
		for _, ts := range stamps {
			if ts.After(cutoff) {
				expired = false
				break
			}
		}
		if expired {
			delete(s.attempts, key)
		}
	}
	s.lastSweep = now
}
