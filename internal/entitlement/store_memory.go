package entitlement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store used by tests and local development.
// It applies the same guards as the PostgreSQL store.
type MemoryStore struct {
	mu    sync.Mutex
	users map[uuid.UUID]Entitlement
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[uuid.UUID]Entitlement)}
}

// Put seeds an entitlement directly. Test helper.
func (s *MemoryStore) Put(ent Entitlement) {
	s.mu.Lock()
	s.users[ent.UserID] = ent
	s.mu.Unlock()
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, userID uuid.UUID) (Entitlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ent, ok := s.users[userID]
	if !ok {
		return Entitlement{}, ErrUserNotFound
	}
	return ent, nil
}

// Create implements Store.
func (s *MemoryStore) Create(ctx context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; ok {
		return nil
	}
	s.users[userID] = Entitlement{UserID: userID, Tier: TierFree}
	return nil
}

// DebitCredits implements Store.
func (s *MemoryStore) DebitCredits(ctx context.Context, userID uuid.UUID, amount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ent, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	if ent.Credits < amount {
		return ErrBalanceChanged
	}
	ent.Credits -= amount
	s.users[userID] = ent
	return nil
}

// DebitTrialImage implements Store.
func (s *MemoryStore) DebitTrialImage(ctx context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ent, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	if ent.TrialImagesRemaining <= 0 {
		return ErrBalanceChanged
	}
	ent.TrialImagesRemaining--
	s.users[userID] = ent
	return nil
}

// DebitTrialVideo implements Store.
func (s *MemoryStore) DebitTrialVideo(ctx context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ent, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	if ent.TrialVideosRemaining <= 0 {
		return ErrBalanceChanged
	}
	ent.TrialVideosRemaining--
	s.users[userID] = ent
	return nil
}

// GrantCredits implements Store.
func (s *MemoryStore) GrantCredits(ctx context.Context, userID uuid.UUID, amount int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ent, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	ent.Credits += amount
	s.users[userID] = ent
	return nil
}

// StartTrial implements Store.
func (s *MemoryStore) StartTrial(ctx context.Context, userID uuid.UUID, tier Tier, start, end time.Time, images, videos int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ent, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	if ent.TrialStartedAt != nil {
		return fmt.Errorf("entitlement: trial already started for user %s", userID)
	}
	ent.Tier = tier
	ent.TrialStartedAt = &start
	ent.TrialEndsAt = &end
	ent.TrialImagesRemaining = images
	ent.TrialVideosRemaining = videos
	s.users[userID] = ent
	return nil
}

// SetEmailVerified implements Store.
func (s *MemoryStore) SetEmailVerified(ctx context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ent, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	ent.EmailVerified = true
	s.users[userID] = ent
	return nil
}
