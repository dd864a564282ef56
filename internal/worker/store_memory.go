package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and local development,
// with the same transition guards as the PostgreSQL store.
type MemoryStore struct {
	mu        sync.Mutex
	campaigns map[uuid.UUID]Campaign
	posts     map[uuid.UUID][]Post

	// ProgressLog records every progress write, in order. Test hook.
	ProgressLog []int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		campaigns: make(map[uuid.UUID]Campaign),
		posts:     make(map[uuid.UUID][]Post),
	}
}

// GetCampaign implements Store.
func (s *MemoryStore) GetCampaign(ctx context.Context, id uuid.UUID) (Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return Campaign{}, ErrCampaignNotFound
	}
	return c, nil
}

// CreateCampaign implements Store.
func (s *MemoryStore) CreateCampaign(ctx context.Context, c Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Status == "" {
		c.Status = StatusDraft
	}
	c.CreatedAt = time.Now()
	s.campaigns[c.ID] = c
	return nil
}

// BeginRun implements Store.
func (s *MemoryStore) BeginRun(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return ErrCampaignNotFound
	}
	if c.Status != StatusDraft {
		return ErrNotDraft
	}
	now := time.Now()
	c.Status = StatusGenerating
	c.Progress = 0
	c.StartedAt = &now
	s.campaigns[id] = c
	return nil
}

// SetProgress implements Store.
func (s *MemoryStore) SetProgress(ctx context.Context, id uuid.UUID, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return ErrCampaignNotFound
	}
	if c.Status != StatusGenerating || progress < c.Progress {
		return nil
	}
	c.Progress = progress
	s.campaigns[id] = c
	s.ProgressLog = append(s.ProgressLog, progress)
	return nil
}

// FinishRun implements Store.
func (s *MemoryStore) FinishRun(ctx context.Context, id uuid.UUID) error {
	return s.transition(id, StatusGenerating, StatusReview, 100)
}

// AbortRun implements Store.
func (s *MemoryStore) AbortRun(ctx context.Context, id uuid.UUID) error {
	return s.transition(id, StatusGenerating, StatusDraft, 0)
}

func (s *MemoryStore) transition(id uuid.UUID, from, to CampaignStatus, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return ErrCampaignNotFound
	}
	if c.Status != from {
		return ErrNotDraft
	}
	c.Status = to
	c.Progress = progress
	c.StartedAt = nil
	s.campaigns[id] = c
	return nil
}

// ResetStuck implements Store.
func (s *MemoryStore) ResetStuck(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, c := range s.campaigns {
		if c.Status == StatusGenerating && c.StartedAt != nil && c.StartedAt.Before(cutoff) {
			c.Status = StatusDraft
			c.Progress = 0
			c.StartedAt = nil
			s.campaigns[id] = c
			n++
		}
	}
	return n, nil
}

// CreatePost implements Store.
func (s *MemoryStore) CreatePost(ctx context.Context, p Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts[p.CampaignID] = append(s.posts[p.CampaignID], p)
	return nil
}

// ListPosts implements Store.
func (s *MemoryStore) ListPosts(ctx context.Context, campaignID uuid.UUID) ([]Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Post, len(s.posts[campaignID]))
	copy(out, s.posts[campaignID])
	return out, nil
}
