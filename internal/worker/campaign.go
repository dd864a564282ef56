// Package worker runs campaign generation: a batch of scheduled posts
// produced sequentially under a per-campaign run lock, with the stuck
// run reaper as the crash recovery path.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// CampaignStatus is the campaign lifecycle state.
type CampaignStatus string

const (
	StatusDraft      CampaignStatus = "draft"
	StatusGenerating CampaignStatus = "generating"
	StatusReview     CampaignStatus = "review"
)

var (
	// ErrRunInProgress means another process holds this campaign's run lock.
	ErrRunInProgress = errors.New("worker: campaign run already in progress")
	// ErrNotDraft means the campaign is not in a startable state.
	ErrNotDraft = errors.New("worker: campaign is not in draft")
	// ErrCampaignNotFound means no campaign exists with that ID.
	ErrCampaignNotFound = errors.New("worker: campaign not found")
)

// Campaign is a planned batch of posts across a date window.
type Campaign struct {
	ID         uuid.UUID      `json:"id"`
	UserID     uuid.UUID      `json:"user_id"`
	Brief      string         `json:"brief"`
	Tone       string         `json:"tone"`
	Platform   string         `json:"platform"`
	StartDate  time.Time      `json:"start_date"`
	EndDate    time.Time      `json:"end_date"`
	WithImages bool           `json:"with_images"`
	Status     CampaignStatus `json:"status"`
	Progress   int            `json:"progress"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// WindowDays is the campaign length in whole days, start inclusive and
// end exclusive.
func (c Campaign) WindowDays() int {
	return int(c.EndDate.Sub(c.StartDate).Hours() / 24)
}

// Post is one generated, scheduled piece of content. Posts created
// before an aborted run stay visible; reruns append a fresh batch.
type Post struct {
	ID          uuid.UUID `json:"id"`
	CampaignID  uuid.UUID `json:"campaign_id"`
	UserID      uuid.UUID `json:"user_id"`
	Slot        int       `json:"slot"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Body        string    `json:"body"`
	ImageURL    string    `json:"image_url,omitempty"`
	Platform    string    `json:"platform"`
	Status      string    `json:"status"`
	AIGenerated bool      `json:"ai_generated"`
	CreatedAt   time.Time `json:"created_at"`
}

// PostStatusPending is the status every freshly generated post starts in.
const PostStatusPending = "pending"

// Store persists campaigns and posts. Status transitions are guarded
// compare-and-swap updates: a transition from the wrong state fails
// instead of clobbering.
type Store interface {
	GetCampaign(ctx context.Context, id uuid.UUID) (Campaign, error)
	CreateCampaign(ctx context.Context, c Campaign) error

	// BeginRun moves draft → generating with progress 0. ErrNotDraft if
	// the campaign is in any other state.
	BeginRun(ctx context.Context, id uuid.UUID) error
	// SetProgress updates progress for a generating campaign. Progress
	// only moves forward within a run.
	SetProgress(ctx context.Context, id uuid.UUID, progress int) error
	// FinishRun moves generating → review with progress 100.
	FinishRun(ctx context.Context, id uuid.UUID) error
	// AbortRun moves generating → draft with progress 0. Posts already
	// created this run are kept.
	AbortRun(ctx context.Context, id uuid.UUID) error
	// ResetStuck aborts every campaign generating since before the
	// cutoff and returns how many it reset.
	ResetStuck(ctx context.Context, cutoff time.Time) (int, error)

	CreatePost(ctx context.Context, p Post) error
	ListPosts(ctx context.Context, campaignID uuid.UUID) ([]Post, error)
}
