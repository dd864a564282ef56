package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PostgresStore persists campaigns and posts in PostgreSQL. Status
// transitions are single guarded UPDATEs so two processes racing the
// same campaign cannot both win.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store over the given DB handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// GetCampaign implements Store.
func (s *PostgresStore) GetCampaign(ctx context.Context, id uuid.UUID) (Campaign, error) {
	var c Campaign
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, brief, tone, platform, start_date, end_date, with_images, status, progress, started_at, created_at
		FROM campaigns WHERE id = $1
	`, id).Scan(&c.ID, &c.UserID, &c.Brief, &c.Tone, &c.Platform, &c.StartDate, &c.EndDate, &c.WithImages, &c.Status, &c.Progress, &c.StartedAt, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Campaign{}, ErrCampaignNotFound
	}
	if err != nil {
		return Campaign{}, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

// CreateCampaign implements Store.
func (s *PostgresStore) CreateCampaign(ctx context.Context, c Campaign) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO campaigns (id, user_id, brief, tone, platform, start_date, end_date, with_images, status, progress, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, NOW())
	`, c.ID, c.UserID, c.Brief, c.Tone, c.Platform, c.StartDate, c.EndDate, c.WithImages, c.Status)
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

// BeginRun implements Store. The WHERE clause is the state guard.
func (s *PostgresStore) BeginRun(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaigns SET status = 'generating', progress = 0, started_at = NOW()
		WHERE id = $1 AND status = 'draft'
	`, id)
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return checkTransition(res, ErrNotDraft)
}

// SetProgress implements Store. Progress never moves backward within a
// run; a stale writer loses.
func (s *PostgresStore) SetProgress(ctx context.Context, id uuid.UUID, progress int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE campaigns SET progress = $2
		WHERE id = $1 AND status = 'generating' AND progress <= $2
	`, id, progress)
	if err != nil {
		return fmt.Errorf("set progress: %w", err)
	}
	return nil
}

// FinishRun implements Store.
func (s *PostgresStore) FinishRun(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaigns SET status = 'review', progress = 100, started_at = NULL
		WHERE id = $1 AND status = 'generating'
	`, id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return checkTransition(res, ErrNotDraft)
}

// AbortRun implements Store.
func (s *PostgresStore) AbortRun(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaigns SET status = 'draft', progress = 0, started_at = NULL
		WHERE id = $1 AND status = 'generating'
	`, id)
	if err != nil {
		return fmt.Errorf("abort run: %w", err)
	}
	return checkTransition(res, ErrNotDraft)
}

// ResetStuck implements Store.
func (s *PostgresStore) ResetStuck(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaigns SET status = 'draft', progress = 0, started_at = NULL
		WHERE status = 'generating' AND started_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reset stuck: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// CreatePost implements Store.
func (s *PostgresStore) CreatePost(ctx context.Context, p Post) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO posts (id, campaign_id, user_id, slot, scheduled_at, body, image_url, platform, status, ai_generated, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
	`, p.ID, p.CampaignID, p.UserID, p.Slot, p.ScheduledAt, p.Body, p.ImageURL, p.Platform, p.Status, p.AIGenerated)
	if err != nil {
		return fmt.Errorf("create post: %w", err)
	}
	return nil
}

// ListPosts implements Store. Slot order, which is also schedule order.
func (s *PostgresStore) ListPosts(ctx context.Context, campaignID uuid.UUID) ([]Post, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, campaign_id, user_id, slot, scheduled_at, body, image_url, platform, status, ai_generated, created_at
		FROM posts WHERE campaign_id = $1
		ORDER BY created_at, slot
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	var posts []Post
	for rows.Next() {
		var p Post
		if err := rows.Scan(&p.ID, &p.CampaignID, &p.UserID, &p.Slot, &p.ScheduledAt, &p.Body, &p.ImageURL, &p.Platform, &p.Status, &p.AIGenerated, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func checkTransition(res sql.Result, stateErr error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return stateErr
	}
	return nil
}
