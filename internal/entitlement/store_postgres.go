package entitlement

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PostgresStore persists entitlements in PostgreSQL. All decrements carry
// a balance guard in the WHERE clause, so two processes can never take the
// same counter below zero.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store over the given DB handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, userID uuid.UUID) (Entitlement, error) {
	var ent Entitlement
	var trialStart, trialEnd sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, tier, credits, trial_started_at, trial_ends_at,
		       trial_images_remaining, trial_videos_remaining, email_verified
		FROM user_entitlements
		WHERE user_id = $1
	`, userID).Scan(
		&ent.UserID,
		&ent.Tier,
		&ent.Credits,
		&trialStart,
		&trialEnd,
		&ent.TrialImagesRemaining,
		&ent.TrialVideosRemaining,
		&ent.EmailVerified,
	)
	if err == sql.ErrNoRows {
		return Entitlement{}, ErrUserNotFound
	}
	if err != nil {
		return Entitlement{}, fmt.Errorf("get entitlement: %w", err)
	}

	if trialStart.Valid {
		t := trialStart.Time
		ent.TrialStartedAt = &t
	}
	if trialEnd.Valid {
		t := trialEnd.Time
		ent.TrialEndsAt = &t
	}
	return ent, nil
}

// Create implements Store. New users start on the free tier with zero
// credits and no trial.
func (s *PostgresStore) Create(ctx context.Context, userID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_entitlements (user_id, tier, credits, trial_images_remaining, trial_videos_remaining, email_verified, created_at, updated_at)
		VALUES ($1, 'free', 0, 0, 0, false, NOW(), NOW())
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	if err != nil {
		return fmt.Errorf("create entitlement: %w", err)
	}
	return nil
}

// DebitCredits implements Store. The guard makes the decrement a
// compare-and-swap: zero rows means a concurrent request spent the
// balance first.
func (s *PostgresStore) DebitCredits(ctx context.Context, userID uuid.UUID, amount int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE user_entitlements
		SET credits = credits - $2, updated_at = NOW()
		WHERE user_id = $1 AND credits >= $2
	`, userID, amount)
	if err != nil {
		return fmt.Errorf("debit credits: %w", err)
	}
	return s.checkGuard(res)
}

// DebitTrialImage implements Store.
func (s *PostgresStore) DebitTrialImage(ctx context.Context, userID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE user_entitlements
		SET trial_images_remaining = trial_images_remaining - 1, updated_at = NOW()
		WHERE user_id = $1 AND trial_images_remaining > 0
	`, userID)
	if err != nil {
		return fmt.Errorf("debit trial image: %w", err)
	}
	return s.checkGuard(res)
}

// DebitTrialVideo implements Store.
func (s *PostgresStore) DebitTrialVideo(ctx context.Context, userID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE user_entitlements
		SET trial_videos_remaining = trial_videos_remaining - 1, updated_at = NOW()
		WHERE user_id = $1 AND trial_videos_remaining > 0
	`, userID)
	if err != nil {
		return fmt.Errorf("debit trial video: %w", err)
	}
	return s.checkGuard(res)
}

// GrantCredits implements Store. The grant and its audit row commit
// together.
func (s *PostgresStore) GrantCredits(ctx context.Context, userID uuid.UUID, amount int, reason string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("grant credits: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE user_entitlements
		SET credits = credits + $2, updated_at = NOW()
		WHERE user_id = $1
	`, userID, amount)
	if err != nil {
		return fmt.Errorf("grant credits: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO credit_grants (id, user_id, amount, reason, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, uuid.New(), userID, amount, reason)
	if err != nil {
		return fmt.Errorf("record grant: %w", err)
	}

	return tx.Commit()
}

// StartTrial implements Store. The NULL guard makes the trial fields
// write-once.
func (s *PostgresStore) StartTrial(ctx context.Context, userID uuid.UUID, tier Tier, start, end time.Time, images, videos int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE user_entitlements
		SET tier = $2, trial_started_at = $3, trial_ends_at = $4,
		    trial_images_remaining = $5, trial_videos_remaining = $6, updated_at = NOW()
		WHERE user_id = $1 AND trial_started_at IS NULL
	`, userID, tier, start, end, images, videos)
	if err != nil {
		return fmt.Errorf("start trial: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("entitlement: trial already started for user %s", userID)
	}
	return nil
}

// SetEmailVerified implements Store.
func (s *PostgresStore) SetEmailVerified(ctx context.Context, userID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE user_entitlements
		SET email_verified = true, updated_at = NOW()
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return fmt.Errorf("set email verified: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *PostgresStore) checkGuard(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrBalanceChanged
	}
	return nil
}
