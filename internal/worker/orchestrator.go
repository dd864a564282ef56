package worker

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/driftline/postforge/internal/entitlement"
	"github.com/driftline/postforge/internal/generation"
	"github.com/driftline/postforge/internal/pkg/distlock"
	"github.com/driftline/postforge/internal/pkg/logger"
)

// =============================================================================
// CAMPAIGN ORCHESTRATOR - Sequential Batch Generation
// =============================================================================
// Drives a campaign run end to end:
// - Per-campaign run lock (Redis, PG advisory fallback)
// - draft → generating → review, or draft again on failure
// - Strictly sequential slots, progress monotone within a run
// - Every slot is individually gated and committed against the ledger

const postTemplate = `Write a social media post for this campaign.
Brief: {{ brief }}
Tone: {{ tone }}
This is post {{ slot }} of {{ total }}, scheduled for {{ date }}.
Keep it under 280 characters and do not repeat earlier posts.`

const imageTemplate = `Social media image for: {{ brief }}. Post text: {{ body }}`

// MediaSaver persists a generated artifact and returns its public URL.
// *library.Library satisfies it.
type MediaSaver interface {
	Save(ctx context.Context, userID uuid.UUID, artifact generation.Artifact) (string, error)
}

// Orchestrator runs campaign generation batches.
type Orchestrator struct {
	db    *sql.DB
	redis *redis.Client
	store Store
	gate  *entitlement.Gate

	textChain  *generation.Chain
	imageChain *generation.Chain
	library    MediaSaver

	schedule ScheduleConfig
	lockTTL  time.Duration

	// now is swappable for tests
	now func() time.Time
}

// NewOrchestrator creates an orchestrator. lib may be nil when no
// media bucket is configured.
func NewOrchestrator(db *sql.DB, redisClient *redis.Client, store Store, gate *entitlement.Gate,
	textChain, imageChain *generation.Chain, lib MediaSaver, schedule ScheduleConfig) *Orchestrator {
	return &Orchestrator{
		db:         db,
		redis:      redisClient,
		store:      store,
		gate:       gate,
		textChain:  textChain,
		imageChain: imageChain,
		library:    lib,
		schedule:   schedule,
		lockTTL:    10 * time.Minute,
		now:        time.Now,
	}
}

// Run executes one campaign generation run. It returns ErrRunInProgress
// when another process holds the run lock and ErrNotDraft when the
// campaign is not startable. Any slot failure aborts the run back to
// draft with progress 0; posts already written this run are kept.
func (o *Orchestrator) Run(ctx context.Context, campaignID uuid.UUID) error {
	lock := distlock.New(o.redis, o.db, "campaign:"+campaignID.String(), o.lockTTL)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire run lock: %w", err)
	}
	if !acquired {
		return ErrRunInProgress
	}
	defer lock.Release(context.WithoutCancel(ctx))

	campaign, err := o.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}

	if err := o.store.BeginRun(ctx, campaignID); err != nil {
		return err
	}

	slots := PlanSlots(campaign.StartDate, campaign.EndDate, o.schedule)
	logger.Info("campaign run started",
		"campaign_id", campaignID.String(), "user_id", campaign.UserID.String(),
		"slots", fmt.Sprintf("%d", len(slots)), "brief", campaign.Brief)

	for i, slot := range slots {
		if err := o.generateSlot(ctx, campaign, i, len(slots), slot); err != nil {
			log.Printf("[Orchestrator] Campaign %s: slot %d failed, aborting run: %v", campaignID, i+1, err)
			if abortErr := o.store.AbortRun(context.WithoutCancel(ctx), campaignID); abortErr != nil {
				log.Printf("[Orchestrator] Campaign %s: abort failed: %v", campaignID, abortErr)
			}
			return err
		}

		progress := int(math.Round(float64(i+1) / float64(len(slots)) * 100))
		if err := o.store.SetProgress(ctx, campaignID, progress); err != nil {
			log.Printf("[Orchestrator] Campaign %s: progress update failed: %v", campaignID, err)
		}
	}

	if err := o.store.FinishRun(ctx, campaignID); err != nil {
		return err
	}
	log.Printf("[Orchestrator] Campaign %s: run complete, %d posts in review", campaignID, len(slots))
	return nil
}

// generateSlot produces one post: gated text generation, then an
// optional gated image. Each generation commits its own reservation on
// success and rolls back on exhaustion, so an aborted run never
// double-charges for the slots that did succeed.
func (o *Orchestrator) generateSlot(ctx context.Context, campaign Campaign, index, total int, slot time.Time) error {
	prompt, err := generation.RenderPrompt(postTemplate, map[string]interface{}{
		"brief": campaign.Brief,
		"tone":  campaign.Tone,
		"slot":  index + 1,
		"total": total,
		"date":  slot.Format("Monday, January 2"),
	})
	if err != nil {
		return err
	}

	body, err := o.generateText(ctx, campaign.UserID, prompt)
	if err != nil {
		return err
	}

	post := Post{
		ID:          uuid.New(),
		CampaignID:  campaign.ID,
		UserID:      campaign.UserID,
		Slot:        index + 1,
		ScheduledAt: slot,
		Body:        body,
		Platform:    campaign.Platform,
		Status:      PostStatusPending,
		AIGenerated: true,
		CreatedAt:   o.now(),
	}

	if campaign.WithImages {
		imageURL, err := o.generateImage(ctx, campaign, body)
		if err != nil {
			return err
		}
		post.ImageURL = imageURL
	}

	return o.store.CreatePost(ctx, post)
}

func (o *Orchestrator) generateText(ctx context.Context, userID uuid.UUID, prompt string) (string, error) {
	res, err := o.gate.Evaluate(ctx, userID, entitlement.OpText, entitlement.Params{Prompt: prompt})
	if err != nil {
		return "", err
	}

	result, err := o.textChain.Run(ctx, generation.Request{UserID: userID, Prompt: res.Params.Prompt})
	if err != nil {
		o.gate.Rollback(ctx, res)
		return "", err
	}

	if err := o.gate.Commit(ctx, res); err != nil {
		return "", err
	}
	return result.Artifact.Text, nil
}

func (o *Orchestrator) generateImage(ctx context.Context, campaign Campaign, body string) (string, error) {
	prompt, err := generation.RenderPrompt(imageTemplate, map[string]interface{}{
		"brief": campaign.Brief,
		"body":  body,
	})
	if err != nil {
		return "", err
	}

	res, err := o.gate.Evaluate(ctx, campaign.UserID, entitlement.OpImage, entitlement.Params{Prompt: prompt})
	if err != nil {
		return "", err
	}

	result, err := o.imageChain.Run(ctx, generation.Request{UserID: campaign.UserID, Prompt: res.Params.Prompt})
	if err != nil {
		o.gate.Rollback(ctx, res)
		return "", err
	}

	if err := o.gate.Commit(ctx, res); err != nil {
		return "", err
	}

	if o.library == nil {
		return "", nil
	}
	url, err := o.library.Save(ctx, campaign.UserID, result.Artifact)
	if err != nil {
		// The image exists and the debit is committed; a library save
		// failure should not cost the user the whole run.
		log.Printf("[Orchestrator] Campaign %s: image save failed: %v", campaign.ID, err)
		return "", nil
	}
	return url, nil
}
