package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftline/postforge/internal/entitlement"
	"github.com/driftline/postforge/internal/generation"
)

// scriptedProvider returns canned bodies and fails permanently from a
// given call onward.
type scriptedProvider struct {
	id        string
	calls     int
	failFrom  int // 0 means never fail
	artifacts func(call int) generation.Artifact
}

func (p *scriptedProvider) ModelID() string { return p.id }

func (p *scriptedProvider) Generate(ctx context.Context, req generation.Request) (generation.Artifact, error) {
	p.calls++
	if p.failFrom > 0 && p.calls >= p.failFrom {
		return generation.Artifact{}, generation.Terminal(errors.New("model rejected request"))
	}
	if p.artifacts != nil {
		return p.artifacts(p.calls), nil
	}
	return generation.Artifact{Kind: generation.ArtifactText, Text: fmt.Sprintf("post body %d", p.calls), ModelID: p.id}, nil
}

func singleChain(op string, p generation.Provider) *generation.Chain {
	return &generation.Chain{Op: op, Strategies: []generation.Strategy{{
		Name:     p.ModelID(),
		Provider: p,
		Policy:   generation.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond, BackoffMultiplier: 2},
	}}}
}

type fixture struct {
	orch     *Orchestrator
	store    *MemoryStore
	entStore *entitlement.MemoryStore
	text     *scriptedProvider
	redis    *redis.Client
}

func testPolicy() entitlement.Policy {
	return entitlement.Policy{
		TextCreditCost:       1,
		ImageCreditCost:      10,
		VideoCreditCost:      50,
		TrialVideoCapSeconds: 10,
		MaxVideoSeconds:      60,
		TrialDays:            7,
		TrialImages:          10,
		TrialVideos:          3,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	entStore := entitlement.NewMemoryStore()
	ledger := entitlement.NewLedger(entStore, testPolicy())
	gate := entitlement.NewGate(ledger)

	store := NewMemoryStore()
	text := &scriptedProvider{id: "text-model"}

	schedule := ScheduleConfig{PostsPerDay: 2, MaxPosts: 14, MorningSlotHour: 9, AfternoonSlotHour: 15}
	orch := NewOrchestrator(nil, rdb, store, gate, singleChain("text", text), nil, nil, schedule)

	return &fixture{orch: orch, store: store, entStore: entStore, text: text, redis: rdb}
}

func seedUser(f *fixture, credits int) uuid.UUID {
	userID := uuid.New()
	f.entStore.Put(entitlement.Entitlement{
		UserID:        userID,
		Tier:          entitlement.TierStarter,
		Credits:       credits,
		EmailVerified: true,
	})
	return userID
}

// campaignWindowStart anchors every test campaign's date window.
var campaignWindowStart = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func seedCampaign(t *testing.T, f *fixture, userID uuid.UUID, days int) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, f.store.CreateCampaign(context.Background(), Campaign{
		ID:        id,
		UserID:    userID,
		Brief:     "Launch week for an indie coffee roaster",
		Tone:      "warm",
		Platform:  "instagram",
		StartDate: campaignWindowStart,
		EndDate:   campaignWindowStart.AddDate(0, 0, days),
	}))
	return id
}

func TestRun_SevenDaysTwoPerDayProducesFourteenPosts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := seedUser(f, 100)
	campaignID := seedCampaign(t, f, userID, 7)

	require.NoError(t, f.orch.Run(ctx, campaignID))

	c, err := f.store.GetCampaign(ctx, campaignID)
	require.NoError(t, err)
	assert.Equal(t, StatusReview, c.Status)
	assert.Equal(t, 100, c.Progress)

	posts, err := f.store.ListPosts(ctx, campaignID)
	require.NoError(t, err)
	require.Len(t, posts, 14)
	for i, p := range posts {
		assert.Equal(t, i+1, p.Slot)
		assert.NotEmpty(t, p.Body)
		assert.Equal(t, "instagram", p.Platform)
		assert.Equal(t, PostStatusPending, p.Status)
		assert.True(t, p.AIGenerated)
		assert.False(t, p.ScheduledAt.Before(campaignWindowStart))
		assert.True(t, p.ScheduledAt.Before(campaignWindowStart.AddDate(0, 0, 7)))
	}

	// 14 text generations at 1 credit each
	ent, err := f.entStore.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 86, ent.Credits)
}

func TestRun_ProgressIsMonotone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	campaignID := seedCampaign(t, f, seedUser(f, 100), 3)

	require.NoError(t, f.orch.Run(ctx, campaignID))

	require.NotEmpty(t, f.store.ProgressLog)
	for i := 1; i < len(f.store.ProgressLog); i++ {
		assert.GreaterOrEqual(t, f.store.ProgressLog[i], f.store.ProgressLog[i-1])
	}
	assert.Equal(t, 100, f.store.ProgressLog[len(f.store.ProgressLog)-1])
}

func TestRun_SlotFailureAbortsToDraftKeepingPosts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	campaignID := seedCampaign(t, f, seedUser(f, 100), 7)

	// Slot 9 fails: the provider's 9th call errors terminally.
	f.text.failFrom = 9

	err := f.orch.Run(ctx, campaignID)
	require.Error(t, err)

	c, errGet := f.store.GetCampaign(ctx, campaignID)
	require.NoError(t, errGet)
	assert.Equal(t, StatusDraft, c.Status)
	assert.Equal(t, 0, c.Progress)

	posts, errList := f.store.ListPosts(ctx, campaignID)
	require.NoError(t, errList)
	assert.Len(t, posts, 8)
}

func TestRun_DenialAbortsAndChargesOnlyCompletedSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// 5 credits: slots 1-5 commit, slot 6 is denied.
	userID := seedUser(f, 5)
	campaignID := seedCampaign(t, f, userID, 7)

	err := f.orch.Run(ctx, campaignID)
	require.Error(t, err)

	var denied *entitlement.DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, entitlement.DenialInsufficientResources, denied.Reason)

	c, errGet := f.store.GetCampaign(ctx, campaignID)
	require.NoError(t, errGet)
	assert.Equal(t, StatusDraft, c.Status)

	posts, errList := f.store.ListPosts(ctx, campaignID)
	require.NoError(t, errList)
	assert.Len(t, posts, 5)

	ent, errEnt := f.entStore.Get(ctx, userID)
	require.NoError(t, errEnt)
	assert.Equal(t, 0, ent.Credits)
}

func TestRun_SecondRunWhileLockedReturnsInProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	campaignID := seedCampaign(t, f, seedUser(f, 100), 7)

	// Hold the lock the way a concurrent run would.
	require.NoError(t, f.redis.Set(ctx, "runlock:campaign:"+campaignID.String(), "other-run", time.Minute).Err())

	assert.ErrorIs(t, f.orch.Run(ctx, campaignID), ErrRunInProgress)
}

func TestRun_NonDraftCampaignRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	campaignID := seedCampaign(t, f, seedUser(f, 100), 7)

	require.NoError(t, f.orch.Run(ctx, campaignID)) // now in review
	assert.ErrorIs(t, f.orch.Run(ctx, campaignID), ErrNotDraft)
}

// stubSaver stands in for the media library.
type stubSaver struct {
	calls int
}

func (s *stubSaver) Save(ctx context.Context, userID uuid.UUID, artifact generation.Artifact) (string, error) {
	s.calls++
	return fmt.Sprintf("https://cdn.test/library/%d.png", s.calls), nil
}

func TestRun_WithImagesAttachesURLs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := seedUser(f, 100)

	image := &scriptedProvider{id: "image-model", artifacts: func(int) generation.Artifact {
		return generation.Artifact{Kind: generation.ArtifactImage, Media: []byte{1}, ContentType: "image/png", ModelID: "image-model"}
	}}
	f.orch.imageChain = singleChain("image", image)
	saver := &stubSaver{}
	f.orch.library = saver

	id := uuid.New()
	require.NoError(t, f.store.CreateCampaign(ctx, Campaign{
		ID: id, UserID: userID, Brief: "b", Tone: "t", Platform: "linkedin",
		StartDate: campaignWindowStart, EndDate: campaignWindowStart.AddDate(0, 0, 2),
		WithImages: true,
	}))

	require.NoError(t, f.orch.Run(ctx, id))

	posts, err := f.store.ListPosts(ctx, id)
	require.NoError(t, err)
	require.Len(t, posts, 4)
	for _, p := range posts {
		assert.Contains(t, p.ImageURL, "https://cdn.test/library/")
	}
	assert.Equal(t, 4, saver.calls)

	// 4 posts: 4 text credits + 4 image debits of 10
	ent, err := f.entStore.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 100-4-40, ent.Credits)
	assert.Equal(t, 4, image.calls)
}
