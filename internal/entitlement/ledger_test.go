package entitlement

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func testPolicy() Policy {
	return Policy{
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

func ptr(t time.Time) *time.Time { return &t }

// =============================================================================
// DECISION ALGORITHM TESTS
// =============================================================================

func TestDecide(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	trialStart := ptr(now.Add(-24 * time.Hour))
	trialEnd := ptr(now.Add(6 * 24 * time.Hour))
	expiredEnd := ptr(now.Add(-time.Hour))
	policy := testPolicy()

	tests := []struct {
		name       string
		ent        Entitlement
		op         OperationType
		params     Params
		wantSource Source
		wantCost   int
		wantDenial DenialReason
	}{
		{
			name:       "unverified email denied regardless of balance",
			ent:        Entitlement{EmailVerified: false, Credits: 1000},
			op:         OpText,
			params:     Params{Prompt: "p"},
			wantDenial: DenialEmailNotVerified,
		},
		{
			name: "trial text is unlimited",
			ent: Entitlement{
				EmailVerified: true, TrialStartedAt: trialStart, TrialEndsAt: trialEnd,
			},
			op:         OpText,
			params:     Params{Prompt: "p"},
			wantSource: SourceTrial,
			wantCost:   0,
		},
		{
			name: "trial image uses allowance",
			ent: Entitlement{
				EmailVerified: true, TrialStartedAt: trialStart, TrialEndsAt: trialEnd,
				TrialImagesRemaining: 1,
			},
			op:         OpImage,
			params:     Params{Prompt: "p"},
			wantSource: SourceTrial,
			wantCost:   0,
		},
		{
			name: "trial image exhausted falls through to credits",
			ent: Entitlement{
				EmailVerified: true, TrialStartedAt: trialStart, TrialEndsAt: trialEnd,
				TrialImagesRemaining: 0, Credits: 50,
			},
			op:         OpImage,
			params:     Params{Prompt: "p"},
			wantSource: SourceCredits,
			wantCost:   10,
		},
		{
			name: "trial image exhausted and no credits denied",
			ent: Entitlement{
				EmailVerified: true, TrialStartedAt: trialStart, TrialEndsAt: trialEnd,
				TrialImagesRemaining: 0, Credits: 9,
			},
			op:         OpImage,
			params:     Params{Prompt: "p"},
			wantDenial: DenialInsufficientResources,
		},
		{
			name: "trial video uses allowance",
			ent: Entitlement{
				EmailVerified: true, TrialStartedAt: trialStart, TrialEndsAt: trialEnd,
				TrialVideosRemaining: 2,
			},
			op:         OpVideo,
			params:     Params{Prompt: "p", DurationSeconds: 5},
			wantSource: SourceTrial,
			wantCost:   0,
		},
		{
			name: "trial video exhausted bypasses trial and spends credits",
			ent: Entitlement{
				EmailVerified: true, TrialStartedAt: trialStart, TrialEndsAt: trialEnd,
				TrialVideosRemaining: 0, Credits: 50,
			},
			op:         OpVideo,
			params:     Params{Prompt: "p", DurationSeconds: 30},
			wantSource: SourceCredits,
			wantCost:   50,
		},
		{
			name: "trial video exhausted and insufficient credits denied",
			ent: Entitlement{
				EmailVerified: true, TrialStartedAt: trialStart, TrialEndsAt: trialEnd,
				TrialVideosRemaining: 0, Credits: 49,
			},
			op:         OpVideo,
			params:     Params{Prompt: "p", DurationSeconds: 30},
			wantDenial: DenialInsufficientResources,
		},
		{
			name:       "no trial text needs credits",
			ent:        Entitlement{EmailVerified: true, Credits: 1},
			op:         OpText,
			params:     Params{Prompt: "p"},
			wantSource: SourceCredits,
			wantCost:   1,
		},
		{
			name:       "expired trial with zero credits denied",
			ent:        Entitlement{EmailVerified: true, TrialStartedAt: trialStart, TrialEndsAt: expiredEnd, Credits: 0},
			op:         OpText,
			params:     Params{Prompt: "p"},
			wantDenial: DenialInsufficientResources,
		},
		{
			name: "expired trial ignores remaining allowances",
			ent: Entitlement{
				EmailVerified: true, TrialStartedAt: trialStart, TrialEndsAt: expiredEnd,
				TrialImagesRemaining: 5, Credits: 0,
			},
			op:         OpImage,
			params:     Params{Prompt: "p"},
			wantDenial: DenialInsufficientResources,
		},
		{
			name:       "no trial video spends credits",
			ent:        Entitlement{EmailVerified: true, Credits: 50},
			op:         OpVideo,
			params:     Params{Prompt: "p", DurationSeconds: 30},
			wantSource: SourceCredits,
			wantCost:   50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := Decide(tt.ent, tt.op, tt.params, policy, now)

			if tt.wantDenial != "" {
				denied, ok := AsDenied(err)
				if !ok {
					t.Fatalf("Decide() error = %v, want denial %s", err, tt.wantDenial)
				}
				if denied.Reason != tt.wantDenial {
					t.Errorf("denial reason = %s, want %s", denied.Reason, tt.wantDenial)
				}
				return
			}

			if err != nil {
				t.Fatalf("Decide() unexpected error: %v", err)
			}
			if decision.Source != tt.wantSource {
				t.Errorf("source = %s, want %s", decision.Source, tt.wantSource)
			}
			if decision.Cost != tt.wantCost {
				t.Errorf("cost = %d, want %d", decision.Cost, tt.wantCost)
			}
		})
	}
}

func TestDecide_TrialVideoClampsDuration(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	ent := Entitlement{
		EmailVerified:        true,
		TrialStartedAt:       ptr(now.Add(-time.Hour)),
		TrialEndsAt:          ptr(now.Add(24 * time.Hour)),
		TrialVideosRemaining: 1,
	}

	decision, err := Decide(ent, OpVideo, Params{Prompt: "p", DurationSeconds: 30}, testPolicy(), now)
	if err != nil {
		t.Fatalf("Decide() error: %v", err)
	}
	if decision.Params.DurationSeconds != 10 {
		t.Errorf("trial video duration = %ds, want clamped to 10s", decision.Params.DurationSeconds)
	}

	// Paid path does not clamp
	ent.TrialVideosRemaining = 0
	ent.Credits = 50
	decision, err = Decide(ent, OpVideo, Params{Prompt: "p", DurationSeconds: 30}, testPolicy(), now)
	if err != nil {
		t.Fatalf("Decide() error: %v", err)
	}
	if decision.Params.DurationSeconds != 30 {
		t.Errorf("paid video duration = %ds, want 30s unclamped", decision.Params.DurationSeconds)
	}
}

func TestDecide_IsDeterministic(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	ent := Entitlement{
		EmailVerified:        true,
		TrialStartedAt:       ptr(now.Add(-time.Hour)),
		TrialEndsAt:          ptr(now.Add(24 * time.Hour)),
		TrialImagesRemaining: 3,
		Credits:              42,
	}
	first, err := Decide(ent, OpImage, Params{Prompt: "p"}, testPolicy(), now)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		again, err := Decide(ent, OpImage, Params{Prompt: "p"}, testPolicy(), now)
		if err != nil {
			t.Fatal(err)
		}
		if again != first {
			t.Fatalf("Decide() not deterministic: %+v vs %+v", again, first)
		}
	}
}

// =============================================================================
// LEDGER PROTOCOL TESTS
// =============================================================================

func newTestLedger(ents ...Entitlement) (*Ledger, *MemoryStore) {
	store := NewMemoryStore()
	for _, e := range ents {
		store.Put(e)
	}
	ledger := NewLedger(store, testPolicy())
	ledger.now = func() time.Time { return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC) }
	return ledger, store
}

func TestLedger_ReserveCommitDebitsCredits(t *testing.T) {
	userID := uuid.New()
	ledger, _ := newTestLedger(Entitlement{UserID: userID, EmailVerified: true, Credits: 50})
	ctx := context.Background()

	res, err := ledger.Reserve(ctx, userID, OpImage, Params{Prompt: "p"})
	if err != nil {
		t.Fatalf("Reserve() error: %v", err)
	}
	if res.Source != SourceCredits || res.Cost != 10 {
		t.Fatalf("reservation = %s/%d, want credits/10", res.Source, res.Cost)
	}

	// Reserve alone must not move the balance
	snap, _ := ledger.Snapshot(ctx, userID)
	if snap.Credits != 50 {
		t.Errorf("credits after reserve = %d, want 50", snap.Credits)
	}

	if err := ledger.Commit(ctx, res); err != nil {
		t.Fatalf("Commit() error: %v", err)
	}
	snap, _ = ledger.Snapshot(ctx, userID)
	if snap.Credits != 40 {
		t.Errorf("credits after commit = %d, want 40", snap.Credits)
	}
}

func TestLedger_RollbackLeavesBalancesUntouched(t *testing.T) {
	userID := uuid.New()
	ledger, _ := newTestLedger(Entitlement{UserID: userID, EmailVerified: true, Credits: 50})
	ctx := context.Background()

	res, err := ledger.Reserve(ctx, userID, OpImage, Params{Prompt: "p"})
	if err != nil {
		t.Fatal(err)
	}
	ledger.Rollback(ctx, res)

	snap, _ := ledger.Snapshot(ctx, userID)
	if snap.Credits != 50 {
		t.Errorf("credits after rollback = %d, want 50", snap.Credits)
	}
}

func TestLedger_DoubleClosePanics(t *testing.T) {
	userID := uuid.New()
	ctx := context.Background()

	cases := []struct {
		name   string
		second func(*Ledger, *Reservation)
	}{
		{"commit then commit", func(l *Ledger, r *Reservation) { l.Commit(ctx, r) }},
		{"commit then rollback", func(l *Ledger, r *Reservation) { l.Rollback(ctx, r) }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ledger, _ := newTestLedger(Entitlement{UserID: userID, EmailVerified: true, Credits: 100})
			res, err := ledger.Reserve(ctx, userID, OpText, Params{Prompt: "p"})
			if err != nil {
				t.Fatal(err)
			}
			if err := ledger.Commit(ctx, res); err != nil {
				t.Fatal(err)
			}

			defer func() {
				if recover() == nil {
					t.Error("second close of a reservation should panic")
				}
			}()
			tc.second(ledger, res)
		})
	}
}

func TestLedger_RollbackThenCommitPanics(t *testing.T) {
	userID := uuid.New()
	ledger, _ := newTestLedger(Entitlement{UserID: userID, EmailVerified: true, Credits: 100})
	ctx := context.Background()

	res, err := ledger.Reserve(ctx, userID, OpText, Params{Prompt: "p"})
	if err != nil {
		t.Fatal(err)
	}
	ledger.Rollback(ctx, res)

	defer func() {
		if recover() == nil {
			t.Error("commit after rollback should panic")
		}
	}()
	ledger.Commit(ctx, res)
}

func TestLedger_TrialImageCommitDecrementsAllowance(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	userID := uuid.New()
	ledger, _ := newTestLedger(Entitlement{
		UserID: userID, EmailVerified: true,
		TrialStartedAt: ptr(now.Add(-time.Hour)), TrialEndsAt: ptr(now.Add(24 * time.Hour)),
		TrialImagesRemaining: 2, Credits: 100,
	})
	ctx := context.Background()

	res, err := ledger.Reserve(ctx, userID, OpImage, Params{Prompt: "p"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Source != SourceTrial {
		t.Fatalf("source = %s, want trial", res.Source)
	}
	if err := ledger.Commit(ctx, res); err != nil {
		t.Fatal(err)
	}

	snap, _ := ledger.Snapshot(ctx, userID)
	if snap.TrialImagesRemaining != 1 {
		t.Errorf("trial images = %d, want 1", snap.TrialImagesRemaining)
	}
	if snap.Credits != 100 {
		t.Errorf("credits = %d, want untouched 100", snap.Credits)
	}
}

func TestLedger_ConcurrentSpendNeverOverdraws(t *testing.T) {
	userID := uuid.New()
	ledger, _ := newTestLedger(Entitlement{UserID: userID, EmailVerified: true, Credits: 10})
	ctx := context.Background()

	// Two tabs, one image each; only one can afford it.
	var wg sync.WaitGroup
	commits := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := ledger.Reserve(ctx, userID, OpImage, Params{Prompt: "p"})
			if err != nil {
				commits <- err
				return
			}
			commits <- ledger.Commit(ctx, res)
		}()
	}
	wg.Wait()
	close(commits)

	var succeeded int
	for err := range commits {
		if err == nil {
			succeeded++
		}
	}
	if succeeded != 1 {
		t.Errorf("%d commits succeeded, want exactly 1", succeeded)
	}

	snap, _ := ledger.Snapshot(ctx, userID)
	if snap.Credits != 0 {
		t.Errorf("credits = %d, want 0 (never negative)", snap.Credits)
	}
}

func TestLedger_UserNotFound(t *testing.T) {
	ledger, _ := newTestLedger()
	_, err := ledger.Reserve(context.Background(), uuid.New(), OpText, Params{Prompt: "p"})
	if err != ErrUserNotFound {
		t.Errorf("Reserve() error = %v, want ErrUserNotFound", err)
	}
}

func TestLedger_StartTrialOnce(t *testing.T) {
	userID := uuid.New()
	ledger, _ := newTestLedger(Entitlement{UserID: userID, Tier: TierFree, EmailVerified: true})
	ctx := context.Background()

	if err := ledger.StartTrial(ctx, userID, TierTrialStarter); err != nil {
		t.Fatalf("StartTrial() error: %v", err)
	}

	snap, _ := ledger.Snapshot(ctx, userID)
	if snap.TrialImagesRemaining != 10 || snap.TrialVideosRemaining != 3 {
		t.Errorf("trial allowances = %d/%d, want 10/3", snap.TrialImagesRemaining, snap.TrialVideosRemaining)
	}
	if snap.TrialStartedAt == nil || snap.TrialEndsAt == nil {
		t.Fatal("trial window not set")
	}

	if err := ledger.StartTrial(ctx, userID, TierTrialPro); err == nil {
		t.Error("second StartTrial() should fail")
	}

	if err := ledger.StartTrial(ctx, userID, TierPro); err == nil {
		t.Error("StartTrial() with non-trial tier should fail")
	}
}

func TestLedger_Grant(t *testing.T) {
	userID := uuid.New()
	ledger, _ := newTestLedger(Entitlement{UserID: userID, EmailVerified: true, Credits: 5})
	ctx := context.Background()

	if err := ledger.Grant(ctx, userID, 100, "credit_pack"); err != nil {
		t.Fatalf("Grant() error: %v", err)
	}
	snap, _ := ledger.Snapshot(ctx, userID)
	if snap.Credits != 105 {
		t.Errorf("credits = %d, want 105", snap.Credits)
	}

	if err := ledger.Grant(ctx, userID, 0, "bogus"); err == nil {
		t.Error("Grant() with zero amount should fail")
	}
}
