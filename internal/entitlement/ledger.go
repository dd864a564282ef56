package entitlement

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists entitlement state. Debit methods are guarded: they must
// fail rather than take a counter below zero.
type Store interface {
	Get(ctx context.Context, userID uuid.UUID) (Entitlement, error)
	Create(ctx context.Context, userID uuid.UUID) error
	DebitCredits(ctx context.Context, userID uuid.UUID, amount int) error
	DebitTrialImage(ctx context.Context, userID uuid.UUID) error
	DebitTrialVideo(ctx context.Context, userID uuid.UUID) error
	GrantCredits(ctx context.Context, userID uuid.UUID, amount int, reason string) error
	StartTrial(ctx context.Context, userID uuid.UUID, tier Tier, start, end time.Time, images, videos int) error
	SetEmailVerified(ctx context.Context, userID uuid.UUID) error
}

// Reservation is the provisional outcome of a reserve call. Nothing has
// been decremented yet; the holder must close it exactly once, with either
// Commit (on generation success) or Rollback (on exhaustion). Closing it
// twice is a programming error and panics.
type Reservation struct {
	ID     uuid.UUID
	UserID uuid.UUID
	Op     OperationType
	Source Source
	Cost   int
	Params Params // possibly clamped

	mu     sync.Mutex
	closed bool
}

// markClosed flips the reservation to closed, panicking on a double close.
func (r *Reservation) markClosed(how string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		panic(fmt.Sprintf("entitlement: reservation %s for user %s closed twice (%s)", r.ID, r.UserID, how))
	}
	r.closed = true
}

// Ledger applies the entitlement decision algorithm and the paired
// commit/rollback protocol over a Store. Reserve and Commit for the same
// user are serialized in-process; the Store's guarded decrements are the
// cross-process backstop.
type Ledger struct {
	store  Store
	policy Policy

	userLocks sync.Map // uuid.UUID → *sync.Mutex

	// now is swappable for tests
	now func() time.Time
}

// NewLedger creates a Ledger over the given store.
func NewLedger(store Store, policy Policy) *Ledger {
	return &Ledger{
		store:  store,
		policy: policy,
		now:    time.Now,
	}
}

func (l *Ledger) lockUser(userID uuid.UUID) *sync.Mutex {
	mu, _ := l.userLocks.LoadOrStore(userID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// CreateUser provisions a zero-balance entitlement row for a new user.
// Safe to call again for an existing user.
func (l *Ledger) CreateUser(ctx context.Context, userID uuid.UUID) error {
	return l.store.Create(ctx, userID)
}

// Snapshot returns the user's current balances.
func (l *Ledger) Snapshot(ctx context.Context, userID uuid.UUID) (Entitlement, error) {
	return l.store.Get(ctx, userID)
}

// Reserve decides where a generation's cost will come from. It does not
// change any balance; it only locks in the decision. Denials are returned
// as *DeniedError.
func (l *Ledger) Reserve(ctx context.Context, userID uuid.UUID, op OperationType, params Params) (*Reservation, error) {
	mu := l.lockUser(userID)
	mu.Lock()
	defer mu.Unlock()

	ent, err := l.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	decision, err := Decide(ent, op, params, l.policy, l.now())
	if err != nil {
		return nil, err
	}

	return &Reservation{
		ID:     uuid.New(),
		UserID: userID,
		Op:     op,
		Source: decision.Source,
		Cost:   decision.Cost,
		Params: decision.Params,
	}, nil
}

// Commit applies the reserved debit. The decrement is guarded in the
// store, so a concurrent spend of the same balance surfaces as
// ErrBalanceChanged instead of a negative counter.
func (l *Ledger) Commit(ctx context.Context, res *Reservation) error {
	res.markClosed("commit")

	mu := l.lockUser(res.UserID)
	mu.Lock()
	defer mu.Unlock()

	switch res.Source {
	case SourceCredits:
		if err := l.store.DebitCredits(ctx, res.UserID, res.Cost); err != nil {
			return err
		}
	case SourceTrial:
		switch res.Op {
		case OpImage:
			if err := l.store.DebitTrialImage(ctx, res.UserID); err != nil {
				return err
			}
		case OpVideo:
			if err := l.store.DebitTrialVideo(ctx, res.UserID); err != nil {
				return err
			}
		case OpText:
			// Text is unmetered during trial; nothing to decrement.
		}
	}

	log.Printf("[Ledger] Committed reservation %s: user=%s op=%s source=%s cost=%d",
		res.ID, res.UserID, res.Op, res.Source, res.Cost)
	return nil
}

// Rollback closes a reservation without touching balances. Nothing was
// decremented at reserve time, so this only marks the reservation done.
func (l *Ledger) Rollback(ctx context.Context, res *Reservation) {
	res.markClosed("rollback")
	log.Printf("[Ledger] Rolled back reservation %s: user=%s op=%s", res.ID, res.UserID, res.Op)
}

// Grant adds purchased, renewed or referral-reward credits.
func (l *Ledger) Grant(ctx context.Context, userID uuid.UUID, amount int, reason string) error {
	if amount <= 0 {
		return fmt.Errorf("entitlement: grant amount must be positive, got %d", amount)
	}
	mu := l.lockUser(userID)
	mu.Lock()
	defer mu.Unlock()
	return l.store.GrantCredits(ctx, userID, amount, reason)
}

// StartTrial sets the trial window and per-type allowances. The store
// rejects a second trial; the fields are set once per user.
func (l *Ledger) StartTrial(ctx context.Context, userID uuid.UUID, tier Tier) error {
	if !tier.IsTrial() {
		return fmt.Errorf("entitlement: %s is not a trial tier", tier)
	}
	mu := l.lockUser(userID)
	mu.Lock()
	defer mu.Unlock()

	start := l.now()
	end := start.AddDate(0, 0, l.policy.TrialDays)
	return l.store.StartTrial(ctx, userID, tier, start, end, l.policy.TrialImages, l.policy.TrialVideos)
}

// MarkEmailVerified flips the verification flag that gates all generation.
func (l *Ledger) MarkEmailVerified(ctx context.Context, userID uuid.UUID) error {
	return l.store.SetEmailVerified(ctx, userID)
}

// Decision is the outcome of the pure decision function.
type Decision struct {
	Source Source
	Cost   int
	Params Params
}

// Decide is the entitlement decision algorithm. It is a pure function of
// the entitlement state, the operation, the parameters, the policy and the
// clock: same inputs, same outcome.
//
// The branching is deliberate and easy to get subtly wrong. In
// particular, video has a third path that image and text do not: with the
// trial video allowance exhausted, a video request may spend credits
// directly even while the trial is still active.
func Decide(ent Entitlement, op OperationType, params Params, policy Policy, now time.Time) (Decision, error) {
	if !ent.EmailVerified {
		return Decision{}, &DeniedError{
			Reason:  DenialEmailNotVerified,
			Actions: Actions{VerifyEmail: true},
		}
	}

	if ent.TrialActive(now) {
		switch op {
		case OpText:
			// Unlimited during trial; not metered by count.
			return Decision{Source: SourceTrial, Cost: 0, Params: params}, nil

		case OpImage:
			if ent.TrialImagesRemaining > 0 {
				return Decision{Source: SourceTrial, Cost: 0, Params: params}, nil
			}
			// Allowance exhausted: fall through to the credit check.

		case OpVideo:
			if ent.TrialVideosRemaining > 0 {
				clamped := params
				if clamped.DurationSeconds > policy.TrialVideoCapSeconds {
					clamped.DurationSeconds = policy.TrialVideoCapSeconds
				}
				return Decision{Source: SourceTrial, Cost: 0, Params: clamped}, nil
			}
			// Trial videos exhausted: spend credits directly, bypassing the
			// trial counter. No duration clamp on the paid path.
			if ent.Credits >= policy.VideoCreditCost {
				return Decision{Source: SourceCredits, Cost: policy.VideoCreditCost, Params: params}, nil
			}
			return Decision{}, &DeniedError{
				Reason:  DenialInsufficientResources,
				Actions: Actions{AddCard: true, BuyPack: true},
			}
		}
	}

	// Credit-sufficiency check: trial inactive, or trial image allowance
	// exhausted.
	cost := policy.CostFor(op)
	if ent.Credits >= cost {
		return Decision{Source: SourceCredits, Cost: cost, Params: params}, nil
	}
	return Decision{}, &DeniedError{
		Reason:  DenialInsufficientResources,
		Actions: Actions{AddCard: true, BuyPack: true},
	}
}
