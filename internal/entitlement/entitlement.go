// Package entitlement is the authoritative source for what a user may
// generate: trial allowances, paid credit balance, and the decision logic
// that picks which resource a generation request consumes.
package entitlement

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OperationType identifies a generation operation.
type OperationType string

const (
	OpText  OperationType = "text"
	OpImage OperationType = "image"
	OpVideo OperationType = "video"
)

// Tier is the user's plan tier.
type Tier string

const (
	TierFree         Tier = "free"
	TierTrialStarter Tier = "trial_starter"
	TierTrialPro     Tier = "trial_pro"
	TierStarter      Tier = "starter"
	TierPro          Tier = "pro"
)

// IsTrial reports whether the tier is one of the trial variants.
func (t Tier) IsTrial() bool {
	return t == TierTrialStarter || t == TierTrialPro
}

// Entitlement holds a user's balances. Mutated exclusively through the
// Ledger; counters never go below zero.
type Entitlement struct {
	UserID               uuid.UUID  `json:"user_id"`
	Tier                 Tier       `json:"tier"`
	Credits              int        `json:"credits"`
	TrialStartedAt       *time.Time `json:"trial_started_at,omitempty"`
	TrialEndsAt          *time.Time `json:"trial_ends_at,omitempty"`
	TrialImagesRemaining int        `json:"trial_images_remaining"`
	TrialVideosRemaining int        `json:"trial_videos_remaining"`
	EmailVerified        bool       `json:"email_verified"`
}

// TrialActive reports whether the trial window covers the given instant.
// Both timestamps must be set; the end is inclusive.
func (e Entitlement) TrialActive(now time.Time) bool {
	return e.TrialStartedAt != nil && e.TrialEndsAt != nil && !now.After(*e.TrialEndsAt)
}

// Params are the request parameters relevant to the entitlement decision.
type Params struct {
	Prompt          string `json:"prompt"`
	AspectRatio     string `json:"aspect_ratio,omitempty"`
	Style           string `json:"style,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
}

// Source is where a generation's cost comes from.
type Source string

const (
	SourceTrial   Source = "trial"
	SourceCredits Source = "credits"
)

// Policy holds the business numbers the decision algorithm runs on.
type Policy struct {
	TextCreditCost       int
	ImageCreditCost      int
	VideoCreditCost      int
	TrialVideoCapSeconds int
	MaxVideoSeconds      int
	TrialDays            int
	TrialImages          int
	TrialVideos          int
}

// CostFor returns the credit cost of one operation of the given type.
func (p Policy) CostFor(op OperationType) int {
	switch op {
	case OpText:
		return p.TextCreditCost
	case OpImage:
		return p.ImageCreditCost
	case OpVideo:
		return p.VideoCreditCost
	}
	return 0
}

// ErrUserNotFound indicates a missing entitlement row. Authenticated
// requests should never hit this; treat as an integrity error.
var ErrUserNotFound = errors.New("entitlement: user not found")

// ErrBalanceChanged is returned by Commit when the guarded decrement found
// the balance no longer sufficient (a concurrent request spent it first).
var ErrBalanceChanged = errors.New("entitlement: balance changed since reservation")

// DenialReason is the machine-readable reason carried in a denial response.
type DenialReason string

const (
	DenialEmailNotVerified      DenialReason = "EMAIL_NOT_VERIFIED"
	DenialInsufficientResources DenialReason = "INSUFFICIENT_RESOURCES"
)

// Actions hints what the client can offer the user to resolve a denial.
type Actions struct {
	VerifyEmail bool `json:"verifyEmail,omitempty"`
	AddCard     bool `json:"addCard,omitempty"`
	BuyPack     bool `json:"buyPack,omitempty"`
}

// DeniedError is an entitlement denial. Decided before anything is
// reserved or any provider is called, so it never requires rollback.
type DeniedError struct {
	Reason  DenialReason
	Actions Actions
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("entitlement denied: %s", e.Reason)
}

// AsDenied unwraps err into a DeniedError if it is one.
func AsDenied(err error) (*DeniedError, bool) {
	var d *DeniedError
	if errors.As(err, &d) {
		return d, true
	}
	return nil, false
}
