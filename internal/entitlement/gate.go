package entitlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrInvalidParams marks request validation failures. Non-retryable.
var ErrInvalidParams = errors.New("entitlement: invalid parameters")

var validAspectRatios = map[string]bool{
	"":     true, // provider default
	"1:1":  true,
	"16:9": true,
	"9:16": true,
	"4:3":  true,
	"3:4":  true,
}

// Gate is the per-request front over the Ledger: it validates the
// request parameters for the operation type, then reserves. The caller
// runs the actual generation and closes the reservation: commit on
// success, rollback on exhaustion. Keeping the debit on the caller's side
// of the generation call is what prevents credit loss on transient
// provider failures.
type Gate struct {
	ledger *Ledger
	policy Policy
}

// NewGate creates a Gate over the given ledger.
func NewGate(ledger *Ledger) *Gate {
	return &Gate{ledger: ledger, policy: ledger.policy}
}

// Evaluate validates params for op and reserves the resource. The
// returned reservation carries the possibly-clamped parameters the caller
// must generate with.
func (g *Gate) Evaluate(ctx context.Context, userID uuid.UUID, op OperationType, params Params) (*Reservation, error) {
	if err := g.validate(op, params); err != nil {
		return nil, err
	}

	res, err := g.ledger.Reserve(ctx, userID, op, params)
	if err != nil {
		return nil, err
	}

	// Trial clamping happens inside the decision; the hard ceiling must
	// hold regardless of which path approved the request.
	if op == OpVideo && res.Params.DurationSeconds > g.policy.MaxVideoSeconds {
		g.ledger.Rollback(ctx, res)
		return nil, fmt.Errorf("%w: clamped duration %ds still exceeds ceiling %ds",
			ErrInvalidParams, res.Params.DurationSeconds, g.policy.MaxVideoSeconds)
	}

	return res, nil
}

// Commit closes the reservation after a successful generation.
func (g *Gate) Commit(ctx context.Context, res *Reservation) error {
	return g.ledger.Commit(ctx, res)
}

// Rollback closes the reservation after an exhausted generation.
func (g *Gate) Rollback(ctx context.Context, res *Reservation) {
	g.ledger.Rollback(ctx, res)
}

func (g *Gate) validate(op OperationType, params Params) error {
	if params.Prompt == "" {
		return fmt.Errorf("%w: prompt is required", ErrInvalidParams)
	}

	switch op {
	case OpText:
		return nil
	case OpImage:
		if !validAspectRatios[params.AspectRatio] {
			return fmt.Errorf("%w: unsupported aspect ratio %q", ErrInvalidParams, params.AspectRatio)
		}
		return nil
	case OpVideo:
		if params.DurationSeconds < 1 {
			return fmt.Errorf("%w: video duration must be at least 1s", ErrInvalidParams)
		}
		if params.DurationSeconds > g.policy.MaxVideoSeconds {
			return fmt.Errorf("%w: video duration %ds exceeds ceiling %ds",
				ErrInvalidParams, params.DurationSeconds, g.policy.MaxVideoSeconds)
		}
		if !validAspectRatios[params.AspectRatio] {
			return fmt.Errorf("%w: unsupported aspect ratio %q", ErrInvalidParams, params.AspectRatio)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown operation type %q", ErrInvalidParams, op)
}
