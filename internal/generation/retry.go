// Package generation runs AI generation operations: bounded retries with
// exponential backoff, declarative model fallback chains, and the concrete
// providers behind them.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"
)

// TerminalError marks a provider error as non-retryable: invalid input,
// permanently exceeded quota, or anything else another attempt cannot fix.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string { return "terminal: " + e.Err.Error() }
func (e *TerminalError) Unwrap() error { return e.Err }

// Terminal wraps err so the retry executor will not retry it.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &TerminalError{Err: err}
}

// IsTerminal reports whether err is marked non-retryable.
func IsTerminal(err error) bool {
	var t *TerminalError
	return errors.As(err, &t)
}

// Policy controls one retry run.
type Policy struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	BackoffMultiplier float64

	// Retryable decides whether an error is worth another attempt.
	// Nil means "everything except TerminalError".
	Retryable func(error) bool
}

// DefaultPolicy returns the standard three-attempt policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		BaseDelay:         time.Second,
		BackoffMultiplier: 2,
	}
}

func (p Policy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return !IsTerminal(err)
}

// delay returns the backoff before the given attempt (2, 3, ...):
// BaseDelay * BackoffMultiplier^(attempt-2).
func (p Policy) delay(attempt int) time.Duration {
	mult := p.BackoffMultiplier
	if mult <= 0 {
		mult = 2
	}
	return time.Duration(float64(p.BaseDelay) * math.Pow(mult, float64(attempt-2)))
}

// ExhaustedError reports a retry run that gave up. It wraps the last
// underlying error and preserves the attempt count for observability.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("exhausted after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Execute runs op under the policy. On success it returns the result and
// the number of attempts consumed. On failure the error is always an
// *ExhaustedError wrapping the last underlying error; a non-retryable
// error ends the run on the attempt that produced it.
func Execute[T any](ctx context.Context, policy Policy, op func(context.Context) (T, error)) (T, int, error) {
	var zero T
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := policy.delay(attempt)
			log.Printf("[Retry] attempt %d/%d after %v (last error: %v)", attempt, maxAttempts, delay, lastErr)
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return zero, attempt - 1, &ExhaustedError{Attempts: attempt - 1, Err: ctx.Err()}
			}
		}

		result, err := op(ctx)
		if err == nil {
			return result, attempt, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, attempt, &ExhaustedError{Attempts: attempt, Err: err}
		}
		if !policy.retryable(err) {
			return zero, attempt, &ExhaustedError{Attempts: attempt, Err: err}
		}
	}

	return zero, maxAttempts, &ExhaustedError{Attempts: maxAttempts, Err: lastErr}
}
