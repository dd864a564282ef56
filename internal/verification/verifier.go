// Package verification issues and checks six digit email verification
// codes. Codes are stored hashed with a short expiry; a correct guess
// flips the user's verified flag on the entitlement ledger.
package verification

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/driftline/postforge/internal/entitlement"
	"github.com/driftline/postforge/internal/pkg/logger"
)

var (
	// ErrCodeMismatch is returned when the submitted code is wrong or
	// no code is pending for the user.
	ErrCodeMismatch = errors.New("verification code invalid or expired")
)

// Sender delivers a verification code to an email address.
type Sender interface {
	SendCode(ctx context.Context, email, code string) error
}

// Verifier manages pending codes in Redis, keyed per user.
type Verifier struct {
	redis  *redis.Client
	ledger *entitlement.Ledger
	sender Sender
	ttl    time.Duration
}

// New creates a Verifier. ttl bounds how long an issued code stays valid.
func New(rdb *redis.Client, ledger *entitlement.Ledger, sender Sender, ttl time.Duration) *Verifier {
	return &Verifier{redis: rdb, ledger: ledger, sender: sender, ttl: ttl}
}

// SendCode issues a fresh code for the user and emails it. Re-sending
// replaces any pending code.
func (v *Verifier) SendCode(ctx context.Context, userID uuid.UUID, email string) error {
	code, err := randomCode()
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}

	if err := v.redis.Set(ctx, codeKey(userID), hashCode(code), v.ttl).Err(); err != nil {
		return fmt.Errorf("store code: %w", err)
	}

	if err := v.sender.SendCode(ctx, email, code); err != nil {
		// A code the user never received should not stay claimable.
		v.redis.Del(ctx, codeKey(userID))
		return fmt.Errorf("send code: %w", err)
	}

	logger.Info("verification code sent", "user_id", userID.String(), "email", email)
	return nil
}

// Confirm checks the submitted code. On match the pending code is
// consumed and the user is marked verified.
func (v *Verifier) Confirm(ctx context.Context, userID uuid.UUID, code string) error {
	stored, err := v.redis.Get(ctx, codeKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return ErrCodeMismatch
	}
	if err != nil {
		return fmt.Errorf("load code: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(hashCode(code))) != 1 {
		return ErrCodeMismatch
	}

	if err := v.ledger.MarkEmailVerified(ctx, userID); err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	v.redis.Del(ctx, codeKey(userID))

	log.Printf("[Verification] User %s verified", userID)
	return nil
}

func codeKey(userID uuid.UUID) string {
	return "verify:" + userID.String()
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
