package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/driftline/postforge/internal/auth"
	"github.com/driftline/postforge/internal/verification"
)

// SendVerificationCode handles POST /api/verification/send. One send
// per window per user; the limiter answers with Retry-After.
func (h *Handlers) SendVerificationCode(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if h.verifier == nil {
		respondError(w, http.StatusServiceUnavailable, "email verification is not configured")
		return
	}

	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		respondError(w, http.StatusBadRequest, "email is required")
		return
	}

	allowed, err := h.sendLimiter.Allow(r.Context(), userID.String())
	if err != nil {
		respondGenerationError(w, err)
		return
	}
	if !allowed {
		retry, _ := h.sendLimiter.RemainingTime(r.Context(), userID.String())
		respondRateLimited(w, retry)
		return
	}

	if err := h.verifier.SendCode(r.Context(), userID, req.Email); err != nil {
		respondGenerationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

// ConfirmVerificationCode handles POST /api/verification/confirm. Guess
// attempts are limited per user to keep six digit codes brute-force
// resistant.
func (h *Handlers) ConfirmVerificationCode(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if h.verifier == nil {
		respondError(w, http.StatusServiceUnavailable, "email verification is not configured")
		return
	}

	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		respondError(w, http.StatusBadRequest, "code is required")
		return
	}

	allowed, err := h.codeLimiter.Allow(r.Context(), userID.String())
	if err != nil {
		respondGenerationError(w, err)
		return
	}
	if !allowed {
		retry, _ := h.codeLimiter.RemainingTime(r.Context(), userID.String())
		respondRateLimited(w, retry)
		return
	}

	if err := h.verifier.Confirm(r.Context(), userID, req.Code); err != nil {
		if errors.Is(err, verification.ErrCodeMismatch) {
			respondError(w, http.StatusBadRequest, "verification code invalid or expired")
			return
		}
		respondGenerationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}
