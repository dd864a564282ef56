package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/driftline/postforge/internal/entitlement"
	"github.com/driftline/postforge/internal/generation"
	"github.com/driftline/postforge/internal/worker"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] Failed to encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// respondDenied renders an entitlement denial as 402 Payment Required
// with the machine-readable reason and the client action hints.
func respondDenied(w http.ResponseWriter, d *entitlement.DeniedError) {
	writeJSON(w, http.StatusPaymentRequired, map[string]interface{}{
		"error":   "denied",
		"reason":  d.Reason,
		"actions": d.Actions,
	})
}

func respondRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	secs := int(retryAfter.Seconds())
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
		"error":               "rate_limited",
		"retry_after_seconds": secs,
	})
}

// respondGenerationError maps the error taxonomy onto HTTP statuses.
// Denials are 402, bad parameters 400, exhausted generation 502. The
// caller has already closed any reservation.
func respondGenerationError(w http.ResponseWriter, err error) {
	if d, ok := entitlement.AsDenied(err); ok {
		respondDenied(w, d)
		return
	}
	if errors.Is(err, entitlement.ErrInvalidParams) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errors.Is(err, entitlement.ErrUserNotFound) {
		respondError(w, http.StatusNotFound, "user not found")
		return
	}

	var exhausted *generation.ExhaustedError
	if errors.As(err, &exhausted) {
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error":    "generation_failed",
			"attempts": exhausted.Attempts,
		})
		return
	}

	log.Printf("[API] Internal error: %v", err)
	respondError(w, http.StatusInternalServerError, "internal error")
}

func respondCampaignError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, worker.ErrCampaignNotFound):
		respondError(w, http.StatusNotFound, "campaign not found")
	case errors.Is(err, worker.ErrRunInProgress):
		respondError(w, http.StatusConflict, "generation already in progress")
	case errors.Is(err, worker.ErrNotDraft):
		respondError(w, http.StatusConflict, "campaign is not in draft")
	default:
		respondGenerationError(w, err)
	}
}
