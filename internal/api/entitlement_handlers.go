package api

import (
	"encoding/json"
	"net/http"

	"github.com/driftline/postforge/internal/auth"
	"github.com/driftline/postforge/internal/entitlement"
)

// GetEntitlements handles GET /api/entitlements: the balance snapshot
// clients render into "X images left" banners.
func (h *Handlers) GetEntitlements(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	ent, err := h.ledger.Snapshot(r.Context(), userID)
	if err != nil {
		respondGenerationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ent)
}

// StartTrial handles POST /api/entitlements/trial.
func (h *Handlers) StartTrial(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req struct {
		Tier entitlement.Tier `json:"tier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Tier == "" {
		req.Tier = entitlement.TierTrialStarter
	}

	if err := h.ledger.StartTrial(r.Context(), userID, req.Tier); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}

	ent, err := h.ledger.Snapshot(r.Context(), userID)
	if err != nil {
		respondGenerationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ent)
}

// GrantCredits handles POST /api/entitlements/grant. Billing webhooks
// land here after a purchase clears.
func (h *Handlers) GrantCredits(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req struct {
		Amount int    `json:"amount"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Reason == "" {
		req.Reason = "purchase"
	}

	if err := h.ledger.Grant(r.Context(), userID, req.Amount, req.Reason); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ent, err := h.ledger.Snapshot(r.Context(), userID)
	if err != nil {
		respondGenerationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ent)
}
