package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/driftline/postforge/internal/auth"
	"github.com/driftline/postforge/internal/worker"
)

// campaignDateLayout is the wire format for campaign window dates.
const campaignDateLayout = "2006-01-02"

type createCampaignRequest struct {
	Brief      string `json:"brief"`
	Tone       string `json:"tone"`
	Platform   string `json:"platform"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	WithImages bool   `json:"with_images"`
}

// CreateCampaign handles POST /api/campaigns.
func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Brief == "" {
		respondError(w, http.StatusBadRequest, "brief is required")
		return
	}
	start, err := time.Parse(campaignDateLayout, req.StartDate)
	if err != nil {
		respondError(w, http.StatusBadRequest, "start_date must be YYYY-MM-DD")
		return
	}
	end, err := time.Parse(campaignDateLayout, req.EndDate)
	if err != nil {
		respondError(w, http.StatusBadRequest, "end_date must be YYYY-MM-DD")
		return
	}

	campaign := worker.Campaign{
		ID:         uuid.New(),
		UserID:     userID,
		Brief:      req.Brief,
		Tone:       req.Tone,
		Platform:   req.Platform,
		StartDate:  start,
		EndDate:    end,
		WithImages: req.WithImages,
		Status:     worker.StatusDraft,
	}
	if days := campaign.WindowDays(); days < 1 || days > 30 {
		respondError(w, http.StatusBadRequest, "campaign window must span between 1 and 30 days")
		return
	}
	if err := h.campaigns.CreateCampaign(r.Context(), campaign); err != nil {
		respondCampaignError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, campaign)
}

// loadOwnedCampaign fetches the campaign and enforces ownership. A
// campaign belonging to someone else reads as not found.
func (h *Handlers) loadOwnedCampaign(w http.ResponseWriter, r *http.Request) (worker.Campaign, bool) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return worker.Campaign{}, false
	}

	id, err := uuid.Parse(chi.URLParam(r, "campaignID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid campaign id")
		return worker.Campaign{}, false
	}

	campaign, err := h.campaigns.GetCampaign(r.Context(), id)
	if err != nil {
		respondCampaignError(w, err)
		return worker.Campaign{}, false
	}
	if campaign.UserID != userID {
		respondError(w, http.StatusNotFound, "campaign not found")
		return worker.Campaign{}, false
	}
	return campaign, true
}

// GenerateCampaign handles POST /api/campaigns/{campaignID}/generate.
// The run happens in the background; clients poll GetCampaign for
// progress. A second generate while one is running gets 409.
func (h *Handlers) GenerateCampaign(w http.ResponseWriter, r *http.Request) {
	campaign, ok := h.loadOwnedCampaign(w, r)
	if !ok {
		return
	}
	if campaign.Status != worker.StatusDraft {
		respondCampaignError(w, worker.ErrNotDraft)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		if err := h.orchestrator.Run(ctx, campaign.ID); err != nil {
			log.Printf("[API] Campaign %s: run ended with error: %v", campaign.ID, err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"campaign_id": campaign.ID,
		"status":      worker.StatusGenerating,
	})
}

// GetCampaign handles GET /api/campaigns/{campaignID}. This is the
// progress poll during generation.
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	campaign, ok := h.loadOwnedCampaign(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

// ListCampaignPosts handles GET /api/campaigns/{campaignID}/posts.
// Posts from an aborted run are included; they survived the reset.
func (h *Handlers) ListCampaignPosts(w http.ResponseWriter, r *http.Request) {
	campaign, ok := h.loadOwnedCampaign(w, r)
	if !ok {
		return
	}

	posts, err := h.campaigns.ListPosts(r.Context(), campaign.ID)
	if err != nil {
		respondCampaignError(w, err)
		return
	}
	if posts == nil {
		posts = []worker.Post{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"campaign_id": campaign.ID,
		"posts":       posts,
	})
}
