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
	"github.com/driftline/postforge/internal/entitlement"
	"github.com/driftline/postforge/internal/generation"
	"github.com/driftline/postforge/internal/pkg/logger"
)

// generateRequest is the shared request body for all generation endpoints.
type generateRequest struct {
	Prompt          string `json:"prompt"`
	AspectRatio     string `json:"aspect_ratio,omitempty"`
	Style           string `json:"style,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
}

func (r generateRequest) params() entitlement.Params {
	return entitlement.Params{
		Prompt:          r.Prompt,
		AspectRatio:     r.AspectRatio,
		Style:           r.Style,
		DurationSeconds: r.DurationSeconds,
	}
}

func decodeGenerateRequest(w http.ResponseWriter, r *http.Request) (generateRequest, uuid.UUID, bool) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return generateRequest{}, uuid.Nil, false
	}

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return generateRequest{}, uuid.Nil, false
	}
	return req, userID, true
}

// GenerateText handles POST /api/generate/text.
func (h *Handlers) GenerateText(w http.ResponseWriter, r *http.Request) {
	req, userID, ok := decodeGenerateRequest(w, r)
	if !ok {
		return
	}
	h.runSync(w, r, userID, entitlement.OpText, req.params(), h.textChain)
}

// GenerateImage handles POST /api/generate/image.
func (h *Handlers) GenerateImage(w http.ResponseWriter, r *http.Request) {
	req, userID, ok := decodeGenerateRequest(w, r)
	if !ok {
		return
	}
	h.runSync(w, r, userID, entitlement.OpImage, req.params(), h.imageChain)
}

// runSync is the synchronous generation flow shared by text and image:
// evaluate, generate, commit, respond. Rollback happens only when the
// whole chain exhausts.
func (h *Handlers) runSync(w http.ResponseWriter, r *http.Request, userID uuid.UUID,
	op entitlement.OperationType, params entitlement.Params, chain *generation.Chain) {

	res, err := h.gate.Evaluate(r.Context(), userID, op, params)
	if err != nil {
		respondGenerationError(w, err)
		return
	}

	logger.Info("generation reserved",
		"user_id", userID.String(), "op", string(op),
		"source", string(res.Source), "prompt", params.Prompt)

	result, err := chain.Run(r.Context(), generation.Request{
		UserID:          userID,
		Prompt:          res.Params.Prompt,
		AspectRatio:     res.Params.AspectRatio,
		Style:           res.Params.Style,
		DurationSeconds: res.Params.DurationSeconds,
	})
	if err != nil {
		h.gate.Rollback(r.Context(), res)
		respondGenerationError(w, err)
		return
	}

	if err := h.gate.Commit(r.Context(), res); err != nil {
		respondGenerationError(w, err)
		return
	}

	var mediaURL string
	saved := false
	if h.library != nil && len(result.Artifact.Media) > 0 {
		if mediaURL, err = h.library.Save(r.Context(), userID, result.Artifact); err != nil {
			log.Printf("[API] Library save failed for user %s: %v", userID, err)
			mediaURL = ""
		} else {
			saved = true
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"kind":             result.Artifact.Kind,
		"text":             result.Artifact.Text,
		"media_url":        mediaURL,
		"saved_to_library": saved,
		"model_id":         result.Artifact.ModelID,
		"placeholder":      result.Artifact.Placeholder,
		"source":           res.Source,
		"attempts":         result.Attempts,
		"fell_back":        result.FellBack,
	})
}

// GenerateVideo handles POST /api/generate/video. Video is asynchronous:
// the reservation is taken up front, the job runs in the background and
// the reservation is closed from the job's outcome.
func (h *Handlers) GenerateVideo(w http.ResponseWriter, r *http.Request) {
	req, userID, ok := decodeGenerateRequest(w, r)
	if !ok {
		return
	}
	if h.videoJobs == nil {
		respondError(w, http.StatusServiceUnavailable, "video generation is not configured")
		return
	}

	res, err := h.gate.Evaluate(r.Context(), userID, entitlement.OpVideo, req.params())
	if err != nil {
		respondGenerationError(w, err)
		return
	}

	jobID, err := h.videoJobs.Start(r.Context(), userID)
	if err != nil {
		h.gate.Rollback(r.Context(), res)
		respondGenerationError(w, err)
		return
	}

	go h.runVideoJob(jobID, userID, res)

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":           jobID,
		"state":            generation.JobRunning,
		"source":           res.Source,
		"duration_seconds": res.Params.DurationSeconds,
	})
}

// runVideoJob executes the chain in the background and settles both the
// job record and the reservation.
func (h *Handlers) runVideoJob(jobID string, userID uuid.UUID, res *entitlement.Reservation) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	result, err := h.videoChain.Run(ctx, generation.Request{
		UserID:          userID,
		Prompt:          res.Params.Prompt,
		AspectRatio:     res.Params.AspectRatio,
		Style:           res.Params.Style,
		DurationSeconds: res.Params.DurationSeconds,
	})
	if err != nil {
		h.gate.Rollback(ctx, res)
		if failErr := h.videoJobs.Fail(ctx, jobID, "generation failed after retries"); failErr != nil {
			log.Printf("[API] Video job %s: failed to record failure: %v", jobID, failErr)
		}
		return
	}

	if err := h.gate.Commit(ctx, res); err != nil {
		log.Printf("[API] Video job %s: commit failed: %v", jobID, err)
		if failErr := h.videoJobs.Fail(ctx, jobID, "balance changed during generation"); failErr != nil {
			log.Printf("[API] Video job %s: failed to record failure: %v", jobID, failErr)
		}
		return
	}

	var mediaURL string
	if h.library != nil {
		if mediaURL, err = h.library.Save(ctx, userID, result.Artifact); err != nil {
			log.Printf("[API] Video job %s: library save failed: %v", jobID, err)
			mediaURL = ""
		}
	}

	if err := h.videoJobs.Succeed(ctx, jobID, mediaURL, result.Artifact.ModelID); err != nil {
		log.Printf("[API] Video job %s: failed to record success: %v", jobID, err)
	}
}

// GetVideoJob handles GET /api/generate/video/{jobID}.
func (h *Handlers) GetVideoJob(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if h.videoJobs == nil {
		respondError(w, http.StatusServiceUnavailable, "video generation is not configured")
		return
	}

	job, err := h.videoJobs.Get(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		respondGenerationError(w, err)
		return
	}
	if job == nil || job.UserID != userID {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}

	writeJSON(w, http.StatusOK, job)
}
