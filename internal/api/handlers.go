// Package api is the HTTP boundary: request decoding, the gate
// protocol around every generation, and the error taxonomy mapped to
// statuses. Handlers commit reservations only after the provider call
// succeeds.
package api

import (
	"net/http"
	"time"

	"github.com/driftline/postforge/internal/entitlement"
	"github.com/driftline/postforge/internal/generation"
	"github.com/driftline/postforge/internal/library"
	"github.com/driftline/postforge/internal/ratelimit"
	"github.com/driftline/postforge/internal/verification"
	"github.com/driftline/postforge/internal/worker"
)

// Handlers contains all HTTP handlers and their collaborators.
type Handlers struct {
	gate   *entitlement.Gate
	ledger *entitlement.Ledger

	textChain  *generation.Chain
	imageChain *generation.Chain
	videoChain *generation.Chain
	videoJobs  *generation.VideoJobs

	library      *library.Library
	orchestrator *worker.Orchestrator
	campaigns    worker.Store

	verifier    *verification.Verifier
	sendLimiter *ratelimit.Limiter
	codeLimiter *ratelimit.Limiter

	startTime time.Time
}

// Deps are the collaborators handlers need. library and verifier may be
// nil when the bucket or sender is not configured; the corresponding
// endpoints degrade instead of panicking.
type Deps struct {
	Gate         *entitlement.Gate
	Ledger       *entitlement.Ledger
	TextChain    *generation.Chain
	ImageChain   *generation.Chain
	VideoChain   *generation.Chain
	VideoJobs    *generation.VideoJobs
	Library      *library.Library
	Orchestrator *worker.Orchestrator
	Campaigns    worker.Store
	Verifier     *verification.Verifier
	SendLimiter  *ratelimit.Limiter
	CodeLimiter  *ratelimit.Limiter
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{
		gate:         deps.Gate,
		ledger:       deps.Ledger,
		textChain:    deps.TextChain,
		imageChain:   deps.ImageChain,
		videoChain:   deps.VideoChain,
		videoJobs:    deps.VideoJobs,
		library:      deps.Library,
		orchestrator: deps.Orchestrator,
		campaigns:    deps.Campaigns,
		verifier:     deps.Verifier,
		sendLimiter:  deps.SendLimiter,
		codeLimiter:  deps.CodeLimiter,
		startTime:    time.Now(),
	}
}

// HealthCheck returns service liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(time.Since(h.startTime).Seconds()),
	})
}
