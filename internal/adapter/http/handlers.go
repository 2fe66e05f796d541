package http

import (
	"context"
	"net/http"
	"time"

	"github.com/Apsistec/fitos-app-sub001/internal/domain/approval"
	"github.com/Apsistec/fitos-app-sub001/internal/middleware"
	"github.com/Apsistec/fitos-app-sub001/internal/service"
)

// Pinger is satisfied by the approval store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds the services the HTTP surface calls into.
type Handlers struct {
	Coach     *service.CoachService
	Approvals *service.ApprovalService
	Sweeper   *service.SweeperService
	// LiveFeed serves the trainer websocket; nil disables /ws.
	LiveFeed http.HandlerFunc
	Health   Pinger
	Version  string
	// Now is the trusted clock used for on-demand sweeps.
	Now func() time.Time
}

func (h *Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// HandleMessage handles POST /api/v1/messages.
func (h *Handlers) HandleMessage(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[service.MessageRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.UserID, "user_id") || !requireField(w, req.Message, "message") {
		return
	}

	resp, err := h.Coach.HandleMessage(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "not found")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListApprovals handles GET /api/v1/trainers/{id}/approvals?status=.
func (h *Handlers) ListApprovals(w http.ResponseWriter, r *http.Request) {
	trainerID := urlParam(r, "id")
	if !h.authorizeTrainer(w, r, trainerID) {
		return
	}

	reqs, err := h.Approvals.ListPending(r.Context(), trainerID, approval.Status(r.URL.Query().Get("status")))
	if err != nil {
		writeDomainError(w, err, "trainer not found")
		return
	}
	if reqs == nil {
		reqs = []approval.Request{}
	}
	writeJSON(w, http.StatusOK, reqs)
}

// ApprovalStats handles GET /api/v1/trainers/{id}/approvals/stats.
func (h *Handlers) ApprovalStats(w http.ResponseWriter, r *http.Request) {
	trainerID := urlParam(r, "id")
	if !h.authorizeTrainer(w, r, trainerID) {
		return
	}

	stats, err := h.Approvals.Stats(r.Context(), trainerID)
	if err != nil {
		writeDomainError(w, err, "trainer not found")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetApproval handles GET /api/v1/approvals/{id}.
func (h *Handlers) GetApproval(w http.ResponseWriter, r *http.Request) {
	req, err := h.Approvals.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "approval request not found")
		return
	}
	// Report a foreign request as missing so ids cannot be probed.
	if !middleware.PrincipalFromContext(r.Context()).CanActFor(req.TrainerID) {
		writeCodedError(w, http.StatusNotFound, "not_found", "approval request not found")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

type decisionRequest struct {
	TrainerID     string         `json:"trainer_id"`
	Approved      *bool          `json:"approved"`
	Notes         string         `json:"notes"`
	Modifications map[string]any `json:"modifications"`
}

// DecideApproval handles POST /api/v1/approvals/{id}/decision.
//
// A trainer token decides as its own subject; the body trainer_id is only
// honoured for admin callers (including auth-disabled deployments).
func (h *Handlers) DecideApproval(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[decisionRequest](w, r)
	if !ok {
		return
	}
	if body.Approved == nil {
		writeError(w, http.StatusBadRequest, "approved is required")
		return
	}

	trainerID := body.TrainerID
	p := middleware.PrincipalFromContext(r.Context())
	switch {
	case p == nil:
		writeError(w, http.StatusUnauthorized, "authorization required")
		return
	case p.Role == middleware.RoleTrainer:
		trainerID = p.Subject
	case p.Role != middleware.RoleAdmin:
		writeCodedError(w, http.StatusForbidden, "unauthorized", "only trainers may decide approvals")
		return
	}
	if !requireField(w, trainerID, "trainer_id") {
		return
	}

	req, err := h.Approvals.Decide(r.Context(), approval.Decision{
		RequestID:     urlParam(r, "id"),
		TrainerID:     trainerID,
		Approved:      *body.Approved,
		Notes:         body.Notes,
		Modifications: body.Modifications,
	})
	if err != nil {
		writeDomainError(w, err, "approval request not found")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

type sweepResponse struct {
	Affected []string `json:"affected"`
}

// RunSweep handles POST /api/v1/approvals/sweep.
// The sweep clock is the server's, never the caller's.
func (h *Handlers) RunSweep(w http.ResponseWriter, r *http.Request) {
	affected, err := h.Sweeper.Sweep(r.Context(), h.now())
	if affected == nil {
		affected = []string{}
	}
	if err != nil && len(affected) == 0 {
		writeInternalError(w, err)
		return
	}
	// Partial failures still report what was resolved; the rest retry next tick.
	writeJSON(w, http.StatusOK, sweepResponse{Affected: affected})
}

// LiveFeedWS handles GET /ws?trainer_id=.
func (h *Handlers) LiveFeedWS(w http.ResponseWriter, r *http.Request) {
	if !h.authorizeTrainer(w, r, r.URL.Query().Get("trainer_id")) {
		return
	}
	h.LiveFeed(w, r)
}

type healthStatus struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Store   string `json:"store"`
}

// HealthCheck handles GET /health.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := healthStatus{Status: "ok", Version: h.Version, Store: "ok"}
	code := http.StatusOK
	if h.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.Health.Ping(ctx); err != nil {
			status.Status = "degraded"
			status.Store = "unreachable"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, status)
}

// authorizeTrainer writes 400 or 403 and returns false unless the caller may
// act for trainerID.
func (h *Handlers) authorizeTrainer(w http.ResponseWriter, r *http.Request, trainerID string) bool {
	if !requireField(w, trainerID, "trainer_id") {
		return false
	}
	if !middleware.PrincipalFromContext(r.Context()).CanActFor(trainerID) {
		writeCodedError(w, http.StatusForbidden, "unauthorized", "not allowed to act for this trainer")
		return false
	}
	return true
}
