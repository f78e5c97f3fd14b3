package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/drawbridge-sh/drawbridge/internal/adapter/otel"
	"github.com/drawbridge-sh/drawbridge/internal/domain/action"
	"github.com/drawbridge-sh/drawbridge/internal/domain/approval"
	"github.com/drawbridge-sh/drawbridge/internal/domain/tenant"
	"github.com/drawbridge-sh/drawbridge/internal/idempotency"
	"github.com/drawbridge-sh/drawbridge/internal/middleware"
	"github.com/drawbridge-sh/drawbridge/internal/port/database"
	"github.com/drawbridge-sh/drawbridge/internal/resilience"
	"github.com/drawbridge-sh/drawbridge/internal/service"
)

// Executor runs the execution pipeline for a stored action.
type Executor interface {
	ExecuteAction(ctx context.Context, actionID string) (service.Outcome, error)
}

// ApprovalGateway exposes the authorization-request operations handlers need.
type ApprovalGateway interface {
	Get(ctx context.Context, requestID string) (*approval.Request, error)
	List(ctx context.Context, status approval.Status) ([]approval.Request, error)
	ProcessDecision(ctx context.Context, requestID string, decision approval.Decision, channel approval.Channel) (*approval.Request, error)
	Escalate(ctx context.Context, requestID string) error
}

// HealthChecker reports one dependency's availability.
type HealthChecker func(ctx context.Context) error

// Handlers holds the HTTP handler dependencies. Metrics and HealthChecks
// may be nil.
type Handlers struct {
	Store        database.Store
	Orchestrator Executor
	Approvals    ApprovalGateway
	Idempotency  *idempotency.Guard
	Breakers     *resilience.Registry
	Metrics      *otel.Metrics
	HealthChecks map[string]HealthChecker
}

// ---------------------------------------------------------------------------
// Tenants
// ---------------------------------------------------------------------------

func (h *Handlers) CreateTenant(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[tenant.CreateRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.Name, "name") || !requireField(w, req.Slug, "slug") {
		return
	}

	t, err := h.Store.CreateTenant(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "tenant not found")
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handlers) GetTenant(w http.ResponseWriter, r *http.Request) {
	t, err := h.Store.GetTenant(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "tenant not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// SetTenantPause flips the tenant-wide safety pause. While paused, every
// execution for the tenant is refused before any side effect.
func (h *Handlers) SetTenantPause(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[struct {
		Paused bool `json:"paused"`
	}](w, r)
	if !ok {
		return
	}

	id := urlParam(r, "id")
	if err := h.Store.SetTenantPaused(r.Context(), id, req.Paused); err != nil {
		writeDomainError(w, err, "tenant not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "paused": req.Paused})
}

// ---------------------------------------------------------------------------
// Actions
// ---------------------------------------------------------------------------

func (h *Handlers) CreateAction(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[action.CreateRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, string(req.Kind), "kind") {
		return
	}

	a, err := h.Store.CreateAction(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "action not found")
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *Handlers) GetAction(w http.ResponseWriter, r *http.Request) {
	a, err := h.Store.GetAction(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "action not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handlers) ListActions(w http.ResponseWriter, r *http.Request) {
	status := action.Status(r.URL.Query().Get("status"))
	actions, err := h.Store.ListActions(r.Context(), status)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, actions)
}

// ExecuteAction drives an attempt through the full pipeline. The caller
// must supply X-Idempotency-Key; retried deliveries of the same request
// replay the stored outcome instead of executing twice.
func (h *Handlers) ExecuteAction(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	clientKey := r.Header.Get("X-Idempotency-Key")

	result, replayed, err := h.Idempotency.Ensure(r.Context(),
		middleware.TenantIDFromContext(r.Context()), "actions/"+id+"/execute", clientKey,
		func(ctx context.Context) ([]byte, error) {
			outcome, err := h.Orchestrator.ExecuteAction(ctx, id)
			if err != nil {
				return nil, err
			}
			return json.Marshal(outcome)
		})
	if err != nil {
		if errors.Is(err, idempotency.ErrMissingKey) {
			writeError(w, http.StatusBadRequest, "X-Idempotency-Key header is required")
			return
		}
		writeDomainError(w, err, "action not found")
		return
	}

	if replayed {
		if h.Metrics != nil {
			h.Metrics.IdempotentReplays.Add(r.Context(), 1)
		}
		w.Header().Set("X-Idempotent-Replay", "true")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result)
}

// ---------------------------------------------------------------------------
// Approvals
// ---------------------------------------------------------------------------

func (h *Handlers) GetApproval(w http.ResponseWriter, r *http.Request) {
	req, err := h.Approvals.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "approval request not found")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *Handlers) ListApprovals(w http.ResponseWriter, r *http.Request) {
	status := approval.Status(r.URL.Query().Get("status"))
	requests, err := h.Approvals.List(r.Context(), status)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, requests)
}

// DecideApproval records an approve/reject verdict. The first decision
// wins; later ones get 409 with the recorded outcome.
func (h *Handlers) DecideApproval(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[struct {
		Decision approval.Decision `json:"decision"`
		Channel  approval.Channel  `json:"channel"`
	}](w, r)
	if !ok {
		return
	}
	if body.Decision != approval.DecisionApproved && body.Decision != approval.DecisionRejected {
		writeError(w, http.StatusBadRequest, "decision must be approved or rejected")
		return
	}
	if body.Channel == "" {
		body.Channel = approval.ChannelDashboard
	}

	req, err := h.Approvals.ProcessDecision(r.Context(), urlParam(r, "id"), body.Decision, body.Channel)
	if err != nil {
		if errors.Is(err, approval.ErrAlreadyDecided) {
			writeError(w, http.StatusConflict, "request already decided")
			return
		}
		writeDomainError(w, err, "approval request not found")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// EscalateApproval moves a pending request to manual review.
func (h *Handlers) EscalateApproval(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := h.Approvals.Escalate(r.Context(), id); err != nil {
		if errors.Is(err, approval.ErrAlreadyDecided) {
			writeError(w, http.StatusConflict, "request already decided")
			return
		}
		writeDomainError(w, err, "approval request not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(approval.StatusPendingManual)})
}

// ---------------------------------------------------------------------------
// Breakers
// ---------------------------------------------------------------------------

func (h *Handlers) BreakerStatus(w http.ResponseWriter, r *http.Request) {
	name := urlParam(r, "service")
	snap, err := h.Breakers.Status(r.Context(), name)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ---------------------------------------------------------------------------
// Idempotency admin
// ---------------------------------------------------------------------------

// InvalidateIdempotencyKey removes a cached execution result so the next
// identical request runs again. Operator rollback tool, not an agent API.
func (h *Handlers) InvalidateIdempotencyKey(w http.ResponseWriter, r *http.Request) {
	key := urlParam(r, "key")
	if err := h.Idempotency.Invalidate(r.Context(), key); err != nil {
		if errors.Is(err, idempotency.ErrMissingKey) {
			writeError(w, http.StatusBadRequest, "key is required")
			return
		}
		writeInternalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	code := http.StatusOK
	for name, check := range h.HealthChecks {
		if err := check(r.Context()); err != nil {
			status[name] = "unavailable"
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
		} else {
			status[name] = "ok"
		}
	}
	writeJSON(w, code, status)
}
