package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event type constants for WebSocket messages.
const (
	EventApprovalRequested = "approval.requested"
	EventApprovalDecided   = "approval.decided"
	EventExecutionStatus   = "execution.status"
	EventBreakerState      = "breaker.state"
)

// ApprovalRequestedEvent is broadcast when a new authorization request
// needs a human decision.
type ApprovalRequestedEvent struct {
	RequestID string `json:"request_id"`
	TenantID  string `json:"tenant_id"`
	ActionID  string `json:"action_id,omitempty"`
	Summary   string `json:"summary"`
	Deadline  string `json:"deadline"`
}

// ApprovalDecidedEvent is broadcast when an authorization request reaches
// a terminal state.
type ApprovalDecidedEvent struct {
	RequestID string `json:"request_id"`
	TenantID  string `json:"tenant_id"`
	Status    string `json:"status"`
	Channel   string `json:"channel,omitempty"`
}

// ExecutionStatusEvent is broadcast when an action's execution status changes.
type ExecutionStatusEvent struct {
	ActionID string `json:"action_id"`
	TenantID string `json:"tenant_id"`
	Status   string `json:"status"`
	Outcome  string `json:"outcome,omitempty"`
}

// BreakerStateEvent is broadcast when a circuit breaker changes state.
type BreakerStateEvent struct {
	Service    string `json:"service"`
	State      string `json:"state"`
	RetryAfter string `json:"retry_after,omitempty"`
}

// BroadcastEvent is a convenience method that marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}

// BroadcastEventToTenant marshals a typed event and broadcasts it to one tenant.
func (h *Hub) BroadcastEventToTenant(ctx context.Context, tenantID, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.BroadcastToTenant(ctx, tenantID, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
