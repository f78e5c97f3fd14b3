package messagequeue

// DecisionPayload is the schema for approvals.decision.{request_id} messages.
// It carries the full decision so a waiter in any process can return
// immediately without re-reading the request.
type DecisionPayload struct {
	RequestID string         `json:"request_id"`
	Status    string         `json:"status"` // "approved" or "rejected"
	Channel   string         `json:"channel"`
	DecidedAt string         `json:"decided_at"` // RFC 3339
	Details   map[string]any `json:"details,omitempty"`
}

// ApprovalRequestedPayload is the schema for approvals.requested messages.
type ApprovalRequestedPayload struct {
	RequestID      string   `json:"request_id"`
	TenantID       string   `json:"tenant_id"`
	AgentType      string   `json:"agent_type"`
	OperationType  string   `json:"operation_type"`
	Deadline       string   `json:"deadline"` // RFC 3339
	Channels       []string `json:"channels"`
	LinkedActionID string   `json:"linked_action_id,omitempty"`
}

// ApprovalExpiredPayload is the schema for approvals.expired messages.
type ApprovalExpiredPayload struct {
	RequestID      string `json:"request_id"`
	TenantID       string `json:"tenant_id"`
	LinkedActionID string `json:"linked_action_id,omitempty"`
}

// ActionEventPayload is the schema for actions.events messages.
type ActionEventPayload struct {
	ActionID string `json:"action_id"`
	TenantID string `json:"tenant_id"`
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
}

// BreakerEventPayload is the schema for breakers.events messages.
type BreakerEventPayload struct {
	Service    string `json:"service"`
	State      string `json:"state"`
	RetryAfter string `json:"retry_after,omitempty"` // duration string
}
