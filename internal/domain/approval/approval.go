// Package approval defines the asynchronous authorization request model.
package approval

import (
	"errors"
	"time"
)

// ErrAlreadyDecided is returned when a decision arrives for a request that
// is no longer pending. First decision wins; later ones are rejected.
var ErrAlreadyDecided = errors.New("approval: already decided")

// Status represents the lifecycle state of an authorization request.
type Status string

const (
	StatusPending       Status = "pending"
	StatusPendingManual Status = "pending_manual" // escalated for manual review
	StatusApproved      Status = "approved"
	StatusRejected      Status = "rejected"
	StatusExpired       Status = "expired"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusExpired
}

// Decidable reports whether a human decision may still be applied.
func (s Status) Decidable() bool {
	return s == StatusPending || s == StatusPendingManual
}

// Decision is a human verdict on a pending request.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// Channel identifies a notification/decision delivery channel.
type Channel string

const (
	ChannelPush      Channel = "push"
	ChannelSMS       Channel = "sms"
	ChannelEmail     Channel = "email"
	ChannelDashboard Channel = "dashboard"
)

// Request is a durable authorization request awaiting a human decision.
// It transitions exactly once to approved/rejected via an external decision,
// or to expired at its deadline; expiry and decision are mutually exclusive
// and first-wins.
type Request struct {
	ID              string                `json:"id"`
	TenantID        string                `json:"tenant_id"`
	AgentType       string                `json:"agent_type"`
	OperationType   string                `json:"operation_type"`
	Details         map[string]any        `json:"details,omitempty"`
	Status          Status                `json:"status"`
	Deadline        time.Time             `json:"deadline"`
	DecidedAt       *time.Time            `json:"decided_at,omitempty"`
	DecisionChannel Channel               `json:"decision_channel,omitempty"`
	SentAt          map[Channel]time.Time `json:"sent_at,omitempty"`
	LinkedActionID  string                `json:"linked_action_id,omitempty"`
	RemindAt        *time.Time            `json:"remind_at,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}
