// Package simulator defines the risk simulation port (interface).
package simulator

import (
	"context"

	"github.com/drawbridge-sh/drawbridge/internal/domain/action"
)

// Assessment is the simulator's verdict on a proposed action.
type Assessment struct {
	Blocked          bool              `json:"blocked"`
	Reason           string            `json:"reason,omitempty"`
	EstimatedCostUSD float64           `json:"estimated_cost_usd"`
	HighRisk         bool              `json:"high_risk"`
	Hints            map[string]string `json:"hints,omitempty"` // e.g. batching suggestions
}

// Simulator estimates the risk and cost of an action before execution.
// Implementations may be LLM-backed; the control plane treats them as
// opaque.
type Simulator interface {
	Simulate(ctx context.Context, tenantID string, a *action.Attempt) (Assessment, error)
}
