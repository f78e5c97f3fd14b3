// Package resilience provides reliability patterns for external service calls.
package resilience

import (
	"context"
	"time"
)

// State is the circuit state for one service.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config holds the per-registry breaker tuning.
type Config struct {
	// Threshold is the number of consecutive counted failures that opens
	// the circuit from closed.
	Threshold int
	// BaseTimeout is the first OPEN window; repeated episodes double it.
	BaseTimeout time.Duration
	// MaxTimeout caps the doubled window.
	MaxTimeout time.Duration
	// HalfOpenMaxTrials bounds concurrent probe calls while half-open.
	HalfOpenMaxTrials int
}

// Snapshot is a point-in-time view of one service's shared circuit state.
type Snapshot struct {
	Service       string        `json:"service"`
	State         State         `json:"state"`
	Failures      int           `json:"failures"`
	Multiplier    int           `json:"multiplier"`
	OpenedAt      time.Time     `json:"opened_at,omitzero"`
	LastFailureAt time.Time     `json:"last_failure_at,omitzero"`
	OpenTimeout   time.Duration `json:"open_timeout,omitempty"`
	Trials        int           `json:"trials,omitempty"`
	RetryAfter    time.Duration `json:"retry_after,omitempty"`
}

// Decision is the admission verdict for one call.
type Decision struct {
	Allowed    bool
	Trial      bool          // admitted as a half-open probe
	RetryAfter time.Duration // exact remaining window when rejected while open
}

// StateStore holds breaker state shared across all orchestrator instances.
// Every method is atomic with respect to concurrent callers on the same
// service key; counters tolerate last-write-wins races across services.
type StateStore interface {
	// Acquire decides admission for one call. When the OPEN window has
	// elapsed it applies the optimistic OPEN -> HALF_OPEN transition and
	// admits the caller as a trial, bounded by cfg.HalfOpenMaxTrials.
	Acquire(ctx context.Context, service string, cfg Config) (Decision, error)

	// Success records a successful call and clears the failure streak.
	// A successful trial closes the circuit and resets the backoff
	// multiplier; recovered reports that transition.
	Success(ctx context.Context, service string, trial bool) (recovered bool, err error)

	// Failure records a counted failure. The circuit opens when the streak
	// reaches cfg.Threshold, or immediately when the failure was a
	// half-open trial; each opening increments the multiplier and computes
	// the next window as base * 2^(multiplier-1) capped at cfg.MaxTimeout.
	Failure(ctx context.Context, service string, trial bool, cfg Config) (snap Snapshot, opened bool, err error)

	// Snapshot returns the current state for a service.
	Snapshot(ctx context.Context, service string) (Snapshot, error)
}

// OpenWindow computes the OPEN window for a given multiplier.
func OpenWindow(cfg Config, multiplier int) time.Duration {
	if multiplier < 1 {
		multiplier = 1
	}
	w := cfg.BaseTimeout
	for i := 1; i < multiplier; i++ {
		w *= 2
		if w >= cfg.MaxTimeout {
			return cfg.MaxTimeout
		}
	}
	if w > cfg.MaxTimeout {
		return cfg.MaxTimeout
	}
	return w
}
