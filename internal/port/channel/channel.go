// Package channel defines the commit channel port (interface) for the
// stores and marketplaces an action is published to.
package channel

import (
	"context"
	"fmt"
	"time"

	"github.com/drawbridge-sh/drawbridge/internal/domain/action"
)

// ErrorKind classifies a failed commit for the retry policy. Expected
// failure modes are values, not panics or sentinel errors: adapters never
// raise for an ordinary failure.
type ErrorKind string

const (
	KindNone        ErrorKind = ""
	KindRateLimited ErrorKind = "rate_limited" // retry after the provider-specified delay
	KindTransient   ErrorKind = "transient"    // timeout, connection drop, 5xx
	KindPermanent   ErrorKind = "permanent"    // validation, missing data, policy violation
)

// CommitRequest carries one action to a channel. The attempt record is
// created before any dispatch, so every channel call references its id.
type CommitRequest struct {
	ActionID string
	TenantID string
	Payload  action.Payload
}

// Result is the outcome of a Commit or Withdraw call.
type Result struct {
	Success     bool
	ExternalRef string
	ErrKind     ErrorKind
	Message     string
	StatusCode  int           // HTTP status carried from the provider, 0 if none
	RetryAfter  time.Duration // provider-specified wait for rate-limited results
}

// Err converts a failed result into an error for circuit breaker
// classification. Returns nil for successful results.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	return &CommitError{Kind: r.ErrKind, Status: r.StatusCode, Message: r.Message}
}

// CommitError is the error form of a failed channel result.
type CommitError struct {
	Kind    ErrorKind
	Status  int
	Message string
}

func (e *CommitError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("channel commit failed (%s, status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("channel commit failed (%s): %s", e.Kind, e.Message)
}

// StatusCode implements the status carrier contract used by failure
// classification.
func (e *CommitError) StatusCode() int { return e.Status }

// Transient reports whether the failure is infrastructure-shaped.
func (e *CommitError) Transient() bool {
	return e.Kind == KindTransient || e.Kind == KindRateLimited
}

// Adapter is the port interface for one commit channel (the tenant's own
// store or a third-party marketplace).
type Adapter interface {
	// Name returns the provider identifier, also used as the circuit
	// breaker service key (e.g. "shopify", "ebay").
	Name() string

	// Commit applies the action on the provider. Ordinary failures are
	// reported in the Result, never as a panic or error.
	Commit(ctx context.Context, req CommitRequest) Result

	// Withdraw reverses a previously committed action by its external ref.
	// Exposed for administrative compensation; the orchestrator does not
	// call it automatically on partial failure.
	Withdraw(ctx context.Context, actionID, externalRef string) Result
}
