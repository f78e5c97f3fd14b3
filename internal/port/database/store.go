// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/drawbridge-sh/drawbridge/internal/domain/action"
	"github.com/drawbridge-sh/drawbridge/internal/domain/approval"
	"github.com/drawbridge-sh/drawbridge/internal/domain/tenant"
)

// Store is the port interface for database operations.
//
// Claim and decide operations are conditional updates: they report whether
// the caller won the transition. Losers must treat the result as a benign
// race (claim) or an already-decided conflict (approval), never as an error
// in the underlying store.
type Store interface {
	// Tenants
	GetTenant(ctx context.Context, id string) (*tenant.Tenant, error)
	CreateTenant(ctx context.Context, req tenant.CreateRequest) (*tenant.Tenant, error)
	SetTenantPaused(ctx context.Context, id string, paused bool) error

	// Actions (execution attempts)
	GetAction(ctx context.Context, id string) (*action.Attempt, error)
	ListActions(ctx context.Context, status action.Status) ([]action.Attempt, error)
	CreateAction(ctx context.Context, req action.CreateRequest) (*action.Attempt, error)
	// ClaimAction atomically transitions {pending, approved} -> executing.
	// Returns false when the record is in any other status.
	ClaimAction(ctx context.Context, id string) (bool, error)
	UpdateActionStatus(ctx context.Context, id string, status action.Status, reason string) error
	SetActionRetryCount(ctx context.Context, id string, retries int) error
	SetActionChannelResults(ctx context.Context, id string, results []action.ChannelResult) error
	SetActionVerification(ctx context.Context, id string, v action.Verification) error

	// Authorization requests
	CreateApproval(ctx context.Context, r *approval.Request) error
	GetApproval(ctx context.Context, id string) (*approval.Request, error)
	ListApprovals(ctx context.Context, status approval.Status) ([]approval.Request, error)
	MarkApprovalSent(ctx context.Context, id string, channel approval.Channel, at time.Time) error
	// DecideApproval atomically transitions {pending, pending_manual} ->
	// {approved, rejected}. Returns false when the request was already
	// decided or expired.
	DecideApproval(ctx context.Context, id string, status approval.Status, channel approval.Channel, decidedAt time.Time) (bool, error)
	// ExpireApproval atomically transitions {pending, pending_manual} ->
	// expired and records the reminder time. Returns false when a decision
	// won the race.
	ExpireApproval(ctx context.Context, id string, remindAt time.Time) (bool, error)
	// EscalateApproval transitions pending -> pending_manual.
	EscalateApproval(ctx context.Context, id string) (bool, error)
	// ListDueApprovals returns non-terminal requests whose deadline has
	// passed (durable timeout fallback when no waiter was alive).
	ListDueApprovals(ctx context.Context, now time.Time) ([]approval.Request, error)
	// ListDueReminders returns expired requests whose remind_at has passed.
	ListDueReminders(ctx context.Context, now time.Time) ([]approval.Request, error)
	ClearApprovalReminder(ctx context.Context, id string) error

	// Degradation notices filed by the circuit breaker when a dependency
	// serving a tenant's action goes down.
	RecordDegradation(ctx context.Context, tenantID, service string, until time.Time) error
}
