package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/drawbridge-sh/drawbridge/internal/domain"
	"github.com/drawbridge-sh/drawbridge/internal/domain/approval"
	"github.com/drawbridge-sh/drawbridge/internal/middleware"
)

const approvalColumns = `id, tenant_id, agent_type, operation_type, details, status,
	deadline, decided_at, decision_channel, sent_at, linked_action_id, remind_at,
	created_at, updated_at`

func scanApproval(row scannable) (*approval.Request, error) {
	var r approval.Request
	var detailsJSON, sentAtJSON []byte
	var decisionChannel, linkedActionID *string
	err := row.Scan(&r.ID, &r.TenantID, &r.AgentType, &r.OperationType, &detailsJSON,
		&r.Status, &r.Deadline, &r.DecidedAt, &decisionChannel, &sentAtJSON,
		&linkedActionID, &r.RemindAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if detailsJSON != nil {
		_ = json.Unmarshal(detailsJSON, &r.Details)
	}
	if sentAtJSON != nil {
		_ = json.Unmarshal(sentAtJSON, &r.SentAt)
	}
	if decisionChannel != nil {
		r.DecisionChannel = approval.Channel(*decisionChannel)
	}
	if linkedActionID != nil {
		r.LinkedActionID = *linkedActionID
	}
	return &r, nil
}

// nullIfEmpty returns nil for empty strings (for nullable UUID columns).
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// CreateApproval persists a new authorization request and fills the
// generated fields (id, timestamps) back into r.
func (s *Store) CreateApproval(ctx context.Context, r *approval.Request) error {
	detailsJSON, err := json.Marshal(r.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}

	created, err := scanApproval(s.pool.QueryRow(ctx,
		`INSERT INTO authorization_requests
			(tenant_id, agent_type, operation_type, details, status, deadline, linked_action_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+approvalColumns,
		r.TenantID, r.AgentType, r.OperationType, detailsJSON,
		approval.StatusPending, r.Deadline, nullIfEmpty(r.LinkedActionID)))
	if err != nil {
		return fmt.Errorf("create approval: %w", err)
	}
	*r = *created
	return nil
}

func (s *Store) GetApproval(ctx context.Context, id string) (*approval.Request, error) {
	r, err := scanApproval(s.pool.QueryRow(ctx,
		`SELECT `+approvalColumns+` FROM authorization_requests WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get approval %s", id)
	}
	return r, nil
}

func (s *Store) ListApprovals(ctx context.Context, status approval.Status) ([]approval.Request, error) {
	query := `SELECT ` + approvalColumns + ` FROM authorization_requests WHERE tenant_id = $1`
	args := []any{middleware.TenantIDFromContext(ctx)}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	var requests []approval.Request
	for rows.Next() {
		r, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		requests = append(requests, *r)
	}
	return requests, rows.Err()
}

// MarkApprovalSent records the delivery time for one channel in the
// sent_at map.
func (s *Store) MarkApprovalSent(ctx context.Context, id string, channel approval.Channel, at time.Time) error {
	entry, err := json.Marshal(map[approval.Channel]time.Time{channel: at})
	if err != nil {
		return fmt.Errorf("marshal sent_at entry: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE authorization_requests
		 SET sent_at = COALESCE(sent_at, '{}'::jsonb) || $2::jsonb, updated_at = now()
		 WHERE id = $1`,
		id, entry)
	if err != nil {
		return fmt.Errorf("mark approval %s sent: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark approval %s sent: %w", id, domain.ErrNotFound)
	}
	return nil
}

// DecideApproval atomically applies a decision. The WHERE clause makes
// first-decision-wins a database guarantee, not an application lock.
func (s *Store) DecideApproval(ctx context.Context, id string, status approval.Status, channel approval.Channel, decidedAt time.Time) (bool, error) {
	if status != approval.StatusApproved && status != approval.StatusRejected {
		return false, fmt.Errorf("%w: decision status must be approved or rejected, got %s", domain.ErrValidation, status)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE authorization_requests
		 SET status = $2, decision_channel = $3, decided_at = $4, updated_at = now()
		 WHERE id = $1 AND status IN ($5, $6)`,
		id, status, channel, decidedAt,
		approval.StatusPending, approval.StatusPendingManual)
	if err != nil {
		return false, fmt.Errorf("decide approval %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ExpireApproval transitions a still-undecided request to expired and
// schedules its reminder. A decision that landed first wins the race.
func (s *Store) ExpireApproval(ctx context.Context, id string, remindAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE authorization_requests
		 SET status = $2, remind_at = $3, updated_at = now()
		 WHERE id = $1 AND status IN ($4, $5)`,
		id, approval.StatusExpired, remindAt,
		approval.StatusPending, approval.StatusPendingManual)
	if err != nil {
		return false, fmt.Errorf("expire approval %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// EscalateApproval transitions pending -> pending_manual.
func (s *Store) EscalateApproval(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE authorization_requests
		 SET status = $2, updated_at = now()
		 WHERE id = $1 AND status = $3`,
		id, approval.StatusPendingManual, approval.StatusPending)
	if err != nil {
		return false, fmt.Errorf("escalate approval %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListDueApprovals returns undecided requests past their deadline, across
// all tenants. The sweeper uses this to expire requests that had no live
// in-process waiter.
func (s *Store) ListDueApprovals(ctx context.Context, now time.Time) ([]approval.Request, error) {
	return s.listApprovalsWhere(ctx,
		`status IN ($1, $2) AND deadline <= $3`,
		approval.StatusPending, approval.StatusPendingManual, now)
}

// ListDueReminders returns expired requests whose reminder time has passed.
func (s *Store) ListDueReminders(ctx context.Context, now time.Time) ([]approval.Request, error) {
	return s.listApprovalsWhere(ctx,
		`status = $1 AND remind_at IS NOT NULL AND remind_at <= $2`,
		approval.StatusExpired, now)
}

func (s *Store) listApprovalsWhere(ctx context.Context, where string, args ...any) ([]approval.Request, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+approvalColumns+` FROM authorization_requests WHERE `+where+` ORDER BY created_at ASC`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	var requests []approval.Request
	for rows.Next() {
		r, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		requests = append(requests, *r)
	}
	return requests, rows.Err()
}

func (s *Store) ClearApprovalReminder(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE authorization_requests SET remind_at = NULL, updated_at = now() WHERE id = $1`,
		id)
	if err != nil {
		return fmt.Errorf("clear approval %s reminder: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("clear approval %s reminder: %w", id, domain.ErrNotFound)
	}
	return nil
}

// RecordDegradation files a degradation notice for a tenant when a
// dependency serving its actions trips a circuit breaker.
func (s *Store) RecordDegradation(ctx context.Context, tenantID, service string, until time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO degradation_notices (tenant_id, service, degraded_until)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (tenant_id, service) DO UPDATE
		 SET degraded_until = EXCLUDED.degraded_until, updated_at = now()`,
		tenantID, service, until)
	if err != nil {
		return fmt.Errorf("record degradation for %s/%s: %w", tenantID, service, err)
	}
	return nil
}
