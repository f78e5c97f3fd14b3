package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/drawbridge-sh/drawbridge/internal/domain"
	"github.com/drawbridge-sh/drawbridge/internal/domain/action"
	"github.com/drawbridge-sh/drawbridge/internal/middleware"
)

const actionColumns = `id, tenant_id, agent_type, kind, payload, status, failure_reason,
	retry_count, channel_results, verification, created_at, updated_at`

func scanAction(row scannable) (*action.Attempt, error) {
	var a action.Attempt
	var payloadJSON, resultsJSON, verificationJSON []byte
	err := row.Scan(&a.ID, &a.TenantID, &a.AgentType, &a.Kind, &payloadJSON, &a.Status,
		&a.FailureReason, &a.RetryCount, &resultsJSON, &verificationJSON, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}

	a.Payload, err = action.DecodePayload(a.Kind, payloadJSON)
	if err != nil {
		return nil, fmt.Errorf("action %s: %w", a.ID, err)
	}
	if resultsJSON != nil {
		_ = json.Unmarshal(resultsJSON, &a.ChannelResults)
	}
	if verificationJSON != nil {
		a.Verification = &action.Verification{}
		_ = json.Unmarshal(verificationJSON, a.Verification)
	}
	return &a, nil
}

func (s *Store) CreateAction(ctx context.Context, req action.CreateRequest) (*action.Attempt, error) {
	// The payload must round-trip through its typed form so malformed
	// requests fail here, not at execution time.
	if _, err := action.DecodePayload(req.Kind, req.Payload); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrValidation, err)
	}

	a, err := scanAction(s.pool.QueryRow(ctx,
		`INSERT INTO actions (tenant_id, agent_type, kind, payload)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+actionColumns,
		middleware.TenantIDFromContext(ctx), req.AgentType, req.Kind, []byte(req.Payload)))
	if err != nil {
		return nil, fmt.Errorf("create action: %w", err)
	}
	return a, nil
}

func (s *Store) GetAction(ctx context.Context, id string) (*action.Attempt, error) {
	a, err := scanAction(s.pool.QueryRow(ctx,
		`SELECT `+actionColumns+` FROM actions WHERE id = $1 AND tenant_id = $2`,
		id, middleware.TenantIDFromContext(ctx)))
	if err != nil {
		return nil, notFoundWrap(err, "get action %s", id)
	}
	return a, nil
}

func (s *Store) ListActions(ctx context.Context, status action.Status) ([]action.Attempt, error) {
	query := `SELECT ` + actionColumns + ` FROM actions WHERE tenant_id = $1`
	args := []any{middleware.TenantIDFromContext(ctx)}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	var attempts []action.Attempt
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		attempts = append(attempts, *a)
	}
	return attempts, rows.Err()
}

// ClaimAction atomically transitions {pending, approved} -> executing.
// Losing the race is not an error; the caller checks the bool.
func (s *Store) ClaimAction(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE actions SET status = $2, updated_at = now()
		 WHERE id = $1 AND status IN ($3, $4)`,
		id, action.StatusExecuting, action.StatusPending, action.StatusApproved)
	if err != nil {
		return false, fmt.Errorf("claim action %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) UpdateActionStatus(ctx context.Context, id string, status action.Status, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE actions SET status = $2, failure_reason = $3, updated_at = now() WHERE id = $1`,
		id, status, reason)
	if err != nil {
		return fmt.Errorf("update action %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update action %s status: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) SetActionRetryCount(ctx context.Context, id string, retries int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE actions SET retry_count = $2, updated_at = now() WHERE id = $1`,
		id, retries)
	if err != nil {
		return fmt.Errorf("set action %s retry count: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set action %s retry count: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) SetActionChannelResults(ctx context.Context, id string, results []action.ChannelResult) error {
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshal channel results: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE actions SET channel_results = $2, updated_at = now() WHERE id = $1`,
		id, resultsJSON)
	if err != nil {
		return fmt.Errorf("set action %s channel results: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set action %s channel results: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) SetActionVerification(ctx context.Context, id string, v action.Verification) error {
	verificationJSON, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal verification: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE actions SET verification = $2, updated_at = now() WHERE id = $1`,
		id, verificationJSON)
	if err != nil {
		return fmt.Errorf("set action %s verification: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set action %s verification: %w", id, domain.ErrNotFound)
	}
	return nil
}
