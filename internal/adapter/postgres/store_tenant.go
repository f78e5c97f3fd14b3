package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/drawbridge-sh/drawbridge/internal/domain"
	"github.com/drawbridge-sh/drawbridge/internal/domain/tenant"
)

const tenantColumns = `id, name, slug, paused, contact, created_at, updated_at`

func scanTenant(row scannable) (*tenant.Tenant, error) {
	var t tenant.Tenant
	var contactJSON []byte
	if err := row.Scan(&t.ID, &t.Name, &t.Slug, &t.Paused, &contactJSON, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if contactJSON != nil {
		_ = json.Unmarshal(contactJSON, &t.Contact)
	}
	return &t, nil
}

func (s *Store) CreateTenant(ctx context.Context, req tenant.CreateRequest) (*tenant.Tenant, error) {
	contactJSON, err := json.Marshal(req.Contact)
	if err != nil {
		return nil, fmt.Errorf("marshal contact: %w", err)
	}

	t, err := scanTenant(s.pool.QueryRow(ctx,
		`INSERT INTO tenants (name, slug, contact) VALUES ($1, $2, $3)
		 RETURNING `+tenantColumns,
		req.Name, req.Slug, contactJSON))
	if err != nil {
		return nil, fmt.Errorf("create tenant: %w", err)
	}
	return t, nil
}

func (s *Store) GetTenant(ctx context.Context, id string) (*tenant.Tenant, error) {
	t, err := scanTenant(s.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get tenant %s", id)
	}
	return t, nil
}

func (s *Store) SetTenantPaused(ctx context.Context, id string, paused bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tenants SET paused = $2, updated_at = now() WHERE id = $1`,
		id, paused)
	if err != nil {
		return fmt.Errorf("set tenant %s paused: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set tenant %s paused: %w", id, domain.ErrNotFound)
	}
	return nil
}
