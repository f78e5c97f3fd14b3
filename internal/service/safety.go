package service

import (
	"context"
	"fmt"

	"github.com/drawbridge-sh/drawbridge/internal/port/database"
)

// StoreGate implements safety.Gate from the tenant's durable paused flag.
type StoreGate struct {
	store database.Store
}

// NewStoreGate creates a safety gate backed by the database store.
func NewStoreGate(store database.Store) *StoreGate {
	return &StoreGate{store: store}
}

// IsPaused reports whether the tenant has paused all autonomous execution.
func (g *StoreGate) IsPaused(ctx context.Context, tenantID string) (bool, error) {
	t, err := g.store.GetTenant(ctx, tenantID)
	if err != nil {
		return false, fmt.Errorf("safety gate: %w", err)
	}
	return t.Paused, nil
}
