// Package safety defines the tenant-wide safety gate port (interface).
package safety

import "context"

// Gate answers whether a tenant has paused all autonomous execution.
// The default implementation reads the tenant's durable paused flag; tests
// substitute a fake.
type Gate interface {
	IsPaused(ctx context.Context, tenantID string) (bool, error)
}
