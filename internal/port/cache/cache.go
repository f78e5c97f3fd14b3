// Package cache defines the port interface for the shared cache.
package cache

import (
	"context"
	"time"
)

// Cache is the port interface for key-value caching. Implementations are
// shared across orchestrator instances; entries tolerate concurrent
// last-write-wins mutation.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
