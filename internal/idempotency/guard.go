// Package idempotency deduplicates retried mutating requests through the
// shared cache, so a client retry has at most one externally visible effect.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/drawbridge-sh/drawbridge/internal/port/cache"
)

// ErrMissingKey is returned when the caller supplies no client key.
// Silently skipping deduplication would turn a client bug into duplicate
// side effects.
var ErrMissingKey = errors.New("idempotency: client key is required")

// Guard deduplicates operations keyed by (tenant, endpoint, client key).
type Guard struct {
	cache cache.Cache
	ttl   time.Duration
}

// New creates a Guard over the shared cache. Results are kept for ttl.
func New(c cache.Cache, ttl time.Duration) *Guard {
	return &Guard{cache: c, ttl: ttl}
}

// Key derives the cache key. The tenant and endpoint are part of the hash,
// so the same client token against a different tenant or endpoint is a
// different operation.
func Key(tenantID, endpoint, clientKey string) string {
	sum := sha256.Sum256([]byte(tenantID + "|" + endpoint + "|" + clientKey))
	return "idem:" + hex.EncodeToString(sum[:])
}

// Ensure runs op at most once for the given (tenant, endpoint, clientKey).
// A cache hit returns the stored result without invoking op; replayed
// reports that. Only successful results are cached: an op error is returned
// as-is and the next attempt with the same key re-executes.
//
// Two concurrent duplicates may both invoke op, with one result becoming
// canonical; the shared cache is a dedup heuristic, not a lock.
func (g *Guard) Ensure(ctx context.Context, tenantID, endpoint, clientKey string, op func(context.Context) ([]byte, error)) (result []byte, replayed bool, err error) {
	if clientKey == "" {
		return nil, false, ErrMissingKey
	}

	key := Key(tenantID, endpoint, clientKey)

	cached, found, err := g.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("idempotency cache read failed, executing anyway", "error", err)
	} else if found {
		return cached, true, nil
	}

	result, err = op(ctx)
	if err != nil {
		return nil, false, err
	}

	if err := g.cache.Set(ctx, key, result, g.ttl); err != nil {
		slog.Warn("idempotency cache write failed", "error", err)
	}
	return result, false, nil
}

// Invalidate removes a cached result by its derived key. This is an
// administrative rollback primitive; the orchestrator never calls it.
func (g *Guard) Invalidate(ctx context.Context, key string) error {
	if key == "" {
		return ErrMissingKey
	}
	if err := g.cache.Delete(ctx, key); err != nil {
		return fmt.Errorf("invalidate %s: %w", key, err)
	}
	return nil
}
