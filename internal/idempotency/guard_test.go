package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// memCache is a simple in-memory cache for testing.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func TestEnsureExecutesOnce(t *testing.T) {
	t.Parallel()

	g := New(newMemCache(), time.Hour)
	ctx := context.Background()
	calls := 0
	op := func(context.Context) ([]byte, error) {
		calls++
		return []byte(`{"status":"success"}`), nil
	}

	res1, replayed, err := g.Ensure(ctx, "tenant-a", "execute_action", "key-1", op)
	if err != nil || replayed {
		t.Fatalf("first call: replayed=%v err=%v", replayed, err)
	}
	res2, replayed, err := g.Ensure(ctx, "tenant-a", "execute_action", "key-1", op)
	if err != nil {
		t.Fatal(err)
	}
	if !replayed {
		t.Fatal("expected second call to replay the cached result")
	}
	if calls != 1 {
		t.Fatalf("expected op to run once, ran %d times", calls)
	}
	if string(res1) != string(res2) {
		t.Fatalf("expected identical results, got %s and %s", res1, res2)
	}
}

func TestEnsureScopesKeyByTenantAndEndpoint(t *testing.T) {
	t.Parallel()

	g := New(newMemCache(), time.Hour)
	ctx := context.Background()
	calls := 0
	op := func(context.Context) ([]byte, error) {
		calls++
		return []byte("ok"), nil
	}

	if _, _, err := g.Ensure(ctx, "tenant-a", "execute_action", "key-1", op); err != nil {
		t.Fatal(err)
	}
	if _, _, err := g.Ensure(ctx, "tenant-b", "execute_action", "key-1", op); err != nil {
		t.Fatal(err)
	}
	if _, _, err := g.Ensure(ctx, "tenant-a", "launch_campaign", "key-1", op); err != nil {
		t.Fatal(err)
	}

	if calls != 3 {
		t.Fatalf("expected 3 executions across scopes, got %d", calls)
	}
}

func TestEnsureNeverCachesErrors(t *testing.T) {
	t.Parallel()

	g := New(newMemCache(), time.Hour)
	ctx := context.Background()
	calls := 0
	failing := errors.New("provider down")
	op := func(context.Context) ([]byte, error) {
		calls++
		if calls == 1 {
			return nil, failing
		}
		return []byte("ok"), nil
	}

	if _, _, err := g.Ensure(ctx, "tenant-a", "execute_action", "key-1", op); !errors.Is(err, failing) {
		t.Fatalf("expected op error passed through, got %v", err)
	}

	res, replayed, err := g.Ensure(ctx, "tenant-a", "execute_action", "key-1", op)
	if err != nil {
		t.Fatal(err)
	}
	if replayed {
		t.Fatal("expected re-execution after a failed attempt, not a replay")
	}
	if string(res) != "ok" || calls != 2 {
		t.Fatalf("expected second execution to succeed, res=%s calls=%d", res, calls)
	}
}

func TestEnsureRequiresClientKey(t *testing.T) {
	t.Parallel()

	g := New(newMemCache(), time.Hour)
	_, _, err := g.Ensure(context.Background(), "tenant-a", "execute_action", "", func(context.Context) ([]byte, error) {
		t.Fatal("op must not run without a client key")
		return nil, nil
	})
	if !errors.Is(err, ErrMissingKey) {
		t.Fatalf("expected ErrMissingKey, got %v", err)
	}
}

func TestInvalidateRemovesEntry(t *testing.T) {
	t.Parallel()

	g := New(newMemCache(), time.Hour)
	ctx := context.Background()
	calls := 0
	op := func(context.Context) ([]byte, error) {
		calls++
		return []byte("ok"), nil
	}

	if _, _, err := g.Ensure(ctx, "tenant-a", "execute_action", "key-1", op); err != nil {
		t.Fatal(err)
	}
	if err := g.Invalidate(ctx, Key("tenant-a", "execute_action", "key-1")); err != nil {
		t.Fatal(err)
	}
	if _, _, err := g.Ensure(ctx, "tenant-a", "execute_action", "key-1", op); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Fatalf("expected re-execution after invalidation, got %d calls", calls)
	}
}
