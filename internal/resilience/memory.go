package resilience

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process StateStore for tests and single-node runs.
// Semantics match the Redis-backed store; state is simply not shared across
// processes.
type MemoryStore struct {
	mu  sync.Mutex
	m   map[string]*memState
	now func() time.Time
}

type memState struct {
	state       State
	failures    int
	multiplier  int
	openedAt    time.Time
	lastFailure time.Time
	openTimeout time.Duration
	trials      int
}

// NewMemoryStore creates an empty in-memory state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string]*memState), now: time.Now}
}

// SetNow overrides the clock, for tests.
func (s *MemoryStore) SetNow(now func() time.Time) { s.now = now }

func (s *MemoryStore) get(service string) *memState {
	st, ok := s.m[service]
	if !ok {
		st = &memState{state: StateClosed}
		s.m[service] = st
	}
	return st
}

func (s *MemoryStore) Acquire(_ context.Context, service string, cfg Config) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.get(service)
	now := s.now()

	switch st.state {
	case StateClosed:
		return Decision{Allowed: true}, nil
	case StateOpen:
		elapsed := now.Sub(st.openedAt)
		if elapsed < st.openTimeout {
			return Decision{RetryAfter: st.openTimeout - elapsed}, nil
		}
		st.state = StateHalfOpen
		st.trials = 1
		return Decision{Allowed: true, Trial: true}, nil
	case StateHalfOpen:
		if st.trials >= cfg.HalfOpenMaxTrials {
			return Decision{}, nil
		}
		st.trials++
		return Decision{Allowed: true, Trial: true}, nil
	}
	return Decision{}, nil
}

func (s *MemoryStore) Success(_ context.Context, service string, trial bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.get(service)
	st.failures = 0
	if trial && st.state == StateHalfOpen {
		st.state = StateClosed
		st.multiplier = 0
		st.trials = 0
		return true, nil
	}
	return false, nil
}

func (s *MemoryStore) Failure(_ context.Context, service string, trial bool, cfg Config) (Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.get(service)
	now := s.now()
	st.failures++
	st.lastFailure = now

	opened := false
	if (trial && st.state == StateHalfOpen) || (st.state == StateClosed && st.failures >= cfg.Threshold) {
		st.state = StateOpen
		st.multiplier++
		st.openTimeout = OpenWindow(cfg, st.multiplier)
		st.openedAt = now
		st.trials = 0
		opened = true
	}
	return s.snapshotLocked(service, st), opened, nil
}

func (s *MemoryStore) Snapshot(_ context.Context, service string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(service, s.get(service)), nil
}

func (s *MemoryStore) snapshotLocked(service string, st *memState) Snapshot {
	snap := Snapshot{
		Service:       service,
		State:         st.state,
		Failures:      st.failures,
		Multiplier:    st.multiplier,
		OpenedAt:      st.openedAt,
		LastFailureAt: st.lastFailure,
		OpenTimeout:   st.openTimeout,
		Trials:        st.trials,
	}
	if st.state == StateOpen {
		if remaining := st.openTimeout - s.now().Sub(st.openedAt); remaining > 0 {
			snap.RetryAfter = remaining
		}
	}
	return snap
}
