package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// CircuitOpenError is returned when the circuit is open and rejecting calls.
// RetryAfter is the exact remaining window; callers must not treat this as
// a provider failure or spend retry budget on it.
type CircuitOpenError struct {
	Service    string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s (retry after %s)", e.Service, e.RetryAfter)
}

// OpenHook is invoked when a circuit opens. The context is the one the
// failing call ran under, so tenant information survives into the hook.
type OpenHook func(ctx context.Context, service string, snap Snapshot)

// RecoverHook is invoked when a half-open trial closes the circuit.
type RecoverHook func(ctx context.Context, service string)

// Breaker protects calls to one external service with circuit state shared
// across all orchestrator instances via a StateStore.
type Breaker struct {
	service   string
	store     StateStore
	cfg       Config
	onOpen    OpenHook
	onRecover RecoverHook
}

// Execute runs fn if the circuit admits the call.
// Returns *CircuitOpenError without invoking fn when the circuit is open.
// Failures are classified before counting: only infrastructure-shaped
// errors move the circuit.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	dec, err := b.store.Acquire(ctx, b.service, b.cfg)
	if err != nil {
		// The shared store being down must not take the data path with it;
		// isolation is a heuristic, the call itself is the work.
		slog.Warn("breaker state store unavailable, admitting call",
			"service", b.service, "error", err)
		dec = Decision{Allowed: true}
	}
	if !dec.Allowed {
		return &CircuitOpenError{Service: b.service, RetryAfter: dec.RetryAfter}
	}

	callErr := fn(ctx)

	if callErr == nil {
		recovered, serr := b.store.Success(ctx, b.service, dec.Trial)
		if serr != nil {
			slog.Warn("breaker success not recorded", "service", b.service, "error", serr)
		}
		if recovered {
			slog.Info("circuit recovered", "service", b.service)
			if b.onRecover != nil {
				b.onRecover(ctx, b.service)
			}
		}
		return nil
	}

	if !Counts(callErr) {
		return callErr
	}

	snap, opened, serr := b.store.Failure(ctx, b.service, dec.Trial, b.cfg)
	if serr != nil {
		slog.Warn("breaker failure not recorded", "service", b.service, "error", serr)
		return callErr
	}
	if opened {
		slog.Error("circuit opened",
			"service", b.service,
			"failures", snap.Failures,
			"multiplier", snap.Multiplier,
			"open_timeout", snap.OpenTimeout,
		)
		if b.onOpen != nil {
			b.onOpen(ctx, b.service, snap)
		}
	}
	return callErr
}

// Service returns the dependency this breaker guards.
func (b *Breaker) Service() string { return b.service }

// Registry hands out one Breaker per service, all sharing a StateStore and
// configuration.
type Registry struct {
	mu        sync.Mutex
	store     StateStore
	cfg       Config
	onOpen    OpenHook
	onRecover RecoverHook
	breakers  map[string]*Breaker
}

// NewRegistry creates a breaker registry over the given shared state store.
func NewRegistry(store StateStore, cfg Config) *Registry {
	return &Registry{
		store:    store,
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
	}
}

// OnOpen sets the hook invoked whenever any circuit opens.
// Must be called before the registry hands out breakers.
func (r *Registry) OnOpen(fn OpenHook) { r.onOpen = fn }

// OnRecover sets the hook invoked whenever any circuit recovers.
// Must be called before the registry hands out breakers.
func (r *Registry) OnRecover(fn RecoverHook) { r.onRecover = fn }

// For returns the breaker guarding the named service, creating it on first use.
func (r *Registry) For(service string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[service]; ok {
		return b
	}
	b := &Breaker{
		service:   service,
		store:     r.store,
		cfg:       r.cfg,
		onOpen:    r.onOpen,
		onRecover: r.onRecover,
	}
	r.breakers[service] = b
	return b
}

// Status returns the shared circuit state for a service.
func (r *Registry) Status(ctx context.Context, service string) (Snapshot, error) {
	return r.store.Snapshot(ctx, service)
}
