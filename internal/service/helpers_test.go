package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/drawbridge-sh/drawbridge/internal/domain"
	"github.com/drawbridge-sh/drawbridge/internal/domain/action"
	"github.com/drawbridge-sh/drawbridge/internal/domain/approval"
	"github.com/drawbridge-sh/drawbridge/internal/domain/tenant"
	"github.com/drawbridge-sh/drawbridge/internal/port/channel"
	"github.com/drawbridge-sh/drawbridge/internal/port/messagequeue"
	"github.com/drawbridge-sh/drawbridge/internal/port/notifier"
	"github.com/drawbridge-sh/drawbridge/internal/port/simulator"
)

// memStore is an in-memory database.Store for service tests. Conditional
// transitions use the same guard semantics as the SQL implementation.
type memStore struct {
	mu           sync.Mutex
	tenants      map[string]*tenant.Tenant
	actions      map[string]*action.Attempt
	approvals    map[string]*approval.Request
	degradations map[string]time.Time // "tenantID|service" -> degraded_until
}

func newMemStore() *memStore {
	return &memStore{
		tenants:      make(map[string]*tenant.Tenant),
		actions:      make(map[string]*action.Attempt),
		approvals:    make(map[string]*approval.Request),
		degradations: make(map[string]time.Time),
	}
}

func (m *memStore) addTenant(t *tenant.Tenant) *tenant.Tenant {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	m.tenants[t.ID] = t
	return t
}

func (m *memStore) addAction(a *action.Attempt) *action.Attempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Status == "" {
		a.Status = action.StatusPending
	}
	m.actions[a.ID] = a
	return a
}

func (m *memStore) GetTenant(_ context.Context, id string) (*tenant.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, fmt.Errorf("tenant %s: %w", id, domain.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) CreateTenant(_ context.Context, req tenant.CreateRequest) (*tenant.Tenant, error) {
	t := &tenant.Tenant{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Slug:      req.Slug,
		Contact:   req.Contact,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[t.ID] = t
	return t, nil
}

func (m *memStore) SetTenantPaused(_ context.Context, id string, paused bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.Paused = paused
	return nil
}

func (m *memStore) GetAction(_ context.Context, id string) (*action.Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actions[id]
	if !ok {
		return nil, fmt.Errorf("action %s: %w", id, domain.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) ListActions(_ context.Context, status action.Status) ([]action.Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []action.Attempt
	for _, a := range m.actions {
		if status == "" || a.Status == status {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memStore) CreateAction(_ context.Context, req action.CreateRequest) (*action.Attempt, error) {
	p, err := action.DecodePayload(req.Kind, req.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrValidation, err)
	}
	a := &action.Attempt{
		ID:        uuid.New().String(),
		AgentType: req.AgentType,
		Kind:      req.Kind,
		Payload:   p,
		Status:    action.StatusPending,
		CreatedAt: time.Now(),
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions[a.ID] = a
	return a, nil
}

func (m *memStore) ClaimAction(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actions[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if a.Status != action.StatusPending && a.Status != action.StatusApproved {
		return false, nil
	}
	a.Status = action.StatusExecuting
	return true, nil
}

func (m *memStore) UpdateActionStatus(_ context.Context, id string, status action.Status, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actions[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.Status = status
	a.FailureReason = reason
	return nil
}

func (m *memStore) SetActionRetryCount(_ context.Context, id string, retries int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actions[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.RetryCount = retries
	return nil
}

func (m *memStore) SetActionChannelResults(_ context.Context, id string, results []action.ChannelResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actions[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.ChannelResults = results
	return nil
}

func (m *memStore) SetActionVerification(_ context.Context, id string, v action.Verification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actions[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.Verification = &v
	return nil
}

func (m *memStore) CreateApproval(_ context.Context, r *approval.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = uuid.New().String()
	r.Status = approval.StatusPending
	r.CreatedAt = time.Now()
	cp := *r
	m.approvals[r.ID] = &cp
	return nil
}

func (m *memStore) GetApproval(_ context.Context, id string) (*approval.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.approvals[id]
	if !ok {
		return nil, fmt.Errorf("approval %s: %w", id, domain.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) ListApprovals(_ context.Context, status approval.Status) ([]approval.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []approval.Request
	for _, r := range m.approvals {
		if status == "" || r.Status == status {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memStore) MarkApprovalSent(_ context.Context, id string, ch approval.Channel, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.approvals[id]
	if !ok {
		return domain.ErrNotFound
	}
	if r.SentAt == nil {
		r.SentAt = make(map[approval.Channel]time.Time)
	}
	r.SentAt[ch] = at
	return nil
}

func (m *memStore) DecideApproval(_ context.Context, id string, status approval.Status, ch approval.Channel, decidedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.approvals[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if !r.Status.Decidable() {
		return false, nil
	}
	r.Status = status
	r.DecisionChannel = ch
	r.DecidedAt = &decidedAt
	return true, nil
}

func (m *memStore) ExpireApproval(_ context.Context, id string, remindAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.approvals[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if !r.Status.Decidable() {
		return false, nil
	}
	r.Status = approval.StatusExpired
	r.RemindAt = &remindAt
	return true, nil
}

func (m *memStore) EscalateApproval(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.approvals[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if r.Status != approval.StatusPending {
		return false, nil
	}
	r.Status = approval.StatusPendingManual
	return true, nil
}

func (m *memStore) ListDueApprovals(_ context.Context, now time.Time) ([]approval.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []approval.Request
	for _, r := range m.approvals {
		if r.Status.Decidable() && !r.Deadline.After(now) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memStore) ListDueReminders(_ context.Context, now time.Time) ([]approval.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []approval.Request
	for _, r := range m.approvals {
		if r.Status == approval.StatusExpired && r.RemindAt != nil && !r.RemindAt.After(now) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memStore) ClearApprovalReminder(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.approvals[id]
	if !ok {
		return domain.ErrNotFound
	}
	r.RemindAt = nil
	return nil
}

func (m *memStore) RecordDegradation(_ context.Context, tenantID, service string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.degradations[tenantID+"|"+service] = until
	return nil
}

func (m *memStore) degradationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.degradations)
}

func (m *memStore) degradedUntil(tenantID, service string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.degradations[tenantID+"|"+service]
	return until, ok
}

// memQueue is a synchronous in-memory messagequeue.Queue.
type memQueue struct {
	mu   sync.Mutex
	subs map[string][]messagequeue.Handler
	log  []string // published subjects, in order
}

func newMemQueue() *memQueue {
	return &memQueue{subs: make(map[string][]messagequeue.Handler)}
}

func (q *memQueue) Publish(ctx context.Context, subject string, data []byte) error {
	q.mu.Lock()
	handlers := append([]messagequeue.Handler(nil), q.subs[subject]...)
	q.log = append(q.log, subject)
	q.mu.Unlock()

	for _, h := range handlers {
		_ = h(ctx, subject, data)
	}
	return nil
}

func (q *memQueue) Subscribe(_ context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.subs[subject] = append(q.subs[subject], handler)
	return func() {}, nil
}

func (q *memQueue) Drain() error      { return nil }
func (q *memQueue) Close() error      { return nil }
func (q *memQueue) IsConnected() bool { return true }

func (q *memQueue) published(prefix string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, s := range q.log {
		if strings.HasPrefix(s, prefix) {
			n++
		}
	}
	return n
}

// memHub records broadcast events.
type memHub struct {
	mu     sync.Mutex
	events []string
}

func (h *memHub) BroadcastEvent(_ context.Context, eventType string, _ any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, eventType)
}

func (h *memHub) BroadcastEventToTenant(ctx context.Context, _ string, eventType string, payload any) {
	h.BroadcastEvent(ctx, eventType, payload)
}

// memNotifier records sent notifications under a configurable name.
type memNotifier struct {
	name string
	mu   sync.Mutex
	sent []notifier.Notification
	fail bool
}

func (n *memNotifier) Name() string                        { return n.name }
func (n *memNotifier) Capabilities() notifier.Capabilities { return notifier.Capabilities{} }

func (n *memNotifier) Send(_ context.Context, notification notifier.Notification) error {
	if n.fail {
		return fmt.Errorf("%s: delivery failed", n.name)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification)
	return nil
}

func (n *memNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

// stubGate is a fixed safety.Gate.
type stubGate struct{ paused bool }

func (g stubGate) IsPaused(context.Context, string) (bool, error) { return g.paused, nil }

// stubSim returns a fixed assessment.
type stubSim struct{ assessment simulator.Assessment }

func (s stubSim) Simulate(context.Context, string, *action.Attempt) (simulator.Assessment, error) {
	return s.assessment, nil
}

// stubChannel is a scripted channel.Adapter: each Commit call consumes the
// next result in the script, repeating the last one when exhausted.
type stubChannel struct {
	name   string
	mu     sync.Mutex
	script []channel.Result
	calls  int
}

func (c *stubChannel) Name() string { return c.name }

func (c *stubChannel) Commit(context.Context, channel.CommitRequest) channel.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.calls
	c.calls++
	if i >= len(c.script) {
		i = len(c.script) - 1
	}
	return c.script[i]
}

func (c *stubChannel) Withdraw(context.Context, string, string) channel.Result {
	return channel.Result{Success: true}
}

func (c *stubChannel) commits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func ok(ref string) channel.Result {
	return channel.Result{Success: true, ExternalRef: ref}
}
