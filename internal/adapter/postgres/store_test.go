package postgres_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/drawbridge-sh/drawbridge/internal/adapter/postgres"
	"github.com/drawbridge-sh/drawbridge/internal/domain"
	"github.com/drawbridge-sh/drawbridge/internal/domain/action"
	"github.com/drawbridge-sh/drawbridge/internal/domain/approval"
	"github.com/drawbridge-sh/drawbridge/internal/domain/tenant"
	"github.com/drawbridge-sh/drawbridge/internal/middleware"
)

// ctxWithTenant builds a context scoped to the given tenant, the way the
// TenantID middleware scopes a request.
func ctxWithTenant(t *testing.T, tenantID string) context.Context {
	t.Helper()
	return middleware.WithTenantID(context.Background(), tenantID)
}

// setupStore creates a pgxpool connection, runs all migrations, and returns
// a ready-to-use Store. The pool is closed via t.Cleanup.
func setupStore(t *testing.T) *postgres.Store {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}

	ctx := context.Background()

	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	t.Cleanup(pool.Close)

	return postgres.NewStore(pool)
}

// createTestTenant creates a tenant with a random slug and returns its ID.
func createTestTenant(t *testing.T, store *postgres.Store) string {
	t.Helper()
	slug := "test-" + uuid.New().String()[:8]
	tn, err := store.CreateTenant(context.Background(), tenant.CreateRequest{
		Name: "Test Tenant " + slug,
		Slug: slug,
		Contact: tenant.Contact{
			Email: slug + "@example.test",
		},
	})
	if err != nil {
		t.Fatalf("create test tenant: %v", err)
	}
	return tn.ID
}

func priceChangePayload(t *testing.T) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(action.PriceChange{
		ProductID:    "sku-1",
		CurrentPrice: 100,
		NewPrice:     85,
	})
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestTenantLifecycle(t *testing.T) {
	store := setupStore(t)
	id := createTestTenant(t, store)

	tn, err := store.GetTenant(context.Background(), id)
	if err != nil {
		t.Fatalf("get tenant: %v", err)
	}
	if tn.Paused {
		t.Fatal("new tenant should not be paused")
	}

	if err := store.SetTenantPaused(context.Background(), id, true); err != nil {
		t.Fatalf("pause tenant: %v", err)
	}

	tn, err = store.GetTenant(context.Background(), id)
	if err != nil {
		t.Fatalf("get tenant: %v", err)
	}
	if !tn.Paused {
		t.Fatal("tenant should be paused")
	}
}

func TestGetTenantNotFound(t *testing.T) {
	store := setupStore(t)

	_, err := store.GetTenant(context.Background(), uuid.New().String())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestActionCreateAndGet(t *testing.T) {
	store := setupStore(t)
	tenantID := createTestTenant(t, store)
	ctx := ctxWithTenant(t, tenantID)

	a, err := store.CreateAction(ctx, action.CreateRequest{
		AgentType: "pricing-agent",
		Kind:      action.KindPriceChange,
		Payload:   priceChangePayload(t),
	})
	if err != nil {
		t.Fatalf("create action: %v", err)
	}
	if a.Status != action.StatusPending {
		t.Fatalf("expected pending, got %s", a.Status)
	}

	got, err := store.GetAction(ctx, a.ID)
	if err != nil {
		t.Fatalf("get action: %v", err)
	}
	pc, ok := got.Payload.(action.PriceChange)
	if !ok {
		t.Fatalf("expected PriceChange payload, got %T", got.Payload)
	}
	if pc.NewPrice != 85 {
		t.Fatalf("expected new price 85, got %v", pc.NewPrice)
	}
}

func TestActionTenantIsolation(t *testing.T) {
	store := setupStore(t)
	ctxA := ctxWithTenant(t, createTestTenant(t, store))
	ctxB := ctxWithTenant(t, createTestTenant(t, store))

	a, err := store.CreateAction(ctxA, action.CreateRequest{
		Kind:    action.KindPriceChange,
		Payload: priceChangePayload(t),
	})
	if err != nil {
		t.Fatalf("create action: %v", err)
	}

	if _, err := store.GetAction(ctxB, a.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected cross-tenant lookup to fail with ErrNotFound, got %v", err)
	}
}

func TestActionCreateRejectsBadPayload(t *testing.T) {
	store := setupStore(t)
	ctx := ctxWithTenant(t, createTestTenant(t, store))

	_, err := store.CreateAction(ctx, action.CreateRequest{
		Kind:    action.KindPriceChange,
		Payload: json.RawMessage(`{"current_price": "not a number"}`),
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestClaimActionExactlyOnce(t *testing.T) {
	store := setupStore(t)
	ctx := ctxWithTenant(t, createTestTenant(t, store))

	a, err := store.CreateAction(ctx, action.CreateRequest{
		Kind:    action.KindPriceChange,
		Payload: priceChangePayload(t),
	})
	if err != nil {
		t.Fatalf("create action: %v", err)
	}

	const claimers = 8
	var wg sync.WaitGroup
	wins := make(chan bool, claimers)
	for range claimers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := store.ClaimAction(context.Background(), a.ID)
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			wins <- won
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for won := range wins {
		if won {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one claim winner, got %d", winners)
	}
}

func TestClaimActionRejectsTerminalStates(t *testing.T) {
	store := setupStore(t)
	ctx := ctxWithTenant(t, createTestTenant(t, store))

	a, err := store.CreateAction(ctx, action.CreateRequest{
		Kind:    action.KindPriceChange,
		Payload: priceChangePayload(t),
	})
	if err != nil {
		t.Fatalf("create action: %v", err)
	}

	if err := store.UpdateActionStatus(context.Background(), a.ID, action.StatusExecuted, ""); err != nil {
		t.Fatalf("update status: %v", err)
	}

	won, err := store.ClaimAction(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if won {
		t.Fatal("executed action must not be claimable")
	}
}

func createTestApproval(t *testing.T, store *postgres.Store, tenantID string, deadline time.Time) *approval.Request {
	t.Helper()
	r := &approval.Request{
		TenantID:      tenantID,
		AgentType:     "pricing-agent",
		OperationType: "price_change",
		Details:       map[string]any{"product_id": "sku-1"},
		Deadline:      deadline,
	}
	if err := store.CreateApproval(context.Background(), r); err != nil {
		t.Fatalf("create approval: %v", err)
	}
	return r
}

func TestDecideApprovalFirstWins(t *testing.T) {
	store := setupStore(t)
	tenantID := createTestTenant(t, store)
	r := createTestApproval(t, store, tenantID, time.Now().Add(time.Hour))

	won, err := store.DecideApproval(context.Background(), r.ID, approval.StatusApproved, approval.ChannelPush, time.Now())
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if !won {
		t.Fatal("first decision should win")
	}

	won, err = store.DecideApproval(context.Background(), r.ID, approval.StatusRejected, approval.ChannelSMS, time.Now())
	if err != nil {
		t.Fatalf("second decide: %v", err)
	}
	if won {
		t.Fatal("second decision must lose")
	}

	got, err := store.GetApproval(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("get approval: %v", err)
	}
	if got.Status != approval.StatusApproved {
		t.Fatalf("expected approved, got %s", got.Status)
	}
	if got.DecisionChannel != approval.ChannelPush {
		t.Fatalf("expected push channel, got %s", got.DecisionChannel)
	}
}

func TestExpireApprovalLosesToDecision(t *testing.T) {
	store := setupStore(t)
	tenantID := createTestTenant(t, store)
	r := createTestApproval(t, store, tenantID, time.Now().Add(time.Hour))

	if _, err := store.DecideApproval(context.Background(), r.ID, approval.StatusRejected, approval.ChannelEmail, time.Now()); err != nil {
		t.Fatalf("decide: %v", err)
	}

	expired, err := store.ExpireApproval(context.Background(), r.ID, time.Now().Add(24*time.Hour))
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if expired {
		t.Fatal("expiry must lose to an earlier decision")
	}
}

func TestListDueApprovalsAndReminders(t *testing.T) {
	store := setupStore(t)
	tenantID := createTestTenant(t, store)
	r := createTestApproval(t, store, tenantID, time.Now().Add(-time.Minute))

	due, err := store.ListDueApprovals(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if !containsApproval(due, r.ID) {
		t.Fatal("overdue request should be listed")
	}

	remindAt := time.Now().Add(-time.Second)
	if _, err := store.ExpireApproval(context.Background(), r.ID, remindAt); err != nil {
		t.Fatalf("expire: %v", err)
	}

	reminders, err := store.ListDueReminders(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("list reminders: %v", err)
	}
	if !containsApproval(reminders, r.ID) {
		t.Fatal("expired request with past remind_at should be listed")
	}

	if err := store.ClearApprovalReminder(context.Background(), r.ID); err != nil {
		t.Fatalf("clear reminder: %v", err)
	}

	reminders, err = store.ListDueReminders(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("list reminders: %v", err)
	}
	if containsApproval(reminders, r.ID) {
		t.Fatal("cleared reminder should not be listed")
	}
}

func TestMarkApprovalSentAccumulates(t *testing.T) {
	store := setupStore(t)
	tenantID := createTestTenant(t, store)
	r := createTestApproval(t, store, tenantID, time.Now().Add(time.Hour))

	now := time.Now().UTC().Truncate(time.Millisecond)
	if err := store.MarkApprovalSent(context.Background(), r.ID, approval.ChannelPush, now); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if err := store.MarkApprovalSent(context.Background(), r.ID, approval.ChannelEmail, now); err != nil {
		t.Fatalf("mark sent: %v", err)
	}

	got, err := store.GetApproval(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("get approval: %v", err)
	}
	if len(got.SentAt) != 2 {
		t.Fatalf("expected 2 sent_at entries, got %d", len(got.SentAt))
	}
}

func TestRecordDegradationUpsert(t *testing.T) {
	store := setupStore(t)
	tenantID := createTestTenant(t, store)

	until := time.Now().Add(time.Minute)
	if err := store.RecordDegradation(context.Background(), tenantID, "shopify", until); err != nil {
		t.Fatalf("record degradation: %v", err)
	}
	// Second notice for the same service must upsert, not error.
	if err := store.RecordDegradation(context.Background(), tenantID, "shopify", until.Add(time.Hour)); err != nil {
		t.Fatalf("record degradation again: %v", err)
	}
}

func containsApproval(requests []approval.Request, id string) bool {
	for _, r := range requests {
		if r.ID == id {
			return true
		}
	}
	return false
}
