package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// DefaultTenantID is the tenant used when no X-Tenant-ID header is set.
// Single-merchant deployments run everything under it; multi-tenant
// deployments must send the header on every request because actions,
// authorization requests and idempotency keys are all scoped by it.
const DefaultTenantID = "00000000-0000-0000-0000-000000000000"

const headerTenantID = "X-Tenant-ID"

type tenantCtxKey struct{}

// TenantID extracts the tenant from the X-Tenant-ID header and stores it
// in the request context. A missing header falls back to DefaultTenantID;
// a malformed one is rejected up front rather than surfacing later as a
// storage error on a half-processed request.
func TenantID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(headerTenantID)
		if raw == "" {
			next.ServeHTTP(w, r.WithContext(WithTenantID(r.Context(), DefaultTenantID)))
			return
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid tenant id"}`))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithTenantID(r.Context(), id.String())))
	})
}

// WithTenantID returns ctx tagged with the given tenant. Non-HTTP entry
// points (queue consumers, tests) use it to scope work the same way
// TenantID does for requests.
func WithTenantID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, tenantCtxKey{}, id)
}

// TenantIDFromContext returns the tenant stored in ctx, or DefaultTenantID
// if absent.
func TenantIDFromContext(ctx context.Context) string {
	if tid, ok := ctx.Value(tenantCtxKey{}).(string); ok {
		return tid
	}
	return DefaultTenantID
}
