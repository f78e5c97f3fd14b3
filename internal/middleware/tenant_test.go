package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/drawbridge-sh/drawbridge/internal/middleware"
)

func tenantCapture(got *string) http.Handler {
	return middleware.TenantID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		*got = middleware.TenantIDFromContext(r.Context())
	}))
}

func TestTenantIDFromHeader(t *testing.T) {
	var got string
	req := httptest.NewRequest("GET", "/", http.NoBody)
	req.Header.Set("X-Tenant-ID", "0b54a9c2-637e-4b9e-9f40-3a1f0a6f8d11")
	tenantCapture(&got).ServeHTTP(httptest.NewRecorder(), req)

	if got != "0b54a9c2-637e-4b9e-9f40-3a1f0a6f8d11" {
		t.Fatalf("expected header tenant, got %s", got)
	}
}

func TestTenantIDNormalizesCase(t *testing.T) {
	var got string
	req := httptest.NewRequest("GET", "/", http.NoBody)
	req.Header.Set("X-Tenant-ID", "0B54A9C2-637E-4B9E-9F40-3A1F0A6F8D11")
	tenantCapture(&got).ServeHTTP(httptest.NewRecorder(), req)

	if got != "0b54a9c2-637e-4b9e-9f40-3a1f0a6f8d11" {
		t.Fatalf("expected canonical lowercase tenant, got %s", got)
	}
}

func TestTenantIDDefaultFallback(t *testing.T) {
	var got string
	req := httptest.NewRequest("GET", "/", http.NoBody)
	tenantCapture(&got).ServeHTTP(httptest.NewRecorder(), req)

	if got != middleware.DefaultTenantID {
		t.Fatalf("expected default tenant, got %s", got)
	}
}

func TestTenantIDRejectsMalformed(t *testing.T) {
	called := false
	handler := middleware.TenantID(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		called = true
	}))

	req := httptest.NewRequest("GET", "/", http.NoBody)
	req.Header.Set("X-Tenant-ID", "not-a-uuid")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if called {
		t.Fatal("handler must not run for a malformed tenant id")
	}
}

func TestTenantIDFromContextMissing(t *testing.T) {
	req := httptest.NewRequest("GET", "/", http.NoBody)
	got := middleware.TenantIDFromContext(req.Context())
	if got != middleware.DefaultTenantID {
		t.Fatalf("expected default tenant, got %s", got)
	}
}

func TestWithTenantID(t *testing.T) {
	ctx := middleware.WithTenantID(t.Context(), "0b54a9c2-637e-4b9e-9f40-3a1f0a6f8d11")
	if got := middleware.TenantIDFromContext(ctx); got != "0b54a9c2-637e-4b9e-9f40-3a1f0a6f8d11" {
		t.Fatalf("expected tagged tenant, got %s", got)
	}
}
