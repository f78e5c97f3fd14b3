package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/drawbridge-sh/drawbridge/internal/middleware"
	"github.com/drawbridge-sh/drawbridge/internal/port/database"
	"github.com/drawbridge-sh/drawbridge/internal/resilience"
)

// DegradationRecorder returns an open-circuit hook that files a proactive
// degradation notice for the tenant whose call tripped the circuit. The
// breaker invokes the hook with the failing call's context, so the tenant
// set at the HTTP layer is still attached. Opens without a tenant, such
// as background traffic, record nothing.
func DegradationRecorder(store database.Store) resilience.OpenHook {
	return func(ctx context.Context, svc string, snap resilience.Snapshot) {
		tenantID := middleware.TenantIDFromContext(ctx)
		if tenantID == middleware.DefaultTenantID {
			return
		}
		window := snap.RetryAfter
		if window <= 0 {
			window = snap.OpenTimeout
		}
		if err := store.RecordDegradation(ctx, tenantID, svc, time.Now().Add(window)); err != nil {
			slog.Warn("record degradation notice",
				"tenant_id", tenantID, "service", svc, "error", err)
		}
	}
}
