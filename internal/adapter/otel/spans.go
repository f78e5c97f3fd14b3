package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "drawbridge"

// StartExecutionSpan starts a span for an action execution.
func StartExecutionSpan(ctx context.Context, actionID, tenantID, kind string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "execution",
		trace.WithAttributes(
			attribute.String("action.id", actionID),
			attribute.String("tenant.id", tenantID),
			attribute.String("action.kind", kind),
		),
	)
}

// StartCommitSpan starts a span for a single channel commit within an execution.
func StartCommitSpan(ctx context.Context, actionID, channel string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "commit",
		trace.WithAttributes(
			attribute.String("action.id", actionID),
			attribute.String("commit.channel", channel),
		),
	)
}

// StartApprovalWaitSpan starts a span covering the blocking wait for a
// human authorization decision.
func StartApprovalWaitSpan(ctx context.Context, requestID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "approval.wait",
		trace.WithAttributes(
			attribute.String("approval.id", requestID),
		),
	)
}
