package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "drawbridge"

// Metrics holds all drawbridge metric instruments.
type Metrics struct {
	BreakerOpens        metric.Int64Counter
	BreakerRecoveries   metric.Int64Counter
	ApprovalsInitiated  metric.Int64Counter
	ApprovalDecisions   metric.Int64Counter
	ApprovalsExpired    metric.Int64Counter
	ExecutionsStarted   metric.Int64Counter
	ExecutionsCompleted metric.Int64Counter
	ExecutionDuration   metric.Float64Histogram
	CommitRetries       metric.Int64Counter
	IdempotentReplays   metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.BreakerOpens, err = meter.Int64Counter("drawbridge.breaker.opens",
		metric.WithDescription("Number of circuit breaker transitions to open"))
	if err != nil {
		return nil, err
	}

	m.BreakerRecoveries, err = meter.Int64Counter("drawbridge.breaker.recoveries",
		metric.WithDescription("Number of circuit breaker recoveries to closed"))
	if err != nil {
		return nil, err
	}

	m.ApprovalsInitiated, err = meter.Int64Counter("drawbridge.approvals.initiated",
		metric.WithDescription("Number of authorization requests created"))
	if err != nil {
		return nil, err
	}

	m.ApprovalDecisions, err = meter.Int64Counter("drawbridge.approvals.decisions",
		metric.WithDescription("Number of authorization decisions recorded"))
	if err != nil {
		return nil, err
	}

	m.ApprovalsExpired, err = meter.Int64Counter("drawbridge.approvals.expired",
		metric.WithDescription("Number of authorization requests expired on timeout"))
	if err != nil {
		return nil, err
	}

	m.ExecutionsStarted, err = meter.Int64Counter("drawbridge.executions.started",
		metric.WithDescription("Number of action executions started"))
	if err != nil {
		return nil, err
	}

	m.ExecutionsCompleted, err = meter.Int64Counter("drawbridge.executions.completed",
		metric.WithDescription("Number of action executions reaching a terminal state"))
	if err != nil {
		return nil, err
	}

	m.ExecutionDuration, err = meter.Float64Histogram("drawbridge.execution.duration_seconds",
		metric.WithDescription("Action execution duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.CommitRetries, err = meter.Int64Counter("drawbridge.commit.retries",
		metric.WithDescription("Number of channel commit retries"))
	if err != nil {
		return nil, err
	}

	m.IdempotentReplays, err = meter.Int64Counter("drawbridge.idempotency.replays",
		metric.WithDescription("Number of requests served from the idempotency cache"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
