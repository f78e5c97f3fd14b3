package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	dbotel "github.com/drawbridge-sh/drawbridge/internal/adapter/otel"
	"github.com/drawbridge-sh/drawbridge/internal/adapter/ws"
	"github.com/drawbridge-sh/drawbridge/internal/config"
	"github.com/drawbridge-sh/drawbridge/internal/logger"
	"github.com/drawbridge-sh/drawbridge/internal/domain/action"
	"github.com/drawbridge-sh/drawbridge/internal/domain/approval"
	"github.com/drawbridge-sh/drawbridge/internal/port/broadcast"
	"github.com/drawbridge-sh/drawbridge/internal/port/channel"
	"github.com/drawbridge-sh/drawbridge/internal/port/database"
	"github.com/drawbridge-sh/drawbridge/internal/port/messagequeue"
	"github.com/drawbridge-sh/drawbridge/internal/port/notifier"
	"github.com/drawbridge-sh/drawbridge/internal/port/safety"
	"github.com/drawbridge-sh/drawbridge/internal/port/simulator"
	"github.com/drawbridge-sh/drawbridge/internal/resilience"
)

// Outcome statuses reported by ExecuteAction.
const (
	OutcomeSuccess         = "success"
	OutcomePartialSuccess  = "partial_success"
	OutcomeFailed          = "failed"
	OutcomeAlreadyExecuted = "already_executed"

	// blocked outcomes carry the blocking stage as a prefix.
	OutcomeBlockedSafety     = "blocked:safety_pause"
	OutcomeBlockedSimulation = "blocked:simulation"
)

// halfOpenRetryWait is how long a commit waits before re-requesting
// admission when a half-open circuit has no trial slot for it.
const halfOpenRetryWait = time.Second

// Outcome is the result of driving one execution attempt to a terminal
// state (or an expected block).
type Outcome struct {
	Status  string                 `json:"status"`
	Reason  string                 `json:"reason,omitempty"`
	Results []action.ChannelResult `json:"results,omitempty"`
}

// Blocked reports whether the attempt terminated at an expected gate
// rather than a commit failure.
func (o Outcome) Blocked() bool {
	return o.Status == OutcomeBlockedSafety || o.Status == OutcomeBlockedSimulation ||
		o.Status == "authorization_rejected" || o.Status == "authorization_expired"
}

// Orchestrator drives one execution attempt through safety check,
// simulation, authorization, exclusive claim, guarded multi-channel commit,
// bounded retry, and verification. Instances share no state with each
// other; all coordination happens through the store, the breaker state
// store, and the message queue.
type Orchestrator struct {
	store         database.Store
	gate          safety.Gate
	sim           simulator.Simulator
	policy        *AuthorizationPolicy
	approvals     *ApprovalService
	breakers      *resilience.Registry
	queue         messagequeue.Queue
	notifications *NotificationService
	hub           broadcast.Broadcaster
	primary       channel.Adapter
	secondaries   []channel.Adapter
	retryCfg      config.Retry
	authzTimeout  time.Duration
	metrics       *dbotel.Metrics

	sleep func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator wires an Orchestrator. The primary channel is the
// tenant's own store; it must succeed before any secondary marketplace is
// attempted.
func NewOrchestrator(
	store database.Store,
	gate safety.Gate,
	sim simulator.Simulator,
	policy *AuthorizationPolicy,
	approvals *ApprovalService,
	breakers *resilience.Registry,
	queue messagequeue.Queue,
	notifications *NotificationService,
	hub broadcast.Broadcaster,
	primary channel.Adapter,
	secondaries []channel.Adapter,
	retryCfg config.Retry,
	authzTimeout time.Duration,
	metrics *dbotel.Metrics,
) *Orchestrator {
	return &Orchestrator{
		store:         store,
		gate:          gate,
		sim:           sim,
		policy:        policy,
		approvals:     approvals,
		breakers:      breakers,
		queue:         queue,
		notifications: notifications,
		hub:           hub,
		primary:       primary,
		secondaries:   secondaries,
		retryCfg:      retryCfg,
		authzTimeout:  authzTimeout,
		metrics:       metrics,
		sleep:         sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExecuteAction drives the attempt with the given id to a terminal state.
//
// Expected blocks (safety pause, simulation veto, authorization rejection
// or timeout) and the claim race are reported in the Outcome with a nil
// error. The error return is reserved for defects: store failures,
// unclassified panics of the pipeline itself.
func (o *Orchestrator) ExecuteAction(ctx context.Context, actionID string) (Outcome, error) {
	a, err := o.store.GetAction(ctx, actionID)
	if err != nil {
		return Outcome{}, err
	}

	t, err := o.store.GetTenant(ctx, a.TenantID)
	if err != nil {
		return Outcome{}, err
	}

	ctx, span := dbotel.StartExecutionSpan(ctx, a.ID, a.TenantID, string(a.Kind))
	defer span.End()
	if o.metrics != nil {
		o.metrics.ExecutionsStarted.Add(ctx, 1)
		start := time.Now()
		defer func() {
			o.metrics.ExecutionDuration.Record(ctx, time.Since(start).Seconds())
		}()
	}

	// 1. Safety gate.
	paused, err := o.gate.IsPaused(ctx, a.TenantID)
	if err != nil {
		return Outcome{}, err
	}
	if paused {
		return o.block(ctx, a, OutcomeBlockedSafety, "tenant has paused autonomous execution")
	}

	// 2. Risk simulation.
	assessment, err := o.sim.Simulate(ctx, a.TenantID, a)
	if err != nil {
		return Outcome{}, fmt.Errorf("simulate action %s: %w", a.ID, err)
	}
	if assessment.Blocked {
		return o.block(ctx, a, OutcomeBlockedSimulation, assessment.Reason)
	}

	// 3. Authorization decision.
	if required, reasons := o.policy.Evaluate(t, a, assessment); required {
		status, err := o.authorize(ctx, t.ID, a, assessment, reasons)
		if err != nil {
			return Outcome{}, err
		}
		if status != approval.StatusApproved {
			outcome := Outcome{Status: "authorization_" + string(status)}
			// The rejection/expiry path already failed the record.
			o.report(ctx, a, outcome)
			return outcome, nil
		}
	}

	// 4. Exclusive claim. Losing is a benign race, not an error.
	claimed, err := o.store.ClaimAction(ctx, a.ID)
	if err != nil {
		return Outcome{}, err
	}
	if !claimed {
		return Outcome{Status: OutcomeAlreadyExecuted}, nil
	}
	o.broadcastStatus(ctx, a, string(action.StatusExecuting), "")

	// 5-6. Guarded commit with bounded retry.
	results, retries := o.commitAll(ctx, a)
	if err := o.store.SetActionRetryCount(ctx, a.ID, retries); err != nil {
		slog.Warn("persist retry count", "action_id", a.ID, "error", err)
	}
	if err := o.store.SetActionChannelResults(ctx, a.ID, results); err != nil {
		slog.Warn("persist channel results", "action_id", a.ID, "error", err)
	}

	// 7. Verification and reporting.
	outcome := o.verify(ctx, a, results)
	o.report(ctx, a, outcome)
	return outcome, nil
}

// authorize opens an authorization request for the tripped rules and blocks
// until the human decides or the deadline passes.
func (o *Orchestrator) authorize(ctx context.Context, tenantID string, a *action.Attempt, assessment simulator.Assessment, reasons []string) (approval.Status, error) {
	t, err := o.store.GetTenant(ctx, tenantID)
	if err != nil {
		return "", err
	}

	details := map[string]any{
		"reasons": reasons,
		"kind":    string(a.Kind),
	}
	if raw, err := json.Marshal(a.Payload); err == nil {
		var payload map[string]any
		if json.Unmarshal(raw, &payload) == nil {
			details["payload"] = payload
		}
	}
	if assessment.EstimatedCostUSD > 0 {
		details["estimated_cost_usd"] = assessment.EstimatedCostUSD
	}

	req, err := o.approvals.Initiate(ctx, InitiateRequest{
		Tenant:         t,
		AgentType:      a.AgentType,
		OperationType:  string(a.Kind),
		Details:        details,
		LinkedActionID: a.ID,
		Timeout:        o.authzTimeout,
	})
	if err != nil {
		return "", fmt.Errorf("initiate authorization for action %s: %w", a.ID, err)
	}

	status, _, err := o.approvals.WaitForDecision(ctx, req.ID, o.authzTimeout)
	if err != nil {
		return "", fmt.Errorf("wait for authorization %s: %w", req.ID, err)
	}
	return status, nil
}

// block terminates the attempt at an expected gate.
func (o *Orchestrator) block(ctx context.Context, a *action.Attempt, status, reason string) (Outcome, error) {
	outcome := Outcome{Status: status, Reason: reason}
	if err := o.store.UpdateActionStatus(ctx, a.ID, action.StatusFailed, status+": "+reason); err != nil {
		return Outcome{}, err
	}
	o.report(ctx, a, outcome)
	return outcome, nil
}

// commitAll runs the primary commit, then fans the secondaries out
// concurrently. Secondary failures are collected, never aborting the
// attempt; a primary failure skips the secondaries entirely because
// listings reference the primary price.
func (o *Orchestrator) commitAll(ctx context.Context, a *action.Attempt) ([]action.ChannelResult, int) {
	req := channel.CommitRequest{
		ActionID: a.ID,
		TenantID: a.TenantID,
		Payload:  a.Payload,
	}

	primaryResult, retries := o.commitChannel(ctx, o.primary, req)
	results := []action.ChannelResult{toChannelResult(o.primary.Name(), primaryResult)}
	if !primaryResult.Success {
		return results, retries
	}

	secondaryResults := make([]action.ChannelResult, len(o.secondaries))
	secondaryRetries := make([]int, len(o.secondaries))

	g, gctx := errgroup.WithContext(ctx)
	for i, adapter := range o.secondaries {
		g.Go(func() error {
			res, r := o.commitChannel(gctx, adapter, req)
			secondaryResults[i] = toChannelResult(adapter.Name(), res)
			secondaryRetries[i] = r
			return nil
		})
	}
	_ = g.Wait() // goroutines only record results, never return errors

	results = append(results, secondaryResults...)
	for _, r := range secondaryRetries {
		retries += r
	}
	return results, retries
}

// commitChannel performs one channel's commit under its circuit breaker
// with the bounded retry policy:
//
//   - rate limited: sleep the provider-specified duration, spend one retry
//   - transient: sleep base^(attempt+1)+1 seconds, spend one retry
//   - permanent: fail immediately, no retry
//   - circuit open: wait out retry_after without spending budget when it
//     fits under the cap, otherwise fail the channel for this attempt
//   - half-open, no trial slot: retry_after is zero, wait a fixed beat
//     without spending budget
func (o *Orchestrator) commitChannel(ctx context.Context, adapter channel.Adapter, req channel.CommitRequest) (channel.Result, int) {
	ctx, span := dbotel.StartCommitSpan(ctx, req.ActionID, adapter.Name())
	defer span.End()

	br := o.breakers.For(adapter.Name())
	retries := 0
	attempt := 0

	for {
		var res channel.Result
		err := br.Execute(ctx, func(ctx context.Context) error {
			res = adapter.Commit(ctx, req)
			return res.Err()
		})

		var open *resilience.CircuitOpenError
		if errors.As(err, &open) {
			if open.RetryAfter > o.retryCfg.CircuitWaitCap {
				return channel.Result{
					ErrKind: channel.KindTransient,
					Message: err.Error(),
				}, retries
			}
			wait := open.RetryAfter
			if wait <= 0 {
				// Half-open rejections carry no reopen window: the trial
				// slots are taken and whoever holds one decides the circuit's
				// fate. Wait a beat instead of hammering the state store.
				wait = halfOpenRetryWait
			}
			if serr := o.sleep(ctx, wait); serr != nil {
				return channel.Result{ErrKind: channel.KindTransient, Message: serr.Error()}, retries
			}
			continue // circuit-open never consumes retry budget
		}

		if res.Success {
			return res, retries
		}

		switch res.ErrKind {
		case channel.KindPermanent:
			return res, retries

		case channel.KindRateLimited:
			if attempt+1 >= o.retryCfg.MaxAttempts {
				return res, retries
			}
			wait := res.RetryAfter
			if wait <= 0 {
				wait = o.retryCfg.RateLimitWait
			}
			if serr := o.sleep(ctx, wait); serr != nil {
				return res, retries
			}

		default: // transient
			if attempt+1 >= o.retryCfg.MaxAttempts {
				return res, retries
			}
			backoff := time.Duration(math.Pow(o.retryCfg.BackoffBase, float64(attempt+1))+1) * time.Second
			if serr := o.sleep(ctx, backoff); serr != nil {
				return res, retries
			}
		}

		attempt++
		retries++
		if o.metrics != nil {
			o.metrics.CommitRetries.Add(ctx, 1,
				metric.WithAttributes(attribute.String("channel", adapter.Name())))
		}
		logger.FromContext(ctx).Info("retrying channel commit",
			"action_id", req.ActionID, "channel", adapter.Name(), "attempt", attempt)
	}
}

func toChannelResult(name string, res channel.Result) action.ChannelResult {
	cr := action.ChannelResult{
		Channel:     name,
		Success:     res.Success,
		ExternalRef: res.ExternalRef,
	}
	if !res.Success {
		cr.Error = res.Message
		if cr.Error == "" {
			cr.Error = string(res.ErrKind)
		}
	}
	return cr
}

// verify persists the post-condition summary and settles the record's
// terminal status. Partial success (primary committed, some secondary did
// not) is terminal: no automatic compensation is attempted, the per-channel
// results name what needs manual attention.
func (o *Orchestrator) verify(ctx context.Context, a *action.Attempt, results []action.ChannelResult) Outcome {
	succeeded, failed := 0, 0
	for _, r := range results {
		if r.Success {
			succeeded++
		} else {
			failed++
		}
	}

	outcome := Outcome{Results: results}
	switch {
	case failed == 0:
		outcome.Status = OutcomeSuccess
	case results[0].Success: // primary committed
		outcome.Status = OutcomePartialSuccess
		outcome.Reason = fmt.Sprintf("%d of %d channels failed", failed, len(results))
	default:
		outcome.Status = OutcomeFailed
		outcome.Reason = "primary channel commit failed: " + results[0].Error
	}

	v := action.Verification{
		CheckedAt:         time.Now(),
		ChannelsSucceeded: succeeded,
		ChannelsFailed:    failed,
		Outcome:           outcome.Status,
	}
	if err := o.store.SetActionVerification(ctx, a.ID, v); err != nil {
		slog.Warn("persist verification", "action_id", a.ID, "error", err)
	}

	status := action.StatusExecuted
	reason := ""
	if outcome.Status == OutcomeFailed {
		status = action.StatusFailed
		reason = outcome.Reason
	}
	if err := o.store.UpdateActionStatus(ctx, a.ID, status, reason); err != nil {
		slog.Error("settle action status", "action_id", a.ID, "error", err)
	}

	return outcome
}

// report publishes the terminal outcome to the event stream and the
// dashboard, and notifies the tenant on failure.
func (o *Orchestrator) report(ctx context.Context, a *action.Attempt, outcome Outcome) {
	if o.metrics != nil {
		o.metrics.ExecutionsCompleted.Add(ctx, 1,
			metric.WithAttributes(attribute.String("outcome", outcome.Status)))
	}
	o.broadcastStatus(ctx, a, outcome.Status, outcome.Reason)

	if outcome.Status == OutcomeFailed {
		o.notifications.Notify(ctx, notifier.Notification{
			Title:   "Action execution failed",
			Message: fmt.Sprintf("%s %s: %s", a.Kind, a.ID, outcome.Reason),
			Level:   "error",
			Source:  "execution.failed",
			Target:  a.TenantID,
		})
	}
}

func (o *Orchestrator) broadcastStatus(ctx context.Context, a *action.Attempt, status, reason string) {
	payload, err := json.Marshal(messagequeue.ActionEventPayload{
		ActionID: a.ID,
		TenantID: a.TenantID,
		Status:   status,
		Reason:   reason,
	})
	if err == nil {
		if err := o.queue.Publish(ctx, messagequeue.SubjectActionEvents, payload); err != nil {
			slog.Warn("publish action event", "action_id", a.ID, "error", err)
		}
	}

	o.hub.BroadcastEventToTenant(ctx, a.TenantID, ws.EventExecutionStatus, ws.ExecutionStatusEvent{
		ActionID: a.ID,
		TenantID: a.TenantID,
		Status:   status,
		Outcome:  reason,
	})
}
