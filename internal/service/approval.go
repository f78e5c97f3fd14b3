package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	dbotel "github.com/drawbridge-sh/drawbridge/internal/adapter/otel"
	"github.com/drawbridge-sh/drawbridge/internal/adapter/ws"
	"github.com/drawbridge-sh/drawbridge/internal/config"
	"github.com/drawbridge-sh/drawbridge/internal/logger"
	"github.com/drawbridge-sh/drawbridge/internal/domain/action"
	"github.com/drawbridge-sh/drawbridge/internal/domain/approval"
	"github.com/drawbridge-sh/drawbridge/internal/domain/tenant"
	"github.com/drawbridge-sh/drawbridge/internal/port/broadcast"
	"github.com/drawbridge-sh/drawbridge/internal/port/database"
	"github.com/drawbridge-sh/drawbridge/internal/port/messagequeue"
	"github.com/drawbridge-sh/drawbridge/internal/port/notifier"
)

// ApprovalService owns the asynchronous authorization request lifecycle:
// durable persistence, multi-channel notification, the blocking wait for a
// human decision, and the expiry/reminder sweeps.
//
// Waiters and deciders usually live in different processes. They meet on a
// per-request queue subject; the database is the arbiter when both a
// decision and an expiry race for the same request.
type ApprovalService struct {
	store         database.Store
	queue         messagequeue.Queue
	notifications *NotificationService
	hub           broadcast.Broadcaster
	cfg           config.Authorization
	metrics       *dbotel.Metrics
	now           func() time.Time
}

// NewApprovalService creates an ApprovalService.
func NewApprovalService(store database.Store, queue messagequeue.Queue, notifications *NotificationService, hub broadcast.Broadcaster, cfg config.Authorization, metrics *dbotel.Metrics) *ApprovalService {
	return &ApprovalService{
		store:         store,
		queue:         queue,
		notifications: notifications,
		hub:           hub,
		cfg:           cfg,
		metrics:       metrics,
		now:           time.Now,
	}
}

// InitiateRequest carries everything needed to open an authorization request.
type InitiateRequest struct {
	Tenant         *tenant.Tenant
	AgentType      string
	OperationType  string
	Details        map[string]any
	LinkedActionID string
	Timeout        time.Duration
	Channels       []approval.Channel
}

// Initiate persists a new authorization request, resolves the effective
// notification channels against what the tenant can actually receive, and
// dispatches one notification per resolved channel.
func (s *ApprovalService) Initiate(ctx context.Context, req InitiateRequest) (*approval.Request, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}

	r := &approval.Request{
		TenantID:       req.Tenant.ID,
		AgentType:      req.AgentType,
		OperationType:  req.OperationType,
		Details:        req.Details,
		Deadline:       s.now().Add(timeout),
		LinkedActionID: req.LinkedActionID,
	}
	if err := s.store.CreateApproval(ctx, r); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.ApprovalsInitiated.Add(ctx, 1)
	}

	channels := resolveChannels(req.Channels, req.Tenant.Contact)

	payload, err := json.Marshal(messagequeue.ApprovalRequestedPayload{
		RequestID:      r.ID,
		TenantID:       r.TenantID,
		AgentType:      r.AgentType,
		OperationType:  r.OperationType,
		Deadline:       r.Deadline.Format(time.RFC3339),
		Channels:       channelNames(channels),
		LinkedActionID: r.LinkedActionID,
	})
	if err == nil {
		if err := s.queue.Publish(ctx, messagequeue.SubjectApprovalRequested, payload); err != nil {
			slog.Warn("publish approval requested", "request_id", r.ID, "error", err)
		}
	}

	s.hub.BroadcastEventToTenant(ctx, r.TenantID, ws.EventApprovalRequested, ws.ApprovalRequestedEvent{
		RequestID: r.ID,
		TenantID:  r.TenantID,
		ActionID:  r.LinkedActionID,
		Summary:   summarize(r),
		Deadline:  r.Deadline.Format(time.RFC3339),
	})

	for _, ch := range channels {
		s.dispatch(ctx, r, ch, req.Tenant.Contact, "Approval needed")
	}

	return r, nil
}

// resolveChannels filters the requested channels down to those the tenant
// can actually receive, then applies the push -> sms -> dashboard fallback
// when nothing requested is reachable. The dashboard is always reachable.
func resolveChannels(requested []approval.Channel, contact tenant.Contact) []approval.Channel {
	reachable := func(ch approval.Channel) bool {
		switch ch {
		case approval.ChannelPush:
			return contact.PushToken != ""
		case approval.ChannelSMS:
			return contact.Phone != ""
		case approval.ChannelEmail:
			return contact.Email != ""
		case approval.ChannelDashboard:
			return true
		default:
			return false
		}
	}

	var resolved []approval.Channel
	for _, ch := range requested {
		if reachable(ch) {
			resolved = append(resolved, ch)
		}
	}
	if len(resolved) > 0 {
		return resolved
	}

	switch {
	case contact.PushToken != "":
		return []approval.Channel{approval.ChannelPush}
	case contact.Phone != "":
		return []approval.Channel{approval.ChannelSMS}
	default:
		return []approval.Channel{approval.ChannelDashboard}
	}
}

// dispatch sends one channel's notification and records the sent timestamp.
// Failures are logged; the request stays open regardless.
func (s *ApprovalService) dispatch(ctx context.Context, r *approval.Request, ch approval.Channel, contact tenant.Contact, title string) {
	n := notifier.Notification{
		Title:   title,
		Message: summarize(r),
		Level:   "warning",
		Source:  "approval.requested",
		Target:  channelTarget(ch, r.TenantID, contact),
	}
	if err := s.notifications.SendVia(ctx, string(ch), n); err != nil {
		logger.FromContext(ctx).Warn("approval notification failed",
			"request_id", r.ID, "channel", ch, "error", err)
		return
	}
	if err := s.store.MarkApprovalSent(ctx, r.ID, ch, s.now()); err != nil {
		slog.Warn("record sent timestamp", "request_id", r.ID, "channel", ch, "error", err)
	}
}

func channelTarget(ch approval.Channel, tenantID string, contact tenant.Contact) string {
	switch ch {
	case approval.ChannelPush:
		return contact.PushToken
	case approval.ChannelSMS:
		return contact.Phone
	case approval.ChannelEmail:
		return contact.Email
	default:
		return tenantID
	}
}

func channelNames(channels []approval.Channel) []string {
	names := make([]string, len(channels))
	for i, ch := range channels {
		names[i] = string(ch)
	}
	return names
}

func summarize(r *approval.Request) string {
	msg := fmt.Sprintf("%s requested by %s", r.OperationType, r.AgentType)
	if len(r.Details) > 0 {
		if detail, err := json.Marshal(r.Details); err == nil {
			msg += ": " + string(detail)
		}
	}
	return msg
}

// WaitForDecision blocks until a decision message for the request arrives
// or maxWait elapses. It subscribes before re-reading the stored status, so
// a decision landing in the gap is never missed. The wait holds no database
// transaction or connection slot.
//
// On timeout the request is expired, the linked record failed, and a
// reminder scheduled; the returned status is StatusExpired. If a decision
// won the expiry race, that decision is returned instead.
func (s *ApprovalService) WaitForDecision(ctx context.Context, requestID string, maxWait time.Duration) (approval.Status, map[string]any, error) {
	if maxWait <= 0 {
		maxWait = s.cfg.DefaultTimeout
	}

	ctx, span := dbotel.StartApprovalWaitSpan(ctx, requestID)
	defer span.End()

	decisions := make(chan messagequeue.DecisionPayload, 1)
	cancel, err := s.queue.Subscribe(ctx, messagequeue.ApprovalDecisionSubject(requestID),
		func(_ context.Context, _ string, data []byte) error {
			var p messagequeue.DecisionPayload
			if err := json.Unmarshal(data, &p); err != nil {
				return fmt.Errorf("decode decision: %w", err)
			}
			select {
			case decisions <- p:
			default:
			}
			return nil
		})
	if err != nil {
		return "", nil, fmt.Errorf("subscribe to decision topic: %w", err)
	}
	defer cancel()

	// The decision may have landed before our subscription existed.
	r, err := s.store.GetApproval(ctx, requestID)
	if err != nil {
		return "", nil, err
	}
	if r.Status.Terminal() {
		return r.Status, r.Details, nil
	}

	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	select {
	case p := <-decisions:
		return approval.Status(p.Status), p.Details, nil

	case <-timer.C:
		return s.expire(ctx, requestID)

	case <-ctx.Done():
		return "", nil, ctx.Err()
	}
}

// expire applies the timeout path: conditionally expire the request, fail
// the linked record, and announce the expiry. If a decision won the race,
// it is returned as the outcome.
func (s *ApprovalService) expire(ctx context.Context, requestID string) (approval.Status, map[string]any, error) {
	expired, err := s.store.ExpireApproval(ctx, requestID, s.now().Add(s.cfg.ReminderDelay))
	if err != nil {
		return "", nil, err
	}

	r, err := s.store.GetApproval(ctx, requestID)
	if err != nil {
		return "", nil, err
	}

	if !expired {
		// A decision beat the timeout.
		return r.Status, r.Details, nil
	}

	s.announceExpiry(ctx, r)
	return approval.StatusExpired, nil, nil
}

func (s *ApprovalService) announceExpiry(ctx context.Context, r *approval.Request) {
	if s.metrics != nil {
		s.metrics.ApprovalsExpired.Add(ctx, 1)
	}
	if r.LinkedActionID != "" {
		if err := s.store.UpdateActionStatus(ctx, r.LinkedActionID, action.StatusFailed, "authorization_expired"); err != nil {
			slog.Error("fail linked action on expiry",
				"request_id", r.ID, "action_id", r.LinkedActionID, "error", err)
		}
	}

	payload, err := json.Marshal(messagequeue.ApprovalExpiredPayload{
		RequestID:      r.ID,
		TenantID:       r.TenantID,
		LinkedActionID: r.LinkedActionID,
	})
	if err == nil {
		if err := s.queue.Publish(ctx, messagequeue.SubjectApprovalExpired, payload); err != nil {
			slog.Warn("publish approval expired", "request_id", r.ID, "error", err)
		}
	}

	s.hub.BroadcastEventToTenant(ctx, r.TenantID, ws.EventApprovalDecided, ws.ApprovalDecidedEvent{
		RequestID: r.ID,
		TenantID:  r.TenantID,
		Status:    string(approval.StatusExpired),
	})

	slog.Info("authorization request expired", "request_id", r.ID, "tenant_id", r.TenantID)
}

// ProcessDecision applies a human decision. The store's conditional update
// makes the first decision win; later decisions (and decisions racing an
// expiry that already landed) get approval.ErrAlreadyDecided. The decision
// is published on the per-request topic so a waiter in any process unblocks
// with the payload in hand, and forwarded to the linked business record.
func (s *ApprovalService) ProcessDecision(ctx context.Context, requestID string, decision approval.Decision, channel approval.Channel) (*approval.Request, error) {
	var status approval.Status
	switch decision {
	case approval.DecisionApproved:
		status = approval.StatusApproved
	case approval.DecisionRejected:
		status = approval.StatusRejected
	default:
		return nil, fmt.Errorf("unknown decision %q", decision)
	}

	decidedAt := s.now()
	won, err := s.store.DecideApproval(ctx, requestID, status, channel, decidedAt)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, approval.ErrAlreadyDecided
	}
	if s.metrics != nil {
		s.metrics.ApprovalDecisions.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("status", string(status)),
				attribute.String("channel", string(channel)),
			))
	}

	r, err := s.store.GetApproval(ctx, requestID)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(messagequeue.DecisionPayload{
		RequestID: requestID,
		Status:    string(status),
		Channel:   string(channel),
		DecidedAt: decidedAt.Format(time.RFC3339),
		Details:   r.Details,
	})
	if err == nil {
		if err := s.queue.Publish(ctx, messagequeue.ApprovalDecisionSubject(requestID), payload); err != nil {
			slog.Error("publish decision", "request_id", requestID, "error", err)
		}
	}

	s.forwardToLinkedAction(ctx, r, status)

	s.hub.BroadcastEventToTenant(ctx, r.TenantID, ws.EventApprovalDecided, ws.ApprovalDecidedEvent{
		RequestID: r.ID,
		TenantID:  r.TenantID,
		Status:    string(status),
		Channel:   string(channel),
	})

	logger.FromContext(ctx).Info("authorization decision recorded",
		"request_id", requestID, "status", status, "channel", channel)
	return r, nil
}

// forwardToLinkedAction reconciles the decision with the business record.
// A dashboard-originated decision reaches an agent that was expecting a
// push response through this record, not through the notification channel.
func (s *ApprovalService) forwardToLinkedAction(ctx context.Context, r *approval.Request, status approval.Status) {
	if r.LinkedActionID == "" {
		return
	}

	var actionStatus action.Status
	var reason string
	if status == approval.StatusApproved {
		actionStatus = action.StatusApproved
	} else {
		actionStatus = action.StatusFailed
		reason = "authorization_rejected"
	}

	if err := s.store.UpdateActionStatus(ctx, r.LinkedActionID, actionStatus, reason); err != nil {
		slog.Error("forward decision to linked action",
			"request_id", r.ID, "action_id", r.LinkedActionID, "error", err)
	}
}

// Escalate moves a pending request to manual review.
func (s *ApprovalService) Escalate(ctx context.Context, requestID string) error {
	won, err := s.store.EscalateApproval(ctx, requestID)
	if err != nil {
		return err
	}
	if !won {
		return approval.ErrAlreadyDecided
	}
	return nil
}

// Get returns one authorization request.
func (s *ApprovalService) Get(ctx context.Context, requestID string) (*approval.Request, error) {
	return s.store.GetApproval(ctx, requestID)
}

// List returns the tenant's authorization requests, optionally filtered by
// status.
func (s *ApprovalService) List(ctx context.Context, status approval.Status) ([]approval.Request, error) {
	return s.store.ListApprovals(ctx, status)
}

// RunSweeper periodically expires overdue requests whose waiter is gone
// (process crash, deploy) and delivers due reminders. It blocks until ctx
// is cancelled.
func (s *ApprovalService) RunSweeper(ctx context.Context) {
	interval := s.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepExpired(ctx)
			s.sweepReminders(ctx)
		}
	}
}

func (s *ApprovalService) sweepExpired(ctx context.Context) {
	due, err := s.store.ListDueApprovals(ctx, s.now())
	if err != nil {
		slog.Error("list due approvals", "error", err)
		return
	}

	for i := range due {
		r := &due[i]
		expired, err := s.store.ExpireApproval(ctx, r.ID, s.now().Add(s.cfg.ReminderDelay))
		if err != nil {
			slog.Error("expire overdue approval", "request_id", r.ID, "error", err)
			continue
		}
		if !expired {
			continue
		}

		// Unblock any waiter that outlived its own timer.
		payload, err := json.Marshal(messagequeue.DecisionPayload{
			RequestID: r.ID,
			Status:    string(approval.StatusExpired),
		})
		if err == nil {
			_ = s.queue.Publish(ctx, messagequeue.ApprovalDecisionSubject(r.ID), payload)
		}

		s.announceExpiry(ctx, r)
	}
}

func (s *ApprovalService) sweepReminders(ctx context.Context) {
	due, err := s.store.ListDueReminders(ctx, s.now())
	if err != nil {
		slog.Error("list due reminders", "error", err)
		return
	}

	for i := range due {
		r := &due[i]
		t, err := s.store.GetTenant(ctx, r.TenantID)
		if err != nil {
			slog.Error("load tenant for reminder", "request_id", r.ID, "error", err)
			continue
		}

		for _, ch := range resolveChannels(nil, t.Contact) {
			s.dispatch(ctx, r, ch, t.Contact, "Reminder: approval request expired unanswered")
		}

		if err := s.store.ClearApprovalReminder(ctx, r.ID); err != nil {
			slog.Error("clear reminder", "request_id", r.ID, "error", err)
		}
	}
}
