// Package service contains application services.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/drawbridge-sh/drawbridge/internal/port/notifier"
)

// NotificationService dispatches notifications to registered notifiers.
type NotificationService struct {
	notifiers     map[string]notifier.Notifier
	order         []string
	enabledEvents map[string]bool
}

// NewNotificationService creates a NotificationService with the given
// notifiers and list of enabled event types (e.g. "approval.requested",
// "execution.failed"). If enabledEvents is nil or empty, all events are
// enabled.
func NewNotificationService(notifiers []notifier.Notifier, enabledEvents []string) *NotificationService {
	enabled := make(map[string]bool, len(enabledEvents))
	for _, e := range enabledEvents {
		enabled[e] = true
	}

	byName := make(map[string]notifier.Notifier, len(notifiers))
	order := make([]string, 0, len(notifiers))
	for _, n := range notifiers {
		byName[n.Name()] = n
		order = append(order, n.Name())
	}

	return &NotificationService{
		notifiers:     byName,
		order:         order,
		enabledEvents: enabled,
	}
}

// Notify sends a notification to all registered notifiers.
// Errors are logged but do not interrupt delivery to other notifiers.
func (s *NotificationService) Notify(ctx context.Context, n notifier.Notification) {
	if len(s.enabledEvents) > 0 && !s.enabledEvents[n.Source] {
		return
	}

	for _, name := range s.order {
		provider := s.notifiers[name]
		if err := provider.Send(ctx, n); err != nil {
			slog.Warn("notification send failed",
				"provider", provider.Name(),
				"title", n.Title,
				"error", err,
			)
			continue
		}
		slog.Debug("notification sent", "provider", provider.Name(), "title", n.Title)
	}
}

// SendVia delivers a notification through one named provider. Unlike
// Notify, the caller learns whether delivery failed, because channel
// resolution depends on it.
func (s *NotificationService) SendVia(ctx context.Context, providerName string, n notifier.Notification) error {
	provider, ok := s.notifiers[providerName]
	if !ok {
		return fmt.Errorf("notification provider %q not registered", providerName)
	}
	return provider.Send(ctx, n)
}

// Has reports whether a provider with the given name is registered.
func (s *NotificationService) Has(providerName string) bool {
	_, ok := s.notifiers[providerName]
	return ok
}

// NotifierCount returns the number of registered notifiers.
func (s *NotificationService) NotifierCount() int {
	return len(s.notifiers)
}
