// Package notifier defines the notification port (interface) and capabilities.
package notifier

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when a notifier is not properly configured.
var ErrNotConfigured = errors.New("notifier: not configured")

// Notification is the payload sent through a Notifier.
// Target is the channel-specific destination (device token, phone number,
// email address); empty means the notifier's configured default.
type Notification struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Level   string `json:"level"`  // "info", "success", "warning", "error"
	Source  string `json:"source"` // e.g. "approval.requested", "execution.failed"
	Target  string `json:"target,omitempty"`
}

// Capabilities declares which features a notifier supports.
type Capabilities struct {
	RichFormatting bool `json:"rich_formatting"`
	Actionable     bool `json:"actionable"` // recipient can decide directly from the notification
}

// Notifier is the port interface for sending notifications.
// Sends are best-effort: failures are logged by callers, never propagated
// into the flow that triggered them.
type Notifier interface {
	// Name returns the unique identifier for this notifier (e.g. "push", "sms").
	Name() string

	// Capabilities returns what this notifier supports.
	Capabilities() Capabilities

	// Send delivers a notification.
	Send(ctx context.Context, notification Notification) error
}
