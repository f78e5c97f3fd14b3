package ws

import (
	"context"
	"encoding/json"

	"github.com/drawbridge-sh/drawbridge/internal/port/notifier"
)

// DashboardNotifier delivers notifications to the tenant's live dashboard
// over the WebSocket hub. Target carries the tenant ID. Unlike the other
// providers it is constructed directly around a Hub rather than through
// the factory registry.
type DashboardNotifier struct {
	hub *Hub
}

// NewDashboardNotifier creates a dashboard notifier backed by hub.
func NewDashboardNotifier(hub *Hub) *DashboardNotifier {
	return &DashboardNotifier{hub: hub}
}

func (n *DashboardNotifier) Name() string { return "dashboard" }

func (n *DashboardNotifier) Capabilities() notifier.Capabilities {
	return notifier.Capabilities{
		RichFormatting: true,
		Actionable:     true,
	}
}

func (n *DashboardNotifier) Send(ctx context.Context, notification notifier.Notification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return err
	}

	msg := Message{Type: "notification", Payload: json.RawMessage(payload)}
	if notification.Target != "" {
		n.hub.BroadcastToTenant(ctx, notification.Target, msg)
	} else {
		n.hub.Broadcast(ctx, msg)
	}
	return nil
}
