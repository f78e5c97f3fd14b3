// Package broadcast defines the port for broadcasting real-time events to connected clients.
package broadcast

import "context"

// Broadcaster sends real-time events to connected dashboard clients.
type Broadcaster interface {
	// BroadcastEvent sends a typed event to all connected clients.
	BroadcastEvent(ctx context.Context, eventType string, payload any)

	// BroadcastEventToTenant sends a typed event only to clients scoped
	// to the given tenant.
	BroadcastEventToTenant(ctx context.Context, tenantID, eventType string, payload any)
}
