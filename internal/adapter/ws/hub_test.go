package ws

import (
	"context"
	"testing"

	"github.com/drawbridge-sh/drawbridge/internal/port/notifier"
)

func TestNewHub(t *testing.T) {
	hub := NewHub()
	if hub == nil {
		t.Fatal("expected non-nil hub")
	}
	if hub.ConnectionCount() != 0 {
		t.Fatalf("expected 0 connections, got %d", hub.ConnectionCount())
	}
}

func TestHubBroadcastNoConnections(t *testing.T) {
	hub := NewHub()

	// Broadcast with no connections should not panic.
	hub.Broadcast(context.Background(), Message{
		Type:    "test",
		Payload: []byte(`{"key":"value"}`),
	})
}

func TestHubBroadcastEventNoConnections(t *testing.T) {
	hub := NewHub()

	// BroadcastEvent with no connections should not panic.
	hub.BroadcastEvent(context.Background(), EventExecutionStatus, ExecutionStatusEvent{
		ActionID: "a1",
		TenantID: "t1",
		Status:   "executed",
	})
}

func TestHubBroadcastEventMarshalError(t *testing.T) {
	hub := NewHub()

	// A channel cannot be marshaled to JSON — should log error, not panic.
	hub.BroadcastEvent(context.Background(), "bad", make(chan int))
}

func TestHubRemoveNonexistent(t *testing.T) {
	hub := NewHub()

	// Removing a connection that was never added should not panic.
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := &conn{ws: nil, cancel: cancel, tenantID: "tenant-1"}
	hub.remove(c)
}

func TestHubBroadcastToTenantNoConnections(t *testing.T) {
	hub := NewHub()

	// BroadcastToTenant with no connections should not panic.
	hub.BroadcastToTenant(context.Background(), "tenant-1", Message{
		Type:    "test",
		Payload: []byte(`{"key":"value"}`),
	})
}

func TestDashboardNotifierSend(t *testing.T) {
	n := NewDashboardNotifier(NewHub())

	if n.Name() != "dashboard" {
		t.Fatalf("unexpected name %q", n.Name())
	}
	if !n.Capabilities().Actionable {
		t.Fatal("dashboard notifier should be actionable")
	}

	err := n.Send(context.Background(), notifier.Notification{
		Title:   "Approval needed",
		Message: "Price change on SKU-1 awaiting decision",
		Level:   "warning",
		Source:  "approval.requested",
		Target:  "tenant-1",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
}
