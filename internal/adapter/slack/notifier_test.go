package slack

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/drawbridge-sh/drawbridge/internal/port/notifier"
)

// Compile-time interface check.
var _ notifier.Notifier = (*Notifier)(nil)

func TestNotifierName(t *testing.T) {
	n := NewNotifier("")
	if n.Name() != "slack" {
		t.Fatalf("expected 'slack', got %q", n.Name())
	}
}

func TestCapabilities(t *testing.T) {
	n := NewNotifier("")
	caps := n.Capabilities()
	if !caps.RichFormatting {
		t.Fatal("expected RichFormatting=true")
	}
	if !caps.Actionable {
		t.Fatal("expected Actionable=true")
	}
}

func TestSendNotConfigured(t *testing.T) {
	n := NewNotifier("")
	err := n.Send(context.Background(), notifier.Notification{Title: "test"})
	if err != notifier.ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSendSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL)
	err := n.Send(context.Background(), notifier.Notification{
		Title:   "Price change executed",
		Message: "sku-314 now $89.99",
		Level:   "success",
		Source:  "execution.status",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSendApprovalIncludesButtons(t *testing.T) {
	var captured []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL)
	err := n.Send(context.Background(), notifier.Notification{
		Title:   "Approval needed",
		Message: "40% markdown on sku-1",
		Level:   "warning",
		Source:  "approval.requested",
		Target:  "req-123",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var msg slackMessage
	if err := json.Unmarshal(captured, &msg); err != nil {
		t.Fatalf("unmarshal sent payload: %v", err)
	}
	var actions *slackBlock
	for i := range msg.Blocks {
		if msg.Blocks[i].Type == "actions" {
			actions = &msg.Blocks[i]
		}
	}
	if actions == nil {
		t.Fatal("no actions block in approval message")
	}
	if len(actions.Elements) != 2 || actions.Elements[0].Value != "req-123" {
		t.Fatalf("unexpected action elements: %+v", actions.Elements)
	}
}

func TestSendAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL)
	err := n.Send(context.Background(), notifier.Notification{
		Title:   "Test",
		Message: "Test message",
		Level:   "info",
	})
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
}
