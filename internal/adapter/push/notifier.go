// Package push implements a notifier.Notifier for mobile push notifications
// delivered through an HTTP push gateway.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/drawbridge-sh/drawbridge/internal/port/notifier"
)

const providerName = "push"

// Notifier sends push notifications via an HTTP gateway.
type Notifier struct {
	gatewayURL string
	apiKey     string
	httpClient *http.Client
}

// NewNotifier creates a push notifier for the given gateway.
func NewNotifier(gatewayURL, apiKey string) *Notifier {
	return &Notifier{
		gatewayURL: gatewayURL,
		apiKey:     apiKey,
		httpClient: http.DefaultClient,
	}
}

func (n *Notifier) Name() string { return providerName }

func (n *Notifier) Capabilities() notifier.Capabilities {
	return notifier.Capabilities{
		RichFormatting: true,
		Actionable:     true,
	}
}

// pushMessage is the gateway's notification payload.
type pushMessage struct {
	Token    string `json:"token"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	Priority string `json:"priority"`
	Category string `json:"category,omitempty"`
}

func (n *Notifier) Send(ctx context.Context, notification notifier.Notification) error {
	if n.gatewayURL == "" {
		return notifier.ErrNotConfigured
	}
	if notification.Target == "" {
		return fmt.Errorf("push: no device token for notification %q", notification.Title)
	}

	msg := pushMessage{
		Token:    notification.Target,
		Title:    notification.Title,
		Body:     notification.Message,
		Priority: levelPriority(notification.Level),
		Category: notification.Source,
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("push marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.gatewayURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+n.apiKey)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("push send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("push gateway %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

func levelPriority(level string) string {
	switch level {
	case "error", "warning":
		return "high"
	default:
		return "normal"
	}
}
