// Package sms implements a notifier.Notifier for SMS delivery via a
// Twilio-compatible REST API.
package sms

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/drawbridge-sh/drawbridge/internal/port/notifier"
)

const providerName = "sms"

// Notifier sends SMS messages through a Twilio-compatible messages endpoint.
type Notifier struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	httpClient *http.Client
}

// NewNotifier creates an SMS notifier. baseURL defaults to the Twilio API
// when empty.
func NewNotifier(accountSID, authToken, from, baseURL string) *Notifier {
	if baseURL == "" {
		baseURL = "https://api.twilio.com"
	}
	return &Notifier{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
	}
}

func (n *Notifier) Name() string { return providerName }

func (n *Notifier) Capabilities() notifier.Capabilities {
	return notifier.Capabilities{
		RichFormatting: false,
		Actionable:     false,
	}
}

func (n *Notifier) Send(ctx context.Context, notification notifier.Notification) error {
	if n.accountSID == "" || n.authToken == "" || n.from == "" {
		return notifier.ErrNotConfigured
	}
	if notification.Target == "" {
		return fmt.Errorf("sms: no phone number for notification %q", notification.Title)
	}

	form := url.Values{}
	form.Set("To", notification.Target)
	form.Set("From", n.from)
	form.Set("Body", notification.Title+"\n"+notification.Message)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", n.baseURL, n.accountSID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(n.accountSID, n.authToken)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sms send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("sms API %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}
