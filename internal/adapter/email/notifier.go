// Package email provides an SMTP-based notifier.Notifier.
package email

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/drawbridge-sh/drawbridge/internal/port/notifier"
)

const providerName = "email"

// Notifier sends email notifications via SMTP.
type Notifier struct {
	host     string
	port     int
	from     string
	password string
}

// NewNotifier creates an email notifier.
func NewNotifier(host string, port int, from, password string) *Notifier {
	return &Notifier{host: host, port: port, from: from, password: password}
}

func (n *Notifier) Name() string { return providerName }

func (n *Notifier) Capabilities() notifier.Capabilities {
	return notifier.Capabilities{
		RichFormatting: true,
		Actionable:     false,
	}
}

func (n *Notifier) Send(_ context.Context, notification notifier.Notification) error {
	if n.host == "" || n.from == "" {
		return notifier.ErrNotConfigured
	}
	if notification.Target == "" {
		return fmt.Errorf("email: no address for notification %q", notification.Title)
	}

	addr := fmt.Sprintf("%s:%d", n.host, n.port)

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		n.from, notification.Target, notification.Title, notification.Message)

	var auth smtp.Auth
	if n.password != "" {
		auth = smtp.PlainAuth("", n.from, n.password, n.host)
	}

	return smtp.SendMail(addr, auth, n.from, []string{notification.Target}, []byte(msg))
}
