package sms

import "github.com/drawbridge-sh/drawbridge/internal/port/notifier"

func init() {
	notifier.Register(providerName, func(config map[string]string) (notifier.Notifier, error) {
		return NewNotifier(config["account_sid"], config["auth_token"], config["from"], config["base_url"]), nil
	})
}
