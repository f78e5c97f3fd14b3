package push

import "github.com/drawbridge-sh/drawbridge/internal/port/notifier"

func init() {
	notifier.Register(providerName, func(config map[string]string) (notifier.Notifier, error) {
		return NewNotifier(config["gateway_url"], config["api_key"]), nil
	})
}
