package email

import (
	"strconv"

	"github.com/drawbridge-sh/drawbridge/internal/port/notifier"
)

func init() {
	notifier.Register(providerName, func(config map[string]string) (notifier.Notifier, error) {
		port, _ := strconv.Atoi(config["port"])
		if port == 0 {
			port = 587
		}
		return NewNotifier(config["host"], port, config["from"], config["password"]), nil
	})
}
