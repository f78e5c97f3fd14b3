package notifier

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Factory builds a delivery provider from its config map. Credentials in
// the map have already been resolved from the secret vault by the caller.
type Factory func(config map[string]string) (Notifier, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a delivery provider available under the given name.
// Adapter packages call it from init(), so importing an adapter is all it
// takes to offer its channel in the notifications config.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("notifier: duplicate registration for %q", name))
	}
	factories[name] = factory
}

// New builds the named provider. Unknown names report what is actually
// registered, since a typo in the notifications config is otherwise hard
// to spot at startup.
func New(name string, config map[string]string) (Notifier, error) {
	mu.RLock()
	factory, ok := factories[name]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("notifier: unknown provider %q (registered: %s)",
			name, strings.Join(Available(), ", "))
	}
	return factory(config)
}

// Available returns the registered provider names in sorted order.
func Available() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
