// Package secrets holds the delivery-provider credentials (webhook URLs,
// API keys, SMTP passwords) that must stay out of the YAML config and out
// of logs.
package secrets

import (
	"fmt"
	"sync"
)

// Loader retrieves credentials from a source, usually the environment.
type Loader func() (map[string]string, error)

// Vault keeps credentials in memory and supports atomic reloading, so a
// rotated webhook URL can be picked up without restarting executions in
// flight.
type Vault struct {
	mu     sync.RWMutex
	values map[string]string
	loader Loader
}

// NewVault creates a Vault, calling the loader once to populate it.
func NewVault(loader Loader) (*Vault, error) {
	vals, err := loader()
	if err != nil {
		return nil, fmt.Errorf("initial secret load: %w", err)
	}
	return &Vault{
		values: vals,
		loader: loader,
	}, nil
}

// Get returns the credential for key, or an empty string if not set.
func (v *Vault) Get(key string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.values[key]
}

// Fill overlays vault credentials onto a provider's config in place.
// Fields already set in the config win; the vault only backfills blanks,
// so an operator can still pin a value in YAML during an incident.
func (v *Vault) Fill(provider string, cfg map[string]string) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, b := range Bindings() {
		if b.Provider != provider {
			continue
		}
		if cfg[b.Field] == "" {
			cfg[b.Field] = v.values[b.Key]
		}
	}
}

// Redacted returns a masked form of the credential safe for logs:
// the first two characters followed by asterisks, or fully masked when
// the credential is too short to keep a prefix.
func (v *Vault) Redacted(key string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	val := v.values[key]
	if val == "" {
		return ""
	}
	if len(val) <= 4 {
		return "****"
	}
	return val[:2] + "****"
}

// Reload calls the loader and swaps in the new credentials atomically.
// If the loader fails, existing values are preserved.
func (v *Vault) Reload() error {
	newVals, err := v.loader()
	if err != nil {
		return fmt.Errorf("reload secrets: %w", err)
	}
	v.mu.Lock()
	v.values = newVals
	v.mu.Unlock()
	return nil
}
