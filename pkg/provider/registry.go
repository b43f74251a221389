package provider

import (
	"fmt"
	"sort"
	"sync"
)

// Constructor builds a provider engine from its decrypted configuration.
type Constructor func(deps Deps, cfg *Config) (Provider, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Constructor)
)

// Register maps a provider kind to its constructor. Concrete provider
// packages call this from init; re-registration of the same kind is
// idempotent and order-independent.
func Register(kind string, ctor Constructor) {
	if kind == "" || ctor == nil {
		panic("provider: Register requires a kind and a constructor")
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = ctor
}

// New instantiates the engine registered under cfg.Kind.
func New(deps Deps, cfg *Config) (Provider, error) {
	if cfg == nil {
		return nil, &ConfigError{Kind: "", Reason: "nil config"}
	}
	registryMu.RLock()
	ctor, ok := registry[cfg.Kind]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProviderType, cfg.Kind)
	}
	return ctor(deps, cfg)
}

// Kinds returns the registered provider kinds, sorted.
func Kinds() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	kinds := make([]string, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
