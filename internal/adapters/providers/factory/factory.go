// Package factory maps provider adapter types to constructors so the wiring
// layer stays data-driven: configuration names a type, the factory builds it.
package factory

import (
	"fmt"
	"sync"

	"github.com/makaronz/animatize/internal/core/domain"
	"github.com/makaronz/animatize/internal/core/ports"
)

// AdapterConfig is the unified configuration shape handed to constructors.
type AdapterConfig struct {
	ID      string            `mapstructure:"id"`
	Type    string            `mapstructure:"type"`
	BaseURL string            `mapstructure:"base_url"`
	APIKey  string            `mapstructure:"api_key"`
	Options map[string]string `mapstructure:"options"`
}

// Constructor builds a ProviderAdapter from its configuration.
type Constructor func(cfg AdapterConfig) (ports.ProviderAdapter, error)

var (
	mu           sync.RWMutex
	constructors = make(map[string]Constructor)
)

// Register makes an adapter type available. Adapter packages call this from
// init; a duplicate type is a programming error.
func Register(adapterType string, c Constructor) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := constructors[adapterType]; exists {
		panic(fmt.Sprintf("provider adapter type %q already registered", adapterType))
	}
	constructors[adapterType] = c
}

// New builds an adapter of the configured type.
func New(cfg AdapterConfig) (ports.ProviderAdapter, error) {
	mu.RLock()
	c, ok := constructors[cfg.Type]
	mu.RUnlock()
	if !ok {
		return nil, domain.InvalidModel(fmt.Sprintf("no adapter registered for provider type %q", cfg.Type))
	}
	return c(cfg)
}
