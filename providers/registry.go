// Package providers provides a unified registry for all imagemux provider
// implementations. It allows automatic adapter creation from configuration.
package providers

import (
	"fmt"
	"sync"

	"github.com/imagemux/imagemux/pkg/provider"
	"github.com/imagemux/imagemux/providers/dalle"
	"github.com/imagemux/imagemux/providers/firefly"
	"github.com/imagemux/imagemux/providers/sdxl"
)

var (
	registry     = make(map[string]provider.Factory)
	registryOnce sync.Once
	registryMu   sync.RWMutex
)

// Register registers an adapter factory with the given type name.
func Register(providerType string, factory provider.Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[providerType] = factory
}

// Get returns the factory for the given provider type.
func Get(providerType string) (provider.Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[providerType]
	return f, ok
}

// Create creates an adapter instance from configuration.
func Create(cfg provider.Config) (provider.Adapter, error) {
	registryMu.RLock()
	factory, ok := registry[cfg.Type]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown provider type: %s (available: %v)", cfg.Type, List())
	}

	return factory(cfg)
}

// List returns all registered provider type names.
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

// RegisterBuiltins registers all built-in adapter factories.
// This is called automatically on first use.
func RegisterBuiltins() {
	registryOnce.Do(func() {
		Register("dalle", dalle.NewFromConfig)
		Register("azure-dalle", dalle.NewAzureFromConfig)
		Register("sdxl", sdxl.NewFromConfig)
		Register("firefly", firefly.NewFromConfig)
	})
}
