// factory.go implements the store backend registry, mapping store.backend
// values (postgres, badger) to constructors.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/overseer-lite/overseer-lite/internal/config"
)

// FactoryFunc opens a backend from configuration.
type FactoryFunc func(ctx context.Context, cfg *config.Config) (Store, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]FactoryFunc)
)

// Register registers a store backend factory
func Register(name string, factory FactoryFunc) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = factory
}

// Backends lists the registered backend names
func Backends() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New opens the backend named by cfg.Store.Backend
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	factoriesMu.RLock()
	factory, ok := factories[cfg.Store.Backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported store backend: %s (registered: %v)", cfg.Store.Backend, Backends())
	}
	return factory(ctx, cfg)
}
