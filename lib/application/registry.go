package application

import (
	"sort"
	"sync"
)

// ----------------------------------------------
// Factory Registry
// ----------------------------------------------

// Factory creates an application instance from its descriptor
type Factory func(cfg *Config) (IApplication, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a factory available under the given name. Registering the
// same name twice panics, it is a programming error.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[name]; exists {
		panic("application: factory registered twice: " + name)
	}
	registry[name] = factory
}

// New instantiates the application named by cfg.Factory
func New(cfg *Config) (IApplication, error) {
	registryMu.RLock()
	factory, exists := registry[cfg.Factory]
	registryMu.RUnlock()

	if !exists {
		return nil, Errorf(ResultApplicationModuleError, "unknown application factory %q (registered: %v)", cfg.Factory, Factories())
	}

	app, err := factory(cfg)
	if err != nil {
		if _, ok := err.(*Error); ok {
			return nil, err
		}
		return nil, Errorf(ResultApplicationModuleError, "factory %q failed: %v", cfg.Factory, err)
	}
	return app, nil
}

// Factories returns the names of all registered factories, sorted
func Factories() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
