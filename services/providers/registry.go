package providers

import (
	"errors"
	"sync"
)

var (
	// ErrProviderNotFound is returned when a provider is not registered
	ErrProviderNotFound = errors.New("provider not found")
)

// Factory builds a provider instance from its configuration
type Factory func(config Config) (Provider, error)

// Registry maps provider names to adapter factories. It is populated once at
// process start and read many times; registration is an idempotent overwrite.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates a new provider registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register registers a factory under a name, overwriting any previous entry
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" {
		return errors.New("provider name cannot be empty")
	}
	if factory == nil {
		return errors.New("provider factory cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[name] = factory
	return nil
}

// Resolve retrieves a factory by name
func (r *Registry) Resolve(name string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, exists := r.factories[name]
	if !exists {
		return nil, ErrProviderNotFound
	}

	return factory, nil
}

// Build resolves a factory and constructs the provider
func (r *Registry) Build(name string, config Config) (Provider, error) {
	factory, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	return factory(config)
}

// Names returns all registered provider names
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}

	return names
}

// Len returns the number of registered factories
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.factories)
}
