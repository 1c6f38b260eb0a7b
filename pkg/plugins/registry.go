package plugins

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/platinummonkey/boringtable/pkg/table"
)

var (
	// ErrUnknownPlugin is returned when a manifest names an unregistered plugin.
	ErrUnknownPlugin = errors.New("unknown plugin")
	// ErrAlreadyRegistered is returned by Register for a taken name.
	ErrAlreadyRegistered = errors.New("plugin already registered")
)

// Factory creates a plugin for one entry of manifest's chain.
type Factory[T any] func(manifest *Manifest, spec PluginSpec) (table.Plugin, error)

// Registry maps plugin names to factories. It is safe for concurrent use.
type Registry[T any] struct {
	mu        sync.RWMutex
	factories map[string]Factory[T]
}

// NewRegistry returns an empty registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{factories: make(map[string]Factory[T])}
}

// Register adds a factory under name.
func (r *Registry[T]) Register(name string, factory Factory[T]) error {
	if name == "" {
		return fmt.Errorf("cannot register plugin with empty name")
	}
	if factory == nil {
		return fmt.Errorf("cannot register nil factory for %s", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	r.factories[name] = factory
	return nil
}

// Unregister removes a factory.
func (r *Registry[T]) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; !exists {
		return fmt.Errorf("%w: %s", ErrUnknownPlugin, name)
	}
	delete(r.factories, name)
	return nil
}

// Get returns the factory registered under name.
func (r *Registry[T]) Get(name string) (Factory[T], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, name)
	}
	return f, nil
}

// Has reports whether name is registered.
func (r *Registry[T]) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Names returns the registered names in sorted order.
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered factories.
func (r *Registry[T]) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.factories)
}
