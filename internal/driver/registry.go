package driver

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Factory builds a fresh, unconnected adapter instance for one registration.
type Factory func(name string, logger *zap.Logger) Driver

// Registry maps protocol kinds to adapter factories. Adding a new protocol
// means registering a new factory, never modifying the core.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory for a protocol kind.
func (r *Registry) Register(kind string, factory Factory) error {
	if kind == "" || factory == nil {
		return Configurationf("registry: kind and factory are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[kind]; exists {
		return Configurationf("registry: kind %q already registered", kind)
	}
	r.factories[kind] = factory
	return nil
}

// MustRegister panics on a duplicate kind. Used by the built-in adapter set
// where a clash is a programming error.
func (r *Registry) MustRegister(kind string, factory Factory) {
	if err := r.Register(kind, factory); err != nil {
		panic(err)
	}
}

// New instantiates an adapter for the given kind.
func (r *Registry) New(kind, name string, logger *zap.Logger) (Driver, error) {
	r.mu.RLock()
	factory, exists := r.factories[kind]
	r.mu.RUnlock()

	if !exists {
		return nil, Configurationf("unknown protocol kind: %q", kind)
	}
	return factory(name, logger), nil
}

// Kinds returns the registered protocol kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}
