// Package source holds the registry of legislative portal adapters.
package source

import (
	"fmt"
	"sort"
	"sync"

	"github.com/openlegis/lexarc/internal/law"
)

// Registry maps source names to adapters. Registration happens during
// application wiring; lookups happen on every pipeline run.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]law.Source
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]law.Source)}
}

// Register adds an adapter under its own name. Registering the same name
// twice is a wiring bug and returns an error.
func (r *Registry) Register(src law.Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := src.Name()
	if name == "" {
		return fmt.Errorf("source has empty name")
	}
	if _, exists := r.sources[name]; exists {
		return fmt.Errorf("source %q already registered", name)
	}
	r.sources[name] = src
	return nil
}

// Lookup returns the adapter for name.
func (r *Registry) Lookup(name string) (law.Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[name]
	if !ok {
		return nil, fmt.Errorf("source %q: %w", name, law.ErrSourceNotRegistered)
	}
	return src, nil
}

// Names returns the registered source names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
