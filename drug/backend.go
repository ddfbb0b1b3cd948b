package drug

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Backend is one classification method: an on-device model, a heuristic, or
// anything else implementing the contract. Implementations must respect ctx
// cancellation and return bounded confidences.
type Backend interface {
	Name() string
	Classify(ctx context.Context, sample *Sample) (ClassificationResult, error)
}

// Registry holds the available backends keyed by identifier. The
// orchestrator resolves its configured chain against it.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewRegistry returns an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Register adds a backend under its identifier. Registering the same
// identifier twice is an error.
func (r *Registry) Register(backend Backend) error {
	if backend == nil {
		return fmt.Errorf("nil backend")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	name := backend.Name()
	if _, exists := r.backends[name]; exists {
		return fmt.Errorf("backend %s already registered", name)
	}
	r.backends[name] = backend
	return nil
}

// Get resolves a backend by identifier.
func (r *Registry) Get(name string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	backend, ok := r.backends[name]
	return backend, ok
}

// Names lists the registered identifiers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
