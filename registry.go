package dynacrud

import (
	"slices"
	"sync"
)

// Registry maps model names to delegates. It is assembled at startup and
// may be swapped wholesale on configuration reload.
type Registry struct {
	mu        sync.RWMutex
	delegates map[string]Delegate
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{delegates: make(map[string]Delegate)}
}

// Register adds or replaces the delegate of a model.
func (r *Registry) Register(model string, d Delegate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delegates[model] = d
}

// Replace swaps every registered delegate for the given set.
func (r *Registry) Replace(delegates map[string]Delegate) {
	next := make(map[string]Delegate, len(delegates))
	for name, d := range delegates {
		next[name] = d
	}
	r.mu.Lock()
	r.delegates = next
	r.mu.Unlock()
}

// Resolve returns the delegate of a model, or an *InvalidModelError.
func (r *Registry) Resolve(model string) (Delegate, error) {
	r.mu.RLock()
	d, ok := r.delegates[model]
	r.mu.RUnlock()
	if !ok || d == nil {
		return nil, NewInvalidModelError(model)
	}
	return d, nil
}

// Models returns the registered model names in sorted order.
func (r *Registry) Models() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.delegates))
	for name := range r.delegates {
		names = append(names, name)
	}
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}

var _ Resolver = (*Registry)(nil)
