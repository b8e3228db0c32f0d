package gateway

import (
	"errors"
	"fmt"
	"sync"
)

var ErrUnknownGateway = errors.New("gateway: no adapter registered")

// Registry maps gateway names to adapters and tracks which gateways are
// manual (capture requires human intervention) versus automatic. Adapters
// are resolved once per operation.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	manual   map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		manual:   make(map[string]bool),
	}
}

// Register adds an adapter under its own name, replacing any previous one.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// SetManual marks a gateway as manual or automatic.
func (r *Registry) SetManual(name string, manual bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.manual[name] = manual
}

// Resolve returns the adapter for a gateway name.
func (r *Registry) Resolve(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGateway, name)
	}
	return a, nil
}

// IsManual reports whether a gateway is configured as manual. Unknown
// gateways default to automatic.
func (r *Registry) IsManual(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.manual[name]
}
