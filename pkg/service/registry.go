package service

import (
	"fmt"
	"sync"
)

// Registry tracks every service managed on this node, indexed by name and
// queryable by role. It is the snapshot the dependency resolver evaluates
// against: a dependency is satisfied iff some registered service advertising
// the required role currently reports Running.
//
// Registration order is preserved; the manager starts services in that order
// and removes them in reverse.
type Registry struct {
	mu       sync.RWMutex
	services map[string]Service
	order    []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{services: make(map[string]Service)}
}

// Register adds a service to the registry.
// Returns an error for a nil service or a duplicate name.
func (r *Registry) Register(svc Service) error {
	if svc == nil {
		return fmt.Errorf("cannot register nil service")
	}
	if svc.Name() == "" {
		return fmt.Errorf("cannot register service with empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.services[svc.Name()]; exists {
		return fmt.Errorf("service %q already registered", svc.Name())
	}

	r.services[svc.Name()] = svc
	r.order = append(r.order, svc.Name())
	return nil
}

// Get returns the service registered under the given name.
func (r *Registry) Get(name string) (Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	svc, ok := r.services[name]
	if !ok {
		return nil, fmt.Errorf("service %q not registered", name)
	}
	return svc, nil
}

// List returns all registered services in registration order.
func (r *Registry) List() []Service {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Service, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.services[name])
	}
	return out
}

// Count returns the number of registered services.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.services)
}

// FindByRole returns every registered service advertising the given role,
// in registration order.
func (r *Registry) FindByRole(role Role) []Service {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Service
	for _, name := range r.order {
		svc := r.services[name]
		for _, ro := range svc.Roles() {
			if ro == role {
				out = append(out, svc)
				break
			}
		}
	}
	return out
}

// Satisfied reports whether at least one service advertising the role is
// currently Running.
func (r *Registry) Satisfied(role Role) bool {
	for _, svc := range r.FindByRole(role) {
		if svc.State() == StateRunning {
			return true
		}
	}
	return false
}

// CanStart evaluates every dependency of the service against the registry's
// current snapshot. It returns nil when all are satisfied, or
// ErrDependencyNotRunning wrapped with the first missing role otherwise.
func (r *Registry) CanStart(svc Service) error {
	for _, dep := range svc.Dependencies() {
		if !r.Satisfied(dep.Requires) {
			return fmt.Errorf("%w: %s requires %s", ErrDependencyNotRunning,
				dep.Owner, dep.Requires)
		}
	}
	return nil
}
