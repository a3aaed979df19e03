package stack

import (
	"fmt"
	"sync"
)

// Registry manages the collection of loaded stacks
type Registry struct {
	mu     sync.RWMutex
	stacks map[string]*Stack
}

// NewRegistry creates a new stack registry
func NewRegistry(stacks map[string]*Stack) *Registry {
	return &Registry{
		stacks: stacks,
	}
}

// Get retrieves a stack by name
func (r *Registry) Get(name string) (*Stack, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, exists := r.stacks[name]
	if !exists {
		return nil, fmt.Errorf("stack '%s' not found", name)
	}

	return st, nil
}

// List returns all stack names
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.stacks))
	for name := range r.stacks {
		names = append(names, name)
	}

	return names
}

// Count returns the number of stacks
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.stacks)
}
