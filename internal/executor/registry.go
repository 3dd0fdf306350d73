package executor

import (
	"fmt"
	"sort"
	"sync"

	"github.com/loomworks/loom/internal/plan"
)

// Registry maps specification kinds to the executors that run them.
type Registry struct {
	mu        sync.RWMutex
	executors map[plan.SpecKind]Executor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: map[plan.SpecKind]Executor{}}
}

// Register installs an executor for a spec kind. Registering a kind twice is
// an error.
func (r *Registry) Register(kind plan.SpecKind, exec Executor) error {
	switch kind {
	case plan.SpecAgent, plan.SpecShell, plan.SpecProcess:
	default:
		return fmt.Errorf("executor: unknown spec kind %q", kind)
	}
	if exec == nil {
		return fmt.Errorf("executor: executor is required for %s", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.executors[kind]; exists {
		return fmt.Errorf("executor: %s already registered", kind)
	}
	r.executors[kind] = exec
	return nil
}

// MustRegister panics if registration fails.
func (r *Registry) MustRegister(kind plan.SpecKind, exec Executor) {
	if err := r.Register(kind, exec); err != nil {
		panic(err)
	}
}

// Resolve returns the executor registered for a spec kind.
func (r *Registry) Resolve(kind plan.SpecKind) (Executor, error) {
	r.mu.RLock()
	exec, ok := r.executors[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("executor: no executor registered for kind %s", kind)
	}
	return exec, nil
}

// Kinds returns the registered spec kinds, sorted.
func (r *Registry) Kinds() []plan.SpecKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]plan.SpecKind, 0, len(r.executors))
	for kind := range r.executors {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
