package stage

import (
	"sync"

	"github.com/tidemark/orderflow/order"
)

// Registry maps working states to their stage workers. It is safe for
// concurrent use. The engine registers the five pipeline workers at
// composition time; tests substitute fakes freely.
type Registry struct {
	mu      sync.RWMutex
	workers map[order.Status]Worker
}

// NewRegistry creates an empty stage registry.
func NewRegistry() *Registry {
	return &Registry{workers: make(map[order.Status]Worker)}
}

// Register binds a worker to the working state it serves. Re-registering
// a state replaces the previous worker.
func (r *Registry) Register(status order.Status, w Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[status] = w
}

// Get returns the worker for a working state.
func (r *Registry) Get(status order.Status) (Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[status]
	return w, ok
}

// Statuses returns all registered working states.
func (r *Registry) Statuses() []order.Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]order.Status, 0, len(r.workers))
	for s := range r.workers {
		out = append(out, s)
	}
	return out
}
