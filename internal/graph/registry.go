package graph

import "sync"

// Registry collects tasks from independent factory invocations before the
// graph is built. It is safe for concurrent registration.
type Registry struct {
	mu      sync.Mutex
	tasks   []*Task
	byTitle map[string]struct{}
}

// NewRegistry creates an empty task registry.
func NewRegistry() *Registry {
	return &Registry{
		byTitle: make(map[string]struct{}),
	}
}

// Ensure registers the task only if no task with the same title has been
// registered yet; otherwise it is a no-op and the first registration wins.
// Shared prerequisite tasks (base image pulls, buildpack clones) use Ensure so
// that multiple services converge on a single node.
func (r *Registry) Ensure(t *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byTitle[t.Title]; exists {
		return
	}
	r.byTitle[t.Title] = struct{}{}
	r.tasks = append(r.tasks, t)
}

// Add registers the task unconditionally. Pipeline stage tasks use Add
// because their titles already carry the service name.
func (r *Registry) Add(t *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byTitle[t.Title] = struct{}{}
	r.tasks = append(r.tasks, t)
}

// Tasks returns the registered tasks in registration order.
func (r *Registry) Tasks() []*Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Task, len(r.tasks))
	copy(out, r.tasks)
	return out
}

// Len returns the number of registered tasks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}
