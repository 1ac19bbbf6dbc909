package graph

import "sort"

// Graph is an immutable, validated dependency graph over registered tasks.
// Edges are resolved at construction time by matching each task's Requires
// against the unique provider of each key, so resolution failures surface
// before any task runs.
type Graph struct {
	tasks     []*Task
	providers map[string]int // provided key -> producing task index
	incoming  [][]int        // producer indices per task, deduped, ascending
	outgoing  [][]int        // dependent indices per task, deduped, ascending
	order     []int          // deterministic topological order
}

// Build resolves the registry into an explicit graph. It fails fast on:
//   - empty registry or empty task titles
//   - duplicate titles
//   - two tasks providing the same key
//   - a required key no task provides
//   - a task requiring one of its own provided keys
//   - any dependency cycle
func Build(reg *Registry) (*Graph, error) {
	tasks := reg.Tasks()
	if len(tasks) == 0 {
		return nil, invalidf("no tasks registered")
	}

	titles := make(map[string]struct{}, len(tasks))
	providers := make(map[string]int, len(tasks))
	for i, t := range tasks {
		if t.Title == "" {
			return nil, invalidf("task %d has an empty title", i)
		}
		if _, dup := titles[t.Title]; dup {
			return nil, invalidf("duplicate task title: %q", t.Title)
		}
		titles[t.Title] = struct{}{}

		for _, key := range t.Provides {
			if key == "" {
				return nil, invalidf("task %q provides an empty key", t.Title)
			}
			if prev, dup := providers[key]; dup {
				return nil, invalidf("key %q provided by both %q and %q", key, tasks[prev].Title, t.Title)
			}
			providers[key] = i
		}
	}

	incoming := make([][]int, len(tasks))
	outgoing := make([][]int, len(tasks))
	for i, t := range tasks {
		seen := make(map[int]struct{}, len(t.Requires))
		for _, key := range t.Requires {
			producer, ok := providers[key]
			if !ok {
				return nil, invalidf("task %q requires %q, which no task provides", t.Title, key)
			}
			if producer == i {
				return nil, invalidf("task %q requires its own provided key %q", t.Title, key)
			}
			if _, dup := seen[producer]; dup {
				continue
			}
			seen[producer] = struct{}{}
			incoming[i] = append(incoming[i], producer)
			outgoing[producer] = append(outgoing[producer], i)
		}
	}
	for i := range incoming {
		sort.Ints(incoming[i])
		sort.Ints(outgoing[i])
	}

	g := &Graph{
		tasks:     tasks,
		providers: providers,
		incoming:  incoming,
		outgoing:  outgoing,
	}

	order, err := g.topoSort()
	if err != nil {
		return nil, err
	}
	g.order = order
	return g, nil
}

// topoSort runs Kahn's algorithm, always picking the lowest-index ready task
// so the order is deterministic for a given registration order.
func (g *Graph) topoSort() ([]int, error) {
	indeg := make([]int, len(g.tasks))
	for i := range g.tasks {
		indeg[i] = len(g.incoming[i])
	}

	var ready []int
	for i, d := range indeg {
		if d == 0 {
			ready = append(ready, i)
		}
	}
	sort.Ints(ready)

	order := make([]int, 0, len(g.tasks))
	for len(ready) > 0 {
		u := ready[0]
		ready = ready[1:]
		order = append(order, u)

		for _, v := range g.outgoing[u] {
			indeg[v]--
			if indeg[v] == 0 {
				ready = append(ready, v)
			}
		}
		sort.Ints(ready)
	}

	if len(order) != len(g.tasks) {
		var stuck []string
		for i, d := range indeg {
			if d > 0 {
				stuck = append(stuck, g.tasks[i].Title)
			}
		}
		return nil, invalidf("dependency cycle involving: %v", stuck)
	}
	return order, nil
}

// Tasks returns the graph's tasks in registration order.
func (g *Graph) Tasks() []*Task {
	out := make([]*Task, len(g.tasks))
	copy(out, g.tasks)
	return out
}

// Provider returns the task producing the given key.
func (g *Graph) Provider(key string) (*Task, bool) {
	i, ok := g.providers[key]
	if !ok {
		return nil, false
	}
	return g.tasks[i], true
}

// TopologicalOrder returns a deterministic dependency-respecting ordering of
// task titles.
func (g *Graph) TopologicalOrder() []string {
	titles := make([]string, 0, len(g.order))
	for _, i := range g.order {
		titles = append(titles, g.tasks[i].Title)
	}
	return titles
}
