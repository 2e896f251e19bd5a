package api

// TaskGraph is the in-memory DAG a workflow function builds by adding tasks
// and dependencies between them. Dependency operations accept either a
// single Task or a group (a []Task slice); a group fans in or out as N
// independent vertices rather than one, and nested groups are flattened
// recursively.
type TaskGraph struct {
	tasks map[string]Task
	order []string // insertion order, for stable TopologicalOrder ties
	// deps[dependent] = set of dependency ids dependent depends on.
	deps map[string]map[string]bool
	// dependents[dependency] = set of dependent ids that depend on it.
	dependents map[string]map[string]bool
}

// NewTaskGraph returns an empty graph.
func NewTaskGraph() *TaskGraph {
	return &TaskGraph{
		tasks:      map[string]Task{},
		deps:       map[string]map[string]bool{},
		dependents: map[string]map[string]bool{},
	}
}

// flatten expands v - a Task, a []Task, or nested slices thereof - into a
// flat list of Tasks already present in, or about to be added to, the graph.
func flatten(v interface{}) []Task {
	switch t := v.(type) {
	case Task:
		return []Task{t}
	case []Task:
		var out []Task
		for _, e := range t {
			out = append(out, flatten(e)...)
		}
		return out
	case [][]Task:
		var out []Task
		for _, e := range t {
			out = append(out, flatten(e)...)
		}
		return out
	default:
		return nil
	}
}

// AddTasks adds one or more tasks (or groups of tasks) to the graph. Adding
// a task already present is a no-op.
func (g *TaskGraph) AddTasks(items ...interface{}) {
	for _, item := range items {
		for _, t := range flatten(item) {
			if _, ok := g.tasks[t.ID()]; ok {
				continue
			}
			g.tasks[t.ID()] = t
			g.order = append(g.order, t.ID())
			g.deps[t.ID()] = map[string]bool{}
			g.dependents[t.ID()] = map[string]bool{}
		}
	}
}

// RemoveTasks removes tasks (or groups) from the graph along with any
// dependency edges touching them.
func (g *TaskGraph) RemoveTasks(items ...interface{}) {
	for _, item := range items {
		for _, t := range flatten(item) {
			id := t.ID()
			for dep := range g.deps[id] {
				delete(g.dependents[dep], id)
			}
			for dependent := range g.dependents[id] {
				delete(g.deps[dependent], id)
			}
			delete(g.deps, id)
			delete(g.dependents, id)
			delete(g.tasks, id)
			for i, oid := range g.order {
				if oid == id {
					g.order = append(g.order[:i], g.order[i+1:]...)
					break
				}
			}
		}
	}
}

// AddDependency makes dependent depend on dependency: dependent will not be
// dispatched until dependency has ended. Both arguments may be a single Task
// or a group; a group on either side fans out to every pairwise edge. Either
// endpoint missing from the graph returns ErrTaskNotInGraph.
func (g *TaskGraph) AddDependency(dependent, dependency interface{}) error {
	dependents := flatten(dependent)
	dependencies := flatten(dependency)
	for _, d := range dependents {
		if _, ok := g.tasks[d.ID()]; !ok {
			return ErrTaskNotInGraph
		}
	}
	for _, d := range dependencies {
		if _, ok := g.tasks[d.ID()]; !ok {
			return ErrTaskNotInGraph
		}
	}
	for _, d := range dependents {
		for _, p := range dependencies {
			g.deps[d.ID()][p.ID()] = true
			g.dependents[p.ID()][d.ID()] = true
		}
	}
	return nil
}

// HasDependency reports whether dependent directly depends on dependency.
func (g *TaskGraph) HasDependency(dependent, dependency Task) bool {
	deps, ok := g.deps[dependent.ID()]
	if !ok {
		return false
	}
	return deps[dependency.ID()]
}

// RemoveDependency removes a direct dependency edge, if present.
func (g *TaskGraph) RemoveDependency(dependent, dependency interface{}) {
	for _, d := range flatten(dependent) {
		for _, p := range flatten(dependency) {
			delete(g.deps[d.ID()], p.ID())
			delete(g.dependents[p.ID()], d.ID())
		}
	}
}

// Sequence adds pairwise dependencies so that each item only becomes
// dispatchable once the previous one (or, for a group, every task in it) has
// ended: Sequence(a, b, c) is equivalent to AddDependency(b, a) then
// AddDependency(c, b).
func (g *TaskGraph) Sequence(items ...interface{}) {
	for i := 1; i < len(items); i++ {
		g.AddDependency(items[i], items[i-1])
	}
}

// GetDependencies returns the tasks t directly depends on.
func (g *TaskGraph) GetDependencies(t Task) []Task {
	var out []Task
	for id := range g.deps[t.ID()] {
		out = append(out, g.tasks[id])
	}
	return out
}

// GetDependents returns the tasks that directly depend on t.
func (g *TaskGraph) GetDependents(t Task) []Task {
	var out []Task
	for id := range g.dependents[t.ID()] {
		out = append(out, g.tasks[id])
	}
	return out
}

// Tasks returns every task currently in the graph, in insertion order.
func (g *TaskGraph) Tasks() []Task {
	out := make([]Task, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.tasks[id])
	}
	return out
}

// TopologicalOrder returns the graph's tasks ordered so that every task
// appears after its dependencies (or, if reverse is true, before them).
// Insertion order breaks ties, keeping the result deterministic.
func (g *TaskGraph) TopologicalOrder(reverse bool) []Task {
	visited := map[string]bool{}
	var out []Task

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		depIDs := make([]string, 0, len(g.deps[id]))
		for dep := range g.deps[id] {
			depIDs = append(depIDs, dep)
		}
		for _, oid := range g.order {
			for _, dep := range depIDs {
				if oid == dep {
					visit(oid)
				}
			}
		}
		out = append(out, g.tasks[id])
	}

	for _, id := range g.order {
		visit(id)
	}

	if reverse {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}
