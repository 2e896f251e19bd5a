// Package registry resolves the fully-qualified function names stored on a
// task or workflow declaration to the Go functions that implement them.
// There is no reflection-based import machinery: every operation and
// workflow function must be registered before the engine can dispatch
// tasks that name it, which the ambient builtin package and any plugin do
// at startup.
package registry

import (
	"fmt"
	"sync"

	"github.com/cuemby/aria/pkg/storage"
	"github.com/cuemby/aria/pkg/workflow/api"
	"github.com/cuemby/aria/pkg/workflow/wfcontext"
)

// OperationFunc implements a single node or relationship operation.
type OperationFunc func(ctx *wfcontext.OperationContext) error

// WorkflowFunc builds the task graph for a workflow invocation against
// serviceID's nodes and relationships. inputs holds the caller-supplied
// (and default-merged) workflow inputs.
type WorkflowFunc func(store storage.Store, serviceID string, inputs map[string]interface{}) (*api.TaskGraph, error)

// ErrNotFound is returned by Operation/Workflow when name was never
// registered.
type ErrNotFound struct {
	Kind string
	Name string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("registry: no %s registered as %q", e.Kind, e.Name)
}

// Registry holds every operation and workflow function known to this
// process.
type Registry struct {
	mu         sync.RWMutex
	operations map[string]OperationFunc
	workflows  map[string]WorkflowFunc
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		operations: make(map[string]OperationFunc),
		workflows:  make(map[string]WorkflowFunc),
	}
}

// RegisterOperation makes fn resolvable as name. Re-registering the same
// name overwrites the previous binding; callers control load order.
func (r *Registry) RegisterOperation(name string, fn OperationFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.operations[name] = fn
}

// RegisterWorkflow makes fn resolvable as name.
func (r *Registry) RegisterWorkflow(name string, fn WorkflowFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workflows[name] = fn
}

// Operation resolves name to its function.
func (r *Registry) Operation(name string) (OperationFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.operations[name]
	if !ok {
		return nil, &ErrNotFound{Kind: "operation", Name: name}
	}
	return fn, nil
}

// Workflow resolves name to its function.
func (r *Registry) Workflow(name string) (WorkflowFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.workflows[name]
	if !ok {
		return nil, &ErrNotFound{Kind: "workflow", Name: name}
	}
	return fn, nil
}

// HasOperation reports whether name is registered, without resolving it.
func (r *Registry) HasOperation(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.operations[name]
	return ok
}
