// Package compiler lowers an in-memory api.TaskGraph into persisted
// types.Task rows, bracketed by start/end stub markers and connected by
// dependency edges, the way pkg/workflow/engine expects to find them.
package compiler

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/aria/pkg/storage"
	"github.com/cuemby/aria/pkg/types"
	"github.com/cuemby/aria/pkg/workflow/api"
)

const endSuffix = "-End"

// Compiler lowers task graphs for a single execution. One Compiler is
// constructed per execution being prepared.
type Compiler struct {
	store           storage.Store
	executionID     string
	defaultExecutor string
	defaultMaxAttempts int
	defaultRetryInterval time.Duration
	// apiToPersisted maps an api task id (or "<id>-End" for a nested
	// WorkflowTask) to the persisted task id that stands in for it when
	// resolving dependency edges.
	apiToPersisted map[string]string
}

// NewCompiler constructs a Compiler that will persist tasks for executionID,
// defaulting operation tasks to defaultExecutor ("" for thread-executed,
// "process" for the subprocess executor) and the given retry policy when an
// OperationTask doesn't specify its own.
func NewCompiler(store storage.Store, executionID, defaultExecutor string, defaultMaxAttempts int, defaultRetryInterval time.Duration) *Compiler {
	return &Compiler{
		store:                store,
		executionID:          executionID,
		defaultExecutor:      defaultExecutor,
		defaultMaxAttempts:   defaultMaxAttempts,
		defaultRetryInterval: defaultRetryInterval,
		apiToPersisted:       map[string]string{},
	}
}

// Compile lowers graph into persisted tasks for the root workflow.
func (c *Compiler) Compile(graph *api.TaskGraph) error {
	_, err := c.compile(graph, types.TaskKindStartWorkflow, types.TaskKindEndWorkflow, nil)
	return err
}

// compile lowers graph, bracketed by a start/end stub pair of the given
// kinds, with the start stub depending on dependsOn (persisted task ids
// computed by the enclosing call for a nested WorkflowTask, empty for the
// root graph). It returns the persisted id of the end stub, which is what
// an enclosing graph's dependency edges should point at per the rule that a
// dependency on a sub-workflow must wait for the whole sub-graph to finish.
func (c *Compiler) compile(graph *api.TaskGraph, startKind, endKind types.TaskKind, dependsOn []string) (string, error) {
	startTask := &types.Task{
		ID:           uuid.NewString(),
		ExecutionID:  c.executionID,
		Kind:         startKind,
		Status:       types.TaskPending,
		Dependencies: dependsOn,
	}
	if err := c.store.CreateTask(startTask); err != nil {
		return "", fmt.Errorf("compiler: creating start stub: %w", err)
	}

	// frame collects only the tasks created by this call to compile, so the
	// leaf search below never crosses into a sibling of an enclosing graph
	// or into a nested sub-workflow's own internals.
	frame := []*types.Task{startTask}

	// Dependency resolution requires every api task's dependencies to have
	// already been persisted, which holds only if we walk the graph so that
	// a task's dependencies are compiled before the task itself - standard
	// (non-reversed) topological order in this package's graph.
	for _, task := range graph.TopologicalOrder(false) {
		deps := c.resolveDependencies(graph.GetDependencies(task))
		if len(deps) == 0 {
			deps = []string{startTask.ID}
		}

		switch t := task.(type) {
		case *api.OperationTask:
			persisted, err := c.compileOperationTask(t, deps)
			if err != nil {
				return "", err
			}
			c.apiToPersisted[t.ID()] = persisted.ID
			frame = append(frame, persisted)
		case *api.WorkflowTask:
			endID, err := c.compile(t.Graph, types.TaskKindStartSubworkflow, types.TaskKindEndSubworkflow, deps)
			if err != nil {
				return "", err
			}
			c.apiToPersisted[t.ID()+endSuffix] = endID
			// Stand in for the sub-workflow with a placeholder carrying only
			// its end stub's id: the frame's leaf search only needs to know
			// this node exists and whether something in-frame depends on it,
			// not its internal structure.
			frame = append(frame, &types.Task{ID: endID})
		case *api.StubTask:
			persisted := &types.Task{
				ID:           uuid.NewString(),
				ExecutionID:  c.executionID,
				Kind:         types.TaskKindStub,
				Status:       types.TaskPending,
				Name:         t.Name,
				Dependencies: deps,
			}
			if err := c.store.CreateTask(persisted); err != nil {
				return "", fmt.Errorf("compiler: creating stub task: %w", err)
			}
			c.apiToPersisted[t.ID()] = persisted.ID
			frame = append(frame, persisted)
		default:
			return "", fmt.Errorf("compiler: unknown task kind %T", t)
		}
	}

	leaves := nonDependentTasks(frame)
	if len(leaves) == 0 {
		leaves = []string{startTask.ID}
	}
	endTask := &types.Task{
		ID:           uuid.NewString(),
		ExecutionID:  c.executionID,
		Kind:         endKind,
		Status:       types.TaskPending,
		Dependencies: leaves,
	}
	if err := c.store.CreateTask(endTask); err != nil {
		return "", fmt.Errorf("compiler: creating end stub: %w", err)
	}
	return endTask.ID, nil
}

// resolveDependencies maps API-graph dependencies onto the persisted task
// ids that stand in for them: a real task maps to itself; a sub-workflow
// dependency maps to its end stub, so nothing after it starts until the
// whole sub-graph finishes.
func (c *Compiler) resolveDependencies(apiDeps []api.Task) []string {
	var out []string
	for _, d := range apiDeps {
		key := d.ID()
		if _, isWorkflow := d.(*api.WorkflowTask); isWorkflow {
			key = d.ID() + endSuffix
		}
		if persisted, ok := c.apiToPersisted[key]; ok {
			out = append(out, persisted)
		}
	}
	return out
}

func (c *Compiler) compileOperationTask(t *api.OperationTask, deps []string) (*types.Task, error) {
	maxAttempts := t.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = c.defaultMaxAttempts
	}
	retryInterval := time.Duration(t.RetryInterval) * time.Second
	if retryInterval == 0 {
		retryInterval = c.defaultRetryInterval
	}
	executor := t.Executor
	if executor == "" {
		executor = c.defaultExecutor
	}

	persisted := &types.Task{
		ID:            uuid.NewString(),
		ExecutionID:   c.executionID,
		Kind:          types.TaskKindOperation,
		Status:        types.TaskPending,
		Name:          t.Name,
		ActorType:     t.ActorType,
		ActorID:       t.ActorID,
		RunsOn:        t.RunsOn,
		Function:      t.Function,
		Inputs:        t.Inputs,
		PluginName:    t.PluginName,
		Executor:      executor,
		MaxAttempts:   maxAttempts,
		RetryInterval: retryInterval,
		IgnoreFailure: t.IgnoreFailure,
		Dependencies:  deps,
	}
	if err := c.store.CreateTask(persisted); err != nil {
		return nil, fmt.Errorf("compiler: creating operation task: %w", err)
	}
	return persisted, nil
}

// nonDependentTasks returns the ids of every task in frame that no other
// task in frame currently lists as a dependency - the leaves of the graph
// built so far by the enclosing compile call. Scoped to frame rather than
// the whole execution, so a sibling task of an enclosing graph - already
// persisted by the time a nested WorkflowTask recurses - never leaks into
// that sub-workflow's own end stub dependencies.
func nonDependentTasks(frame []*types.Task) []string {
	hasDependent := map[string]bool{}
	for _, t := range frame {
		for _, d := range t.Dependencies {
			hasDependent[d] = true
		}
	}
	var leaves []string
	for _, t := range frame {
		if !hasDependent[t.ID] {
			leaves = append(leaves, t.ID)
		}
	}
	return leaves
}
