package compiler

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/aria/pkg/storage"
	"github.com/cuemby/aria/pkg/types"
	"github.com/cuemby/aria/pkg/workflow/api"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "aria-compiler-test")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	store, err := storage.NewBoltStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCompileEmptyGraphYieldsStartEndPair(t *testing.T) {
	store := newTestStore(t)
	c := NewCompiler(store, "exec-1", "", 1, time.Second)

	require.NoError(t, c.Compile(api.NewTaskGraph()))

	tasks, err := store.ListTasksByExecution("exec-1")
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	var start, end *types.Task
	for _, tk := range tasks {
		switch tk.Kind {
		case types.TaskKindStartWorkflow:
			start = tk
		case types.TaskKindEndWorkflow:
			end = tk
		}
	}
	require.NotNil(t, start)
	require.NotNil(t, end)
	require.Contains(t, end.Dependencies, start.ID)
}

func TestCompileSequentialOperations(t *testing.T) {
	store := newTestStore(t)
	c := NewCompiler(store, "exec-2", "", 1, time.Second)

	g := api.NewTaskGraph()
	a := api.NewOperationTask("create-a", "node", "node-a", "Standard", "create", "pkg.create")
	b := api.NewOperationTask("create-b", "node", "node-b", "Standard", "create", "pkg.create")
	g.AddTasks(a, b)
	g.Sequence(a, b)

	require.NoError(t, c.Compile(g))

	tasks, err := store.ListTasksByExecution("exec-2")
	require.NoError(t, err)
	require.Len(t, tasks, 4) // start, a, b, end

	byFunction := map[string]*types.Task{}
	for _, tk := range tasks {
		if tk.Kind == types.TaskKindOperation {
			byFunction[tk.Name] = tk
		}
	}
	require.Contains(t, byFunction, "create-a")
	require.Contains(t, byFunction, "create-b")
	require.Contains(t, byFunction["create-b"].Dependencies, byFunction["create-a"].ID)
}

func TestCompileNestedWorkflowDependsOnEndStub(t *testing.T) {
	store := newTestStore(t)
	c := NewCompiler(store, "exec-3", "", 1, time.Second)

	inner := api.NewTaskGraph()
	innerOp := api.NewOperationTask("inner-op", "node", "node-a", "Standard", "create", "pkg.create")
	inner.AddTasks(innerOp)

	outer := api.NewTaskGraph()
	wf := api.NewWorkflowTask("sub", inner)
	after := api.NewOperationTask("after", "node", "node-a", "Standard", "start", "pkg.start")
	outer.AddTasks(wf, after)
	outer.Sequence(wf, after)

	require.NoError(t, c.Compile(outer))

	tasks, err := store.ListTasksByExecution("exec-3")
	require.NoError(t, err)
	// start_workflow, start_subworkflow, inner-op, end_subworkflow, after, end_workflow
	require.Len(t, tasks, 6)

	var afterTask, endSubworkflow *types.Task
	for _, tk := range tasks {
		if tk.Name == "after" {
			afterTask = tk
		}
		if tk.Kind == types.TaskKindEndSubworkflow {
			endSubworkflow = tk
		}
	}
	require.NotNil(t, afterTask)
	require.NotNil(t, endSubworkflow)
	require.Contains(t, afterTask.Dependencies, endSubworkflow.ID)
}

func TestCompileNestedWorkflowIgnoresLeafSiblingCompiledFirst(t *testing.T) {
	store := newTestStore(t)
	c := NewCompiler(store, "exec-4", "", 1, time.Second)

	inner := api.NewTaskGraph()
	innerOp := api.NewOperationTask("inner-op", "node", "node-a", "Standard", "create", "pkg.create")
	inner.AddTasks(innerOp)

	outer := api.NewTaskGraph()
	sibling := api.NewOperationTask("sibling", "node", "node-b", "Standard", "create", "pkg.create")
	wf := api.NewWorkflowTask("sub", inner)
	// sibling has no dependency relationship to wf at all and is added
	// before it, so topological order visits (and persists) sibling first
	// while it remains a leaf of the outer graph for the whole run.
	outer.AddTasks(sibling, wf)

	require.NoError(t, c.Compile(outer))

	tasks, err := store.ListTasksByExecution("exec-4")
	require.NoError(t, err)

	var siblingTask, endSubworkflow *types.Task
	for _, tk := range tasks {
		if tk.Name == "sibling" {
			siblingTask = tk
		}
		if tk.Kind == types.TaskKindEndSubworkflow {
			endSubworkflow = tk
		}
	}
	require.NotNil(t, siblingTask)
	require.NotNil(t, endSubworkflow)

	// The sibling, persisted before the sub-workflow recurses, must never
	// leak into the sub-workflow's own end stub dependencies - only the
	// nested graph's own tasks (here inner-op) belong there.
	require.NotContains(t, endSubworkflow.Dependencies, siblingTask.ID)
}
