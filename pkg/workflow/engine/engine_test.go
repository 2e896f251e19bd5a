package engine

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/aria/pkg/events"
	"github.com/cuemby/aria/pkg/storage"
	"github.com/cuemby/aria/pkg/types"
	"github.com/cuemby/aria/pkg/workflow/executor"
	"github.com/cuemby/aria/pkg/workflow/handlers"
	"github.com/cuemby/aria/pkg/workflow/registry"
	"github.com/cuemby/aria/pkg/workflow/wfcontext"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "aria-engine-test")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	store, err := storage.NewBoltStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestBus(store storage.Store) *events.Bus {
	bus := events.NewBus()
	handlers.New(store).Register(bus)
	return bus
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func noop(ctx *wfcontext.OperationContext) error { return nil }

// TestEngineExecuteDrivesGraphToSucceeded covers S1: a two-operation graph,
// the second depending on the first, bracketed by start/end stubs, runs to
// completion with no retries or cancellation involved.
func TestEngineExecuteDrivesGraphToSucceeded(t *testing.T) {
	store := newTestStore(t)
	bus := newTestBus(store)
	reg := registry.New()
	reg.RegisterOperation("test.create", noop)
	reg.RegisterOperation("test.start", noop)

	exec := &types.Execution{ID: "exec-s1", ServiceID: "svc-s1", WorkflowName: "install", Status: types.ExecutionPending}
	require.NoError(t, store.CreateExecution(exec))

	start := &types.Task{ID: "s1-start", ExecutionID: exec.ID, Kind: types.TaskKindStartWorkflow, Status: types.TaskPending}
	require.NoError(t, store.CreateTask(start))

	create := &types.Task{
		ID: "s1-create", ExecutionID: exec.ID, Kind: types.TaskKindOperation, Status: types.TaskPending,
		Name: "create", Function: "test.create",
		MaxAttempts: 1, Dependencies: []string{start.ID},
	}
	require.NoError(t, store.CreateTask(create))

	begin := &types.Task{
		ID: "s1-start-op", ExecutionID: exec.ID, Kind: types.TaskKindOperation, Status: types.TaskPending,
		Name: "start", Function: "test.start",
		MaxAttempts: 1, Dependencies: []string{create.ID},
	}
	require.NoError(t, store.CreateTask(begin))

	end := &types.Task{ID: "s1-end", ExecutionID: exec.ID, Kind: types.TaskKindEndWorkflow, Status: types.TaskPending, Dependencies: []string{begin.ID}}
	require.NoError(t, store.CreateTask(end))

	thread := executor.NewThreadExecutor(store, bus, reg, nil, 2)
	defer thread.Close()

	e := New(store, bus, exec.ID, map[string]executor.Executor{"": thread})
	require.NoError(t, e.Execute(context.Background(), false, false))

	got, err := store.GetExecution(exec.ID)
	require.NoError(t, err)
	require.Equal(t, types.ExecutionSucceeded, got.Status)
}

// TestEngineExecuteStopsOnCancelMidRun covers S4: two parallel operations
// that block until the test releases them. Once both have reported
// started, CancelExecution is called; Execute must return promptly with
// the execution left in the cancelled status, without waiting for the
// blocked operations to finish.
func TestEngineExecuteStopsOnCancelMidRun(t *testing.T) {
	store := newTestStore(t)
	bus := newTestBus(store)
	reg := registry.New()

	release := make(chan struct{})
	var startedMu sync.Mutex
	started := map[string]bool{}
	bus.Subscribe(events.SignalTaskStart, func(p events.Payload) {
		tk, _ := p.Task.(*types.Task)
		if tk == nil {
			return
		}
		startedMu.Lock()
		started[tk.ID] = true
		startedMu.Unlock()
	})

	reg.RegisterOperation("test.sleep", func(ctx *wfcontext.OperationContext) error {
		<-release
		return nil
	})

	exec := &types.Execution{ID: "exec-s4", ServiceID: "svc-s4", WorkflowName: "parallel", Status: types.ExecutionPending}
	require.NoError(t, store.CreateExecution(exec))

	taskA := &types.Task{ID: "s4-a", ExecutionID: exec.ID, Kind: types.TaskKindOperation, Status: types.TaskPending, Name: "sleep-a", Function: "test.sleep", MaxAttempts: 1}
	require.NoError(t, store.CreateTask(taskA))
	taskB := &types.Task{ID: "s4-b", ExecutionID: exec.ID, Kind: types.TaskKindOperation, Status: types.TaskPending, Name: "sleep-b", Function: "test.sleep", MaxAttempts: 1}
	require.NoError(t, store.CreateTask(taskB))

	thread := executor.NewThreadExecutor(store, bus, reg, nil, 2)
	defer thread.Close()
	defer close(release)

	e := New(store, bus, exec.ID, map[string]executor.Executor{"": thread})

	done := make(chan error, 1)
	go func() { done <- e.Execute(context.Background(), false, false) }()

	waitFor(t, func() bool {
		startedMu.Lock()
		defer startedMu.Unlock()
		return started[taskA.ID] && started[taskB.ID]
	})

	require.NoError(t, e.CancelExecution())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not return after cancel")
	}

	got, err := store.GetExecution(exec.ID)
	require.NoError(t, err)
	require.Equal(t, types.ExecutionCancelled, got.Status)
}

// TestEngineExecuteResumesInterruptedExecution covers S5: an execution left
// in the started status with one task already succeeded and another still
// retrying (as if the process had exited mid-run) is handed to a fresh
// Engine with resuming=true. The already-succeeded task must not re-run and
// the retrying task must be picked back up and driven to completion.
func TestEngineExecuteResumesInterruptedExecution(t *testing.T) {
	store := newTestStore(t)
	bus := newTestBus(store)
	reg := registry.New()

	var reran int32
	reg.RegisterOperation("test.already-done", func(ctx *wfcontext.OperationContext) error {
		atomic.AddInt32(&reran, 1)
		return nil
	})
	reg.RegisterOperation("test.retrying", noop)

	exec := &types.Execution{ID: "exec-s5", ServiceID: "svc-s5", WorkflowName: "install", Status: types.ExecutionStarted}
	require.NoError(t, store.CreateExecution(exec))

	done := &types.Task{
		ID: "s5-done", ExecutionID: exec.ID, Kind: types.TaskKindOperation, Status: types.TaskSuccess,
		Name: "already-done", Function: "test.already-done", MaxAttempts: 1,
	}
	require.NoError(t, store.CreateTask(done))

	retrying := &types.Task{
		ID: "s5-retrying", ExecutionID: exec.ID, Kind: types.TaskKindOperation, Status: types.TaskRetrying,
		Name: "retrying", Function: "test.retrying",
		MaxAttempts: 3, Attempt: 1, DueAt: time.Now().UTC().Add(-time.Second),
	}
	require.NoError(t, store.CreateTask(retrying))

	thread := executor.NewThreadExecutor(store, bus, reg, nil, 2)
	defer thread.Close()

	e := New(store, bus, exec.ID, map[string]executor.Executor{"": thread})
	require.NoError(t, e.Execute(context.Background(), true, false))

	got, err := store.GetExecution(exec.ID)
	require.NoError(t, err)
	require.Equal(t, types.ExecutionSucceeded, got.Status)

	gotDone, err := store.GetTask(done.ID)
	require.NoError(t, err)
	require.Equal(t, types.TaskSuccess, gotDone.Status)
	require.Equal(t, int32(0), reran)

	gotRetrying, err := store.GetTask(retrying.ID)
	require.NoError(t, err)
	require.Equal(t, types.TaskSuccess, gotRetrying.Status)
}
