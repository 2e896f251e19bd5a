package executor

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/aria/pkg/events"
	"github.com/cuemby/aria/pkg/storage"
	"github.com/cuemby/aria/pkg/types"
	"github.com/cuemby/aria/pkg/workflow/registry"
	"github.com/cuemby/aria/pkg/workflow/wfcontext"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "aria-thread-test")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	store, err := storage.NewBoltStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
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

func TestThreadExecutorRunsRegisteredOperation(t *testing.T) {
	store := newTestStore(t)
	bus := events.NewBus()
	reg := registry.New()
	reg.RegisterOperation("test.ok", func(ctx *wfcontext.OperationContext) error {
		return nil
	})

	exec := NewThreadExecutor(store, bus, reg, nil, 2)
	defer exec.Close()

	task := &types.Task{ID: "t1", ExecutionID: "e1", Kind: types.TaskKindOperation, Status: types.TaskPending, Function: "test.ok"}
	require.NoError(t, store.CreateTask(task))

	require.NoError(t, exec.Execute(context.Background(), task))

	waitFor(t, func() bool {
		got, err := store.GetTask("t1")
		return err == nil && got.Status == types.TaskSuccess
	})
}

func TestThreadExecutorFailsOnUnregisteredFunction(t *testing.T) {
	store := newTestStore(t)
	bus := events.NewBus()
	reg := registry.New()

	exec := NewThreadExecutor(store, bus, reg, nil, 1)
	defer exec.Close()

	task := &types.Task{ID: "t2", ExecutionID: "e1", Kind: types.TaskKindOperation, Status: types.TaskPending, Function: "missing.fn"}
	require.NoError(t, store.CreateTask(task))

	require.NoError(t, exec.Execute(context.Background(), task))

	waitFor(t, func() bool {
		got, err := store.GetTask("t2")
		return err == nil && got.Error != ""
	})
}
