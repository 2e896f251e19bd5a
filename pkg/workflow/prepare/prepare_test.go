package prepare

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/aria/pkg/storage"
	"github.com/cuemby/aria/pkg/types"
	"github.com/cuemby/aria/pkg/workflow/builtin"
	"github.com/cuemby/aria/pkg/workflow/registry"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "aria-prepare-test")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	store, err := storage.NewBoltStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestService(t *testing.T, store storage.Store) *types.Service {
	t.Helper()
	svc := &types.Service{
		ID:   "s1",
		Name: "web-service",
		Workflows: map[string]types.Workflow{
			builtin.Install: {Name: builtin.Install, Function: builtin.Install},
		},
	}
	require.NoError(t, store.CreateService(svc))
	require.NoError(t, store.CreateNode(&types.Node{ID: "n1", ServiceID: "s1", Name: "web"}))
	return svc
}

func TestPrepareCompilesStartAndEndStubs(t *testing.T) {
	store := newTestStore(t)
	newTestService(t, store)
	reg := registry.New()
	builtin.Register(reg)

	p := New(store, reg)
	execution, err := p.Prepare("s1", builtin.Install, nil, "", "")
	require.NoError(t, err)
	require.Equal(t, types.ExecutionPending, execution.Status)

	tasks, err := store.ListTasksByExecution(execution.ID)
	require.NoError(t, err)
	require.NotEmpty(t, tasks)

	var sawStart, sawEnd bool
	for _, tk := range tasks {
		if tk.Kind == types.TaskKindStartWorkflow {
			sawStart = true
		}
		if tk.Kind == types.TaskKindEndWorkflow {
			sawEnd = true
		}
	}
	require.True(t, sawStart)
	require.True(t, sawEnd)
}

func TestPrepareRejectsUndeclaredInput(t *testing.T) {
	store := newTestStore(t)
	newTestService(t, store)
	reg := registry.New()
	builtin.Register(reg)

	p := New(store, reg)
	_, err := p.Prepare("s1", builtin.Install, map[string]interface{}{"bogus": 1}, "", "")
	require.Error(t, err)
}

func TestPrepareRejectsUnknownWorkflow(t *testing.T) {
	store := newTestStore(t)
	newTestService(t, store)
	reg := registry.New()
	builtin.Register(reg)

	p := New(store, reg)
	_, err := p.Prepare("s1", "does-not-exist", nil, "", "")
	require.Error(t, err)
}
