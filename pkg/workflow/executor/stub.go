package executor

import (
	"context"
	"time"

	"github.com/cuemby/aria/pkg/events"
	"github.com/cuemby/aria/pkg/storage"
	"github.com/cuemby/aria/pkg/types"
)

// StubExecutor marks stub tasks (start/end workflow and subworkflow
// markers, and plain ordering stubs) as successful without any dispatch.
// The engine calls it directly for every non-operation task.
type StubExecutor struct {
	store storage.Store
	bus   *events.Bus
}

// NewStubExecutor constructs a StubExecutor over store, publishing through
// bus.
func NewStubExecutor(store storage.Store, bus *events.Bus) *StubExecutor {
	return &StubExecutor{store: store, bus: bus}
}

// Execute marks t successful immediately.
func (s *StubExecutor) Execute(_ context.Context, t *types.Task) error {
	t.Status = types.TaskSuccess
	t.EndedAt = time.Now().UTC()
	if err := s.store.UpdateTask(t); err != nil {
		return err
	}
	s.bus.Publish(events.Payload{Signal: events.SignalTaskSuccess, Task: t})
	return nil
}

// Terminate is a no-op: stub tasks never run.
func (s *StubExecutor) Terminate(string) error { return nil }

// Close is a no-op.
func (s *StubExecutor) Close() error { return nil }
