package executor

import (
	"context"
	"time"

	"github.com/cuemby/aria/pkg/events"
	"github.com/cuemby/aria/pkg/log"
	"github.com/cuemby/aria/pkg/metrics"
	"github.com/cuemby/aria/pkg/resourcestore"
	"github.com/cuemby/aria/pkg/storage"
	"github.com/cuemby/aria/pkg/types"
	"github.com/cuemby/aria/pkg/workflow/registry"
	"github.com/cuemby/aria/pkg/workflow/wfcontext"
	"github.com/cuemby/aria/pkg/workflow/wferrors"
)

// ThreadExecutor runs operation tasks in-process on a bounded pool of
// goroutines. It is the default executor: no subprocess isolation, no
// serialization overhead, suitable for trusted built-in and plugin
// operations that don't need a separate address space.
type ThreadExecutor struct {
	store    storage.Store
	bus      *events.Bus
	registry *registry.Registry
	resource resourcestore.Store

	queue chan *types.Task
	done  chan struct{}
}

// NewThreadExecutor starts a pool of workers goroutines pulling from an
// internal queue of capacity workers*4. Close stops the pool once every
// queued task has been handled.
func NewThreadExecutor(store storage.Store, bus *events.Bus, reg *registry.Registry, resource resourcestore.Store, workers int) *ThreadExecutor {
	if workers < 1 {
		workers = 1
	}
	e := &ThreadExecutor{
		store:    store,
		bus:      bus,
		registry: reg,
		resource: resource,
		queue:    make(chan *types.Task, workers*4),
		done:     make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		go e.worker()
	}
	return e
}

func (e *ThreadExecutor) worker() {
	for {
		select {
		case t, ok := <-e.queue:
			if !ok {
				return
			}
			e.run(t)
		case <-e.done:
			return
		}
	}
}

// Execute enqueues t for a worker. Returns immediately.
func (e *ThreadExecutor) Execute(_ context.Context, t *types.Task) error {
	e.queue <- t
	return nil
}

// Terminate has no effect: an in-flight goroutine invocation cannot be
// safely interrupted mid-call. The task runs to completion.
func (e *ThreadExecutor) Terminate(string) error { return nil }

// Close stops accepting new work and lets in-flight workers drain.
func (e *ThreadExecutor) Close() error {
	close(e.queue)
	return nil
}

func (e *ThreadExecutor) run(t *types.Task) {
	logger := log.WithComponent("thread-executor").With().Str("task_id", t.ID).Logger()

	// Re-read t: the dispatcher's copy predates the task.sent write, and an
	// update from a stale Version is rejected as a conflict.
	if fresh, err := e.store.GetTask(t.ID); err == nil {
		t = fresh
	}
	t.Status = types.TaskStarted
	t.StartedAt = time.Now().UTC()
	if err := e.store.UpdateTask(t); err != nil {
		logger.Error().Err(err).Msg("failed to mark task started")
		return
	}
	e.bus.Publish(events.Payload{Signal: events.SignalTaskStart, Task: t})
	// task.start subscribers may have written the task again.
	if fresh, err := e.store.GetTask(t.ID); err == nil {
		t = fresh
	}

	fn, err := e.registry.Operation(t.Function)
	if err != nil {
		e.fail(t, err)
		return
	}

	timer := metrics.NewTimer()
	node, relationship, err := e.loadActor(t)
	if err != nil {
		e.fail(t, err)
		return
	}

	ctx := wfcontext.New(&wfcontext.DirectCommitter{Store: e.store}, t, node, relationship, e.resource, logger)
	runErr := invoke(fn, ctx)
	timer.ObserveDuration(metrics.TaskDispatchDuration)

	if runErr != nil {
		e.fail(t, runErr)
		return
	}
	e.succeed(t)
}

// invoke exists so a panic inside an operation function surfaces as an
// ordinary task failure instead of taking the worker goroutine down.
func invoke(fn registry.OperationFunc, ctx *wfcontext.OperationContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &wferrors.ExecutorException{Message: "operation panicked"}
		}
	}()
	return fn(ctx)
}

func (e *ThreadExecutor) loadActor(t *types.Task) (*types.Node, *types.Relationship, error) {
	switch t.ActorType {
	case "node":
		n, err := e.store.GetNode(t.ActorID)
		return n, nil, err
	case "relationship":
		r, err := e.store.GetRelationship(t.ActorID)
		return nil, r, err
	default:
		return nil, nil, nil
	}
}

func (e *ThreadExecutor) succeed(t *types.Task) {
	t.Status = types.TaskSuccess
	t.EndedAt = time.Now().UTC()
	if err := e.store.UpdateTask(t); err != nil {
		log.WithComponent("thread-executor").Error().Err(err).Str("task_id", t.ID).Msg("failed to mark task success")
		return
	}
	e.bus.Publish(events.Payload{Signal: events.SignalTaskSuccess, Task: t})
}

func (e *ThreadExecutor) fail(t *types.Task, cause error) {
	t.Error = cause.Error()
	if err := e.store.UpdateTask(t); err != nil {
		log.WithComponent("thread-executor").Error().Err(err).Str("task_id", t.ID).Msg("failed to record task error")
	}
	e.bus.Publish(events.Payload{Signal: events.SignalTaskFailure, Task: t, Err: cause})
}
