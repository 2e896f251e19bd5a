// Package handlers registers the task and workflow state handlers that
// translate signals from the engine and executors into persisted
// status/attribute writes. Every handler wraps its writes in
// storage.WithRetry so a version conflict from a concurrent subprocess
// reconciliation is retried rather than silently dropped.
package handlers

import (
	"strings"
	"time"

	"github.com/cuemby/aria/pkg/events"
	"github.com/cuemby/aria/pkg/log"
	"github.com/cuemby/aria/pkg/metrics"
	"github.com/cuemby/aria/pkg/storage"
	"github.com/cuemby/aria/pkg/types"
	"github.com/cuemby/aria/pkg/workflow/wferrors"
)

// standardLifecycle maps a Standard-interface operation name to the node
// state it puts a node in while running and once it succeeds. Operations
// outside this table leave node state untouched.
var standardLifecycle = map[string]struct{ transitional, final string }{
	"create":    {"creating", "created"},
	"configure": {"configuring", "configured"},
	"start":     {"starting", "started"},
	"stop":      {"stopping", "stopped"},
	"delete":    {"deleting", "deleted"},
}

// Handlers closes over the store every handler persists to.
type Handlers struct {
	store storage.Store
}

// New constructs the handler set. Call Register to wire it onto a bus.
func New(store storage.Store) *Handlers {
	return &Handlers{store: store}
}

// Register subscribes every task and workflow handler onto bus.
func (h *Handlers) Register(bus *events.Bus) {
	bus.Subscribe(events.SignalTaskSent, h.onTaskSent)
	bus.Subscribe(events.SignalTaskStart, h.onTaskStart)
	bus.Subscribe(events.SignalTaskSuccess, h.onTaskSuccess)
	bus.Subscribe(events.SignalTaskFailure, h.onTaskFailure)
	bus.Subscribe(events.SignalWorkflowStart, h.onWorkflowStart)
	bus.Subscribe(events.SignalWorkflowSuccess, h.onWorkflowSuccess)
	bus.Subscribe(events.SignalWorkflowFailure, h.onWorkflowFailure)
	bus.Subscribe(events.SignalWorkflowCancelling, h.onWorkflowCancelling)
	bus.Subscribe(events.SignalWorkflowCancelled, h.onWorkflowCancelled)
	bus.Subscribe(events.SignalWorkflowResume, h.onWorkflowResume)
}

func (h *Handlers) task(p events.Payload) *types.Task {
	t, _ := p.Task.(*types.Task)
	return t
}

func (h *Handlers) execution(p events.Payload) *types.Execution {
	e, _ := p.Execution.(*types.Execution)
	return e
}

func (h *Handlers) onTaskSent(p events.Payload) {
	t := h.task(p)
	if t == nil {
		return
	}
	storage.WithRetry(5, func() error {
		current, err := h.store.GetTask(t.ID)
		if err != nil {
			return err
		}
		current.Status = types.TaskSent
		return h.store.UpdateTask(current)
	})
}

func (h *Handlers) onTaskStart(p events.Payload) {
	t := h.task(p)
	if t == nil {
		return
	}
	storage.WithRetry(5, func() error {
		current, err := h.store.GetTask(t.ID)
		if err != nil {
			return err
		}
		current.Status = types.TaskStarted
		current.StartedAt = time.Now().UTC()
		if err := h.store.UpdateTask(current); err != nil {
			return err
		}
		return h.updateNodeState(current, true)
	})
}

func (h *Handlers) onTaskSuccess(p events.Payload) {
	t := h.task(p)
	if t == nil {
		return
	}
	storage.WithRetry(5, func() error {
		current, err := h.store.GetTask(t.ID)
		if err != nil {
			return err
		}
		current.Status = types.TaskSuccess
		current.EndedAt = time.Now().UTC()
		if err := h.store.UpdateTask(current); err != nil {
			return err
		}
		return h.updateNodeState(current, false)
	})
}

func (h *Handlers) onTaskFailure(p events.Payload) {
	t := h.task(p)
	if t == nil {
		return
	}
	_, isAbort := p.Err.(*wferrors.TaskAbortError)

	storage.WithRetry(5, func() error {
		current, err := h.store.GetTask(t.ID)
		if err != nil {
			return err
		}

		shouldRetry := !isAbort && !current.IgnoreFailure &&
			(current.MaxAttempts == -1 || current.Attempt < current.MaxAttempts)

		if shouldRetry {
			interval := current.RetryInterval
			if retryErr, ok := p.Err.(*wferrors.TaskRetryError); ok && retryErr.Interval != nil {
				interval = time.Duration(*retryErr.Interval) * time.Second
			}
			current.Status = types.TaskRetrying
			current.Attempt++
			current.DueAt = time.Now().UTC().Add(interval)
			metrics.TasksRetriedTotal.Inc()
		} else {
			current.Status = types.TaskFailed
			current.EndedAt = time.Now().UTC()
			if p.Err != nil {
				current.Error = p.Err.Error()
			}
			metrics.TasksFailedTotal.Inc()
		}
		return h.store.UpdateTask(current)
	})
}

func (h *Handlers) updateNodeState(t *types.Task, transitional bool) error {
	if t.ActorType != "node" {
		return nil
	}
	// Built-in lifecycle tasks are named "<node>.<operation>"; the table is
	// keyed by the operation part after the last dot.
	opName := t.Name
	if i := strings.LastIndex(opName, "."); i >= 0 {
		opName = opName[i+1:]
	}
	lifecycle, ok := standardLifecycle[opName]
	if !ok {
		return nil
	}
	return storage.WithRetry(5, func() error {
		node, err := h.store.GetNode(t.ActorID)
		if err != nil {
			return err
		}
		if node.Attributes == nil {
			node.Attributes = map[string]interface{}{}
		}
		if transitional {
			node.Attributes["state"] = lifecycle.transitional
		} else {
			node.Attributes["state"] = lifecycle.final
		}
		return h.store.UpdateNode(node)
	})
}

func (h *Handlers) onWorkflowStart(p events.Payload) {
	e := h.execution(p)
	if e == nil {
		return
	}
	storage.WithRetry(5, func() error {
		current, err := h.store.GetExecution(e.ID)
		if err != nil {
			return err
		}
		if current.Status == types.ExecutionCancelling || current.Status == types.ExecutionCancelled {
			return nil
		}
		current.Status = types.ExecutionStarted
		current.StartedAt = time.Now().UTC()
		return h.store.UpdateExecution(current)
	})
}

func (h *Handlers) onWorkflowSuccess(p events.Payload) {
	e := h.execution(p)
	if e == nil {
		return
	}
	storage.WithRetry(5, func() error {
		current, err := h.store.GetExecution(e.ID)
		if err != nil {
			return err
		}
		current.Status = types.ExecutionSucceeded
		current.EndedAt = time.Now().UTC()
		return h.store.UpdateExecution(current)
	})
}

func (h *Handlers) onWorkflowFailure(p events.Payload) {
	e := h.execution(p)
	if e == nil {
		return
	}
	storage.WithRetry(5, func() error {
		current, err := h.store.GetExecution(e.ID)
		if err != nil {
			return err
		}
		current.Status = types.ExecutionFailed
		current.EndedAt = time.Now().UTC()
		if p.Err != nil {
			current.Error = p.Err.Error()
		}
		return h.store.UpdateExecution(current)
	})
}

func (h *Handlers) onWorkflowCancelling(p events.Payload) {
	e := h.execution(p)
	if e == nil {
		return
	}
	storage.WithRetry(5, func() error {
		current, err := h.store.GetExecution(e.ID)
		if err != nil {
			return err
		}
		switch current.Status {
		case types.ExecutionPending:
			current.Status = types.ExecutionCancelled
			current.EndedAt = time.Now().UTC()
		case types.ExecutionSucceeded, types.ExecutionFailed, types.ExecutionCancelled:
			log.WithComponent("handlers").Warn().Str("execution_id", current.ID).Msg("cancel requested on terminal execution, ignoring")
			return nil
		default:
			current.Status = types.ExecutionCancelling
		}
		return h.store.UpdateExecution(current)
	})
}

func (h *Handlers) onWorkflowCancelled(p events.Payload) {
	e := h.execution(p)
	if e == nil {
		return
	}
	storage.WithRetry(5, func() error {
		current, err := h.store.GetExecution(e.ID)
		if err != nil {
			return err
		}
		if current.Status == types.ExecutionSucceeded || current.Status == types.ExecutionFailed || current.Status == types.ExecutionCancelled {
			log.WithComponent("handlers").Warn().Str("execution_id", current.ID).Msg("cancelled signal on terminal execution, ignoring")
			return nil
		}
		current.Status = types.ExecutionCancelled
		current.EndedAt = time.Now().UTC()
		return h.store.UpdateExecution(current)
	})
}

func (h *Handlers) onWorkflowResume(p events.Payload) {
	e := h.execution(p)
	if e == nil {
		return
	}
	storage.WithRetry(5, func() error {
		current, err := h.store.GetExecution(e.ID)
		if err != nil {
			return err
		}
		current.Status = types.ExecutionPending
		return h.store.UpdateExecution(current)
	})

	tasks, err := h.store.ListTasksByExecution(e.ID)
	if err != nil {
		return
	}
	for _, t := range tasks {
		if types.EndStates[t.Status] {
			continue
		}
		t := t
		storage.WithRetry(5, func() error {
			current, err := h.store.GetTask(t.ID)
			if err != nil {
				return err
			}
			current.Status = types.TaskPending
			return h.store.UpdateTask(current)
		})
	}
}
