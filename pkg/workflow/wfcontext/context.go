// Package wfcontext implements the façade an operation function runs
// against: the current task, its actor (node or relationship), node and
// relationship attribute setters, and the resource store. It has no generic
// model accessors for executions, services or other tasks. A context is backed by one of two
// Committer implementations - DirectCommitter writes straight through to the
// shared store (the thread executor, running in-process), or
// TrackingCommitter records attribute writes into a change log instead (the
// subprocess executor's child, which ships the log back over the wire
// rather than touching the store itself).
package wfcontext

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/aria/pkg/resourcestore"
	"github.com/cuemby/aria/pkg/storage"
	"github.com/cuemby/aria/pkg/types"
	"github.com/cuemby/aria/pkg/workflow/wferrors"
)

// Committer applies (or records) an attribute write on a node or
// relationship. It is the seam between running in-process and running in a
// subprocess worker.
type Committer interface {
	SetNodeAttribute(nodeID, key string, value interface{}) error
	SetRelationshipAttribute(relID, key string, value interface{}) error
}

// DirectCommitter writes straight through to the shared model store, with
// optimistic retry. Used when the operation runs in the same process as the
// store (the thread executor).
type DirectCommitter struct {
	Store storage.Store
}

// SetNodeAttribute updates a node's attribute immediately in the store.
func (c *DirectCommitter) SetNodeAttribute(nodeID, key string, value interface{}) error {
	return storage.WithRetry(5, func() error {
		n, err := c.Store.GetNode(nodeID)
		if err != nil {
			return err
		}
		if n.Attributes == nil {
			n.Attributes = map[string]interface{}{}
		}
		n.Attributes[key] = value
		return c.Store.UpdateNode(n)
	})
}

// SetRelationshipAttribute updates a relationship's attribute immediately.
func (c *DirectCommitter) SetRelationshipAttribute(relID, key string, value interface{}) error {
	return storage.WithRetry(5, func() error {
		r, err := c.Store.GetRelationship(relID)
		if err != nil {
			return err
		}
		if r.Attributes == nil {
			r.Attributes = map[string]interface{}{}
		}
		r.Attributes[key] = value
		return c.Store.UpdateRelationship(r)
	})
}

// TrackingCommitter records every write as a storage.TrackedChange instead
// of touching the store, for later replay by the parent process. Used by
// the subprocess executor's child process.
type TrackingCommitter struct {
	Changes []storage.TrackedChange
}

// SetNodeAttribute records the write.
func (c *TrackingCommitter) SetNodeAttribute(nodeID, key string, value interface{}) error {
	c.Changes = append(c.Changes, storage.TrackedChange{
		EntityKind: "node", EntityID: nodeID, Attribute: key, NewValue: value,
	})
	return nil
}

// SetRelationshipAttribute records the write.
func (c *TrackingCommitter) SetRelationshipAttribute(relID, key string, value interface{}) error {
	c.Changes = append(c.Changes, storage.TrackedChange{
		EntityKind: "relationship", EntityID: relID, Attribute: key, NewValue: value,
	})
	return nil
}

// TaskHandle exposes the abort/retry surface an operation function calls on
// ctx.Task(). Together, abort and retry may be invoked at most once per
// task: once either has been called, any further call to either returns
// ErrIllegalCtxOperation, mirroring the
// ctx proxy's enforcement of the same rule for external scripts.
type TaskHandle struct {
	task *types.Task
	used bool
}

// ErrIllegalCtxOperation is returned by a second Abort/Retry call on the
// same task.
var ErrIllegalCtxOperation = &wferrors.TaskAbortError{Message: "illegal ctx operation: task already aborted or retried"}

// ID returns the task's persisted id.
func (h *TaskHandle) ID() string { return h.task.ID }

// Attempt returns the number of attempts already completed.
func (h *TaskHandle) Attempt() int { return h.task.Attempt }

// Abort terminates the task with message, no retry regardless of attempts
// remaining.
func (h *TaskHandle) Abort(message string) error {
	if h.used {
		return ErrIllegalCtxOperation
	}
	h.used = true
	return &wferrors.TaskAbortError{Message: message}
}

// Retry schedules a re-attempt, overriding the task's configured retry
// interval when interval is non-nil.
func (h *TaskHandle) Retry(message string, interval *time.Duration) error {
	if h.used {
		return ErrIllegalCtxOperation
	}
	h.used = true
	var seconds *int64
	if interval != nil {
		s := int64(interval.Seconds())
		seconds = &s
	}
	return &wferrors.TaskRetryError{Message: message, Interval: seconds}
}

// OperationContext is the ctx argument an operation function runs with.
type OperationContext struct {
	Committer Committer
	Resource  resourcestore.Store
	Logger    zerolog.Logger

	task         *types.Task
	taskHandle   *TaskHandle
	node         *types.Node
	relationship *types.Relationship
}

// New constructs an OperationContext for a single operation invocation.
func New(committer Committer, task *types.Task, node *types.Node, relationship *types.Relationship, resource resourcestore.Store, logger zerolog.Logger) *OperationContext {
	return &OperationContext{
		Committer:    committer,
		Resource:     resource,
		Logger:       logger,
		task:         task,
		taskHandle:   &TaskHandle{task: task},
		node:         node,
		relationship: relationship,
	}
}

// Task returns the abort/retry-capable handle for the running task.
func (c *OperationContext) Task() *TaskHandle { return c.taskHandle }

// Node returns the actor node, or nil if this task runs on a relationship.
func (c *OperationContext) Node() *types.Node { return c.node }

// Relationship returns the actor relationship, or nil if this task runs on
// a node.
func (c *OperationContext) Relationship() *types.Relationship { return c.relationship }

// SetNodeAttribute sets key on the actor node (or any named node) through
// the context's committer.
func (c *OperationContext) SetNodeAttribute(nodeID, key string, value interface{}) error {
	if err := c.Committer.SetNodeAttribute(nodeID, key, value); err != nil {
		return err
	}
	if c.node != nil && c.node.ID == nodeID {
		if c.node.Attributes == nil {
			c.node.Attributes = map[string]interface{}{}
		}
		c.node.Attributes[key] = value
	}
	return nil
}

// SetRelationshipAttribute sets key on the actor relationship (or any named
// relationship) through the context's committer.
func (c *OperationContext) SetRelationshipAttribute(relID, key string, value interface{}) error {
	if err := c.Committer.SetRelationshipAttribute(relID, key, value); err != nil {
		return err
	}
	if c.relationship != nil && c.relationship.ID == relID {
		if c.relationship.Attributes == nil {
			c.relationship.Attributes = map[string]interface{}{}
		}
		c.relationship.Attributes[key] = value
	}
	return nil
}

// Inputs returns the task's declared operation arguments.
func (c *OperationContext) Inputs() map[string]interface{} { return c.task.Inputs }
