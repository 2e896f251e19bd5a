// Package storage defines the model store contract for the workflow
// execution core and a BoltDB-backed implementation of it. Every write goes
// through an optimistic version check: callers that need to retry on
// conflict should use WithRetry rather than looping themselves.
package storage

import (
	"errors"
	"fmt"

	"github.com/cuemby/aria/pkg/types"
)

// ErrVersionConflict is returned by an Update when the stored entity's
// Version no longer matches the version the caller last read.
var ErrVersionConflict = errors.New("storage: version conflict")

// ErrNotFound is returned when a Get targets an entity that does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrActiveExecution is returned when starting a new execution while the
// service already has one in a non-terminal status.
var ErrActiveExecution = errors.New("storage: service has an active execution")

// TrackedChange is a single attribute mutation observed on an entity,
// recorded so a subprocess-executed task's in-memory edits can be replayed
// against the authoritative store once the task reports its outcome.
type TrackedChange struct {
	EntityKind string // "node", "relationship", "task", "execution"
	EntityID   string
	Attribute  string
	OldValue   interface{}
	NewValue   interface{}
}

// Store is the model store contract every workflow component depends on.
// Update methods take the whole entity and enforce that its Version field
// matches what is currently stored, incrementing it on success.
type Store interface {
	CreateService(s *types.Service) error
	GetService(id string) (*types.Service, error)
	GetServiceByName(name string) (*types.Service, error)
	ListServices() ([]*types.Service, error)
	UpdateService(s *types.Service) error
	DeleteService(id string) error

	CreateNode(n *types.Node) error
	GetNode(id string) (*types.Node, error)
	ListNodesByService(serviceID string) ([]*types.Node, error)
	UpdateNode(n *types.Node) error

	CreateRelationship(r *types.Relationship) error
	GetRelationship(id string) (*types.Relationship, error)
	ListRelationshipsByService(serviceID string) ([]*types.Relationship, error)
	UpdateRelationship(r *types.Relationship) error

	CreateExecution(e *types.Execution) error
	GetExecution(id string) (*types.Execution, error)
	ListExecutionsByService(serviceID string) ([]*types.Execution, error)
	UpdateExecution(e *types.Execution) error

	CreateTask(t *types.Task) error
	GetTask(id string) (*types.Task, error)
	ListTasksByExecution(executionID string) ([]*types.Task, error)
	UpdateTask(t *types.Task) error

	CreatePlugin(p *types.Plugin) error
	GetPlugin(id string) (*types.Plugin, error)
	GetPluginByName(name string) (*types.Plugin, error)
	ListPlugins() ([]*types.Plugin, error)

	// ApplyTrackedChanges replays changes recorded by a subprocess-executed
	// task against the current stored entities, each under its own
	// optimistic-retry update.
	ApplyTrackedChanges(changes []TrackedChange) error

	Close() error
}

// WithRetry calls fn until it returns a nil error or an error other than
// ErrVersionConflict, up to attempts tries. Callers that mutate a
// freshly-read entity and call an Update method should wrap the read-modify-
// write in fn so each retry re-reads current state.
func WithRetry(attempts int, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil || !errors.Is(err, ErrVersionConflict) {
			return err
		}
	}
	return fmt.Errorf("storage: exhausted %d retries: %w", attempts, err)
}
