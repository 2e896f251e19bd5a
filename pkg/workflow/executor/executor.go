// Package executor defines the contract a task dispatcher runs operations
// through, plus the stub, thread, and subprocess implementations of it.
package executor

import (
	"context"

	"github.com/cuemby/aria/pkg/types"
)

// Executor runs operation tasks asynchronously: Execute returns once the
// task has been handed off, not once it has finished - completion is
// reported later through task.start/task.success/task.failure signals.
type Executor interface {
	// Execute dispatches t. Non-blocking: the caller does not wait for the
	// operation to finish.
	Execute(ctx context.Context, t *types.Task) error
	// Terminate makes a best-effort attempt to kill an in-flight task.
	Terminate(taskID string) error
	// Close releases any resources (worker pools, listening sockets) the
	// executor holds. No further Execute calls are valid afterward.
	Close() error
}
