// Package wferrors collects the error kinds shared across the workflow
// execution core, so engine, handlers, and executors can all test against
// the same sentinels instead of string-matching each other's errors.
package wferrors

import "fmt"

// TaskAbortError is raised by ctx.Task.Abort: terminal failure, no retry.
type TaskAbortError struct {
	Message string
}

func (e *TaskAbortError) Error() string { return "task aborted: " + e.Message }

// TaskRetryError is raised by ctx.Task.Retry: schedules a re-attempt unless
// attempts are exhausted. Interval overrides the task's own retry interval
// when non-nil.
type TaskRetryError struct {
	Message  string
	Interval *int64 // seconds
}

func (e *TaskRetryError) Error() string { return "task requested retry: " + e.Message }

// ProcessError wraps a non-zero subprocess operation exit.
type ProcessError struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("process %q exited %d: %s", e.Command, e.ExitCode, e.Stderr)
}

// ExecutorException signals, at the engine level, that the workflow cannot
// continue: a non-ignored task failure, or an executor-level fault.
type ExecutorException struct {
	Message string
}

func (e *ExecutorException) Error() string { return e.Message }

// UserSpecError covers input/workflow validation failures raised before any
// task runs: undeclared inputs, missing required inputs, or an unknown
// workflow name. An active-execution collision is storage.ErrActiveExecution
// instead, and input values are not type-checked.
type UserSpecError struct {
	Message string
}

func (e *UserSpecError) Error() string { return e.Message }
