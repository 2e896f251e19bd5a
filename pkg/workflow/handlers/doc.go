/*
Package handlers registers the event-driven state transitions that turn
engine and executor signals into persisted task, execution, and node
writes: task.sent/start/success/failure, workflow.start/success/failure/
cancelling/cancelled/resume, and the Standard-lifecycle node-state table.
Retry-versus-fail precedence on task.failure: a task with ignore_failure set
never retries, so its first failure marks it failed (without failing the
workflow); any other non-abort failure retries while attempts remain.
*/
package handlers
