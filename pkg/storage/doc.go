/*
Package storage provides BoltDB-backed state persistence for the workflow
execution core's model: services, nodes, relationships, executions, tasks,
and plugins.

Every entity carries a Version field. Update methods compare the caller's
version against the stored copy inside a single BoltDB transaction and
return ErrVersionConflict on a mismatch rather than silently overwriting a
write they never saw; WithRetry re-runs a read-modify-write closure across
such conflicts. ApplyTrackedChanges replays the attribute diffs a
subprocess-executed task recorded against its in-process model handles back
onto the authoritative store, each under its own optimistic retry.
*/
package storage
