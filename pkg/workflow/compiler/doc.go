/*
Package compiler lowers an api.TaskGraph into persisted types.Task rows via
storage.Store, bracketing the graph with start/end stub markers and
recording dependency edges so the engine never needs to re-walk the
in-memory api graph once a workflow is running. A nested WorkflowTask is
compiled recursively, bracketed by its own start/end subworkflow stubs;
anything depending on it is wired to depend on its end stub so the whole
sub-graph finishes before a downstream task starts.
*/
package compiler
