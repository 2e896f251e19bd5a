/*
Package api implements the task graph a workflow function builds in memory:
operation tasks bound to a node or relationship, nested workflow tasks
wrapping a sub-graph, and ordering-only stub tasks, connected by dependency
edges. Nothing here is persisted; pkg/workflow/compiler lowers a TaskGraph
into the execution graph the engine actually runs.
*/
package api
