/*
Package types defines the workflow execution core's persisted model: Service,
Node, Relationship, Interface, Operation, Execution, Task, and Plugin.

Execution and Task each carry a status field whose legal transitions are
enforced at the storage layer (CanTransitionExecution for executions; tasks
are driven entirely by the workflow engine and task-state handlers). Task
additionally distinguishes real operation tasks from the start/end stub
markers the graph compiler inserts to bound workflows and sub-workflows.
*/
package types
