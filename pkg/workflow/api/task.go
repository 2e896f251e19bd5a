// Package api implements the in-memory task graph a workflow function
// builds. Nothing here is persisted - the graph compiler (pkg/workflow/compiler)
// lowers it into the execution graph the engine actually runs.
package api

import "github.com/google/uuid"

// Task is any vertex the graph can hold: an OperationTask, a WorkflowTask
// wrapping a nested sub-graph, or a StubTask used purely for ordering.
type Task interface {
	ID() string
}

type baseTask struct {
	id string
}

func newBaseTask() baseTask {
	return baseTask{id: uuid.NewString()}
}

func (b baseTask) ID() string { return b.id }

// OperationTask binds an actor (node or relationship) to an interface and
// operation name, with the arguments and retry policy the compiler will
// persist onto the task row.
type OperationTask struct {
	baseTask
	Name          string
	ActorType     string // "node" or "relationship"
	ActorID       string
	RunsOn        string // "node", "source", or "target"
	InterfaceName string
	OperationName string
	Function      string
	PluginName    string
	Executor      string
	Inputs        map[string]interface{}
	MaxAttempts   int
	RetryInterval int64 // seconds; zero means use workflow default
	IgnoreFailure bool
}

// NewOperationTask constructs an OperationTask with its own id. A node-actor
// task's RunsOn defaults to "node"; a relationship-actor task is constructed
// with an empty RunsOn and the caller (pkg/workflow/builtin, for the
// source/target pair a relationship operation lowers to) sets it directly.
func NewOperationTask(name, actorType, actorID, interfaceName, operationName, function string) *OperationTask {
	runsOn := ""
	if actorType == "node" {
		runsOn = "node"
	}
	return &OperationTask{
		baseTask:      newBaseTask(),
		Name:          name,
		ActorType:     actorType,
		ActorID:       actorID,
		RunsOn:        runsOn,
		InterfaceName: interfaceName,
		OperationName: operationName,
		Function:      function,
		Inputs:        map[string]interface{}{},
		MaxAttempts:   1,
	}
}

// WorkflowTask wraps a nested sub-graph produced by calling a sub-workflow
// function. The compiler brackets Graph with its own start/end subworkflow
// stubs.
type WorkflowTask struct {
	baseTask
	Name  string
	Graph *TaskGraph
}

// NewWorkflowTask wraps graph as a single vertex in the parent graph.
func NewWorkflowTask(name string, graph *TaskGraph) *WorkflowTask {
	return &WorkflowTask{baseTask: newBaseTask(), Name: name, Graph: graph}
}

// StubTask is an ordering-only vertex with no execution semantics.
type StubTask struct {
	baseTask
	Name string
}

// NewStubTask creates a named stub task.
func NewStubTask(name string) *StubTask {
	return &StubTask{baseTask: newBaseTask(), Name: name}
}
