// Package types defines the persisted entities of the workflow execution
// model: services, nodes, relationships, operations, executions, tasks, and
// plugins. Every entity carries a Version field used by pkg/storage to
// enforce optimistic concurrency on updates.
package types

import (
	"time"
)

// Service is a deployed instance of a modeled topology: a set of nodes and
// relationships plus the workflows declared against it.
type Service struct {
	ID            string
	Name          string
	CreatedAt     time.Time
	Inputs        map[string]interface{}
	Workflows     map[string]Workflow
	NodeIDs       []string
	ExecutionIDs  []string
	Version       uint64
}

// Workflow declares a named operation-graph builder function and the inputs
// it accepts. A declared workflow resolves Function through
// pkg/workflow/registry; a workflow the service does not declare (the
// built-ins) is looked up in the registry by its name and takes no inputs.
type Workflow struct {
	Name     string
	Function string
	Inputs   map[string]InputDeclaration
}

// InputDeclaration describes a single declared workflow or operation input.
type InputDeclaration struct {
	Type     string
	Default  interface{}
	Required bool
}

// Node is a single modeled component of a service (e.g. a compute instance,
// a software component) that operations run against.
type Node struct {
	ID         string
	ServiceID  string
	Name       string
	TypeName   string
	Attributes map[string]interface{}
	Interfaces map[string]Interface
	Version    uint64
}

// Relationship connects a source node to a target node and carries its own
// interfaces (source-operations and target-operations run in the context of
// the relationship, not either node alone).
type Relationship struct {
	ID           string
	ServiceID    string
	SourceNodeID string
	TargetNodeID string
	TypeName     string
	Attributes   map[string]interface{}
	Interfaces   map[string]Interface
	Version      uint64
}

// Interface groups operations under a named contract (e.g. "Standard",
// "Configure") the way a TOSCA interface does.
type Interface struct {
	Name       string
	Operations map[string]Operation
}

// Operation names the function to invoke and the inputs/plugin it runs with.
// Function is a fully-qualified name resolved at dispatch time through
// pkg/workflow/registry - never a dynamic import.
type Operation struct {
	Name       string
	Function   string
	Inputs     map[string]interface{}
	PluginName string
	Executor   string // "" (thread) or "process"
}

// ExecutionStatus is one of the valid states an Execution can be in. The
// valid-transition table is enforced by pkg/storage, not by this type.
type ExecutionStatus string

const (
	ExecutionPending    ExecutionStatus = "pending"
	ExecutionStarted    ExecutionStatus = "started"
	ExecutionCancelling ExecutionStatus = "cancelling"
	ExecutionCancelled  ExecutionStatus = "cancelled"
	ExecutionSucceeded  ExecutionStatus = "succeeded"
	ExecutionFailed     ExecutionStatus = "failed"
)

// validExecutionTransitions enumerates the only status changes storage will
// accept when updating an Execution's status. A transition not listed here
// is rejected by pkg/storage's UpdateExecution with an "invalid execution
// transition" error.
var validExecutionTransitions = map[ExecutionStatus][]ExecutionStatus{
	ExecutionPending:    {ExecutionStarted, ExecutionCancelled},
	ExecutionStarted:    {ExecutionCancelling, ExecutionCancelled, ExecutionSucceeded, ExecutionFailed, ExecutionPending},
	ExecutionCancelling: {ExecutionCancelled, ExecutionSucceeded, ExecutionFailed},
}

// CanTransitionExecution reports whether from -> to is a legal Execution
// status change.
func CanTransitionExecution(from, to ExecutionStatus) bool {
	if from == to {
		return true
	}
	for _, allowed := range validExecutionTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsExecutionActive reports whether an execution with this status counts
// against the one-active-execution-per-service rule.
func IsExecutionActive(s ExecutionStatus) bool {
	return s == ExecutionPending || s == ExecutionStarted || s == ExecutionCancelling
}

// Execution is one run of a named workflow against a service.
type Execution struct {
	ID           string
	ServiceID    string
	WorkflowName string
	Status       ExecutionStatus
	Inputs       map[string]interface{}
	CreatedAt    time.Time
	StartedAt    time.Time
	EndedAt      time.Time
	Error        string
	Version      uint64
}

// TaskStatus is one of the valid states a Task can be in.
type TaskStatus string

const (
	TaskPending  TaskStatus = "pending"
	TaskRetrying TaskStatus = "retrying"
	TaskSent     TaskStatus = "sent"
	TaskStarted  TaskStatus = "started"
	TaskSuccess  TaskStatus = "success"
	TaskFailed   TaskStatus = "failed"
)

// WaitStates are task statuses the engine considers eligible for dispatch
// once their dependencies have cleared and DueAt has arrived.
var WaitStates = map[TaskStatus]bool{
	TaskPending:  true,
	TaskRetrying: true,
}

// EndStates are terminal task statuses the engine removes from its
// execution graph once observed.
var EndStates = map[TaskStatus]bool{
	TaskSuccess: true,
	TaskFailed:  true,
}

// TaskKind distinguishes a real operation task from the stub markers the
// compiler inserts to bound workflows and sub-workflows in the persisted
// graph.
type TaskKind string

const (
	TaskKindOperation      TaskKind = "operation"
	TaskKindStartWorkflow  TaskKind = "start_workflow"
	TaskKindEndWorkflow    TaskKind = "end_workflow"
	TaskKindStartSubworkflow TaskKind = "start_subworkflow"
	TaskKindEndSubworkflow   TaskKind = "end_subworkflow"
	TaskKindStub           TaskKind = "stub"
)

// Task is a single persisted unit of work within an execution's compiled
// graph.
type Task struct {
	ID             string
	ExecutionID    string
	Kind           TaskKind
	Status         TaskStatus
	Name           string
	ActorType      string // "node" or "relationship", empty for stub tasks
	ActorID        string
	RunsOn         string // "node", "source", or "target"; empty for stub tasks
	Function       string
	Inputs         map[string]interface{}
	PluginName     string
	Executor       string
	MaxAttempts    int
	Attempt        int
	RetryInterval  time.Duration
	IgnoreFailure  bool
	DueAt          time.Time
	StartedAt      time.Time
	EndedAt        time.Time
	Error          string
	Dependencies   []string
	Version        uint64
}

// Plugin describes an installed operation plugin rooted at BasePath. The
// subprocess executor does not read Plugin rows: a child's ARIA_PLUGIN_PATH
// is the single path the executor was constructed with, and its PATH is
// inherited unchanged.
type Plugin struct {
	ID            string
	Name          string
	PluginVersion string
	BasePath      string
	CreatedAt     time.Time
	Version       uint64
}
