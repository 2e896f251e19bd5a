// Package prepare implements the execution preparer: it validates a
// workflow invocation against the service's declared workflow inputs,
// creates (or rebinds, for resumption) the persisted Execution row, builds
// the in-memory task graph by calling the workflow function, and compiles
// that graph into persisted tasks ready for the engine to run.
package prepare

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/aria/pkg/storage"
	"github.com/cuemby/aria/pkg/types"
	"github.com/cuemby/aria/pkg/workflow/compiler"
	"github.com/cuemby/aria/pkg/workflow/registry"
	"github.com/cuemby/aria/pkg/workflow/wferrors"
)

const (
	defaultMaxAttempts   = 30
	defaultRetryInterval = 30 * time.Second
	defaultExecutor      = ""
)

// Preparer validates and creates executions for one service.
type Preparer struct {
	store storage.Store
	reg   *registry.Registry
}

// New constructs a Preparer.
func New(store storage.Store, reg *registry.Registry) *Preparer {
	return &Preparer{store: store, reg: reg}
}

// Prepare validates workflowName against serviceID's declared workflows (or,
// when the service does not declare it, the registry's workflow of that
// name) and inputs, creates a new Execution (or reuses resumeExecutionID if
// non-empty; its status is not checked), and compiles the task graph. It
// returns the execution ready for the engine to run.
func (p *Preparer) Prepare(serviceID, workflowName string, inputs map[string]interface{}, executor, resumeExecutionID string) (*types.Execution, error) {
	service, err := p.store.GetService(serviceID)
	if err != nil {
		return nil, err
	}
	workflow, ok := service.Workflows[workflowName]
	if !ok {
		// An undeclared name still resolves when the registry holds a
		// workflow under it (the built-ins); it declares no inputs.
		if _, err := p.reg.Workflow(workflowName); err != nil {
			return nil, &wferrors.UserSpecError{Message: fmt.Sprintf("service %q declares no workflow %q", serviceID, workflowName)}
		}
		workflow = types.Workflow{Name: workflowName, Function: workflowName}
	}
	merged, err := mergeInputs(workflow, inputs)
	if err != nil {
		return nil, err
	}

	workflowFn, err := p.reg.Workflow(workflow.Function)
	if err != nil {
		return nil, err
	}

	var execution *types.Execution
	if resumeExecutionID != "" {
		execution, err = p.store.GetExecution(resumeExecutionID)
		if err != nil {
			return nil, err
		}
	} else {
		execution = &types.Execution{
			ID:           uuid.NewString(),
			ServiceID:    serviceID,
			WorkflowName: workflowName,
			Status:       types.ExecutionPending,
			Inputs:       merged,
			CreatedAt:    time.Now().UTC(),
		}
		if err := p.store.CreateExecution(execution); err != nil {
			return nil, err
		}
	}

	graph, err := workflowFn(p.store, serviceID, merged)
	if err != nil {
		return nil, err
	}

	c := compiler.NewCompiler(p.store, execution.ID, executor, defaultMaxAttempts, defaultRetryInterval)
	if err := c.Compile(graph); err != nil {
		return nil, err
	}

	return execution, nil
}

// mergeInputs validates the caller-supplied inputs against workflow's
// declarations: every supplied key must be declared, every required key
// with no default must be supplied, and declared keys absent from
// inputs fall back to their default.
func mergeInputs(workflow types.Workflow, inputs map[string]interface{}) (map[string]interface{}, error) {
	merged := make(map[string]interface{}, len(workflow.Inputs))
	for key, decl := range workflow.Inputs {
		if v, ok := inputs[key]; ok {
			merged[key] = v
			continue
		}
		if decl.Required && decl.Default == nil {
			return nil, &wferrors.UserSpecError{Message: fmt.Sprintf("missing required workflow input %q", key)}
		}
		if decl.Default != nil {
			merged[key] = decl.Default
		}
	}
	for key := range inputs {
		if _, declared := workflow.Inputs[key]; !declared {
			return nil, &wferrors.UserSpecError{Message: fmt.Sprintf("undeclared workflow input %q", key)}
		}
	}
	return merged, nil
}
