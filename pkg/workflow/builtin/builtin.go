// Package builtin implements the handful of workflows every service gets
// for free: install, uninstall, start, and stop, each walking a service's
// nodes through the TOSCA standard lifecycle in relationship-dependency
// order. They take no declared inputs; supplying any is a validation error
// at the preparer, not here.
package builtin

import (
	"fmt"

	"github.com/cuemby/aria/pkg/storage"
	"github.com/cuemby/aria/pkg/types"
	"github.com/cuemby/aria/pkg/workflow/api"
	"github.com/cuemby/aria/pkg/workflow/registry"
	"github.com/cuemby/aria/pkg/workflow/wfcontext"
)

// NoopFunction is the operation function name a node's lifecycle task falls
// back to when the node declares no implementation for that operation.
const NoopFunction = "builtin.noop"

// Names of the built-in workflows, as they appear in a service's Workflows
// map and in a registry lookup.
const (
	Install   = "install"
	Uninstall = "uninstall"
	Start     = "start"
	Stop      = "stop"
)

const standardInterface = "Standard"
const configureInterface = "Configure"

// installRelationshipOperations names the Configure-interface operations a
// relationship runs once both its source and target nodes have finished
// installing, each run once in the source's context and once in the
// target's - the two TOSCA relationship execution contexts a single
// declared operation can be invoked from.
var installRelationshipOperations = []string{"pre_configure", "post_configure", "add", "remove", "target_changed"}

// uninstallRelationshipOperations runs before either endpoint of the
// relationship is torn down.
var uninstallRelationshipOperations = []string{"remove"}

// Register binds all four built-in workflows, plus the no-op operation
// fallback, into reg.
func Register(reg *registry.Registry) {
	reg.RegisterWorkflow(Install, installWorkflow)
	reg.RegisterWorkflow(Uninstall, uninstallWorkflow)
	reg.RegisterWorkflow(Start, startWorkflow)
	reg.RegisterWorkflow(Stop, stopWorkflow)
	reg.RegisterOperation(NoopFunction, func(ctx *wfcontext.OperationContext) error { return nil })
}

// lifecycleGraph builds one task per node per operation name, in order,
// wired so a node's tasks depend on the prior operation's task for the same
// node, and (when forward is true) a node with an outgoing relationship
// depends on the target node having finished the same operation list first;
// reversed for teardown workflows, where dependents must unwind before
// their dependencies. Each relationship additionally lowers relOperations
// into a source/target pair of tasks per name (§3's runs_on discriminant),
// sequenced after (forward) or before (reversed) both endpoints.
func lifecycleGraph(store storage.Store, serviceID string, operations, relOperations []string, forward bool) (*api.TaskGraph, error) {
	nodes, err := store.ListNodesByService(serviceID)
	if err != nil {
		return nil, err
	}
	relationships, err := store.ListRelationshipsByService(serviceID)
	if err != nil {
		return nil, err
	}

	graph := api.NewTaskGraph()
	// firstTaskByNode and lastTaskByNode hold each node's first and final
	// lifecycle tasks, used to wire cross-node relationship ordering once
	// every node's own sequence exists.
	firstTaskByNode := make(map[string]api.Task, len(nodes))
	lastTaskByNode := make(map[string]api.Task, len(nodes))

	for _, n := range nodes {
		var sequence []api.Task
		for _, opName := range operations {
			task := nodeOperationTask(n, opName)
			graph.AddTasks(task)
			sequence = append(sequence, task)
		}
		if len(sequence) > 1 {
			graph.Sequence(toItems(sequence)...)
		}
		if len(sequence) > 0 {
			firstTaskByNode[n.ID] = sequence[0]
			lastTaskByNode[n.ID] = sequence[len(sequence)-1]
		}
	}

	for _, rel := range relationships {
		source := lastTaskByNode[rel.SourceNodeID]
		target := lastTaskByNode[rel.TargetNodeID]
		if source == nil || target == nil {
			continue
		}
		if forward {
			if err := graph.AddDependency(firstTaskByNode[rel.SourceNodeID], target); err != nil {
				return nil, err
			}
		} else {
			if err := graph.AddDependency(firstTaskByNode[rel.TargetNodeID], source); err != nil {
				return nil, err
			}
		}

		if len(relOperations) == 0 {
			continue
		}
		var relSeq []api.Task
		for _, opName := range relOperations {
			srcTask, tgtTask := relationshipOperationTasks(rel, opName)
			graph.AddTasks(srcTask, tgtTask)
			relSeq = append(relSeq, srcTask, tgtTask)
		}
		graph.Sequence(toItems(relSeq)...)
		if forward {
			if err := graph.AddDependency(relSeq[0], []api.Task{source, target}); err != nil {
				return nil, err
			}
		} else {
			if err := graph.AddDependency([]api.Task{source, target}, relSeq[len(relSeq)-1]); err != nil {
				return nil, err
			}
		}
	}

	return graph, nil
}

// relationshipOperationTasks builds the source- and target-context pair of
// tasks a single named relationship operation lowers to: the same declared
// Configure-interface operation invoked once from each end of the edge, the
// way a TOSCA relationship's pre_configure/post_configure hooks run in both
// the source and target node's execution context.
func relationshipOperationTasks(rel *types.Relationship, opName string) (source, target *api.OperationTask) {
	function := ""
	pluginName := ""
	if iface, ok := rel.Interfaces[configureInterface]; ok {
		if op, ok := iface.Operations[opName]; ok {
			function = op.Function
			pluginName = op.PluginName
		}
	}
	if function == "" {
		function = NoopFunction
	}

	source = api.NewOperationTask(fmt.Sprintf("%s.%s.source", rel.ID, opName), "relationship", rel.ID, configureInterface, opName, function)
	source.RunsOn = "source"
	source.PluginName = pluginName

	target = api.NewOperationTask(fmt.Sprintf("%s.%s.target", rel.ID, opName), "relationship", rel.ID, configureInterface, opName, function)
	target.RunsOn = "target"
	target.PluginName = pluginName

	return source, target
}

func toItems(tasks []api.Task) []interface{} {
	items := make([]interface{}, len(tasks))
	for i, t := range tasks {
		items[i] = t
	}
	return items
}

func nodeOperationTask(n *types.Node, opName string) *api.OperationTask {
	function := ""
	pluginName := ""
	if iface, ok := n.Interfaces[standardInterface]; ok {
		if op, ok := iface.Operations[opName]; ok {
			function = op.Function
			pluginName = op.PluginName
		}
	}
	if function == "" {
		function = NoopFunction
	}
	t := api.NewOperationTask(
		fmt.Sprintf("%s.%s", n.Name, opName),
		"node", n.ID, standardInterface, opName, function,
	)
	t.PluginName = pluginName
	return t
}

func installWorkflow(store storage.Store, serviceID string, inputs map[string]interface{}) (*api.TaskGraph, error) {
	return lifecycleGraph(store, serviceID, []string{"create", "configure", "start"}, installRelationshipOperations, true)
}

func uninstallWorkflow(store storage.Store, serviceID string, inputs map[string]interface{}) (*api.TaskGraph, error) {
	return lifecycleGraph(store, serviceID, []string{"stop", "delete"}, uninstallRelationshipOperations, false)
}

func startWorkflow(store storage.Store, serviceID string, inputs map[string]interface{}) (*api.TaskGraph, error) {
	return lifecycleGraph(store, serviceID, []string{"start"}, nil, true)
}

func stopWorkflow(store storage.Store, serviceID string, inputs map[string]interface{}) (*api.TaskGraph, error) {
	return lifecycleGraph(store, serviceID, []string{"stop"}, nil, false)
}
