package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddDependencyMissingEndpoint(t *testing.T) {
	g := NewTaskGraph()
	a := NewStubTask("a")
	g.AddTasks(a)

	b := NewStubTask("b") // never added

	err := g.AddDependency(b, a)
	assert.ErrorIs(t, err, ErrTaskNotInGraph)
}

func TestSequenceAddsPairwiseDependencies(t *testing.T) {
	g := NewTaskGraph()
	a, b, c := NewStubTask("a"), NewStubTask("b"), NewStubTask("c")
	g.AddTasks(a, b, c)
	g.Sequence(a, b, c)

	assert.True(t, g.HasDependency(b, a))
	assert.True(t, g.HasDependency(c, b))
	assert.False(t, g.HasDependency(c, a))
}

func TestGroupFansOutDependency(t *testing.T) {
	g := NewTaskGraph()
	a, b, peer := NewStubTask("a"), NewStubTask("b"), NewStubTask("peer")
	group := []Task{a, b}
	g.AddTasks(group, peer)

	err := g.AddDependency(group, peer)
	require.NoError(t, err)

	assert.True(t, g.HasDependency(a, peer))
	assert.True(t, g.HasDependency(b, peer))
}

func TestTopologicalOrderRespectsDependencies(t *testing.T) {
	g := NewTaskGraph()
	a, b, c := NewStubTask("a"), NewStubTask("b"), NewStubTask("c")
	g.AddTasks(a, b, c)
	g.Sequence(a, b, c)

	order := g.TopologicalOrder(false)
	pos := map[string]int{}
	for i, task := range order {
		pos[task.ID()] = i
	}
	assert.Less(t, pos[a.ID()], pos[b.ID()])
	assert.Less(t, pos[b.ID()], pos[c.ID()])

	reversed := g.TopologicalOrder(true)
	assert.Equal(t, c.ID(), reversed[0].ID())
}

func TestRemoveTasksDropsEdges(t *testing.T) {
	g := NewTaskGraph()
	a, b := NewStubTask("a"), NewStubTask("b")
	g.AddTasks(a, b)
	require.NoError(t, g.AddDependency(b, a))

	g.RemoveTasks(a)
	assert.False(t, g.HasDependency(b, a))
	assert.Empty(t, g.GetDependencies(b))
}
