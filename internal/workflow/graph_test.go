package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func errorStrings(errs []error) []string {
	out := make([]string, len(errs))
	for i, err := range errs {
		out[i] = err.Error()
	}
	return out
}

func TestValidateAcceptsLinearGraph(t *testing.T) {
	g := NewGraph("wf", "linear", "")
	g.AddNode(&Node{ID: "a", Type: NodeAgent, ServiceName: "svc-a"})
	g.AddNode(&Node{ID: "b", Type: NodeAgent, ServiceName: "svc-b"})
	g.SetEntryPoint("a")
	g.AddEdge("a", "b", EdgeSequential, nil, 0)
	g.SetExitPoint("b")

	assert.Empty(t, g.Validate())
}

func TestValidateDetectsMissingEntryPoint(t *testing.T) {
	g := NewGraph("wf", "empty", "")

	errs := errorStrings(g.Validate())
	assert.Contains(t, errs, "workflow has no entry point")
}

func TestValidateDetectsDeadEnd(t *testing.T) {
	g := NewGraph("wf", "dead-end", "")
	g.AddNode(&Node{ID: "a", Type: NodeAgent})
	g.AddNode(&Node{ID: "b", Type: NodeAgent})
	g.SetEntryPoint("a")
	g.AddEdge("a", "b", EdgeSequential, nil, 0)
	g.AddEdge("a", EndNode, EdgeConditional, func(EvalContext) bool { return true }, 1)

	errs := errorStrings(g.Validate())
	assert.Contains(t, errs, "node b has no outgoing edges")
}

func TestValidateDetectsCycle(t *testing.T) {
	g := NewGraph("wf", "cyclic", "")
	g.AddNode(&Node{ID: "a", Type: NodeAgent})
	g.AddNode(&Node{ID: "b", Type: NodeAgent})
	g.SetEntryPoint("a")
	g.AddEdge("a", "b", EdgeSequential, nil, 0)
	g.AddEdge("b", "a", EdgeSequential, nil, 0)
	g.SetExitPoint("b")

	errs := errorStrings(g.Validate())
	assert.Contains(t, errs, "workflow contains cycles")
}

func TestValidateDetectsDanglingEdge(t *testing.T) {
	g := NewGraph("wf", "dangling", "")
	g.AddNode(&Node{ID: "a", Type: NodeAgent})
	g.SetEntryPoint("a")
	g.AddEdge("a", "ghost", EdgeSequential, nil, 0)
	g.SetExitPoint("a")

	errs := errorStrings(g.Validate())
	assert.Contains(t, errs, "edge a_to_ghost targets unknown node ghost")
}

func TestValidateDetectsUnreachableEnd(t *testing.T) {
	g := NewGraph("wf", "no-exit", "")
	g.AddNode(&Node{ID: "a", Type: NodeAgent})
	g.AddNode(&Node{ID: "b", Type: NodeAgent})
	g.SetEntryPoint("a")
	g.AddEdge("a", "b", EdgeSequential, nil, 0)
	g.AddEdge("b", "a", EdgeSequential, nil, 0)

	errs := errorStrings(g.Validate())
	assert.Contains(t, errs, "no path from __start__ to __end__")
}

func TestNextNodesConditionalPriority(t *testing.T) {
	g := NewGraph("wf", "branching", "")
	g.AddNode(&Node{ID: "router", Type: NodeRouter})
	g.AddNode(&Node{ID: "high", Type: NodeAgent})
	g.AddNode(&Node{ID: "low", Type: NodeAgent})
	g.AddEdge("router", "high", EdgeConditional, func(c EvalContext) bool {
		m, ok := c.CurrentOutput.(map[string]interface{})
		return ok && m["severity"] == "high"
	}, 10)
	g.AddEdge("router", "low", EdgeConditional, func(EvalContext) bool { return true }, 0)

	next := g.NextNodes("router", EvalContext{CurrentOutput: map[string]interface{}{"severity": "high"}})
	require.Equal(t, []string{"high"}, next)

	next = g.NextNodes("router", EvalContext{CurrentOutput: map[string]interface{}{"severity": "low"}})
	require.Equal(t, []string{"low"}, next)
}

func TestNextNodesSequentialWins(t *testing.T) {
	g := NewGraph("wf", "seq", "")
	g.AddNode(&Node{ID: "a", Type: NodeAgent})
	g.AddNode(&Node{ID: "b", Type: NodeAgent})
	g.AddNode(&Node{ID: "c", Type: NodeAgent})
	g.AddEdge("a", "b", EdgeSequential, nil, 5)
	g.AddEdge("a", "c", EdgeSequential, nil, 0)

	next := g.NextNodes("a", EvalContext{})
	assert.Equal(t, []string{"b"}, next, "highest priority sequential edge is taken")
}

func TestParallelAndFallbackTargets(t *testing.T) {
	g := NewGraph("wf", "fan-out", "")
	for _, id := range []string{"a", "b", "c", "fb"} {
		g.AddNode(&Node{ID: id, Type: NodeAgent})
	}
	g.AddEdge("a", "b", EdgeParallel, nil, 0)
	g.AddEdge("a", "c", EdgeParallel, nil, 0)
	g.AddEdge("a", "fb", EdgeFallback, nil, 0)

	assert.Equal(t, []string{"b", "c"}, g.ParallelTargets("a"))

	fb, ok := g.FallbackTarget("a")
	require.True(t, ok)
	assert.Equal(t, "fb", fb)

	assert.Equal(t, []string{"b", "c"}, g.successors("a"), "fallback edges are not regular successors")

	_, ok = g.FallbackTarget("b")
	assert.False(t, ok)
}
