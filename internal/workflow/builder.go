package workflow

import (
	"fmt"
	"time"
)

// Builder assembles workflow graphs with a fluent API. Errors accumulate and
// surface from Build, so call sites can chain without checking each step.
type Builder struct {
	graph *Graph
	errs  []error
}

// NewBuilder starts a graph for the given workflow.
func NewBuilder(workflowID, name, description string) *Builder {
	return &Builder{graph: NewGraph(workflowID, name, description)}
}

// AddAgent adds an agent node backed by the named service.
func (b *Builder) AddAgent(nodeID, serviceName string, timeout time.Duration) *Builder {
	b.addNode(&Node{
		ID:          nodeID,
		Name:        nodeID,
		Type:        NodeAgent,
		ServiceName: serviceName,
		Timeout:     timeout,
	})
	return b
}

// AddTool adds a tool node backed by the named service.
func (b *Builder) AddTool(nodeID, serviceName string, timeout time.Duration) *Builder {
	b.addNode(&Node{
		ID:          nodeID,
		Name:        nodeID,
		Type:        NodeTool,
		ServiceName: serviceName,
		Timeout:     timeout,
	})
	return b
}

// AddRouter adds a router node with conditional outgoing edges. Routes are
// evaluated in slice order so dispatch stays deterministic.
func (b *Builder) AddRouter(nodeID string, routes []Route) *Builder {
	b.addNode(&Node{ID: nodeID, Name: nodeID, Type: NodeRouter})
	for i, route := range routes {
		if route.Condition == nil {
			b.errs = append(b.errs, fmt.Errorf("router %s route %d has no condition", nodeID, i))
			continue
		}
		b.graph.AddEdge(nodeID, route.Target, EdgeConditional, route.Condition, len(routes)-i)
	}
	return b
}

// Route is one conditional branch out of a router node.
type Route struct {
	Condition Condition
	Target    string
}

// AddParallel fans execution out from the given node to all targets.
func (b *Builder) AddParallel(fromNodeID string, targets ...string) *Builder {
	for _, target := range targets {
		b.graph.AddEdge(fromNodeID, target, EdgeParallel, nil, 0)
	}
	return b
}

// AddAggregator adds a node that joins parallel branches. Method is one of
// merge, list or first.
func (b *Builder) AddAggregator(nodeID, method string) *Builder {
	switch method {
	case "merge", "list", "first":
	default:
		b.errs = append(b.errs, fmt.Errorf("aggregator %s has unknown method %q", nodeID, method))
	}
	b.addNode(&Node{
		ID:     nodeID,
		Name:   nodeID,
		Type:   NodeAggregator,
		Config: map[string]interface{}{"aggregation": method},
	})
	return b
}

// AddCheckpoint adds a node that snapshots the global state when reached.
func (b *Builder) AddCheckpoint(nodeID string) *Builder {
	b.addNode(&Node{ID: nodeID, Name: nodeID, Type: NodeCheckpoint})
	return b
}

// Connect adds a sequential edge between two nodes.
func (b *Builder) Connect(source, target string) *Builder {
	b.graph.AddEdge(source, target, EdgeSequential, nil, 0)
	return b
}

// ConnectIf adds a conditional edge between two nodes.
func (b *Builder) ConnectIf(source, target string, condition Condition, priority int) *Builder {
	if condition == nil {
		b.errs = append(b.errs, fmt.Errorf("conditional edge %s to %s has no condition", source, target))
		return b
	}
	b.graph.AddEdge(source, target, EdgeConditional, condition, priority)
	return b
}

// SetFallback routes execution to target when source fails.
func (b *Builder) SetFallback(source, target string) *Builder {
	b.graph.AddEdge(source, target, EdgeFallback, nil, 0)
	return b
}

// SetEntryPoint marks the first node executed after the start sentinel.
func (b *Builder) SetEntryPoint(nodeID string) *Builder {
	b.graph.SetEntryPoint(nodeID)
	return b
}

// SetExitPoint connects a node to the end sentinel.
func (b *Builder) SetExitPoint(nodeID string) *Builder {
	b.graph.SetExitPoint(nodeID)
	return b
}

// Build validates and returns the assembled graph.
func (b *Builder) Build() (*Graph, error) {
	if len(b.errs) > 0 {
		return nil, fmt.Errorf("workflow %s has build errors: %v", b.graph.WorkflowID, b.errs)
	}
	if errs := b.graph.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("workflow %s is invalid: %v", b.graph.WorkflowID, errs)
	}
	return b.graph, nil
}

func (b *Builder) addNode(node *Node) {
	if _, exists := b.graph.Node(node.ID); exists {
		b.errs = append(b.errs, fmt.Errorf("duplicate node id %s", node.ID))
		return
	}
	b.graph.AddNode(node)
}
