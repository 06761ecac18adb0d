package workflow

import (
	"fmt"
	"sort"
	"time"
)

// Sentinel node ids every graph carries.
const (
	StartNode = "__start__"
	EndNode   = "__end__"
)

// NodeType classifies a workflow node.
type NodeType string

const (
	NodeAgent      NodeType = "agent"
	NodeTool       NodeType = "tool"
	NodeRouter     NodeType = "router"
	NodeAggregator NodeType = "aggregator"
	NodeCheckpoint NodeType = "checkpoint"
	NodeHuman      NodeType = "human"
	NodeStart      NodeType = "start"
	NodeEnd        NodeType = "end"
)

// EdgeType classifies how control flows across an edge.
type EdgeType string

const (
	EdgeSequential  EdgeType = "sequential"
	EdgeConditional EdgeType = "conditional"
	EdgeParallel    EdgeType = "parallel"
	EdgeFallback    EdgeType = "fallback"
)

// EvalContext is handed to conditional edge predicates.
type EvalContext struct {
	CurrentOutput interface{}
	GlobalState   map[string]interface{}
	NodeOutputs   map[string]interface{}
}

// Condition decides whether a conditional edge is taken.
type Condition func(EvalContext) bool

// Node is one step in a workflow graph.
type Node struct {
	ID          string                 `json:"node_id"`
	Name        string                 `json:"name"`
	Type        NodeType               `json:"type"`
	ServiceName string                 `json:"service_name,omitempty"`
	Config      map[string]interface{} `json:"config,omitempty"`
	Timeout     time.Duration          `json:"timeout,omitempty"`
}

// Edge connects two nodes.
type Edge struct {
	ID        string    `json:"edge_id"`
	Source    string    `json:"source"`
	Target    string    `json:"target"`
	Type      EdgeType  `json:"type"`
	Condition Condition `json:"-"`
	Priority  int       `json:"priority"`
	order     int
}

// Graph is a DAG of nodes and typed edges. Every graph carries implicit
// __start__ and __end__ sentinel nodes. Graphs are built once and then read
// by executions; mutation during execution is not supported.
type Graph struct {
	WorkflowID  string
	Name        string
	Description string

	nodes     map[string]*Node
	edges     map[string]*Edge
	adjacency map[string][]string
	reverse   map[string][]string
	nextOrder int
}

// NewGraph creates a graph with the start and end sentinels in place.
func NewGraph(workflowID, name, description string) *Graph {
	g := &Graph{
		WorkflowID:  workflowID,
		Name:        name,
		Description: description,
		nodes:       make(map[string]*Node),
		edges:       make(map[string]*Edge),
		adjacency:   make(map[string][]string),
		reverse:     make(map[string][]string),
	}
	g.AddNode(&Node{ID: StartNode, Name: "Start", Type: NodeStart})
	g.AddNode(&Node{ID: EndNode, Name: "End", Type: NodeEnd})
	return g
}

// AddNode adds or replaces a node.
func (g *Graph) AddNode(node *Node) {
	g.nodes[node.ID] = node
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns all nodes keyed by id.
func (g *Graph) Nodes() map[string]*Node {
	return g.nodes
}

// AddEdge connects source to target and returns the edge id.
func (g *Graph) AddEdge(source, target string, edgeType EdgeType, condition Condition, priority int) string {
	id := fmt.Sprintf("%s_to_%s", source, target)
	g.edges[id] = &Edge{
		ID:        id,
		Source:    source,
		Target:    target,
		Type:      edgeType,
		Condition: condition,
		Priority:  priority,
		order:     g.nextOrder,
	}
	g.nextOrder++
	g.adjacency[source] = append(g.adjacency[source], id)
	g.reverse[target] = append(g.reverse[target], id)
	return id
}

// SetEntryPoint connects the start sentinel to the first real node.
func (g *Graph) SetEntryPoint(nodeID string) {
	g.AddEdge(StartNode, nodeID, EdgeSequential, nil, 0)
}

// SetExitPoint connects a node to the end sentinel.
func (g *Graph) SetExitPoint(nodeID string) {
	g.AddEdge(nodeID, EndNode, EdgeSequential, nil, 0)
}

// outgoing returns a node's edges in descending priority; ties break by
// insertion order.
func (g *Graph) outgoing(nodeID string) []*Edge {
	out := make([]*Edge, 0, len(g.adjacency[nodeID]))
	for _, id := range g.adjacency[nodeID] {
		out = append(out, g.edges[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].order < out[j].order
	})
	return out
}

// NextNodes resolves the nodes to execute after the given node. Sequential
// edges take the first match, conditional edges the first true predicate,
// parallel edges all collect. Fallback edges are only consulted on error.
func (g *Graph) NextNodes(nodeID string, evalCtx EvalContext) []string {
	var next []string
	for _, edge := range g.outgoing(nodeID) {
		switch edge.Type {
		case EdgeSequential:
			next = append(next, edge.Target)
			return next
		case EdgeConditional:
			if edge.Condition != nil && edge.Condition(evalCtx) {
				next = append(next, edge.Target)
				return next
			}
		case EdgeParallel:
			next = append(next, edge.Target)
		}
	}
	return next
}

// ParallelTargets returns all parallel edge targets of a node.
func (g *Graph) ParallelTargets(nodeID string) []string {
	var targets []string
	for _, edge := range g.outgoing(nodeID) {
		if edge.Type == EdgeParallel {
			targets = append(targets, edge.Target)
		}
	}
	return targets
}

// FallbackTarget returns the node to resume at when the given node fails.
func (g *Graph) FallbackTarget(nodeID string) (string, bool) {
	for _, edge := range g.outgoing(nodeID) {
		if edge.Type == EdgeFallback {
			return edge.Target, true
		}
	}
	return "", false
}

// successors returns the deduplicated non-fallback targets of a node in edge
// order.
func (g *Graph) successors(nodeID string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, edge := range g.outgoing(nodeID) {
		if edge.Type == EdgeFallback || seen[edge.Target] {
			continue
		}
		seen[edge.Target] = true
		out = append(out, edge.Target)
	}
	return out
}

// predecessors returns the sources of a node's inbound edges in edge order.
func (g *Graph) predecessors(nodeID string) []string {
	var out []string
	for _, id := range g.reverse[nodeID] {
		out = append(out, g.edges[id].Source)
	}
	return out
}

// Validate checks the graph structure and returns every violation found:
// a missing entry point, non-end nodes without outgoing edges, cycles,
// dangling edge references, and an end unreachable from start.
func (g *Graph) Validate() []error {
	var errs []error

	if len(g.adjacency[StartNode]) == 0 {
		errs = append(errs, fmt.Errorf("workflow has no entry point"))
	}

	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if id == EndNode {
			continue
		}
		if len(g.adjacency[id]) == 0 {
			errs = append(errs, fmt.Errorf("node %s has no outgoing edges", id))
		}
	}

	if g.hasCycle() {
		errs = append(errs, fmt.Errorf("workflow contains cycles"))
	}

	edgeIDs := make([]string, 0, len(g.edges))
	for id := range g.edges {
		edgeIDs = append(edgeIDs, id)
	}
	sort.Strings(edgeIDs)
	for _, id := range edgeIDs {
		edge := g.edges[id]
		if _, ok := g.nodes[edge.Source]; !ok {
			errs = append(errs, fmt.Errorf("edge %s originates from unknown node %s", id, edge.Source))
		}
		if _, ok := g.nodes[edge.Target]; !ok {
			errs = append(errs, fmt.Errorf("edge %s targets unknown node %s", id, edge.Target))
		}
	}

	if !g.endReachable() {
		errs = append(errs, fmt.Errorf("no path from %s to %s", StartNode, EndNode))
	}

	return errs
}

func (g *Graph) hasCycle() bool {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(g.nodes))

	var dfs func(id string) bool
	dfs = func(id string) bool {
		state[id] = inStack
		for _, edgeID := range g.adjacency[id] {
			target := g.edges[edgeID].Target
			switch state[target] {
			case inStack:
				return true
			case unvisited:
				if dfs(target) {
					return true
				}
			}
		}
		state[id] = done
		return false
	}

	for id := range g.nodes {
		if state[id] == unvisited && dfs(id) {
			return true
		}
	}
	return false
}

func (g *Graph) endReachable() bool {
	visited := map[string]bool{StartNode: true}
	queue := []string{StartNode}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id == EndNode {
			return true
		}
		for _, edgeID := range g.adjacency[id] {
			target := g.edges[edgeID].Target
			if !visited[target] {
				visited[target] = true
				queue = append(queue, target)
			}
		}
	}
	return false
}
