package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"aolcore/internal/events"
	"aolcore/pkg/logging"
	pkgstrings "aolcore/pkg/strings"
)

const (
	// DefaultWorkflowTimeout bounds a whole execution.
	DefaultWorkflowTimeout = 300 * time.Second

	// DefaultNodeTimeout bounds a single node when the node carries none.
	DefaultNodeTimeout = 30 * time.Second
)

// ServiceInvoker calls out to an external service on behalf of an agent or
// tool node.
type ServiceInvoker interface {
	InvokeService(ctx context.Context, serviceName, method string, input interface{}, timeout time.Duration) (interface{}, error)
}

// Result is the outcome of one workflow execution.
type Result struct {
	Success         bool                   `json:"success"`
	ExecutionID     string                 `json:"execution_id"`
	Output          interface{}            `json:"result,omitempty"`
	Error           string                 `json:"error,omitempty"`
	ValidationErrs  []string               `json:"validation_errors,omitempty"`
	CompletedNodes  []string               `json:"completed_nodes,omitempty"`
	GlobalState     map[string]interface{} `json:"global_state,omitempty"`
	DurationSeconds float64                `json:"duration_seconds"`
}

// Executor runs workflow graphs: forward traversal from the start sentinel,
// parallel fan-out over parallel edges, fallback resumption on node errors,
// and per-node plus whole-workflow deadlines. Node results are recorded as
// agent contributions through the event store.
type Executor struct {
	invoker ServiceInvoker
	store   *events.Store

	mu     sync.Mutex
	active map[string]*State
}

// NewExecutor creates an executor. The invoker may be nil, in which case
// agent and tool nodes pass their input through (useful for dry runs).
func NewExecutor(invoker ServiceInvoker, store *events.Store) *Executor {
	return &Executor{
		invoker: invoker,
		store:   store,
		active:  make(map[string]*State),
	}
}

// Execute validates and runs a workflow to completion.
func (e *Executor) Execute(ctx context.Context, g *Graph, initialInput interface{}) Result {
	executionID := uuid.NewString()

	if errs := g.Validate(); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, err := range errs {
			msgs[i] = err.Error()
		}
		return Result{
			Success:        false,
			ExecutionID:    executionID,
			Error:          "workflow validation failed",
			ValidationErrs: msgs,
		}
	}

	state := newState(g.WorkflowID, executionID, initialInput)
	e.mu.Lock()
	e.active[executionID] = state
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.active, executionID)
		e.mu.Unlock()
	}()

	var agents []string
	for _, node := range g.Nodes() {
		if node.ServiceName != "" {
			agents = append(agents, node.ServiceName)
		}
	}
	e.store.StartWorkflow(ctx, g.WorkflowID, g.Name, agents, map[string]interface{}{
		"execution_id": executionID,
	})

	timeout := DefaultWorkflowTimeout
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	output, err := e.runFrom(runCtx, g, state, StartNode)
	snap := state.Snapshot()

	if err != nil {
		reason := pkgstrings.Truncate(err.Error(), pkgstrings.DefaultReasonMaxLen)
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			reason = "timeout"
		case errors.Is(err, context.Canceled):
			reason = "cancelled"
		}
		state.setError(reason)
		logging.Warn("Workflow", "Execution %s of workflow %s failed: %s", executionID, g.WorkflowID, reason)
		e.store.CompleteWorkflow(ctx, g.WorkflowID, false, map[string]interface{}{"error": reason})
		return Result{
			Success:         false,
			ExecutionID:     executionID,
			Error:           reason,
			CompletedNodes:  snap.CompletedNodes,
			GlobalState:     snap.GlobalState,
			DurationSeconds: time.Since(state.StartedAt).Seconds(),
		}
	}

	e.store.CompleteWorkflow(ctx, g.WorkflowID, true, map[string]interface{}{"output": output})
	return Result{
		Success:         true,
		ExecutionID:     executionID,
		Output:          output,
		CompletedNodes:  snap.CompletedNodes,
		GlobalState:     snap.GlobalState,
		DurationSeconds: time.Since(state.StartedAt).Seconds(),
	}
}

// ActiveExecutions returns snapshots of all in-flight executions.
func (e *Executor) ActiveExecutions() []Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Snapshot, 0, len(e.active))
	for _, st := range e.active {
		out = append(out, st.Snapshot())
	}
	return out
}

// runFrom executes the graph from a node until the end sentinel or a dead
// end, returning the final output.
func (e *Executor) runFrom(ctx context.Context, g *Graph, state *State, nodeID string) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	node, ok := g.Node(nodeID)
	if !ok {
		return nil, fmt.Errorf("node %s not found", nodeID)
	}
	state.markCurrent(nodeID)

	var output interface{}
	if node.Type == NodeStart {
		output = state.output(nodeID)
		state.markCompleted(nodeID, output)
	} else if node.Type == NodeEnd {
		output = e.nodeInput(g, state, nodeID)
		state.markCompleted(nodeID, output)
		return output, nil
	} else {
		var err error
		output, err = e.runNode(ctx, g, state, node)
		if err != nil {
			// Fallback edges resume execution at their target; the
			// fallback subtree's result stands in for this node's.
			if fb, ok := g.FallbackTarget(nodeID); ok {
				logging.Warn("Workflow", "Node %s failed, resuming at fallback %s: %v", nodeID, fb, err)
				return e.runFrom(ctx, g, state, fb)
			}
			return nil, err
		}
		state.markCompleted(nodeID, output)
	}

	if parallel := g.ParallelTargets(nodeID); len(parallel) > 1 {
		return e.runParallel(ctx, g, state, parallel)
	}

	next := g.NextNodes(nodeID, state.evalContext(output))
	if len(next) == 0 {
		return output, nil
	}
	return e.runFrom(ctx, g, state, next[0])
}

// runParallel executes all parallel target nodes concurrently, collects
// their outputs under global_state.parallel_results, and resumes at their
// common successors.
func (e *Executor) runParallel(ctx context.Context, g *Graph, state *State, targets []string) (interface{}, error) {
	results := make(map[string]interface{}, len(targets))
	var mu sync.Mutex

	eg, egCtx := errgroup.WithContext(ctx)
	for _, target := range targets {
		eg.Go(func() error {
			node, ok := g.Node(target)
			if !ok {
				return fmt.Errorf("node %s not found", target)
			}
			state.markCurrent(target)
			output, err := e.runNode(egCtx, g, state, node)
			if err != nil {
				if fb, ok := g.FallbackTarget(target); ok {
					logging.Warn("Workflow", "Parallel node %s failed, resuming at fallback %s: %v", target, fb, err)
					output, err = e.runFrom(egCtx, g, state, fb)
				}
				if err != nil {
					return err
				}
			}
			state.markCompleted(target, output)
			mu.Lock()
			results[target] = output
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	state.setGlobal("parallel_results", results)

	// Resume at the branches' successors; with a convergent join this is a
	// single aggregator node.
	var final interface{} = results
	for _, target := range targets {
		for _, succ := range g.successors(target) {
			if state.isCompleted(succ) {
				continue
			}
			out, err := e.runFrom(ctx, g, state, succ)
			if err != nil {
				return nil, err
			}
			final = out
		}
	}
	return final, nil
}

// runNode executes one node under its deadline and records the contribution
// for service-backed nodes.
func (e *Executor) runNode(ctx context.Context, g *Graph, state *State, node *Node) (interface{}, error) {
	timeout := node.Timeout
	if timeout <= 0 {
		timeout = DefaultNodeTimeout
	}
	nodeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	turn := state.nextRun(node.ID)
	input := e.nodeInput(g, state, node.ID)

	var output interface{}
	var err error
	switch node.Type {
	case NodeAgent, NodeTool:
		if e.invoker != nil {
			output, err = e.invoker.InvokeService(nodeCtx, node.ServiceName, "Process", input, timeout)
		} else {
			output = input
		}
	case NodeAggregator:
		output = e.aggregate(g, state, node)
	case NodeCheckpoint:
		state.setGlobal("checkpoint_"+node.ID, state.evalContext(input).GlobalState)
		output = input
	default:
		// Router, human and unknown nodes pass through; routing lives in
		// the edges.
		output = input
	}

	latencyMS := float64(time.Since(start).Milliseconds())
	if e.store != nil && node.ServiceName != "" {
		contribErr := e.store.RecordContribution(ctx, events.AgentContribution{
			AgentID:    node.ServiceName,
			WorkflowID: g.WorkflowID,
			Turn:       turn,
			ActionType: events.ActionType(node.Type),
			LatencyMS:  latencyMS,
			Success:    err == nil,
		})
		if contribErr != nil {
			logging.Debug("Workflow", "Contribution for %s not recorded: %v", node.ServiceName, contribErr)
		}
	}

	if err != nil {
		return nil, fmt.Errorf("node %s failed: %w", node.ID, err)
	}
	return output, nil
}

// nodeInput combines the completed predecessors' outputs: none yields the
// workflow input, one yields its output, several yield a map keyed by
// predecessor id.
func (e *Executor) nodeInput(g *Graph, state *State, nodeID string) interface{} {
	var completed []string
	for _, pred := range g.predecessors(nodeID) {
		if state.isCompleted(pred) {
			completed = append(completed, pred)
		}
	}

	switch len(completed) {
	case 0:
		return state.global("input")
	case 1:
		return state.output(completed[0])
	}

	combined := make(map[string]interface{}, len(completed))
	for _, pred := range completed {
		combined[pred] = state.output(pred)
	}
	return combined
}

// aggregate combines completed predecessor outputs per the node's
// aggregation config: merge (dict union), list (outputs in predecessor
// order), or first (first non-nil).
func (e *Executor) aggregate(g *Graph, state *State, node *Node) interface{} {
	method := "merge"
	if m, ok := node.Config["aggregation"].(string); ok && m != "" {
		method = m
	}

	var preds []string
	for _, pred := range g.predecessors(node.ID) {
		if state.isCompleted(pred) {
			preds = append(preds, pred)
		}
	}
	if len(preds) == 0 {
		return state.global("input")
	}
	if len(preds) == 1 {
		return state.output(preds[0])
	}

	switch method {
	case "merge":
		merged := make(map[string]interface{})
		for _, pred := range preds {
			value := state.output(pred)
			if m, ok := value.(map[string]interface{}); ok {
				for k, v := range m {
					merged[k] = v
				}
			} else {
				merged[pred] = value
			}
		}
		return merged
	case "list":
		values := make([]interface{}, 0, len(preds))
		for _, pred := range preds {
			values = append(values, state.output(pred))
		}
		return values
	case "first":
		for _, pred := range preds {
			if value := state.output(pred); value != nil {
				return value
			}
		}
		return nil
	}

	combined := make(map[string]interface{}, len(preds))
	for _, pred := range preds {
		combined[pred] = state.output(pred)
	}
	return combined
}
