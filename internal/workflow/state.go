package workflow

import (
	"sync"
	"time"
)

// State tracks one workflow execution. Parallel branches mutate it
// concurrently, so all access goes through its methods.
type State struct {
	WorkflowID  string
	ExecutionID string
	StartedAt   time.Time

	mu             sync.Mutex
	currentNodes   map[string]bool
	completedNodes map[string]bool
	nodeOutputs    map[string]interface{}
	globalState    map[string]interface{}
	nodeRuns       map[string]int
	err            string
}

func newState(workflowID, executionID string, initialInput interface{}) *State {
	return &State{
		WorkflowID:     workflowID,
		ExecutionID:    executionID,
		StartedAt:      time.Now(),
		currentNodes:   make(map[string]bool),
		completedNodes: make(map[string]bool),
		nodeOutputs:    map[string]interface{}{StartNode: initialInput},
		globalState:    map[string]interface{}{"input": initialInput},
		nodeRuns:       make(map[string]int),
	}
}

func (s *State) markCurrent(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentNodes[nodeID] = true
}

// markCompleted records the node's output, folds map outputs into the global
// state, and moves the node out of the current set.
func (s *State) markCompleted(nodeID string, output interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodeOutputs[nodeID] = output
	s.completedNodes[nodeID] = true
	delete(s.currentNodes, nodeID)
	if m, ok := output.(map[string]interface{}); ok {
		for k, v := range m {
			s.globalState[k] = v
		}
	}
}

func (s *State) isCompleted(nodeID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completedNodes[nodeID]
}

func (s *State) output(nodeID string) interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodeOutputs[nodeID]
}

func (s *State) setGlobal(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globalState[key] = value
}

func (s *State) global(key string) interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.globalState[key]
}

// nextRun increments and returns the node's execution counter, used as the
// turn number on emitted contributions.
func (s *State) nextRun(nodeID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodeRuns[nodeID]++
	return s.nodeRuns[nodeID]
}

func (s *State) setError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = msg
}

// evalContext snapshots the state for conditional edge predicates.
func (s *State) evalContext(currentOutput interface{}) EvalContext {
	s.mu.Lock()
	defer s.mu.Unlock()

	global := make(map[string]interface{}, len(s.globalState))
	for k, v := range s.globalState {
		global[k] = v
	}
	outputs := make(map[string]interface{}, len(s.nodeOutputs))
	for k, v := range s.nodeOutputs {
		outputs[k] = v
	}
	return EvalContext{CurrentOutput: currentOutput, GlobalState: global, NodeOutputs: outputs}
}

// Snapshot is a point-in-time copy of an execution's state.
type Snapshot struct {
	WorkflowID     string                 `json:"workflow_id"`
	ExecutionID    string                 `json:"execution_id"`
	CurrentNodes   []string               `json:"current_nodes"`
	CompletedNodes []string               `json:"completed_nodes"`
	NodeOutputs    map[string]interface{} `json:"node_outputs"`
	GlobalState    map[string]interface{} `json:"global_state"`
	StartedAt      time.Time              `json:"started_at"`
	Error          string                 `json:"error,omitempty"`
}

// Snapshot copies the current execution state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		WorkflowID:  s.WorkflowID,
		ExecutionID: s.ExecutionID,
		StartedAt:   s.StartedAt,
		Error:       s.err,
		NodeOutputs: make(map[string]interface{}, len(s.nodeOutputs)),
		GlobalState: make(map[string]interface{}, len(s.globalState)),
	}
	for id := range s.currentNodes {
		snap.CurrentNodes = append(snap.CurrentNodes, id)
	}
	for id := range s.completedNodes {
		snap.CompletedNodes = append(snap.CompletedNodes, id)
	}
	for k, v := range s.nodeOutputs {
		snap.NodeOutputs[k] = v
	}
	for k, v := range s.globalState {
		snap.GlobalState[k] = v
	}
	return snap
}
