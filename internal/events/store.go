package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"aolcore/internal/metrics"
	"aolcore/pkg/logging"
)

// DefaultCapacity is the default size of the bounded event ring.
const DefaultCapacity = 1000

// Filter selects events from the store. Zero fields match everything.
type Filter struct {
	// Kind restricts results to one event kind.
	Kind Kind

	// Service matches events whose service_name, source_service or
	// target_service equals the given name.
	Service string

	// WorkflowID restricts results to one workflow.
	WorkflowID string

	// Limit caps the number of returned events; 0 means 100.
	Limit int
}

// Stats summarizes the store contents for the query surface.
type Stats struct {
	TotalEvents        int            `json:"total_events"`
	ByKind             map[Kind]int   `json:"by_kind"`
	ActiveWorkflows    int            `json:"active_workflows"`
	CompletedWorkflows int            `json:"completed_workflows"`
	FailedWorkflows    int            `json:"failed_workflows"`
	TotalContributions int            `json:"total_contributions"`
}

// Store is the bounded append-only event log plus the owner of workflow and
// contribution records. Appends publish to the bus outside the store lock;
// queries are linearizable with appends.
type Store struct {
	bus *Bus

	mu            sync.Mutex
	ring          *ring
	workflows     map[string]*Workflow
	contributions map[string][]AgentContribution
}

// NewStore creates a store with the given ring capacity and bus.
func NewStore(capacity int, bus *Bus) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		bus:           bus,
		ring:          newRing(capacity),
		workflows:     make(map[string]*Workflow),
		contributions: make(map[string][]AgentContribution),
	}
}

// Append records an event and fans it out: kind handlers are dispatched and
// the event is published to the global channel, plus the per-service and
// per-workflow channels when those fields are populated. On ring overflow the
// oldest event is dropped; producers are never blocked.
func (s *Store) Append(ctx context.Context, ev Event) {
	s.mu.Lock()
	if s.ring.append(ev) {
		metrics.EventsDropped.Inc()
	}
	s.mu.Unlock()

	s.bus.Dispatch(ctx, ev)

	if ev.ServiceName != "" {
		s.bus.Publish(ServiceChannel(ev.ServiceName), ev)
	}
	if ev.WorkflowID != "" {
		s.bus.Publish(WorkflowChannel(ev.WorkflowID), ev)
	}
	s.bus.Publish(GlobalChannel, ev)
}

// GetEvents returns the most recent events matching the filter, in insertion
// order.
func (s *Store) GetEvents(filter Filter) []Event {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Walk backwards so only the last `limit` matches are collected, then
	// reverse into insertion order.
	matched := make([]Event, 0, limit)
	for i := s.ring.len() - 1; i >= 0 && len(matched) < limit; i-- {
		ev := s.ring.at(i)
		if !filter.matches(ev) {
			continue
		}
		matched = append(matched, ev)
	}
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}
	return matched
}

func (f Filter) matches(ev Event) bool {
	if f.Kind != "" && ev.Kind != f.Kind {
		return false
	}
	if f.Service != "" && ev.ServiceName != f.Service && ev.SourceService != f.Service && ev.TargetService != f.Service {
		return false
	}
	if f.WorkflowID != "" && ev.WorkflowID != f.WorkflowID {
		return false
	}
	return true
}

// RouteEvents returns recent route_called events, optionally filtered by
// source and target service.
func (s *Store) RouteEvents(source, target string, limit int) []Event {
	if limit <= 0 {
		limit = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]Event, 0, limit)
	for i := s.ring.len() - 1; i >= 0 && len(matched) < limit; i-- {
		ev := s.ring.at(i)
		if ev.Kind != KindRouteCalled {
			continue
		}
		if source != "" && ev.SourceService != source {
			continue
		}
		if target != "" && ev.TargetService != target {
			continue
		}
		matched = append(matched, ev)
	}
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}
	return matched
}

// Len returns the number of retained events.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ring.len()
}

// StartWorkflow begins tracking a workflow and emits workflow_started.
func (s *Store) StartWorkflow(ctx context.Context, workflowID, workflowType string, agents []string, metadata map[string]interface{}) {
	s.mu.Lock()
	s.workflows[workflowID] = &Workflow{
		WorkflowID: workflowID,
		Type:       workflowType,
		Agents:     append([]string(nil), agents...),
		State:      WorkflowRunning,
		StartedAt:  time.Now(),
		Metadata:   metadata,
	}
	s.mu.Unlock()

	md := map[string]interface{}{
		"workflow_type": workflowType,
		"agents":        agents,
	}
	for k, v := range metadata {
		md[k] = v
	}
	s.Append(ctx, NewWorkflowStarted(workflowID, md))
}

// CompleteWorkflow marks a workflow completed or failed and emits the
// terminal event with the final credit distribution.
func (s *Store) CompleteWorkflow(ctx context.Context, workflowID string, success bool, result map[string]interface{}) {
	s.mu.Lock()
	wf, ok := s.workflows[workflowID]
	var (
		duration      time.Duration
		restarts      int
		contributions []AgentContribution
	)
	if ok {
		if success {
			wf.State = WorkflowCompleted
		} else {
			wf.State = WorkflowFailed
		}
		duration = time.Since(wf.StartedAt)
		restarts = wf.RestartCount
	}
	contributions = append(contributions, s.contributions[workflowID]...)
	s.mu.Unlock()

	finalCredits := make(map[string]float64)
	for _, c := range contributions {
		finalCredits[c.AgentID] += c.InfluenceScore
	}

	md := map[string]interface{}{
		"duration_seconds":    duration.Seconds(),
		"total_contributions": len(contributions),
		"restart_count":       restarts,
		"final_credits":       finalCredits,
	}
	if result != nil {
		md["result"] = result
	}
	s.Append(ctx, NewWorkflowCompleted(workflowID, success, md))
}

// RecordContribution stores a scored contribution and emits the
// agent_contribution event. Contributions against workflows in a terminal
// failed state are rejected.
func (s *Store) RecordContribution(ctx context.Context, contrib AgentContribution) error {
	if contrib.Timestamp.IsZero() {
		contrib.Timestamp = time.Now()
	}

	s.mu.Lock()
	if wf, ok := s.workflows[contrib.WorkflowID]; ok && wf.State == WorkflowFailed {
		s.mu.Unlock()
		return fmt.Errorf("workflow %s is failed; contribution from %s rejected", contrib.WorkflowID, contrib.AgentID)
	}
	s.contributions[contrib.WorkflowID] = append(s.contributions[contrib.WorkflowID], contrib)
	s.mu.Unlock()

	s.Append(ctx, NewAgentContribution(contrib.AgentID, contrib.WorkflowID, contrib.InfluenceScore, contrib.Success, map[string]interface{}{
		"turn":        contrib.Turn,
		"action_type": string(contrib.ActionType),
		"latency_ms":  contrib.LatencyMS,
	}))
	return nil
}

// RestartWorkflow discards a workflow's contributions, increments its restart
// count, marks it restarted and emits deliberation_restarted.
func (s *Store) RestartWorkflow(ctx context.Context, workflowID, reason string) {
	s.mu.Lock()
	discarded := len(s.contributions[workflowID])
	delete(s.contributions, workflowID)

	previousState := WorkflowState("unknown")
	if wf, ok := s.workflows[workflowID]; ok {
		previousState = wf.State
		wf.State = WorkflowRestarted
		wf.RestartCount++
	}
	s.mu.Unlock()

	metrics.DeliberationRestarts.Inc()
	logging.Info("EventStore", "Restarted deliberation for workflow %s (%d contributions discarded): %s", workflowID, discarded, reason)

	s.Append(ctx, NewDeliberationRestarted(workflowID, map[string]interface{}{
		"reason":                  reason,
		"previous_state":          string(previousState),
		"contributions_discarded": discarded,
	}))
}

// ResumeWorkflow returns a restarted workflow to the running state. The next
// deliberation round records fresh contributions against it.
func (s *Store) ResumeWorkflow(workflowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if wf, ok := s.workflows[workflowID]; ok && wf.State == WorkflowRestarted {
		wf.State = WorkflowRunning
	}
}

// Workflow returns a copy of the tracked workflow.
func (s *Store) Workflow(workflowID string) (Workflow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[workflowID]
	if !ok {
		return Workflow{}, false
	}
	return wf.clone(), true
}

// ActiveWorkflows returns copies of all workflows currently running or
// restarted.
func (s *Store) ActiveWorkflows() []Workflow {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Workflow
	for _, wf := range s.workflows {
		if wf.State == WorkflowRunning || wf.State == WorkflowRestarted {
			out = append(out, wf.clone())
		}
	}
	return out
}

// Contributions returns a copy of the contributions recorded for a workflow.
func (s *Store) Contributions(workflowID string) []AgentContribution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AgentContribution(nil), s.contributions[workflowID]...)
}

// WorkflowReport summarizes a workflow and its per-agent contribution stats.
func (s *Store) WorkflowReport(workflowID string) (WorkflowReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wf, ok := s.workflows[workflowID]
	if !ok {
		return WorkflowReport{}, false
	}

	agentStats := make(map[string]AgentWorkflowStats)
	contributions := s.contributions[workflowID]
	for _, c := range contributions {
		stats := agentStats[c.AgentID]
		stats.Contributions++
		stats.Influence += c.InfluenceScore
		if c.Success {
			stats.Successes++
		}
		agentStats[c.AgentID] = stats
	}

	return WorkflowReport{
		WorkflowID:         wf.WorkflowID,
		Type:               wf.Type,
		State:              wf.State,
		Agents:             append([]string(nil), wf.Agents...),
		StartedAt:          wf.StartedAt,
		RestartCount:       wf.RestartCount,
		TotalContributions: len(contributions),
		AgentStats:         agentStats,
	}, true
}

// GetStats returns aggregate statistics over the retained events and tracked
// workflows.
func (s *Store) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		TotalEvents: s.ring.len(),
		ByKind:      make(map[Kind]int),
	}
	for i := 0; i < s.ring.len(); i++ {
		stats.ByKind[s.ring.at(i).Kind]++
	}
	for _, wf := range s.workflows {
		switch wf.State {
		case WorkflowRunning, WorkflowRestarted:
			stats.ActiveWorkflows++
		case WorkflowCompleted:
			stats.CompletedWorkflows++
		case WorkflowFailed:
			stats.FailedWorkflows++
		}
	}
	for _, contribs := range s.contributions {
		stats.TotalContributions += len(contribs)
	}
	return stats
}
