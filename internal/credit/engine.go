package credit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"aolcore/internal/config"
	"aolcore/internal/events"
	"aolcore/pkg/logging"
)

// responseTimeAlpha is the EWMA smoothing factor for agent response times.
const responseTimeAlpha = 0.1

// AgentMetrics is the rolling performance record for one agent.
type AgentMetrics struct {
	AgentID             string      `json:"agent_id"`
	ContributionCount   int         `json:"contribution_count"`
	SuccessfulCount     int         `json:"successful_count"`
	TotalInfluence      float64     `json:"total_influence"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	AvgResponseTimeMS   float64     `json:"avg_response_time_ms"`
	LazyFlags           int         `json:"lazy_flags"`
	LastContribution    time.Time   `json:"last_contribution"`
	Status              AgentStatus `json:"status"`
}

// SuccessRate is the fraction of contributions that succeeded.
func (m AgentMetrics) SuccessRate() float64 {
	if m.ContributionCount == 0 {
		return 0
	}
	return float64(m.SuccessfulCount) / float64(m.ContributionCount)
}

// AvgInfluence is the mean influence score across all contributions.
func (m AgentMetrics) AvgInfluence() float64 {
	if m.ContributionCount == 0 {
		return 0
	}
	return m.TotalInfluence / float64(m.ContributionCount)
}

// WorkflowHealth tracks the contribution dynamics of one active workflow.
type WorkflowHealth struct {
	WorkflowID          string             `json:"workflow_id"`
	Agents              []string           `json:"agents"`
	StartedAt           time.Time          `json:"started_at"`
	ContributionBalance map[string]float64 `json:"contribution_balance"`
	LazyAgents          []string           `json:"lazy_agents"`
	DominantAgent       string             `json:"dominant_agent,omitempty"`
	RestartCount        int                `json:"restart_count"`
	HealthScore         float64            `json:"health_score"`
}

func (w *WorkflowHealth) clone() WorkflowHealth {
	dup := *w
	dup.Agents = append([]string(nil), w.Agents...)
	dup.LazyAgents = append([]string(nil), w.LazyAgents...)
	dup.ContributionBalance = make(map[string]float64, len(w.ContributionBalance))
	for k, v := range w.ContributionBalance {
		dup.ContributionBalance[k] = v
	}
	return dup
}

// Stats is the engine-wide summary for the query surface.
type Stats struct {
	TotalAgents       int     `json:"total_agents"`
	HealthyAgents     int     `json:"healthy_agents"`
	LazyAgents        int     `json:"lazy_agents"`
	DominantAgents    int     `json:"dominant_agents"`
	ActiveWorkflows   int     `json:"active_workflows"`
	TotalRestarts     int     `json:"total_restarts"`
	SystemHealthScore float64 `json:"system_health_score"`
}

// Contribution describes one unit of agent work to be credited.
type Contribution struct {
	AgentID    string
	WorkflowID string
	Turn       int
	ActionType events.ActionType
	LatencyMS  float64
	Success    bool

	// Influence overrides the engine's scoring when non-nil.
	Influence *float64

	// Value supplies a coalition-value function for Shapley scoring over
	// the workflow's agent set. When nil and Influence is nil, the
	// action-type heuristic applies.
	Value ValueFunc
}

// Engine assigns credit to agent contributions, watches for lazy and
// dominant agents over a rolling window, and orders deliberation restarts
// when a workflow's dynamics degrade.
type Engine struct {
	cfg   config.LazyDetectionConfig
	store *events.Store

	mu             sync.Mutex
	agents         map[string]*AgentMetrics
	workflows      map[string]*WorkflowHealth
	detector       *detector
	restartHistory map[string][]time.Time

	// now is swapped out by tests.
	now func() time.Time
}

// New creates a credit engine backed by the given event store.
func New(cfg config.LazyDetectionConfig, store *events.Store) *Engine {
	return &Engine{
		cfg:            cfg,
		store:          store,
		agents:         make(map[string]*AgentMetrics),
		workflows:      make(map[string]*WorkflowHealth),
		detector:       newDetector(cfg.WindowSize, cfg.LazyThreshold),
		restartHistory: make(map[string][]time.Time),
		now:            time.Now,
	}
}

// RegisterWorkflow begins tracking a workflow's contribution dynamics and
// emits deliberation_started.
func (e *Engine) RegisterWorkflow(ctx context.Context, workflowID string, agents []string) {
	e.mu.Lock()
	e.workflows[workflowID] = &WorkflowHealth{
		WorkflowID:          workflowID,
		Agents:              append([]string(nil), agents...),
		StartedAt:           e.now(),
		ContributionBalance: make(map[string]float64),
		HealthScore:         1.0,
	}
	e.mu.Unlock()

	e.store.Append(ctx, events.NewDeliberationStarted(workflowID, map[string]interface{}{
		"agents": agents,
	}))
}

// UnregisterWorkflow stops tracking a workflow.
func (e *Engine) UnregisterWorkflow(workflowID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.workflows, workflowID)
	delete(e.restartHistory, workflowID)
}

// Record scores a contribution, updates the agent's rolling metrics and the
// workflow balance, and persists it through the event store. It returns the
// influence score assigned.
func (e *Engine) Record(ctx context.Context, c Contribution) (float64, error) {
	influence := e.score(c)

	e.mu.Lock()
	m := e.agentLocked(c.AgentID)
	m.ContributionCount++
	m.TotalInfluence += influence
	m.LastContribution = e.now()
	if c.Success {
		m.SuccessfulCount++
		m.ConsecutiveFailures = 0
	} else {
		m.ConsecutiveFailures++
	}
	e.updateResponseTimeLocked(m, c.LatencyMS)

	e.detector.record(c.AgentID, influence)

	if wf, ok := e.workflows[c.WorkflowID]; ok {
		wf.ContributionBalance[c.AgentID] += influence
	}
	e.mu.Unlock()

	err := e.store.RecordContribution(ctx, events.AgentContribution{
		AgentID:        c.AgentID,
		WorkflowID:     c.WorkflowID,
		Turn:           c.Turn,
		ActionType:     c.ActionType,
		LatencyMS:      c.LatencyMS,
		Success:        c.Success,
		InfluenceScore: influence,
	})
	if err != nil {
		return 0, err
	}
	return influence, nil
}

func (e *Engine) score(c Contribution) float64 {
	if c.Influence != nil {
		return *c.Influence
	}
	if c.Value != nil {
		agents := e.workflowAgents(c.WorkflowID, c.AgentID)
		return ShapleyValue(c.AgentID, agents, c.Value)
	}
	return HeuristicScore(c.ActionType, c.Success)
}

// workflowAgents returns the agent set for Shapley scoring: the registered
// participants when the workflow is tracked, otherwise the distinct
// contributors seen so far plus the contributing agent.
func (e *Engine) workflowAgents(workflowID, agentID string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	if wf, ok := e.workflows[workflowID]; ok && len(wf.Agents) > 0 {
		return append([]string(nil), wf.Agents...)
	}

	seen := map[string]bool{agentID: true}
	agents := []string{agentID}
	if wf, ok := e.workflows[workflowID]; ok {
		for a := range wf.ContributionBalance {
			if !seen[a] {
				seen[a] = true
				agents = append(agents, a)
			}
		}
	}
	sort.Strings(agents)
	return agents
}

// RecordProbeSample feeds a health-probe observation into the agent's
// response-time EWMA and failure streak.
func (e *Engine) RecordProbeSample(agentID string, latencyMS float64, success bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m := e.agentLocked(agentID)
	if success {
		m.ConsecutiveFailures = 0
	} else {
		m.ConsecutiveFailures++
	}
	e.updateResponseTimeLocked(m, latencyMS)
}

func (e *Engine) agentLocked(agentID string) *AgentMetrics {
	m, ok := e.agents[agentID]
	if !ok {
		m = &AgentMetrics{AgentID: agentID, Status: StatusStarting}
		e.agents[agentID] = m
	}
	return m
}

func (e *Engine) updateResponseTimeLocked(m *AgentMetrics, latencyMS float64) {
	if latencyMS <= 0 {
		return
	}
	if m.AvgResponseTimeMS == 0 {
		m.AvgResponseTimeMS = latencyMS
		return
	}
	m.AvgResponseTimeMS = m.AvgResponseTimeMS*(1-responseTimeAlpha) + latencyMS*responseTimeAlpha
}

// Tick runs one analysis sweep: reclassify every agent, refresh workflow
// health, and order restarts where the arbitration conditions hold.
func (e *Engine) Tick(ctx context.Context) {
	type lazyTransition struct {
		agentID string
		metrics AgentMetrics
	}

	e.mu.Lock()
	var newlyLazy []lazyTransition
	for agentID, m := range e.agents {
		status := e.detector.analyze(agentID)
		if m.Status == StatusLazy && status == StatusHealthy {
			status = StatusRecovering
		}
		if status == StatusLazy && m.Status != StatusLazy {
			m.LazyFlags++
			newlyLazy = append(newlyLazy, lazyTransition{agentID: agentID, metrics: *m})
		}
		m.Status = status
	}

	type restart struct {
		workflowID string
		reason     string
	}
	var restarts []restart
	for workflowID, wf := range e.workflows {
		wf.LazyAgents = e.detector.lazyAgents(wf.Agents)
		wf.DominantAgent = e.dominantLocked(wf)
		wf.HealthScore = e.healthScoreLocked(wf)

		reason := e.restartReasonLocked(wf)
		if reason == "" || !e.canRestartLocked(workflowID) {
			continue
		}
		e.restartHistory[workflowID] = append(e.restartHistory[workflowID], e.now())
		wf.RestartCount++
		wf.ContributionBalance = make(map[string]float64)
		restarts = append(restarts, restart{workflowID: workflowID, reason: reason})
	}
	e.mu.Unlock()

	for _, lt := range newlyLazy {
		logging.Warn("CreditEngine", "Agent %s flagged lazy (avg influence %.3f)", lt.agentID, lt.metrics.AvgInfluence())
		e.store.Append(ctx, events.NewAgentLazyDetected(lt.agentID, "", map[string]interface{}{
			"lazy_count":    lt.metrics.LazyFlags,
			"avg_influence": lt.metrics.AvgInfluence(),
			"success_rate":  lt.metrics.SuccessRate(),
		}))
	}
	for _, r := range restarts {
		e.store.RestartWorkflow(ctx, r.workflowID, r.reason)
	}
}

// dominantLocked prefers the cumulative-influence share test, falling back to
// the rolling-window classification.
func (e *Engine) dominantLocked(wf *WorkflowHealth) string {
	var total float64
	for _, v := range wf.ContributionBalance {
		total += v
	}
	if total > 0 {
		for _, a := range wf.Agents {
			if wf.ContributionBalance[a]/total > e.cfg.DominanceThreshold {
				return a
			}
		}
	}
	return e.detector.dominantAgent(wf.Agents)
}

func (e *Engine) healthScoreLocked(wf *WorkflowHealth) float64 {
	if len(wf.Agents) == 0 {
		return 1.0
	}
	var healthy int
	for _, a := range wf.Agents {
		status := StatusStarting
		if m, ok := e.agents[a]; ok {
			status = m.Status
		}
		switch status {
		case StatusHealthy, StatusStarting, StatusRecovering:
			healthy++
		}
	}
	return float64(healthy) / float64(len(wf.Agents))
}

func (e *Engine) restartReasonLocked(wf *WorkflowHealth) string {
	if wf.DominantAgent != "" {
		var total float64
		for _, v := range wf.ContributionBalance {
			total += v
		}
		if total > 0 {
			share := wf.ContributionBalance[wf.DominantAgent] / total
			if share > e.cfg.DominanceThreshold {
				return fmt.Sprintf("agent %s is dominating (%.0f%% of influence)", wf.DominantAgent, share*100)
			}
		}
	}

	if len(wf.Agents) > 0 && float64(len(wf.LazyAgents)) > float64(len(wf.Agents))*0.5 {
		return fmt.Sprintf("too many lazy agents: %d/%d", len(wf.LazyAgents), len(wf.Agents))
	}

	if wf.HealthScore < 0.3 {
		return fmt.Sprintf("low workflow health score: %.2f", wf.HealthScore)
	}

	return ""
}

func (e *Engine) canRestartLocked(workflowID string) bool {
	now := e.now()
	recent := e.restartHistory[workflowID][:0]
	for _, t := range e.restartHistory[workflowID] {
		if now.Sub(t) < time.Hour {
			recent = append(recent, t)
		}
	}
	e.restartHistory[workflowID] = recent

	if len(recent) >= e.cfg.MaxRestartsPerHour {
		logging.Warn("CreditEngine", "Cannot restart workflow %s: hourly limit reached", workflowID)
		return false
	}
	if len(recent) > 0 && now.Sub(recent[len(recent)-1]) < e.cfg.RestartCooldown.Std() {
		return false
	}
	return true
}

// AgentReport returns a copy of an agent's rolling metrics.
func (e *Engine) AgentReport(agentID string) (AgentMetrics, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.agents[agentID]
	if !ok {
		return AgentMetrics{}, false
	}
	return *m, true
}

// WorkflowHealthReport returns a copy of a tracked workflow's health.
func (e *Engine) WorkflowHealthReport(workflowID string) (WorkflowHealth, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	wf, ok := e.workflows[workflowID]
	if !ok {
		return WorkflowHealth{}, false
	}
	return wf.clone(), true
}

// GetStats summarizes agent classifications and restart activity.
func (e *Engine) GetStats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := Stats{
		TotalAgents:     len(e.agents),
		ActiveWorkflows: len(e.workflows),
	}
	for _, m := range e.agents {
		switch m.Status {
		case StatusHealthy:
			stats.HealthyAgents++
		case StatusLazy:
			stats.LazyAgents++
		case StatusDominant:
			stats.DominantAgents++
		}
	}
	for _, wf := range e.workflows {
		stats.TotalRestarts += wf.RestartCount
	}
	if stats.TotalAgents > 0 {
		stats.SystemHealthScore = float64(stats.HealthyAgents) / float64(stats.TotalAgents)
	}
	return stats
}
