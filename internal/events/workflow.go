package events

import "time"

// WorkflowState is the lifecycle state of a tracked workflow.
type WorkflowState string

const (
	WorkflowRunning   WorkflowState = "running"
	WorkflowCompleted WorkflowState = "completed"
	WorkflowFailed    WorkflowState = "failed"
	WorkflowRestarted WorkflowState = "restarted"
)

// Workflow is a deliberation tracked by the event store for its full
// lifetime.
type Workflow struct {
	WorkflowID   string                 `json:"workflow_id"`
	Type         string                 `json:"type"`
	Agents       []string               `json:"agents"`
	State        WorkflowState          `json:"state"`
	StartedAt    time.Time              `json:"started_at"`
	RestartCount int                    `json:"restart_count"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

func (w *Workflow) clone() Workflow {
	dup := *w
	dup.Agents = append([]string(nil), w.Agents...)
	return dup
}

// ActionType classifies an agent contribution.
type ActionType string

const (
	ActionReasoning    ActionType = "reasoning"
	ActionDecision     ActionType = "decision"
	ActionVerification ActionType = "verification"
	ActionDelegation   ActionType = "delegation"
	ActionContribution ActionType = "contribution"
)

// AgentContribution is one recorded unit of work by an agent within a
// workflow, weighted by an influence score.
type AgentContribution struct {
	AgentID        string     `json:"agent_id"`
	WorkflowID     string     `json:"workflow_id"`
	Turn           int        `json:"turn"`
	ActionType     ActionType `json:"action_type"`
	LatencyMS      float64    `json:"latency_ms"`
	Success        bool       `json:"success"`
	InfluenceScore float64    `json:"influence_score"`
	Timestamp      time.Time  `json:"timestamp"`
}

// AgentWorkflowStats aggregates one agent's contributions within a workflow.
type AgentWorkflowStats struct {
	Contributions int     `json:"contributions"`
	Influence     float64 `json:"influence"`
	Successes     int     `json:"successes"`
}

// WorkflowReport is the per-workflow summary exposed to the query surface.
type WorkflowReport struct {
	WorkflowID         string                        `json:"workflow_id"`
	Type               string                        `json:"type"`
	State              WorkflowState                 `json:"state"`
	Agents             []string                      `json:"agents"`
	StartedAt          time.Time                     `json:"started_at"`
	RestartCount       int                           `json:"restart_count"`
	TotalContributions int                           `json:"total_contributions"`
	AgentStats         map[string]AgentWorkflowStats `json:"agent_stats"`
}
