package events

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies the type of a control-plane event. The set is closed: it is
// the stable wire vocabulary consumed by external sinks.
type Kind string

const (
	KindServiceRegistered     Kind = "service_registered"
	KindServiceDeregistered   Kind = "service_deregistered"
	KindHealthChanged         Kind = "health_changed"
	KindRouteCalled           Kind = "route_called"
	KindServiceDiscovered     Kind = "service_discovered"
	KindAgentContribution     Kind = "agent_contribution"
	KindWorkflowStarted       Kind = "workflow_started"
	KindWorkflowCompleted     Kind = "workflow_completed"
	KindWorkflowFailed        Kind = "workflow_failed"
	KindDeliberationStarted   Kind = "deliberation_started"
	KindDeliberationRestarted Kind = "deliberation_restarted"
	KindAgentLazyDetected     Kind = "agent_lazy_detected"
)

// Event is an immutable control-plane event. The Kind tag determines which
// optional fields are populated; constructors below build each variant with
// exactly the fields it needs, and queries match uniformly on the tag.
type Event struct {
	EventID   string    `json:"event_id"`
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"ts"`

	ServiceName       string                 `json:"service_name,omitempty"`
	ServiceID         string                 `json:"service_id,omitempty"`
	SourceService     string                 `json:"source_service,omitempty"`
	TargetService     string                 `json:"target_service,omitempty"`
	Method            string                 `json:"method,omitempty"`
	Success           *bool                  `json:"success,omitempty"`
	OldStatus         string                 `json:"old_status,omitempty"`
	NewStatus         string                 `json:"new_status,omitempty"`
	ContributionScore *float64               `json:"contribution_score,omitempty"`
	WorkflowID        string                 `json:"workflow_id,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

func newEvent(kind Kind) Event {
	return Event{
		EventID:   uuid.NewString(),
		Kind:      kind,
		Timestamp: time.Now(),
	}
}

// NewServiceRegistered builds a service_registered event.
func NewServiceRegistered(serviceName, serviceID string, metadata map[string]interface{}) Event {
	ev := newEvent(KindServiceRegistered)
	ev.ServiceName = serviceName
	ev.ServiceID = serviceID
	ev.Metadata = metadata
	return ev
}

// NewServiceDeregistered builds a service_deregistered event.
func NewServiceDeregistered(serviceName, serviceID string) Event {
	ev := newEvent(KindServiceDeregistered)
	ev.ServiceName = serviceName
	ev.ServiceID = serviceID
	return ev
}

// NewServiceDiscovered builds a service_discovered event for an instance
// reconciled from the external discovery provider.
func NewServiceDiscovered(serviceName, serviceID string, metadata map[string]interface{}) Event {
	ev := newEvent(KindServiceDiscovered)
	ev.ServiceName = serviceName
	ev.ServiceID = serviceID
	ev.Metadata = metadata
	return ev
}

// NewHealthChanged builds a health_changed event carrying the transition.
func NewHealthChanged(serviceName, serviceID, oldStatus, newStatus string, metadata map[string]interface{}) Event {
	ev := newEvent(KindHealthChanged)
	ev.ServiceName = serviceName
	ev.ServiceID = serviceID
	ev.OldStatus = oldStatus
	ev.NewStatus = newStatus
	ev.Metadata = metadata
	return ev
}

// NewRouteCalled builds a route_called event for a completed route, success
// or final failure.
func NewRouteCalled(source, target, method string, success bool, metadata map[string]interface{}) Event {
	ev := newEvent(KindRouteCalled)
	ev.SourceService = source
	ev.TargetService = target
	ev.Method = method
	ev.Success = &success
	ev.Metadata = metadata
	return ev
}

// NewAgentContribution builds an agent_contribution event.
func NewAgentContribution(agentID, workflowID string, score float64, success bool, metadata map[string]interface{}) Event {
	ev := newEvent(KindAgentContribution)
	ev.ServiceName = agentID
	ev.WorkflowID = workflowID
	ev.ContributionScore = &score
	ev.Success = &success
	ev.Metadata = metadata
	return ev
}

// NewWorkflowStarted builds a workflow_started event.
func NewWorkflowStarted(workflowID string, metadata map[string]interface{}) Event {
	ev := newEvent(KindWorkflowStarted)
	ev.WorkflowID = workflowID
	ev.Metadata = metadata
	return ev
}

// NewWorkflowCompleted builds the terminal event for a workflow; kind is
// workflow_completed or workflow_failed depending on success.
func NewWorkflowCompleted(workflowID string, success bool, metadata map[string]interface{}) Event {
	kind := KindWorkflowCompleted
	if !success {
		kind = KindWorkflowFailed
	}
	ev := newEvent(kind)
	ev.WorkflowID = workflowID
	ev.Success = &success
	ev.Metadata = metadata
	return ev
}

// NewDeliberationStarted builds a deliberation_started event.
func NewDeliberationStarted(workflowID string, metadata map[string]interface{}) Event {
	ev := newEvent(KindDeliberationStarted)
	ev.WorkflowID = workflowID
	ev.Metadata = metadata
	return ev
}

// NewDeliberationRestarted builds a deliberation_restarted event.
func NewDeliberationRestarted(workflowID string, metadata map[string]interface{}) Event {
	ev := newEvent(KindDeliberationRestarted)
	ev.WorkflowID = workflowID
	ev.Metadata = metadata
	return ev
}

// NewAgentLazyDetected builds an agent_lazy_detected event.
func NewAgentLazyDetected(agentID, workflowID string, metadata map[string]interface{}) Event {
	ev := newEvent(KindAgentLazyDetected)
	ev.ServiceName = agentID
	ev.WorkflowID = workflowID
	ev.Metadata = metadata
	return ev
}

// Channel naming convention for the pub/sub bus.
const GlobalChannel = "global"

// ServiceChannel returns the per-service channel name.
func ServiceChannel(serviceName string) string {
	return "service:" + serviceName
}

// WorkflowChannel returns the per-workflow channel name.
func WorkflowChannel(workflowID string) string {
	return "workflow:" + workflowID
}
