package monitor

import (
	"fmt"
	"sort"

	"aolcore/internal/credit"
	"aolcore/internal/events"
	"aolcore/internal/health"
	"aolcore/internal/registry"
	"aolcore/internal/router"
)

// Topic selects which event channel a subscription attaches to.
type Topic struct {
	// Service scopes the stream to one logical service.
	Service string

	// Workflow scopes the stream to one workflow.
	Workflow string
}

func (t Topic) channel() string {
	switch {
	case t.Service != "":
		return "service:" + t.Service
	case t.Workflow != "":
		return "workflow:" + t.Workflow
	default:
		return "global"
	}
}

// Overview is the control plane's aggregate status answer.
type Overview struct {
	Health health.Stats `json:"health"`
	Events events.Stats `json:"events"`
	Router router.Stats `json:"router"`
	Credit credit.Stats `json:"credit"`
}

// Monitor is the read-side facade over the control plane's components. All
// answers are snapshots; none of the methods block on I/O.
type Monitor struct {
	registry   *registry.Registry
	store      *events.Store
	bus        *events.Bus
	router     *router.Router
	credit     *credit.Engine
	supervisor *health.Supervisor
}

// New wires the facade. Router, credit engine and supervisor may be nil for
// partial deployments; the corresponding answers degrade to zero values.
func New(reg *registry.Registry, store *events.Store, bus *events.Bus, rt *router.Router, engine *credit.Engine, sup *health.Supervisor) *Monitor {
	return &Monitor{
		registry:   reg,
		store:      store,
		bus:        bus,
		router:     rt,
		credit:     engine,
		supervisor: sup,
	}
}

// ListServices returns all registered instances grouped by service name,
// with names sorted for stable output.
func (m *Monitor) ListServices() []ServiceSummary {
	all := m.registry.Snapshot()
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]ServiceSummary, 0, len(names))
	for _, name := range names {
		out = append(out, summarize(name, all[name]))
	}
	return out
}

// ServiceSummary describes one logical service and its instances.
type ServiceSummary struct {
	Name      string                      `json:"name"`
	Healthy   int                         `json:"healthy"`
	Total     int                         `json:"total"`
	Instances []*registry.ServiceInstance `json:"instances"`
}

func summarize(name string, instances []*registry.ServiceInstance) ServiceSummary {
	s := ServiceSummary{Name: name, Total: len(instances), Instances: instances}
	for _, inst := range instances {
		if inst.Status == registry.StatusHealthy {
			s.Healthy++
		}
	}
	return s
}

// GetService returns one logical service by name.
func (m *Monitor) GetService(name string) (ServiceSummary, error) {
	instances := m.registry.Instances(name)
	if len(instances) == 0 {
		return ServiceSummary{}, fmt.Errorf("service %s not found", name)
	}
	return summarize(name, instances), nil
}

// ListEvents returns stored events matching the filter, oldest first.
func (m *Monitor) ListEvents(filter events.Filter) []events.Event {
	return m.store.GetEvents(filter)
}

// ListRoutes returns recent route_called events between two services; empty
// source or target match any.
func (m *Monitor) ListRoutes(source, target string, limit int) []events.Event {
	return m.store.RouteEvents(source, target, limit)
}

// WorkflowTimeline returns a workflow's events in insertion order together
// with its current record.
func (m *Monitor) WorkflowTimeline(workflowID string) (events.Workflow, []events.Event, error) {
	wf, ok := m.store.Workflow(workflowID)
	if !ok {
		return events.Workflow{}, nil, fmt.Errorf("workflow %s not found", workflowID)
	}
	return wf, m.store.GetEvents(events.Filter{WorkflowID: workflowID}), nil
}

// WorkflowReport returns the per-agent contribution summary of a workflow.
func (m *Monitor) WorkflowReport(workflowID string) (events.WorkflowReport, error) {
	report, ok := m.store.WorkflowReport(workflowID)
	if !ok {
		return events.WorkflowReport{}, fmt.Errorf("workflow %s not found", workflowID)
	}
	return report, nil
}

// AgentReport returns an agent's rolling credit metrics.
func (m *Monitor) AgentReport(agentID string) (credit.AgentMetrics, error) {
	if m.credit == nil {
		return credit.AgentMetrics{}, fmt.Errorf("credit engine not configured")
	}
	report, ok := m.credit.AgentReport(agentID)
	if !ok {
		return credit.AgentMetrics{}, fmt.Errorf("agent %s not tracked", agentID)
	}
	return report, nil
}

// WorkflowHealth returns the credit engine's health view of a workflow.
func (m *Monitor) WorkflowHealth(workflowID string) (credit.WorkflowHealth, error) {
	if m.credit == nil {
		return credit.WorkflowHealth{}, fmt.Errorf("credit engine not configured")
	}
	wf, ok := m.credit.WorkflowHealthReport(workflowID)
	if !ok {
		return credit.WorkflowHealth{}, fmt.Errorf("workflow %s not tracked", workflowID)
	}
	return wf, nil
}

// Subscribe attaches a subscriber to the selected topic's event stream.
func (m *Monitor) Subscribe(topic Topic, subscriberID string) <-chan events.Event {
	return m.bus.Subscribe(topic.channel(), subscriberID)
}

// Unsubscribe detaches a subscriber from the selected topic.
func (m *Monitor) Unsubscribe(topic Topic, subscriberID string) {
	m.bus.Unsubscribe(topic.channel(), subscriberID)
}

// GetStats aggregates the components' stats into one answer.
func (m *Monitor) GetStats() Overview {
	o := Overview{Events: m.store.GetStats()}
	if m.supervisor != nil {
		o.Health = m.supervisor.GetStats()
	}
	if m.router != nil {
		o.Router = m.router.GetStats()
	}
	if m.credit != nil {
		o.Credit = m.credit.GetStats()
	}
	return o
}
