package credit

// AgentStatus classifies an agent's recent contribution behavior relative to
// its peers.
type AgentStatus string

const (
	StatusStarting   AgentStatus = "starting"
	StatusHealthy    AgentStatus = "healthy"
	StatusDegraded   AgentStatus = "degraded"
	StatusLazy       AgentStatus = "lazy"
	StatusDominant   AgentStatus = "dominant"
	StatusRecovering AgentStatus = "recovering"
)

// detector keeps a rolling window of influence scores per agent and
// classifies each agent against the population mean.
type detector struct {
	windowSize    int
	lazyThreshold float64
	history       map[string][]float64
}

func newDetector(windowSize int, lazyThreshold float64) *detector {
	return &detector{
		windowSize:    windowSize,
		lazyThreshold: lazyThreshold,
		history:       make(map[string][]float64),
	}
}

func (d *detector) record(agentID string, influence float64) {
	h := append(d.history[agentID], influence)
	if len(h) > d.windowSize {
		h = h[len(h)-d.windowSize:]
	}
	d.history[agentID] = h
}

func (d *detector) reset(agentID string) {
	delete(d.history, agentID)
}

func (d *detector) mean(agentID string) float64 {
	h := d.history[agentID]
	if len(h) == 0 {
		return 0
	}
	var sum float64
	for _, s := range h {
		sum += s
	}
	return sum / float64(len(h))
}

// analyze classifies an agent by its windowed mean relative to the mean
// across all tracked agents. Agents with no samples, or a population with
// zero total influence, are starting rather than lazy: a cold start must not
// look like underperformance.
func (d *detector) analyze(agentID string) AgentStatus {
	if len(d.history[agentID]) == 0 {
		return StatusStarting
	}

	var globalSum float64
	var tracked int
	for _, h := range d.history {
		if len(h) == 0 {
			continue
		}
		var sum float64
		for _, s := range h {
			sum += s
		}
		globalSum += sum / float64(len(h))
		tracked++
	}
	if tracked == 0 {
		return StatusHealthy
	}

	globalMean := globalSum / float64(tracked)
	if globalMean <= 0 {
		return StatusStarting
	}

	relative := d.mean(agentID) / globalMean
	switch {
	case relative < d.lazyThreshold:
		return StatusLazy
	case relative > 1.0/d.lazyThreshold:
		return StatusDominant
	case relative < 0.5:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

func (d *detector) lazyAgents(agents []string) []string {
	var lazy []string
	for _, a := range agents {
		if d.analyze(a) == StatusLazy {
			lazy = append(lazy, a)
		}
	}
	return lazy
}

func (d *detector) dominantAgent(agents []string) string {
	for _, a := range agents {
		if d.analyze(a) == StatusDominant {
			return a
		}
	}
	return ""
}
