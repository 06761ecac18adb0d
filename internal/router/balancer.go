package router

import (
	"sync"
	"time"

	"aolcore/internal/config"
	"aolcore/internal/registry"
)

// instanceMetrics is the rolling call record for one instance address.
type instanceMetrics struct {
	totalRequests      int
	successfulRequests int
	totalLatencyMS     float64
	activeConnections  int
	healthScore        float64
	lastUpdated        time.Time
}

func (m *instanceMetrics) successRate() float64 {
	if m.totalRequests == 0 {
		return 1.0
	}
	return float64(m.successfulRequests) / float64(m.totalRequests)
}

func (m *instanceMetrics) avgLatencyMS() float64 {
	if m.totalRequests == 0 {
		return 0
	}
	return m.totalLatencyMS / float64(m.totalRequests)
}

// balancer scores instances, tracks per-instance circuit breakers and applies
// the routing strategy to a candidate list.
type balancer struct {
	breakerCfg config.CircuitBreakerConfig

	mu       sync.Mutex
	metrics  map[string]*instanceMetrics
	breakers map[string]*CircuitBreaker
	cursors  map[string]int
}

func newBalancer(breakerCfg config.CircuitBreakerConfig) *balancer {
	return &balancer{
		breakerCfg: breakerCfg,
		metrics:    make(map[string]*instanceMetrics),
		breakers:   make(map[string]*CircuitBreaker),
		cursors:    make(map[string]int),
	}
}

// breaker returns the circuit breaker for an instance address, creating it
// closed.
func (b *balancer) breaker(addr string) *CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	cb, ok := b.breakers[addr]
	if !ok {
		cb = newCircuitBreaker(b.breakerCfg)
		b.breakers[addr] = cb
	}
	return cb
}

// recordResult updates the instance score and its breaker.
func (b *balancer) recordResult(addr string, latencyMS float64, success bool) {
	b.mu.Lock()
	m := b.metricsLocked(addr)
	m.totalRequests++
	m.totalLatencyMS += latencyMS
	if success {
		m.successfulRequests++
	}
	m.lastUpdated = time.Now()
	m.healthScore = 0.7*m.successRate() + 0.3*(1.0/(1.0+m.avgLatencyMS()/1000.0))
	b.mu.Unlock()

	cb := b.breaker(addr)
	if success {
		cb.RecordSuccess()
	} else {
		cb.RecordFailure()
	}
}

func (b *balancer) incrementConnections(addr string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metricsLocked(addr).activeConnections++
}

func (b *balancer) decrementConnections(addr string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.metricsLocked(addr)
	if m.activeConnections > 0 {
		m.activeConnections--
	}
}

func (b *balancer) metricsLocked(addr string) *instanceMetrics {
	m, ok := b.metrics[addr]
	if !ok {
		m = &instanceMetrics{healthScore: 1.0}
		b.metrics[addr] = m
	}
	return m
}

// selectInstance applies the strategy to the candidate list. Candidates have
// already been filtered to healthy instances (or all, when none are healthy)
// and to admissible circuits.
func (b *balancer) selectInstance(target string, candidates []*registry.ServiceInstance, strategy Strategy) *registry.ServiceInstance {
	if len(candidates) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch strategy {
	case StrategyRoundRobin:
		idx := b.cursors[target] % len(candidates)
		b.cursors[target]++
		return candidates[idx]

	case StrategyHealthAware:
		best := candidates[0]
		bestScore := -1.0
		for _, inst := range candidates {
			score := 1.0
			if m, ok := b.metrics[inst.Address()]; ok {
				score = m.healthScore
			}
			if score > bestScore {
				bestScore = score
				best = inst
			}
		}
		return best

	case StrategyLatencyBased:
		best := candidates[0]
		bestLatency := -1.0
		for _, inst := range candidates {
			var latency float64
			if m, ok := b.metrics[inst.Address()]; ok {
				latency = m.avgLatencyMS()
			}
			if bestLatency < 0 || latency < bestLatency {
				bestLatency = latency
				best = inst
			}
		}
		return best

	case StrategyLeastConnections:
		best := candidates[0]
		fewest := -1
		for _, inst := range candidates {
			var conns int
			if m, ok := b.metrics[inst.Address()]; ok {
				conns = m.activeConnections
			}
			if fewest < 0 || conns < fewest {
				fewest = conns
				best = inst
			}
		}
		return best
	}

	// Conditional routes are pre-selected; no scoring.
	return candidates[0]
}

func (b *balancer) trackedInstances() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.metrics)
}
