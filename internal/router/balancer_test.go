package router

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"aolcore/internal/registry"
)

func balancerInstances(n int) []*registry.ServiceInstance {
	out := make([]*registry.ServiceInstance, n)
	for i := range out {
		out[i] = &registry.ServiceInstance{
			ServiceID: fmt.Sprintf("id-%d", i),
			Name:      "svc",
			Host:      fmt.Sprintf("h%d", i),
			GRPCPort:  50051,
			Status:    registry.StatusHealthy,
		}
	}
	return out
}

func TestSelectRoundRobinCycles(t *testing.T) {
	b := newBalancer(testBreakerConfig())
	instances := balancerInstances(3)

	var picked []string
	for i := 0; i < 6; i++ {
		picked = append(picked, b.selectInstance("svc", instances, StrategyRoundRobin).ServiceID)
	}
	assert.Equal(t, []string{"id-0", "id-1", "id-2", "id-0", "id-1", "id-2"}, picked)
}

func TestSelectHealthAware(t *testing.T) {
	b := newBalancer(testBreakerConfig())
	instances := balancerInstances(2)

	// First instance fails constantly, second succeeds fast.
	for i := 0; i < 10; i++ {
		b.recordResult(instances[0].Address(), 50, false)
		b.recordResult(instances[1].Address(), 50, true)
	}

	got := b.selectInstance("svc", instances, StrategyHealthAware)
	assert.Equal(t, "id-1", got.ServiceID)
}

func TestSelectLatencyBased(t *testing.T) {
	b := newBalancer(testBreakerConfig())
	instances := balancerInstances(2)

	b.recordResult(instances[0].Address(), 900, true)
	b.recordResult(instances[1].Address(), 20, true)

	got := b.selectInstance("svc", instances, StrategyLatencyBased)
	assert.Equal(t, "id-1", got.ServiceID)
}

func TestSelectLeastConnections(t *testing.T) {
	b := newBalancer(testBreakerConfig())
	instances := balancerInstances(2)

	b.incrementConnections(instances[0].Address())
	b.incrementConnections(instances[0].Address())
	b.incrementConnections(instances[1].Address())

	got := b.selectInstance("svc", instances, StrategyLeastConnections)
	assert.Equal(t, "id-1", got.ServiceID)

	b.decrementConnections(instances[1].Address())
	b.decrementConnections(instances[1].Address())
	m := b.metrics[instances[1].Address()]
	assert.Equal(t, 0, m.activeConnections, "connection count never goes negative")
}

func TestHealthScoreFormula(t *testing.T) {
	b := newBalancer(testBreakerConfig())

	// One successful call at 1000ms: success rate 1.0, latency factor 0.5.
	b.recordResult("h0:50051", 1000, true)
	m := b.metrics["h0:50051"]
	assert.InDelta(t, 0.7*1.0+0.3*0.5, m.healthScore, 1e-9)
}

func TestSelectEmptyCandidates(t *testing.T) {
	b := newBalancer(testBreakerConfig())
	assert.Nil(t, b.selectInstance("svc", nil, StrategyHealthAware))
}
