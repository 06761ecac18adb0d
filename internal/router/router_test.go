package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aolcore/internal/config"
	"aolcore/internal/events"
	"aolcore/internal/registry"
)

func testRouterConfig() *config.Config {
	return &config.Config{
		RouterWorkers:       2,
		RouterQueueCapacity: 64,
		CircuitBreaker: config.CircuitBreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 3,
			Timeout:          config.Duration(60 * time.Second),
		},
		Retry: config.RetryConfig{
			MaxRetries:   2,
			InitialDelay: config.Duration(time.Millisecond),
			Multiplier:   2.0,
		},
	}
}

// stubInvoker fails calls to addresses listed in fail, and can fail the
// first N calls regardless of target.
type stubInvoker struct {
	mu        sync.Mutex
	fail      map[string]bool
	failFirst int
	delay     time.Duration
	calls     []string
}

func (s *stubInvoker) Invoke(ctx context.Context, inst *registry.ServiceInstance, method string, payload []byte, md map[string]string) ([]byte, error) {
	s.mu.Lock()
	addr := inst.Address()
	s.calls = append(s.calls, addr)
	failing := s.fail[addr]
	if s.failFirst > 0 {
		s.failFirst--
		failing = true
	}
	delay := s.delay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failing {
		return nil, errors.New("unavailable")
	}
	return []byte("ok"), nil
}

func (s *stubInvoker) setFail(addr string, failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail == nil {
		s.fail = make(map[string]bool)
	}
	s.fail[addr] = failing
}

func testManifest() map[string]interface{} {
	return map[string]interface{}{
		"kind":       "AOLService",
		"apiVersion": "aol/v1",
		"metadata":   map[string]interface{}{"name": "svc"},
		"spec":       map[string]interface{}{},
	}
}

func registerHealthy(t *testing.T, reg *registry.Registry, name, id, host string) *registry.ServiceInstance {
	t.Helper()
	inst := &registry.ServiceInstance{
		ServiceID:  id,
		Name:       name,
		Host:       host,
		GRPCPort:   50051,
		HealthPort: 50200,
		Manifest:   testManifest(),
		Status:     registry.StatusHealthy,
	}
	require.NoError(t, reg.Register(inst))
	return inst
}

func newTestRouter(t *testing.T, cfg *config.Config) (*Router, *registry.Registry, *events.Store, *stubInvoker) {
	t.Helper()
	reg := registry.New()
	store := events.NewStore(1000, events.NewBus())
	r := New(cfg, reg, store)
	stub := &stubInvoker{}
	r.invoker = stub
	return r, reg, store, stub
}

func TestRouteSuccess(t *testing.T) {
	ctx := context.Background()
	r, reg, store, _ := newTestRouter(t, testRouterConfig())
	inst := registerHealthy(t, reg, "svc-b", "b1", "h1")

	r.Start(ctx)
	defer r.Stop()

	resp := r.Route(ctx, Request{Source: "svc-a", Target: "svc-b", Method: "Process"})
	assert.True(t, resp.Success)
	assert.Equal(t, []byte("ok"), resp.Payload)
	assert.Equal(t, inst.Address(), resp.TargetInstance)
	assert.Equal(t, 0, resp.Retries)

	routes := store.GetEvents(events.Filter{Kind: events.KindRouteCalled})
	require.Len(t, routes, 1)
	require.NotNil(t, routes[0].Success)
	assert.True(t, *routes[0].Success)
	assert.Equal(t, "svc-a", routes[0].SourceService)
	assert.Equal(t, "svc-b", routes[0].TargetService)
}

func TestRouteRetriesThenSucceeds(t *testing.T) {
	ctx := context.Background()
	r, reg, _, stub := newTestRouter(t, testRouterConfig())
	registerHealthy(t, reg, "svc-b", "b1", "h1")
	stub.failFirst = 2

	r.Start(ctx)
	defer r.Stop()

	resp := r.Route(ctx, Request{Source: "svc-a", Target: "svc-b"})
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.Retries)
}

func TestRouteFailsAfterRetriesExhausted(t *testing.T) {
	ctx := context.Background()
	r, reg, store, stub := newTestRouter(t, testRouterConfig())
	inst := registerHealthy(t, reg, "svc-b", "b1", "h1")
	stub.setFail(inst.Address(), true)

	r.Start(ctx)
	defer r.Stop()

	resp := r.Route(ctx, Request{Source: "svc-a", Target: "svc-b"})
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)
	assert.Equal(t, 2, resp.Retries)

	routes := store.GetEvents(events.Filter{Kind: events.KindRouteCalled})
	require.Len(t, routes, 1, "one event per completed route, not per attempt")
	require.NotNil(t, routes[0].Success)
	assert.False(t, *routes[0].Success)
}

func TestRouteUnknownTarget(t *testing.T) {
	ctx := context.Background()
	r, _, _, _ := newTestRouter(t, testRouterConfig())

	r.Start(ctx)
	defer r.Stop()

	resp := r.Route(ctx, Request{Source: "svc-a", Target: "ghost"})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "no instances")
}

func TestQueueFullRejects(t *testing.T) {
	cfg := testRouterConfig()
	cfg.RouterQueueCapacity = 2
	r, reg, _, _ := newTestRouter(t, cfg)
	registerHealthy(t, reg, "svc-b", "b1", "h1")

	// Workers are not started, so the queue only fills.
	for i := 0; i < 2; i++ {
		_, err := r.Submit(Request{Source: "svc-a", Target: "svc-b"})
		require.NoError(t, err)
	}
	_, err := r.Submit(Request{Source: "svc-a", Target: "svc-b"})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestRouteDeadlineExceeded(t *testing.T) {
	ctx := context.Background()
	cfg := testRouterConfig()
	cfg.Retry.MaxRetries = 0
	r, reg, _, stub := newTestRouter(t, cfg)
	registerHealthy(t, reg, "svc-b", "b1", "h1")
	stub.delay = 200 * time.Millisecond

	r.Start(ctx)
	defer r.Stop()

	resp := r.Route(ctx, Request{
		Source:   "svc-a",
		Target:   "svc-b",
		Deadline: time.Now().Add(20 * time.Millisecond),
	})
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)
}

func TestCircuitTripAndRecovery(t *testing.T) {
	ctx := context.Background()
	cfg := testRouterConfig()
	cfg.Retry.MaxRetries = 0
	r, reg, _, stub := newTestRouter(t, cfg)

	inst1 := registerHealthy(t, reg, "svc-b", "b1", "h1")
	stub.setFail(inst1.Address(), true)

	r.Start(ctx)
	defer r.Stop()

	// Five consecutive failures open the first instance's circuit.
	for i := 0; i < 5; i++ {
		resp := r.Route(ctx, Request{Source: "svc-a", Target: "svc-b", Strategy: StrategyRoundRobin})
		assert.False(t, resp.Success)
	}
	breaker1 := r.balancer.breaker(inst1.Address())
	require.Equal(t, BreakerOpen, breaker1.State())

	// With a second healthy instance available, the next request lands on
	// it on the first try.
	inst2 := registerHealthy(t, reg, "svc-b", "b2", "h2")
	resp := r.Route(ctx, Request{Source: "svc-a", Target: "svc-b", Strategy: StrategyRoundRobin})
	assert.True(t, resp.Success)
	assert.Equal(t, inst2.Address(), resp.TargetInstance)
	assert.Equal(t, 0, resp.Retries)

	// After the breaker timeout the first instance is probed again and
	// closes after three consecutive successes.
	stub.setFail(inst1.Address(), false)
	reg.Deregister("svc-b", "b2")
	base := time.Now()
	breaker1.now = func() time.Time { return base.Add(61 * time.Second) }

	for i := 0; i < 3; i++ {
		resp := r.Route(ctx, Request{Source: "svc-a", Target: "svc-b", Strategy: StrategyRoundRobin})
		require.True(t, resp.Success, "probe %d", i)
		assert.Equal(t, inst1.Address(), resp.TargetInstance)
	}
	assert.Equal(t, BreakerClosed, breaker1.State())
}

func TestRouteConditional(t *testing.T) {
	ctx := context.Background()
	r, reg, _, _ := newTestRouter(t, testRouterConfig())
	registerHealthy(t, reg, "svc-escalate", "e1", "h1")

	r.Rules().AddRule("triage", func(ctx interface{}) bool {
		m, ok := ctx.(map[string]interface{})
		return ok && m["severity"] == "high"
	}, "svc-escalate", 10)
	r.Rules().AddRule("triage", func(ctx interface{}) bool { return true }, "svc-archive", 0)

	r.Start(ctx)
	defer r.Stop()

	resp, ok := r.RouteConditional(ctx, "triage", map[string]interface{}{"severity": "high"}, nil, nil)
	require.True(t, ok)
	assert.True(t, resp.Success)
	assert.Equal(t, "h1:50051", resp.TargetInstance)

	_, ok = r.RouteConditional(ctx, "unknown-node", nil, nil, nil)
	assert.False(t, ok)
}

func TestRuleTablePriorityAndPanicSafety(t *testing.T) {
	rt := NewRuleTable()
	rt.AddRule("n", func(interface{}) bool { panic("bad predicate") }, "svc-a", 100)
	rt.AddRule("n", func(interface{}) bool { return true }, "svc-b", 50)

	target, ok := rt.NextTarget("n", nil)
	require.True(t, ok)
	assert.Equal(t, "svc-b", target, "panicking high-priority rule is skipped")
}

func TestGetStats(t *testing.T) {
	r, reg, _, _ := newTestRouter(t, testRouterConfig())
	registerHealthy(t, reg, "svc-b", "b1", "h1")

	for i := 0; i < 3; i++ {
		_, err := r.Submit(Request{Source: "svc-a", Target: "svc-b"})
		require.NoError(t, err)
	}

	stats := r.GetStats()
	assert.Equal(t, 3, stats.PendingRequests)
	assert.Equal(t, 64, stats.QueueCapacity)
	assert.Equal(t, 2, stats.Workers)
}

func TestFullMethod(t *testing.T) {
	assert.Equal(t, "/svc-b/Process", fullMethod("svc-b", "Process"))
	assert.Equal(t, "/pkg.Svc/Do", fullMethod("svc-b", "/pkg.Svc/Do"))
}

func TestApplyDefaults(t *testing.T) {
	cfg := config.GetDefaultConfig()
	r, _, _, _ := newTestRouter(t, &cfg)

	req := Request{Source: "a", Target: "b"}
	r.applyDefaults(&req)
	assert.NotEmpty(t, req.RequestID)
	assert.Equal(t, StrategyHealthAware, req.Strategy)
	assert.Equal(t, "Process", req.Method)
	assert.Equal(t, 3, req.MaxRetries)
	assert.False(t, req.Deadline.IsZero())
}

func TestRouteTimeoutReportsElapsed(t *testing.T) {
	ctx := context.Background()
	r, reg, _, _ := newTestRouter(t, testRouterConfig())
	registerHealthy(t, reg, "svc-b", "b1", "h1")

	// Workers are not started, so the request sits in the queue until the
	// deadline fires.
	resp := r.Route(ctx, Request{
		Source:   "svc-a",
		Target:   "svc-b",
		Deadline: time.Now().Add(30 * time.Millisecond),
	})
	assert.False(t, resp.Success)
	assert.Equal(t, "request timeout", resp.Error)
	assert.GreaterOrEqual(t, resp.LatencyMS, float64(0))
	assert.Less(t, resp.LatencyMS, float64(5000))
}
