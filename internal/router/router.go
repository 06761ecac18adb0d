package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"aolcore/internal/config"
	"aolcore/internal/events"
	"aolcore/internal/metrics"
	"aolcore/internal/registry"
	"aolcore/pkg/logging"
)

// defaultRouteTimeout bounds a request whose caller supplied no deadline.
const defaultRouteTimeout = 30 * time.Second

type pending struct {
	req  Request
	done chan Response
}

// Router dispatches requests between services through a bounded async queue.
// Workers select a target instance per the request's strategy, guard it with
// a per-instance circuit breaker, retry with exponential backoff inside the
// request's absolute deadline, and emit a route_called event per completed
// route.
type Router struct {
	cfg      *config.Config
	registry *registry.Registry
	store    *events.Store
	balancer *balancer
	rules    *RuleTable
	pool     *ChannelPool
	invoker  Invoker

	queue chan *pending

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New creates a router over the given registry and event store.
func New(cfg *config.Config, reg *registry.Registry, store *events.Store) *Router {
	pool := NewChannelPool()
	return &Router{
		cfg:      cfg,
		registry: reg,
		store:    store,
		balancer: newBalancer(cfg.CircuitBreaker),
		rules:    NewRuleTable(),
		pool:     pool,
		invoker:  &grpcInvoker{pool: pool},
		queue:    make(chan *pending, cfg.RouterQueueCapacity),
	}
}

// Rules exposes the conditional routing rule table.
func (r *Router) Rules() *RuleTable {
	return r.rules
}

// Start launches the worker pool.
func (r *Router) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true

	ctx, r.cancel = context.WithCancel(ctx)
	for i := 0; i < r.cfg.RouterWorkers; i++ {
		r.wg.Add(1)
		go r.worker(ctx, i)
	}
	logging.Info("Router", "Started %d routing workers (queue capacity %d)", r.cfg.RouterWorkers, r.cfg.RouterQueueCapacity)
}

// Stop cancels the workers, waits for them to drain, and closes the channel
// pool.
func (r *Router) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	r.mu.Unlock()

	cancel()
	r.wg.Wait()
	r.pool.Close()
	logging.Info("Router", "Router stopped")
}

// Submit enqueues a request and returns a future for its response. The
// request is rejected immediately when the queue is at capacity.
func (r *Router) Submit(req Request) (<-chan Response, error) {
	r.applyDefaults(&req)

	p := &pending{req: req, done: make(chan Response, 1)}
	select {
	case r.queue <- p:
		return p.done, nil
	default:
		metrics.RouteQueueRejections.Inc()
		return nil, ErrQueueFull
	}
}

// Route submits a request and waits for its response or the deadline.
func (r *Router) Route(ctx context.Context, req Request) Response {
	r.applyDefaults(&req)
	start := time.Now()

	done, err := r.Submit(req)
	if err != nil {
		return Response{RequestID: req.RequestID, Success: false, Error: err.Error()}
	}

	select {
	case resp := <-done:
		return resp
	case <-ctx.Done():
		return Response{RequestID: req.RequestID, Success: false, Error: "request cancelled"}
	case <-time.After(time.Until(req.Deadline)):
		return Response{
			RequestID: req.RequestID,
			Success:   false,
			Error:     "request timeout",
			LatencyMS: float64(time.Since(start).Milliseconds()),
		}
	}
}

// RouteConditional resolves the target through the rule table and routes to
// it. It returns false when no rule matches.
func (r *Router) RouteConditional(ctx context.Context, sourceNode string, ruleCtx interface{}, payload []byte, md map[string]string) (Response, bool) {
	target, ok := r.rules.NextTarget(sourceNode, ruleCtx)
	if !ok {
		return Response{}, false
	}
	return r.Route(ctx, Request{
		Source:   sourceNode,
		Target:   target,
		Method:   "Process",
		Payload:  payload,
		Metadata: md,
		Strategy: StrategyConditional,
	}), true
}

func (r *Router) applyDefaults(req *Request) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.Deadline.IsZero() {
		req.Deadline = time.Now().Add(defaultRouteTimeout)
	}
	if req.MaxRetries == 0 {
		req.MaxRetries = r.cfg.Retry.MaxRetries
	}
	if req.Strategy == "" {
		req.Strategy = StrategyHealthAware
	}
	if req.Method == "" {
		req.Method = "Process"
	}
}

func (r *Router) worker(ctx context.Context, id int) {
	defer r.wg.Done()
	logging.Debug("Router", "Routing worker %d started", id)

	for {
		select {
		case <-ctx.Done():
			return
		case p := <-r.queue:
			resp := r.dispatch(ctx, &p.req)
			r.emitRouteCalled(ctx, &p.req, resp)
			p.done <- resp
		}
	}
}

// dispatch runs the retry loop for one request. Backoff grows exponentially
// from the configured initial delay and the whole loop is bounded by the
// request's absolute deadline.
func (r *Router) dispatch(ctx context.Context, req *Request) Response {
	ctx, cancel := context.WithDeadline(ctx, req.Deadline)
	defer cancel()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.cfg.Retry.InitialDelay.Std()
	bo.Multiplier = r.cfg.Retry.Multiplier
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(req.MaxRetries)), ctx)

	start := time.Now()
	var resp Response
	first := true
	err := backoff.Retry(func() error {
		if !first {
			req.RetriesUsed++
		}
		first = false

		attempt, err := r.attempt(ctx, req)
		if err != nil {
			return err
		}
		resp = attempt
		return nil
	}, policy)

	if err != nil {
		return Response{
			RequestID: req.RequestID,
			Success:   false,
			Error:     err.Error(),
			LatencyMS: float64(time.Since(start).Milliseconds()),
			Retries:   req.RetriesUsed,
		}
	}
	resp.Retries = req.RetriesUsed
	return resp
}

// attempt performs a single routed call against one selected instance.
func (r *Router) attempt(ctx context.Context, req *Request) (Response, error) {
	inst, err := r.pickInstance(req)
	if err != nil {
		return Response{}, err
	}
	addr := inst.Address()

	r.balancer.incrementConnections(addr)
	defer r.balancer.decrementConnections(addr)

	start := time.Now()
	payload, err := r.invoker.Invoke(ctx, inst, req.Method, req.Payload, req.Metadata)
	latencyMS := float64(time.Since(start).Milliseconds())

	r.balancer.recordResult(addr, latencyMS, err == nil)

	if err != nil {
		logging.Debug("Router", "Route %s -> %s (%s) failed: %v", req.Source, req.Target, addr, err)
		return Response{}, err
	}

	return Response{
		RequestID:      req.RequestID,
		Success:        true,
		Payload:        payload,
		LatencyMS:      latencyMS,
		TargetInstance: addr,
	}, nil
}

// pickInstance filters the target's instances to healthy ones (all, when
// none are healthy), drops instances whose circuit rejects the call, and
// applies the strategy.
func (r *Router) pickInstance(req *Request) (*registry.ServiceInstance, error) {
	instances := r.registry.Instances(req.Target)
	if len(instances) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoInstances, req.Target)
	}

	candidates := make([]*registry.ServiceInstance, 0, len(instances))
	for _, inst := range instances {
		if inst.Status == registry.StatusHealthy {
			candidates = append(candidates, inst)
		}
	}
	if len(candidates) == 0 {
		candidates = instances
	}

	// Allow() consumes the half-open probe slot, so it is only consulted
	// for the instance the strategy actually picked. A rejected pick is
	// removed and selection runs again over the remainder.
	for len(candidates) > 0 {
		inst := r.balancer.selectInstance(req.Target, candidates, req.Strategy)
		if r.balancer.breaker(inst.Address()).Allow() {
			return inst, nil
		}
		remaining := make([]*registry.ServiceInstance, 0, len(candidates)-1)
		for _, c := range candidates {
			if c.ServiceID != inst.ServiceID {
				remaining = append(remaining, c)
			}
		}
		candidates = remaining
	}
	return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, req.Target)
}

func (r *Router) emitRouteCalled(ctx context.Context, req *Request, resp Response) {
	r.store.Append(ctx, events.NewRouteCalled(req.Source, req.Target, req.Method, resp.Success, map[string]interface{}{
		"instance":   resp.TargetInstance,
		"latency_ms": resp.LatencyMS,
		"strategy":   string(req.Strategy),
	}))
}

// GetStats summarizes the router's current load.
func (r *Router) GetStats() Stats {
	return Stats{
		PendingRequests:  len(r.queue),
		QueueCapacity:    cap(r.queue),
		Workers:          r.cfg.RouterWorkers,
		ChannelPoolSize:  r.pool.Size(),
		TrackedInstances: r.balancer.trackedInstances(),
	}
}
