package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"aolcore/internal/config"
	"aolcore/internal/credit"
	"aolcore/internal/discovery"
	"aolcore/internal/events"
	"aolcore/internal/metrics"
	"aolcore/internal/registry"
	"aolcore/pkg/logging"
)

const (
	defaultInterval     = 30 * time.Second
	defaultProbeTimeout = 5 * time.Second
)

// Supervisor probes every registered instance on a fixed interval, drives
// the status state machine, expires instances whose heartbeat lapsed, and
// keeps the external discovery provider in sync.
type Supervisor struct {
	cfg      *config.Config
	registry *registry.Registry
	store    *events.Store
	credit   *credit.Engine
	provider discovery.Provider

	client *http.Client

	mu        sync.Mutex
	probed    map[string]bool
	lastSweep time.Time
	watches   map[string]context.CancelFunc
	running   bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a supervisor. The credit engine and discovery provider are
// optional; nil disables probe-latency feedback and provider sync.
func New(cfg *config.Config, reg *registry.Registry, store *events.Store, engine *credit.Engine, provider discovery.Provider) *Supervisor {
	probeTimeout := cfg.ProbeTimeout.Std()
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}
	return &Supervisor{
		cfg:      cfg,
		registry: reg,
		store:    store,
		credit:   engine,
		provider: provider,
		client:   &http.Client{Timeout: probeTimeout},
		probed:   make(map[string]bool),
		watches:  make(map[string]context.CancelFunc),
	}
}

// Start launches the periodic sweep loop.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	interval := s.cfg.HealthCheckInterval.Std()
	if interval <= 0 {
		interval = defaultInterval
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		logging.Info("Health", "Supervisor started, sweeping every %s", interval)
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				s.Sweep(loopCtx)
			}
		}
	}()
}

// Stop terminates the sweep loop and all watches.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	for name, cancel := range s.watches {
		cancel()
		delete(s.watches, name)
	}
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	logging.Info("Health", "Supervisor stopped")
}

// Sweep probes every instance concurrently, expires stale registrations,
// and advances the credit engine's periodic analysis.
func (s *Supervisor) Sweep(ctx context.Context) {
	s.mu.Lock()
	s.lastSweep = time.Now()
	s.mu.Unlock()

	eg, egCtx := errgroup.WithContext(ctx)
	for name, instances := range s.registry.ListAll() {
		for _, inst := range instances {
			eg.Go(func() error {
				s.probeInstance(egCtx, name, inst)
				return nil
			})
		}
	}
	_ = eg.Wait()

	s.expireStale(ctx)

	if s.credit != nil {
		s.credit.Tick(ctx)
	}
}

// probeInstance issues one HTTP probe and applies the status transition.
func (s *Supervisor) probeInstance(ctx context.Context, serviceName string, inst *registry.ServiceInstance) {
	start := time.Now()
	ok := s.probe(ctx, inst)
	latencyMS := float64(time.Since(start).Milliseconds())

	s.mu.Lock()
	firstProbe := !s.probed[inst.ServiceID]
	s.probed[inst.ServiceID] = true
	s.mu.Unlock()

	if s.credit != nil {
		s.credit.RecordProbeSample(serviceName, latencyMS, ok)
	}

	var next registry.Status
	switch {
	case ok:
		next = registry.StatusHealthy
	case firstProbe && inst.Status == registry.StatusStarting:
		// One failed probe right after registration is tolerated while the
		// service finishes booting.
		return
	default:
		metrics.ProbeFailures.Inc()
		next = registry.StatusUnhealthy
		// UpdateHealth refreshes the heartbeat, and a failing probe must not
		// keep a dead instance alive past its TTL.
		if inst.Status == registry.StatusUnhealthy {
			return
		}
	}

	old, changed, err := s.registry.UpdateHealth(serviceName, inst.ServiceID, next)
	if err != nil {
		logging.Debug("Health", "Skipping status update for %s: %v", inst.ServiceID, err)
		return
	}
	if !changed {
		return
	}

	logging.Info("Health", "Instance %s (%s) transitioned %s -> %s", inst.ServiceID, serviceName, old, next)
	s.store.Append(ctx, events.NewHealthChanged(serviceName, inst.ServiceID, string(old), string(next), map[string]interface{}{
		"latency_ms": latencyMS,
	}))
}

// probe returns true when the instance's health endpoint answered 200.
func (s *Supervisor) probe(ctx context.Context, inst *registry.ServiceInstance) bool {
	url := fmt.Sprintf("http://%s/health", net.JoinHostPort(inst.Host, strconv.Itoa(inst.HealthPort)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// expireStale removes instances whose heartbeat lapsed past the TTL and
// mirrors the removal to the discovery provider.
func (s *Supervisor) expireStale(ctx context.Context) {
	ttl := s.cfg.HeartbeatTTL.Std()
	if ttl <= 0 {
		return
	}
	for _, inst := range s.registry.ExpireStale(ttl) {
		logging.Warn("Health", "Instance %s (%s) expired after missing heartbeats for %s", inst.ServiceID, inst.Name, ttl)
		s.store.Append(ctx, events.NewServiceDeregistered(inst.Name, inst.ServiceID))
		s.forgetProbe(inst.ServiceID)
		if s.provider != nil {
			if err := s.provider.Deregister(ctx, inst.ServiceID); err != nil {
				logging.Warn("Health", "Provider deregistration for %s failed: %v", inst.ServiceID, err)
			}
		}
	}
}

func (s *Supervisor) forgetProbe(serviceID string) {
	s.mu.Lock()
	delete(s.probed, serviceID)
	s.mu.Unlock()
}

// RegisterRemote mirrors a local registration to the discovery provider,
// handing it the instance's health endpoint as a passive check.
func (s *Supervisor) RegisterRemote(ctx context.Context, inst *registry.ServiceInstance) error {
	if s.provider == nil {
		return nil
	}
	interval := s.cfg.HealthCheckInterval.Std()
	if interval <= 0 {
		interval = defaultInterval
	}
	probeTimeout := s.cfg.ProbeTimeout.Std()
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}
	return s.provider.Register(ctx, discovery.Instance{
		ServiceID: inst.ServiceID,
		Name:      inst.Name,
		Host:      inst.Host,
		Port:      inst.GRPCPort,
		Tags:      inst.Tags,
		Meta: map[string]string{
			"health_port": strconv.Itoa(inst.HealthPort),
		},
	}, discovery.CheckSpec{
		HTTP:     fmt.Sprintf("http://%s/health", net.JoinHostPort(inst.Host, strconv.Itoa(inst.HealthPort))),
		Interval: interval,
		Timeout:  probeTimeout,
	})
}

// DeregisterRemote mirrors a local deregistration to the provider.
func (s *Supervisor) DeregisterRemote(ctx context.Context, serviceID string) error {
	s.forgetProbe(serviceID)
	if s.provider == nil {
		return nil
	}
	return s.provider.Deregister(ctx, serviceID)
}

// WatchService starts a provider watch on a service name, reconciling every
// membership update against the local registry. Idempotent per name.
func (s *Supervisor) WatchService(ctx context.Context, name string) {
	if s.provider == nil {
		return
	}
	s.mu.Lock()
	if _, exists := s.watches[name]; exists {
		s.mu.Unlock()
		return
	}
	watchCtx, cancel := context.WithCancel(ctx)
	s.watches[name] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.provider.Watch(watchCtx, name, false, func(external []discovery.Instance) {
			s.Reconcile(watchCtx, name, external)
		})
		if err != nil && watchCtx.Err() == nil {
			logging.Warn("Health", "Watch on %s ended: %v", name, err)
		}
	}()
}

// Reconcile applies the provider's membership view of one service to the
// local registry. The provider wins on membership; probe-derived status of
// retained instances is left alone.
func (s *Supervisor) Reconcile(ctx context.Context, name string, external []discovery.Instance) {
	known := make(map[string]discovery.Instance, len(external))
	for _, ext := range external {
		known[ext.ServiceID] = ext
	}

	local := make(map[string]*registry.ServiceInstance)
	for _, inst := range s.registry.Instances(name) {
		local[inst.ServiceID] = inst
	}

	for id, ext := range known {
		if _, exists := local[id]; exists {
			continue
		}
		inst := discoveredInstance(name, ext)
		if err := s.registry.Register(inst); err != nil {
			logging.Warn("Health", "Discovered instance %s could not be registered: %v", id, err)
			continue
		}
		logging.Info("Health", "Discovered instance %s of %s via provider", id, name)
		s.store.Append(ctx, events.NewServiceDiscovered(name, id, map[string]interface{}{
			"host": ext.Host,
			"port": ext.Port,
		}))
	}

	for id := range local {
		if _, exists := known[id]; exists {
			continue
		}
		logging.Info("Health", "Instance %s of %s gone from provider, removing locally", id, name)
		s.registry.Deregister(name, id)
		s.forgetProbe(id)
		s.store.Append(ctx, events.NewServiceDeregistered(name, id))
	}
}

// discoveredInstance builds a local instance from the provider's record.
func discoveredInstance(name string, ext discovery.Instance) *registry.ServiceInstance {
	healthPort := ext.Port
	if raw, ok := ext.Meta["health_port"]; ok {
		if parsed, err := strconv.Atoi(raw); err == nil {
			healthPort = parsed
		}
	}
	return &registry.ServiceInstance{
		ServiceID:  ext.ServiceID,
		Name:       name,
		Host:       ext.Host,
		GRPCPort:   ext.Port,
		HealthPort: healthPort,
		Tags:       ext.Tags,
		Meta:       ext.Meta,
		Status:     registry.StatusStarting,
		Manifest: map[string]interface{}{
			"kind":       "AOLService",
			"apiVersion": "aol/v1",
			"metadata":   map[string]interface{}{"name": name},
			"spec":       map[string]interface{}{"discovered": true},
		},
	}
}

// Stats summarizes the registry's health at the last sweep.
type Stats struct {
	Total     int                       `json:"total_instances"`
	ByStatus  map[registry.Status]int   `json:"by_status"`
	Services  map[string]map[string]int `json:"services"`
	LastSweep time.Time                 `json:"last_sweep"`
}

// GetStats aggregates instance counts by status, overall and per service.
func (s *Supervisor) GetStats() Stats {
	s.mu.Lock()
	lastSweep := s.lastSweep
	s.mu.Unlock()

	stats := Stats{
		ByStatus:  make(map[registry.Status]int),
		Services:  make(map[string]map[string]int),
		LastSweep: lastSweep,
	}
	for name, instances := range s.registry.ListAll() {
		perService := make(map[string]int)
		for _, inst := range instances {
			stats.Total++
			stats.ByStatus[inst.Status]++
			perService[string(inst.Status)]++
		}
		stats.Services[name] = perService
	}
	return stats
}
