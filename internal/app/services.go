package app

import (
	"context"
	"fmt"

	"aolcore/internal/config"
	"aolcore/internal/credit"
	"aolcore/internal/discovery"
	"aolcore/internal/events"
	"aolcore/internal/health"
	"aolcore/internal/monitor"
	"aolcore/internal/registry"
	"aolcore/internal/router"
	"aolcore/internal/workflow"
	"aolcore/pkg/logging"
)

// Services holds every initialized control plane component. Construction
// order follows the dependency graph: bus and store first, then the
// registry and credit engine, then the router and supervisor that consume
// them, and last the workflow executor and monitor facade on top.
type Services struct {
	Config config.Config

	Registry   *registry.Registry
	Bus        *events.Bus
	Store      *events.Store
	Credit     *credit.Engine
	Router     *router.Router
	Provider   discovery.Provider
	Supervisor *health.Supervisor
	Executor   *workflow.Executor
	Monitor    *monitor.Monitor
}

// NewServices constructs and wires all components from the configuration.
func NewServices(cfg config.Config) (*Services, error) {
	bus := events.NewBus()
	store := events.NewStore(cfg.EventStoreCapacity, bus)
	reg := registry.New()
	engine := credit.New(cfg.LazyDetection, store)
	rt := router.New(&cfg, reg, store)

	var provider discovery.Provider
	if cfg.Discovery.Enabled {
		consulProvider, err := discovery.NewConsul(cfg.Discovery)
		if err != nil {
			return nil, fmt.Errorf("initializing discovery provider: %w", err)
		}
		provider = consulProvider
		logging.Info("Bootstrap", "Discovery provider enabled at %s", cfg.Discovery.Address)
	}

	supervisor := health.New(&cfg, reg, store, engine, provider)
	executor := workflow.NewExecutor(workflow.NewRouterInvoker(rt, "workflow-engine"), store)
	mon := monitor.New(reg, store, bus, rt, engine, supervisor)

	return &Services{
		Config:     cfg,
		Registry:   reg,
		Bus:        bus,
		Store:      store,
		Credit:     engine,
		Router:     rt,
		Provider:   provider,
		Supervisor: supervisor,
		Executor:   executor,
		Monitor:    mon,
	}, nil
}

// Start launches the background loops.
func (s *Services) Start(ctx context.Context) {
	s.Router.Start(ctx)
	s.Supervisor.Start(ctx)
}

// Stop shuts the background loops down in reverse start order.
func (s *Services) Stop() {
	s.Supervisor.Stop()
	s.Router.Stop()
}

// RegisterService registers an instance locally, emits the registration
// event, and mirrors it to the discovery provider when one is configured.
func (s *Services) RegisterService(ctx context.Context, inst *registry.ServiceInstance) error {
	if err := s.Registry.Register(inst); err != nil {
		return err
	}
	s.Store.Append(ctx, events.NewServiceRegistered(inst.Name, inst.ServiceID, map[string]interface{}{
		"host":      inst.Host,
		"grpc_port": inst.GRPCPort,
	}))
	if err := s.Supervisor.RegisterRemote(ctx, inst); err != nil {
		logging.Warn("Bootstrap", "Mirroring %s to discovery failed: %v", inst.ServiceID, err)
	}
	s.Supervisor.WatchService(ctx, inst.Name)
	return nil
}

// DeregisterService removes an instance locally and remotely and emits the
// deregistration event.
func (s *Services) DeregisterService(ctx context.Context, serviceName, serviceID string) {
	s.Registry.Deregister(serviceName, serviceID)
	s.Store.Append(ctx, events.NewServiceDeregistered(serviceName, serviceID))
	if err := s.Supervisor.DeregisterRemote(ctx, serviceID); err != nil {
		logging.Warn("Bootstrap", "Removing %s from discovery failed: %v", serviceID, err)
	}
}
