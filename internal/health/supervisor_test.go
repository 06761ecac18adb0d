package health

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aolcore/internal/config"
	"aolcore/internal/discovery"
	"aolcore/internal/events"
	"aolcore/internal/registry"
)

func testHealthConfig() *config.Config {
	return &config.Config{
		HealthCheckInterval: config.Duration(30 * time.Second),
		ProbeTimeout:        config.Duration(time.Second),
		HeartbeatTTL:        config.Duration(90 * time.Second),
	}
}

// probeTarget runs a controllable /health endpoint.
type probeTarget struct {
	mu     sync.Mutex
	status int
	server *httptest.Server
}

func newProbeTarget(t *testing.T) *probeTarget {
	t.Helper()
	pt := &probeTarget{status: http.StatusOK}
	pt.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pt.mu.Lock()
		status := pt.status
		pt.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(pt.server.Close)
	return pt
}

func (pt *probeTarget) setStatus(status int) {
	pt.mu.Lock()
	pt.status = status
	pt.mu.Unlock()
}

func (pt *probeTarget) hostPort(t *testing.T) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(pt.server.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func healthManifest() map[string]interface{} {
	return map[string]interface{}{
		"kind":       "AOLService",
		"apiVersion": "aol/v1",
		"metadata":   map[string]interface{}{"name": "svc"},
		"spec":       map[string]interface{}{},
	}
}

func registerInstance(t *testing.T, reg *registry.Registry, name, id, host string, healthPort int) *registry.ServiceInstance {
	t.Helper()
	inst := &registry.ServiceInstance{
		ServiceID:  id,
		Name:       name,
		Host:       host,
		GRPCPort:   50051,
		HealthPort: healthPort,
		Manifest:   healthManifest(),
		Status:     registry.StatusStarting,
	}
	require.NoError(t, reg.Register(inst))
	return inst
}

func newTestSupervisor(cfg *config.Config, provider discovery.Provider) (*Supervisor, *registry.Registry, *events.Store) {
	reg := registry.New()
	store := events.NewStore(1000, events.NewBus())
	return New(cfg, reg, store, nil, provider), reg, store
}

func instanceStatus(t *testing.T, reg *registry.Registry, id string) registry.Status {
	t.Helper()
	inst, ok := reg.Get(id)
	require.True(t, ok)
	return inst.Status
}

func TestSweepMarksStartingInstanceHealthy(t *testing.T) {
	pt := newProbeTarget(t)
	host, port := pt.hostPort(t)

	s, reg, store := newTestSupervisor(testHealthConfig(), nil)
	registerInstance(t, reg, "svc-a", "a1", host, port)

	s.Sweep(context.Background())

	assert.Equal(t, registry.StatusHealthy, instanceStatus(t, reg, "a1"))

	changes := store.GetEvents(events.Filter{Kind: events.KindHealthChanged})
	require.Len(t, changes, 1)
	assert.Equal(t, string(registry.StatusStarting), changes[0].OldStatus)
	assert.Equal(t, string(registry.StatusHealthy), changes[0].NewStatus)
}

func TestSweepTransitionsOnFailureAndRecovery(t *testing.T) {
	pt := newProbeTarget(t)
	host, port := pt.hostPort(t)

	s, reg, store := newTestSupervisor(testHealthConfig(), nil)
	registerInstance(t, reg, "svc-a", "a1", host, port)

	s.Sweep(context.Background())
	require.Equal(t, registry.StatusHealthy, instanceStatus(t, reg, "a1"))

	pt.setStatus(http.StatusServiceUnavailable)
	s.Sweep(context.Background())
	assert.Equal(t, registry.StatusUnhealthy, instanceStatus(t, reg, "a1"))

	// A steady unhealthy state emits nothing further.
	s.Sweep(context.Background())

	pt.setStatus(http.StatusOK)
	s.Sweep(context.Background())
	assert.Equal(t, registry.StatusHealthy, instanceStatus(t, reg, "a1"))

	changes := store.GetEvents(events.Filter{Kind: events.KindHealthChanged})
	require.Len(t, changes, 3, "events only on actual transitions")
	assert.Equal(t, string(registry.StatusHealthy), changes[1].OldStatus)
	assert.Equal(t, string(registry.StatusUnhealthy), changes[1].NewStatus)
	assert.Equal(t, string(registry.StatusUnhealthy), changes[2].OldStatus)
	assert.Equal(t, string(registry.StatusHealthy), changes[2].NewStatus)
}

func TestStartingGraceToleratesFirstFailure(t *testing.T) {
	s, reg, _ := newTestSupervisor(testHealthConfig(), nil)
	// No server listens on the health port.
	registerInstance(t, reg, "svc-a", "a1", "127.0.0.1", 1)

	s.Sweep(context.Background())
	assert.Equal(t, registry.StatusStarting, instanceStatus(t, reg, "a1"))

	s.Sweep(context.Background())
	assert.Equal(t, registry.StatusUnhealthy, instanceStatus(t, reg, "a1"))
}

func TestExpireStaleRemovesSilentInstance(t *testing.T) {
	cfg := testHealthConfig()
	cfg.HeartbeatTTL = config.Duration(20 * time.Millisecond)

	s, reg, store := newTestSupervisor(cfg, nil)
	inst := registerInstance(t, reg, "svc-a", "a1", "127.0.0.1", 1)
	_, _, err := reg.UpdateHealth("svc-a", inst.ServiceID, registry.StatusHealthy)
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	s.expireStale(context.Background())

	_, ok := reg.Get("a1")
	assert.False(t, ok)

	removed := store.GetEvents(events.Filter{Kind: events.KindServiceDeregistered})
	require.Len(t, removed, 1)
	assert.Equal(t, "a1", removed[0].ServiceID)
}

// fakeProvider records mirror calls for reconciliation tests.
type fakeProvider struct {
	mu           sync.Mutex
	registered   []discovery.Instance
	deregistered []string
}

func (f *fakeProvider) Register(ctx context.Context, inst discovery.Instance, check discovery.CheckSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = append(f.registered, inst)
	return nil
}

func (f *fakeProvider) Deregister(ctx context.Context, serviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deregistered = append(f.deregistered, serviceID)
	return nil
}

func (f *fakeProvider) Service(ctx context.Context, name string, passingOnly bool) ([]discovery.Instance, error) {
	return nil, nil
}

func (f *fakeProvider) KVGet(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, nil
}

func (f *fakeProvider) KVPut(ctx context.Context, key string, value []byte) error {
	return nil
}

func (f *fakeProvider) Watch(ctx context.Context, name string, passingOnly bool, fn func([]discovery.Instance)) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestReconcileAddsAndRemovesPerProviderView(t *testing.T) {
	s, reg, store := newTestSupervisor(testHealthConfig(), &fakeProvider{})
	registerInstance(t, reg, "svc-a", "local-1", "h1", 50200)
	_, _, err := reg.UpdateHealth("svc-a", "local-1", registry.StatusHealthy)
	require.NoError(t, err)

	s.Reconcile(context.Background(), "svc-a", []discovery.Instance{
		{ServiceID: "local-1", Name: "svc-a", Host: "h1", Port: 50051},
		{ServiceID: "remote-1", Name: "svc-a", Host: "h2", Port: 50051, Meta: map[string]string{"health_port": "50200"}},
		{ServiceID: "remote-2", Name: "svc-a", Host: "h2", Port: 50053, Meta: map[string]string{"health_port": "50202"}},
	})

	// The provider's extra instances join locally in starting state; two
	// discovered instances may share a host.
	remote, ok := reg.Get("remote-1")
	require.True(t, ok)
	assert.Equal(t, registry.StatusStarting, remote.Status)
	assert.Equal(t, 50200, remote.HealthPort)
	_, ok = reg.Get("remote-2")
	require.True(t, ok)

	// Probe-derived status of retained instances is untouched.
	assert.Equal(t, registry.StatusHealthy, instanceStatus(t, reg, "local-1"))

	discovered := store.GetEvents(events.Filter{Kind: events.KindServiceDiscovered})
	require.Len(t, discovered, 2)
	ids := []string{discovered[0].ServiceID, discovered[1].ServiceID}
	assert.ElementsMatch(t, []string{"remote-1", "remote-2"}, ids)

	// An instance the provider no longer lists is removed locally.
	s.Reconcile(context.Background(), "svc-a", []discovery.Instance{
		{ServiceID: "remote-1", Name: "svc-a", Host: "h2", Port: 50051},
	})
	_, ok = reg.Get("local-1")
	assert.False(t, ok)
}

func TestRegisterRemoteMirrorsCheckSpec(t *testing.T) {
	provider := &fakeProvider{}
	s, reg, _ := newTestSupervisor(testHealthConfig(), provider)
	inst := registerInstance(t, reg, "svc-a", "a1", "10.0.0.5", 50200)

	require.NoError(t, s.RegisterRemote(context.Background(), inst))

	require.Len(t, provider.registered, 1)
	assert.Equal(t, "a1", provider.registered[0].ServiceID)
	assert.Equal(t, 50051, provider.registered[0].Port)
	assert.Equal(t, "50200", provider.registered[0].Meta["health_port"])
}

func TestStartAndStopSweepLoop(t *testing.T) {
	pt := newProbeTarget(t)
	host, port := pt.hostPort(t)

	cfg := testHealthConfig()
	cfg.HealthCheckInterval = config.Duration(10 * time.Millisecond)
	s, reg, _ := newTestSupervisor(cfg, nil)
	registerInstance(t, reg, "svc-a", "a1", host, port)

	s.Start(context.Background())
	require.Eventually(t, func() bool {
		return instanceStatus(t, reg, "a1") == registry.StatusHealthy
	}, time.Second, 5*time.Millisecond)
	s.Stop()
}
