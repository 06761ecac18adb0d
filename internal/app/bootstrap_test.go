package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aolcore/internal/events"
	"aolcore/internal/registry"
)

func TestNewApplicationWithDefaults(t *testing.T) {
	application, err := NewApplication(NewConfig(false, true, ""))
	require.NoError(t, err)
	require.NotNil(t, application.Services())
	assert.NotNil(t, application.Services().Registry)
	assert.NotNil(t, application.Services().Monitor)
}

func TestNewApplicationLoadsConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
healthCheckInterval: 10s
eventStoreCapacity: 500
routerWorkers: 2
`), 0o644))

	application, err := NewApplication(NewConfig(false, true, path))
	require.NoError(t, err)
	assert.Equal(t, 500, application.Services().Config.EventStoreCapacity)
	assert.Equal(t, 10*time.Second, application.Services().Config.HealthCheckInterval.Std())
}

func TestNewApplicationRejectsBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("eventStoreCapacity: -5\n"), 0o644))

	_, err := NewApplication(NewConfig(false, true, path))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "eventStoreCapacity")
}

func TestNewApplicationMissingConfigFile(t *testing.T) {
	_, err := NewApplication(NewConfig(false, true, "/nonexistent/config.yaml"))
	assert.Error(t, err)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	application, err := NewApplication(NewConfig(false, true, ""))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- application.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("application did not shut down")
	}
}

func TestRegisterServiceEmitsEventAndWatches(t *testing.T) {
	application, err := NewApplication(NewConfig(false, true, ""))
	require.NoError(t, err)
	s := application.Services()

	ctx := context.Background()
	inst := &registry.ServiceInstance{
		ServiceID:  "a1",
		Name:       "svc-a",
		Host:       "h1",
		GRPCPort:   50051,
		HealthPort: 50200,
		Manifest: map[string]interface{}{
			"kind":       "AOLService",
			"apiVersion": "aol/v1",
			"metadata":   map[string]interface{}{"name": "svc-a"},
			"spec":       map[string]interface{}{},
		},
	}
	require.NoError(t, s.RegisterService(ctx, inst))

	registered := s.Store.GetEvents(events.Filter{Kind: events.KindServiceRegistered})
	require.Len(t, registered, 1)
	assert.Equal(t, "svc-a", registered[0].ServiceName)

	s.DeregisterService(ctx, "svc-a", "a1")
	_, ok := s.Registry.Get("a1")
	assert.False(t, ok)

	removed := s.Store.GetEvents(events.Filter{Kind: events.KindServiceDeregistered})
	assert.Len(t, removed, 1)
}
