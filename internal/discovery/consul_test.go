package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aolcore/internal/config"
)

func writeConsulMeta(w http.ResponseWriter, index uint64) {
	w.Header().Set("X-Consul-Index", fmt.Sprintf("%d", index))
	w.Header().Set("X-Consul-LastContact", "0")
	w.Header().Set("X-Consul-KnownLeader", "true")
}

func newConsulClient(t *testing.T, handler http.Handler) (*Consul, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	c, err := NewConsul(config.DiscoveryConfig{
		Enabled:   true,
		Address:   strings.TrimPrefix(ts.URL, "http://"),
		WatchWait: config.Duration(100 * time.Millisecond),
	})
	require.NoError(t, err)
	return c, ts
}

func TestRegisterSendsCheckSpec(t *testing.T) {
	var got map[string]interface{}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/agent/service/register", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	})
	c, _ := newConsulClient(t, mux)

	err := c.Register(context.Background(), Instance{
		ServiceID: "agent-1",
		Name:      "svc-agent",
		Host:      "10.0.0.5",
		Port:      50051,
		Tags:      []string{"agent"},
	}, CheckSpec{
		HTTP:     "http://10.0.0.5:50200/health",
		Interval: 30 * time.Second,
		Timeout:  5 * time.Second,
	})
	require.NoError(t, err)

	assert.Equal(t, "agent-1", got["ID"])
	assert.Equal(t, "svc-agent", got["Name"])
	assert.Equal(t, float64(50051), got["Port"])

	check, ok := got["Check"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "http://10.0.0.5:50200/health", check["HTTP"])
	assert.Equal(t, "30s", check["Interval"])
}

func TestDeregister(t *testing.T) {
	var path atomic.Value
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/agent/service/deregister/", func(w http.ResponseWriter, r *http.Request) {
		path.Store(r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})
	c, _ := newConsulClient(t, mux)

	require.NoError(t, c.Deregister(context.Background(), "agent-1"))
	assert.Equal(t, "/v1/agent/service/deregister/agent-1", path.Load())
}

func TestServiceListsInstances(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/health/service/svc-agent", func(w http.ResponseWriter, r *http.Request) {
		writeConsulMeta(w, 7)
		fmt.Fprint(w, `[
			{"Node": {"Node": "n1", "Address": "10.0.0.1"},
			 "Service": {"ID": "a1", "Service": "svc-agent", "Address": "10.0.0.5", "Port": 50051,
			             "Tags": ["agent"], "Meta": {"zone": "a"}}},
			{"Node": {"Node": "n2", "Address": "10.0.0.2"},
			 "Service": {"ID": "a2", "Service": "svc-agent", "Address": "", "Port": 50052}}
		]`)
	})
	c, _ := newConsulClient(t, mux)

	instances, err := c.Service(context.Background(), "svc-agent", true)
	require.NoError(t, err)
	require.Len(t, instances, 2)

	assert.Equal(t, "a1", instances[0].ServiceID)
	assert.Equal(t, "10.0.0.5", instances[0].Host)
	assert.Equal(t, 50051, instances[0].Port)
	assert.Equal(t, map[string]string{"zone": "a"}, instances[0].Meta)

	// Instances without a service address fall back to the node address.
	assert.Equal(t, "10.0.0.2", instances[1].Host)
}

func TestKVRoundTrip(t *testing.T) {
	stored := make(map[string][]byte)
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/kv/", func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/v1/kv/")
		switch r.Method {
		case http.MethodPut:
			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			stored[key] = body
			fmt.Fprint(w, "true")
		case http.MethodGet:
			value, ok := stored[key]
			if !ok {
				writeConsulMeta(w, 1)
				w.WriteHeader(http.StatusNotFound)
				return
			}
			writeConsulMeta(w, 1)
			_ = json.NewEncoder(w).Encode([]map[string]interface{}{
				{"Key": key, "Value": value, "CreateIndex": 1, "ModifyIndex": 1},
			})
		}
	})
	c, _ := newConsulClient(t, mux)
	ctx := context.Background()

	_, ok, err := c.KVGet(ctx, "aol/config")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.KVPut(ctx, "aol/config", []byte(`{"mode":"mesh"}`)))

	value, ok, err := c.KVGet(ctx, "aol/config")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"mode":"mesh"}`, string(value))
}

func TestWatchDeliversMembershipChanges(t *testing.T) {
	var calls atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/health/service/svc-agent", func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		switch n {
		case 1:
			writeConsulMeta(w, 5)
			fmt.Fprint(w, `[{"Node": {"Node": "n1", "Address": "10.0.0.1"},
				"Service": {"ID": "a1", "Service": "svc-agent", "Address": "h1", "Port": 50051}}]`)
		case 2:
			writeConsulMeta(w, 6)
			fmt.Fprint(w, `[{"Node": {"Node": "n1", "Address": "10.0.0.1"},
				"Service": {"ID": "a1", "Service": "svc-agent", "Address": "h1", "Port": 50051}},
				{"Node": {"Node": "n2", "Address": "10.0.0.2"},
				"Service": {"ID": "a2", "Service": "svc-agent", "Address": "h2", "Port": 50051}}]`)
		default:
			// Emulate a blocking query that never fires again.
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
			writeConsulMeta(w, 6)
			fmt.Fprint(w, `[]`)
		}
	})
	c, _ := newConsulClient(t, mux)

	updates := make(chan []Instance, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Watch(ctx, "svc-agent", true, func(instances []Instance) {
			updates <- instances
		})
	}()

	first := <-updates
	require.Len(t, first, 1)
	assert.Equal(t, "a1", first[0].ServiceID)

	second := <-updates
	require.Len(t, second, 2)

	cancel()
	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
}
