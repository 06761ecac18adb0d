package registry

import (
	"time"
)

// Status represents the health status of a registered service instance.
type Status string

const (
	StatusStarting  Status = "starting"
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusStopping  Status = "stopping"
)

// ServiceInstance represents one registered instance of a logical service.
type ServiceInstance struct {
	ServiceID     string                 `json:"service_id"`
	Name          string                 `json:"name"`
	Version       string                 `json:"version"`
	Host          string                 `json:"host"`
	GRPCPort      int                    `json:"grpc_port"`
	HealthPort    int                    `json:"health_port"`
	MetricsPort   int                    `json:"metrics_port"`
	Manifest      map[string]interface{} `json:"manifest"`
	Tags          []string               `json:"tags,omitempty"`
	Meta          map[string]string      `json:"meta,omitempty"`
	Status        Status                 `json:"status"`
	LastHeartbeat time.Time              `json:"last_heartbeat"`
}

// Address returns the instance's gRPC endpoint as host:port.
func (si *ServiceInstance) Address() string {
	return joinHostPort(si.Host, si.GRPCPort)
}

// Clone returns a deep copy of the instance.
func (si *ServiceInstance) Clone() *ServiceInstance {
	dup := *si
	if si.Manifest != nil {
		dup.Manifest = deepCopyMap(si.Manifest)
	}
	if si.Tags != nil {
		dup.Tags = append([]string(nil), si.Tags...)
	}
	if si.Meta != nil {
		dup.Meta = make(map[string]string, len(si.Meta))
		for k, v := range si.Meta {
			dup.Meta[k] = v
		}
	}
	return &dup
}

// manifestRequiredFields are the document keys every service manifest must
// carry to be accepted by the registry.
var manifestRequiredFields = []string{"kind", "apiVersion", "metadata", "spec"}

// validManifest reports whether the manifest carries all required fields.
func validManifest(manifest map[string]interface{}) bool {
	for _, field := range manifestRequiredFields {
		if _, ok := manifest[field]; !ok {
			return false
		}
	}
	return true
}

func deepCopyMap(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		if nested, ok := v.(map[string]interface{}); ok {
			out[k] = deepCopyMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}

// allowedTransitions encodes the instance status state machine. Deregistration
// and TTL removal are handled by the registry itself and are legal from any
// state.
var allowedTransitions = map[Status][]Status{
	StatusStarting:  {StatusHealthy, StatusDegraded, StatusUnhealthy, StatusStopping},
	StatusHealthy:   {StatusDegraded, StatusUnhealthy, StatusStopping},
	StatusDegraded:  {StatusHealthy, StatusUnhealthy, StatusStopping},
	StatusUnhealthy: {StatusHealthy, StatusDegraded, StatusStopping},
	StatusStopping:  {},
}

// canTransition reports whether the status state machine permits old -> new.
// Equal statuses are always permitted and treated as a no-op by callers.
func canTransition(old, new Status) bool {
	if old == new {
		return true
	}
	for _, s := range allowedTransitions[old] {
		if s == new {
			return true
		}
	}
	return false
}
