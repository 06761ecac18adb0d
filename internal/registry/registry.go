package registry

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"aolcore/pkg/logging"
)

var (
	// ErrPortConflict is returned when a new instance's ports collide with an
	// existing instance on the same host.
	ErrPortConflict = errors.New("port conflict")

	// ErrInvalidManifest is returned when a manifest lacks a required field.
	ErrInvalidManifest = errors.New("invalid manifest")

	// ErrDuplicateID is returned when a service_id is already registered.
	ErrDuplicateID = errors.New("duplicate service id")

	// ErrUnknownInstance is returned when an update names an instance the
	// registry does not hold.
	ErrUnknownInstance = errors.New("unknown service instance")

	// ErrInvalidTransition is returned when a health update violates the
	// status state machine.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Registry is the authoritative in-memory view of services in the mesh.
// All mutations are serialized; readers observe a point-in-time consistent
// view under the same lock.
type Registry struct {
	mu        sync.RWMutex
	services  map[string][]*ServiceInstance // name -> instances
	byID      map[string]*ServiceInstance   // service_id -> instance
	rrCursors map[string]int                // name -> shared round-robin cursor
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		services:  make(map[string][]*ServiceInstance),
		byID:      make(map[string]*ServiceInstance),
		rrCursors: make(map[string]int),
	}
}

// Register adds a service instance. It fails with ErrPortConflict when any of
// the instance's ports collide with an existing instance on the same host,
// and with ErrInvalidManifest when the manifest lacks a required field.
func (r *Registry) Register(instance *ServiceInstance) error {
	if instance == nil {
		return fmt.Errorf("cannot register nil instance")
	}
	if instance.Name == "" {
		return fmt.Errorf("instance has empty service name")
	}
	if instance.ServiceID == "" {
		return fmt.Errorf("instance has empty service id")
	}
	if !validManifest(instance.Manifest) {
		return fmt.Errorf("%w: manifest for %s must carry kind, apiVersion, metadata and spec", ErrInvalidManifest, instance.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[instance.ServiceID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, instance.ServiceID)
	}
	if conflict := r.portConflictLocked(instance); conflict != nil {
		return fmt.Errorf("%w: %s collides with %s on host %s", ErrPortConflict, instance.Name, conflict.Name, instance.Host)
	}

	stored := instance.Clone()
	if stored.Status == "" {
		stored.Status = StatusStarting
	}
	if stored.LastHeartbeat.IsZero() {
		stored.LastHeartbeat = time.Now()
	}

	r.services[stored.Name] = append(r.services[stored.Name], stored)
	r.byID[stored.ServiceID] = stored

	logging.Info("Registry", "Registered service %s:%s (%s) on %s", stored.Name, stored.Version, stored.ServiceID, stored.Address())
	return nil
}

// Deregister removes a service instance. Removing an unknown instance is not
// an error.
func (r *Registry) Deregister(serviceName, serviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(serviceName, serviceID)
	logging.Info("Registry", "Deregistered service %s (%s)", serviceName, serviceID)
}

// GetHealthy returns one healthy instance of the named service, round-robin
// across calls. The cursor is shared by all callers, so concurrent callers
// spread across instances.
func (r *Registry) GetHealthy(serviceName string) (*ServiceInstance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var healthy []*ServiceInstance
	for _, inst := range r.services[serviceName] {
		if inst.Status == StatusHealthy {
			healthy = append(healthy, inst)
		}
	}
	if len(healthy) == 0 {
		return nil, false
	}

	cursor := r.rrCursors[serviceName] % len(healthy)
	r.rrCursors[serviceName] = cursor + 1
	return healthy[cursor].Clone(), true
}

// ListAll returns all registered instances keyed by service name.
func (r *Registry) ListAll() map[string][]*ServiceInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// Snapshot returns a consistent deep copy of the registry contents.
func (r *Registry) Snapshot() map[string][]*ServiceInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// Get returns the instance with the given service id.
func (r *Registry) Get(serviceID string) (*ServiceInstance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.byID[serviceID]
	if !ok {
		return nil, false
	}
	return inst.Clone(), true
}

// Instances returns all instances of one service.
func (r *Registry) Instances(serviceName string) []*ServiceInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ServiceInstance, 0, len(r.services[serviceName]))
	for _, inst := range r.services[serviceName] {
		out = append(out, inst.Clone())
	}
	return out
}

// UpdateHealth applies a status transition and refreshes the heartbeat.
// It returns the previous status and whether the status actually changed;
// equal transitions are debounced. Transitions outside the state machine
// return ErrInvalidTransition and leave the instance untouched.
func (r *Registry) UpdateHealth(serviceName, serviceID string, status Status) (old Status, changed bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.byID[serviceID]
	if !ok || inst.Name != serviceName {
		return "", false, fmt.Errorf("%w: %s/%s", ErrUnknownInstance, serviceName, serviceID)
	}

	old = inst.Status
	if old == status {
		inst.LastHeartbeat = time.Now()
		return old, false, nil
	}
	if !canTransition(old, status) {
		return old, false, fmt.Errorf("%w: %s -> %s for %s", ErrInvalidTransition, old, status, serviceID)
	}

	inst.Status = status
	inst.LastHeartbeat = time.Now()
	return old, true, nil
}

// ExpireStale removes instances whose heartbeat is older than ttl and whose
// status permits expiry, returning the removed instances. Starting instances
// are not expired.
func (r *Registry) ExpireStale(ttl time.Duration) []*ServiceInstance {
	r.mu.Lock()
	defer r.mu.Unlock()

	deadline := time.Now().Add(-ttl)
	var expired []*ServiceInstance
	for _, inst := range r.byID {
		if inst.Status == StatusStarting {
			continue
		}
		if inst.LastHeartbeat.Before(deadline) {
			expired = append(expired, inst.Clone())
		}
	}
	for _, inst := range expired {
		r.removeLocked(inst.Name, inst.ServiceID)
		logging.Warn("Registry", "Expired service %s (%s): no heartbeat for %s", inst.Name, inst.ServiceID, ttl)
	}
	return expired
}

// Count returns the total number of registered instances.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *Registry) snapshotLocked() map[string][]*ServiceInstance {
	out := make(map[string][]*ServiceInstance, len(r.services))
	for name, instances := range r.services {
		copies := make([]*ServiceInstance, 0, len(instances))
		for _, inst := range instances {
			copies = append(copies, inst.Clone())
		}
		out[name] = copies
	}
	return out
}

func (r *Registry) removeLocked(serviceName, serviceID string) {
	instances := r.services[serviceName]
	for i, inst := range instances {
		if inst.ServiceID == serviceID {
			r.services[serviceName] = append(instances[:i], instances[i+1:]...)
			break
		}
	}
	if len(r.services[serviceName]) == 0 {
		delete(r.services, serviceName)
		delete(r.rrCursors, serviceName)
	}
	delete(r.byID, serviceID)
}

// portConflictLocked returns the existing instance whose ports collide with
// the candidate on the same host, if any. Unset (zero) ports never collide.
func (r *Registry) portConflictLocked(candidate *ServiceInstance) *ServiceInstance {
	candidatePorts := []int{candidate.GRPCPort, candidate.HealthPort, candidate.MetricsPort}
	for _, inst := range r.byID {
		if inst.Host != candidate.Host {
			continue
		}
		existing := []int{inst.GRPCPort, inst.HealthPort, inst.MetricsPort}
		for _, p := range candidatePorts {
			if p == 0 {
				continue
			}
			for _, q := range existing {
				if p == q {
					return inst
				}
			}
		}
	}
	return nil
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
