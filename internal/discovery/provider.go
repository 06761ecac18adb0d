package discovery

import (
	"context"
	"time"
)

// Instance is a service instance as seen by the discovery provider.
type Instance struct {
	ServiceID string            `json:"service_id"`
	Name      string            `json:"name"`
	Host      string            `json:"host"`
	Port      int               `json:"port"`
	Tags      []string          `json:"tags,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// CheckSpec describes the passive HTTP health check the provider runs
// against a registered instance.
type CheckSpec struct {
	// HTTP is the full probe URL.
	HTTP string

	// Interval is the provider-side probe period.
	Interval time.Duration

	// Timeout bounds one provider-side probe.
	Timeout time.Duration

	// DeregisterAfter removes the instance after this long in critical
	// state. Zero disables automatic deregistration.
	DeregisterAfter time.Duration
}

// Provider mirrors local registrations to an external discovery service and
// reads external membership back.
type Provider interface {
	// Register announces an instance with its health check.
	Register(ctx context.Context, inst Instance, check CheckSpec) error

	// Deregister removes an instance by id.
	Deregister(ctx context.Context, serviceID string) error

	// Service lists instances of a logical service, optionally only those
	// passing the provider's health checks.
	Service(ctx context.Context, name string, passingOnly bool) ([]Instance, error)

	// KVGet reads a key. The second return is false when the key is absent.
	KVGet(ctx context.Context, key string) ([]byte, bool, error)

	// KVPut writes a key.
	KVPut(ctx context.Context, key string, value []byte) error

	// Watch runs a blocking-query loop on a service name and invokes fn
	// with the full membership each time it changes. Watch returns when
	// ctx is cancelled.
	Watch(ctx context.Context, name string, passingOnly bool, fn func([]Instance)) error
}
