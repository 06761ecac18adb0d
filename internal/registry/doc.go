// Package registry maintains the authoritative in-memory map of logical
// service names to their registered instances.
//
// The registry owns ServiceInstance values from registration until
// deregistration or heartbeat TTL expiry. All mutations are serialized under
// a single lock and any subsequent query observes them; healthy-instance
// selection is round-robin with one shared cursor per service name.
package registry
