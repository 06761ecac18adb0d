// Package config defines the startup configuration for the aolcore control
// plane: health sweep timing, event ring capacity, router queue and worker
// sizing, circuit breaker and retry policy, lazy-agent detection thresholds,
// and the external discovery provider endpoint.
//
// Configuration is read once at startup from a YAML file overlaid onto
// GetDefaultConfig(); the core carries no durable state and re-reads nothing
// at runtime.
package config
