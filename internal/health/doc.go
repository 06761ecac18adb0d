// Package health runs the control plane's health supervision loop.
//
// The Supervisor sweeps all registered instances on a fixed interval,
// probing each instance's HTTP health endpoint concurrently. Probe results
// drive the instance status state machine; only real transitions emit
// health_changed events. Instances that miss heartbeats past the TTL are
// expired from the registry. When a discovery provider is configured, the
// supervisor mirrors registrations to it and reconciles provider watch
// updates against the local registry. Probe latencies feed the credit
// engine's per-agent response time metrics.
package health
