// Package metrics holds the control plane's best-effort saturation counters.
// Exposition is owned by an external surface; this package only registers
// counters on the default Prometheus registry.
package metrics
