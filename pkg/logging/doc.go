// Package logging provides a structured logging system for aolcore with
// unified log handling and subsystem attribution.
//
// This package implements a logging system built on Go's standard slog
// package, providing consistent logging behavior with structured output and
// level filtering. Every log call names the subsystem it originates from
// (Registry, HealthSupervisor, Router, ...) so the mixed output of the
// control plane's background loops stays attributable.
package logging
