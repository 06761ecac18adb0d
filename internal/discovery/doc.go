// Package discovery mirrors the local service registry to an external
// discovery provider and reads external membership back.
//
// The Provider interface covers registration with a provider-side HTTP
// health check, passing-only service listings, a small KV surface, and a
// blocking-query Watch loop. Consul is the shipped implementation; the
// health supervisor reconciles its watch updates against the local
// registry, letting the provider win on membership while local probes win
// on status.
package discovery
