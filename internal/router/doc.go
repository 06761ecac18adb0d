// Package router dispatches inter-service requests through a bounded async
// queue drained by a worker pool.
//
// Each request names a target service; workers resolve it to an instance via
// the registry, filter to healthy instances, and apply the request's
// strategy (round robin, health aware, latency based, least connections, or
// a conditional rule table). Every instance is guarded by a circuit breaker;
// failed calls retry with exponential backoff inside the request's absolute
// deadline, possibly against a different instance. Calls travel over a pool
// of long-lived gRPC channels with keepalive, forwarding payloads as opaque
// byte frames.
//
// A route_called event is emitted for every completed route, success or
// final failure. Saturation is not an error: a full queue rejects the
// submission and increments a counter.
package router
