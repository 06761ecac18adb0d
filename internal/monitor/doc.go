// Package monitor is the read-side query facade of the control plane.
//
// It answers the inbound query contract (service listings, event and route
// history, workflow timelines and reports, aggregate stats, event-stream
// subscriptions) as plain method calls over the live components. Transport
// is out of scope; callers embed the facade behind whatever surface they
// expose.
package monitor
