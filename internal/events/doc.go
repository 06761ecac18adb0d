// Package events implements the control plane's bounded event log and
// pub/sub bus, and owns workflow and contribution records.
//
// The Store keeps the last N events in a fixed-capacity ring; append never
// blocks a producer and evicts the oldest event on overflow. Every append is
// fanned out through the Bus: kind handlers are dispatched concurrently and
// the event is published to the global channel plus the per-service and
// per-workflow channels. Slow subscribers are evicted rather than allowed to
// stall delivery.
//
// Nothing here is durable; on restart the mesh state is rebuilt from the
// discovery provider and the event history starts empty.
package events
