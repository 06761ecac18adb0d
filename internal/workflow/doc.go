// Package workflow models multi-agent workflows as directed acyclic graphs
// and executes them.
//
// A Graph holds typed nodes (agents, tools, routers, aggregators,
// checkpoints) connected by typed edges (sequential, conditional, parallel,
// fallback). Every graph carries implicit __start__ and __end__ sentinels;
// validation rejects cycles, dead ends and dangling edges before execution.
//
// The Executor walks a graph from the start sentinel: sequential edges run
// one node after another, conditional edges pick the first matching branch,
// parallel edges fan out concurrently and rejoin at an aggregator, and
// fallback edges resume execution elsewhere when a node fails. Node results
// feed the event store as agent contributions so credit assignment sees
// every step.
//
// Graphs are assembled either directly or through the fluent Builder.
package workflow
