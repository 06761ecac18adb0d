// Package credit assigns influence scores to agent contributions and watches
// for degenerate deliberation dynamics.
//
// Scoring uses exact Shapley values when a coalition-value function is
// supplied and the agent set is small, a Monte-Carlo permutation sampler for
// larger sets, and a success-gated action-type heuristic otherwise. A rolling
// window per agent classifies lazy, dominant and degraded agents relative to
// the population mean; a cold population is treated as starting, never lazy.
//
// The engine's periodic tick evaluates each tracked workflow for restart
// conditions (single-agent dominance, a lazy majority, or a low health
// score) and orders a deliberation restart through the event store, subject
// to a per-workflow cooldown and hourly limit.
package credit
