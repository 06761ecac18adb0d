package credit

import (
	"math/rand"

	"aolcore/internal/events"
)

const (
	// MaxExactAgents bounds the exact Shapley enumeration. The closed-form
	// sum is exponential in the agent count; larger sets fall back to the
	// permutation sampler.
	MaxExactAgents = 10

	// DefaultSampleBudget is the number of permutations drawn by the
	// Monte-Carlo sampler.
	DefaultSampleBudget = 2000
)

// ValueFunc assigns a value to a coalition of agents. The coalition slice is
// unordered, may be nil for the empty coalition, and must not be retained.
type ValueFunc func(coalition []string) float64

// ShapleyValues computes the fair-share marginal contribution of every agent
// under the given coalition-value function:
//
//	φᵢ = Σ_{S ⊆ A\{i}} (|S|!·(|A|−|S|−1)! / |A|!) · [v(S∪{i}) − v(S)]
//
// Up to MaxExactAgents the sum is enumerated exactly; beyond that a
// permutation sampler with DefaultSampleBudget samples approximates it. Both
// paths satisfy the efficiency axiom: the values sum to v(A) − v(∅).
func ShapleyValues(agents []string, v ValueFunc) map[string]float64 {
	if len(agents) <= MaxExactAgents {
		return exactShapley(agents, v)
	}
	return sampledShapley(agents, v, DefaultSampleBudget)
}

// ShapleyValue computes one agent's Shapley value within the agent set.
func ShapleyValue(agentID string, agents []string, v ValueFunc) float64 {
	return ShapleyValues(agents, v)[agentID]
}

func exactShapley(agents []string, v ValueFunc) map[string]float64 {
	n := len(agents)
	out := make(map[string]float64, n)
	if n == 0 {
		return out
	}

	factorial := make([]float64, n+1)
	factorial[0] = 1
	for i := 1; i <= n; i++ {
		factorial[i] = factorial[i-1] * float64(i)
	}

	for idx, agent := range agents {
		others := make([]string, 0, n-1)
		for j, a := range agents {
			if j != idx {
				others = append(others, a)
			}
		}

		var phi float64
		for mask := 0; mask < 1<<len(others); mask++ {
			coalition := make([]string, 0, n)
			for j, a := range others {
				if mask&(1<<j) != 0 {
					coalition = append(coalition, a)
				}
			}
			size := len(coalition)
			weight := factorial[size] * factorial[n-size-1] / factorial[n]

			without := v(coalition)
			with := v(append(coalition, agent))
			phi += weight * (with - without)
		}
		out[agent] = phi
	}
	return out
}

// sampledShapley averages marginal contributions over random join orders.
// Each permutation contributes v(A) − v(∅) in total, so efficiency is
// preserved exactly regardless of the sample count.
func sampledShapley(agents []string, v ValueFunc, samples int) map[string]float64 {
	out := make(map[string]float64, len(agents))
	for _, a := range agents {
		out[a] = 0
	}
	if len(agents) == 0 || samples <= 0 {
		return out
	}

	perm := append([]string(nil), agents...)
	for s := 0; s < samples; s++ {
		rand.Shuffle(len(perm), func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
		prev := v(nil)
		for i := range perm {
			cur := v(perm[:i+1])
			out[perm[i]] += cur - prev
			prev = cur
		}
	}
	for agent := range out {
		out[agent] /= float64(samples)
	}
	return out
}

var actionWeights = map[events.ActionType]float64{
	events.ActionReasoning:    1.2,
	events.ActionDecision:     1.5,
	events.ActionVerification: 1.0,
	events.ActionDelegation:   0.8,
}

// HeuristicScore is the default influence score when no coalition-value
// function is supplied: 1 for a successful contribution, 0 otherwise,
// weighted by action type.
func HeuristicScore(action events.ActionType, success bool) float64 {
	if !success {
		return 0
	}
	if w, ok := actionWeights[action]; ok {
		return w
	}
	return 1.0
}
