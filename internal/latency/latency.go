// Package latency provides the reference latency supplier: a nullary
// callable returning a positive integer delay, per SPEC_FULL.md's latency
// supplier contract.
package latency

import "math/rand"

// Exponential returns a network.LatencySampler-shaped callable computing
// 1 + floor(Exponential(1) * mean). rng is injected explicitly rather than
// drawn from the package-level math/rand source, so that dynasty sampling
// (which seeds its own private *rand.Rand per block) and latency sampling
// never share or disturb one another's stream.
func Exponential(mean float64, rng *rand.Rand) func() uint64 {
	return func() uint64 {
		return 1 + uint64(rng.ExpFloat64()*mean)
	}
}
