// Package run owns the run lifecycle: starting runs with deterministic
// scenario sampling, phase follow-up on state transitions, and the
// recovery scheduler that re-enqueues lost work.
package run

import "sort"

// lcg is a 64-bit linear congruential generator. Sampling must be
// reproducible from the seed alone across releases, so the generator is
// pinned here instead of using the runtime's shuffling.
type lcg struct {
	state uint64
}

func newLCG(seed int64) *lcg {
	return &lcg{state: uint64(seed)}
}

func (g *lcg) next() uint64 {
	g.state = g.state*6364136223846793005 + 1442695040888963407
	return g.state
}

// intn returns a value in [0, n).
func (g *lcg) intn(n int) int {
	return int(g.next() % uint64(n))
}

// SampleScenarios deterministically picks a percentage of the scenario
// ids. At least one scenario is always selected; 100 percent or more
// selects everything. The result is sorted for stable fan-out order.
func SampleScenarios(ids []string, percentage int, seed int64) []string {
	if len(ids) == 0 {
		return nil
	}
	if percentage >= 100 {
		out := make([]string, len(ids))
		copy(out, ids)
		sort.Strings(out)
		return out
	}

	count := len(ids) * percentage / 100
	if count < 1 {
		count = 1
	}

	shuffled := make([]string, len(ids))
	copy(shuffled, ids)
	sort.Strings(shuffled)
	g := newLCG(seed)
	for i := len(shuffled) - 1; i > 0; i-- {
		j := g.intn(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}

	out := shuffled[:count]
	sort.Strings(out)
	return out
}
