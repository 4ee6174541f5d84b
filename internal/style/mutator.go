package style

import (
	"math/rand"
	"sort"
	"strings"
)

// SampleLines returns k lines sampled from the template's non-blank lines,
// joined by newlines. When the pool holds at least k lines they are drawn
// without replacement, preserving the pool order; a smaller pool is sampled
// with replacement to reach k. k <= 0 or an empty pool returns the template
// unchanged.
func SampleLines(template string, k int, rng *rand.Rand) string {
	if k <= 0 {
		return template
	}
	pool := splitPool(template)
	if len(pool) == 0 {
		return template
	}

	if len(pool) >= k {
		picked := rng.Perm(len(pool))[:k]
		// Keep the template's own ordering so the sampled lines still read
		// like the original document.
		sort.Ints(picked)
		lines := make([]string, k)
		for i, idx := range picked {
			lines[i] = pool[idx]
		}
		return strings.Join(lines, "\n")
	}

	lines := make([]string, k)
	for i := range lines {
		lines[i] = pool[rng.Intn(len(pool))]
	}
	return strings.Join(lines, "\n")
}

func splitPool(template string) []string {
	var pool []string
	for _, line := range strings.Split(template, "\n") {
		if strings.TrimSpace(line) != "" {
			pool = append(pool, line)
		}
	}
	return pool
}
