package datasource

import (
	"fmt"
	"math/rand"
	"sort"
)

// Producer lazily yields one batch. Producers passed to MixByWeight must
// only do work when invoked: the whole point of cross-batch mixing is that
// unselected sources are never read.
type Producer func() (Batch, error)

// MixByWeight draws one producer index with probability proportional to its
// weight, invokes that producer exactly once and no other, and returns its
// batch together with a one-hot indicator of the drawn index.
//
// Weights must be non-negative and must not all be zero; they need not sum
// to one. Selection uses a cumulative-weight search over rng so callers can
// supply a seeded source for deterministic tests.
func MixByWeight(producers []Producer, weights []float64, rng *rand.Rand) (Batch, []float32, error) {
	if len(producers) == 0 {
		return nil, nil, fmt.Errorf("%w: at least one producer is required", ErrInvalidConfiguration)
	}
	if len(producers) != len(weights) {
		return nil, nil, fmt.Errorf("%w: producers and weights must have the same length,"+
			" found %d producers and %d weights",
			ErrInvalidConfiguration, len(producers), len(weights))
	}
	if err := checkWeights(weights); err != nil {
		return nil, nil, err
	}

	cum := make([]float64, len(weights))
	total := 0.0
	for i, w := range weights {
		total += w
		cum[i] = total
	}

	// Strict > keeps zero-weight entries unselectable even when the draw
	// lands exactly on a cumulative boundary.
	r := rng.Float64() * total
	idx := sort.Search(len(cum), func(i int) bool { return cum[i] > r })
	if idx >= len(producers) {
		idx = len(producers) - 1
	}

	// Fetch failures propagate unmodified; this layer performs no recovery.
	batch, err := producers[idx]()
	if err != nil {
		return nil, nil, err
	}

	oneHot := make([]float32, len(producers))
	oneHot[idx] = 1
	return batch, oneHot, nil
}
