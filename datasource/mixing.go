package datasource

import (
	"fmt"
	"math/rand"
	"slices"
	"strings"
	"time"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// WithinBatchMixingParams configures a WithinBatchMixingDataSource.
type WithinBatchMixingParams struct {
	// FilePatterns is a list of file pattern strings. Individual patterns
	// must not contain commas.
	FilePatterns []string

	// Weights has one non-negative entry per file pattern and controls the
	// proportion of examples each pattern contributes to a batch.
	Weights []float64
}

// WithinBatchMixingDataSource mixes examples from several sources inside a
// single batch, proportionally to the configured weights. The mixing itself
// happens at per-example granularity inside the fetch collaborator; one
// batch may contain examples from several sources simultaneously.
type WithinBatchMixingDataSource struct {
	params WithinBatchMixingParams
}

// NewWithinBatchMixingDataSource returns a WithinBatchMixingDataSource
// holding a copy of p.
func NewWithinBatchMixingDataSource(p WithinBatchMixingParams) *WithinBatchMixingDataSource {
	p.FilePatterns = slices.Clone(p.FilePatterns)
	p.Weights = slices.Clone(p.Weights)
	return &WithinBatchMixingDataSource{params: p}
}

// BuildDataSource joins the configured patterns with commas and fetches once
// with the weights forwarded. The returned filters are all empty: gradient
// routing is not meaningful at sub-batch granularity.
func (s *WithinBatchMixingDataSource) BuildDataSource(fetch FetchFunc) (*ComposedBatch, error) {
	p := s.params
	if len(p.FilePatterns) == 0 {
		return nil, fmt.Errorf("%w: file_patterns must be a non-empty list", ErrInvalidConfiguration)
	}
	if len(p.FilePatterns) != len(p.Weights) {
		return nil, fmt.Errorf("%w: file_patterns and weights must have the same length,"+
			" found %d file_patterns and %d weights",
			ErrInvalidConfiguration, len(p.FilePatterns), len(p.Weights))
	}
	if err := checkNoCommas(p.FilePatterns, "within-batch mixing"); err != nil {
		return nil, err
	}
	if err := checkWeights(p.Weights); err != nil {
		return nil, err
	}
	data, err := fetch(strings.Join(p.FilePatterns, ","), p.Weights)
	if err != nil {
		return nil, err
	}
	return &ComposedBatch{
		Data:                 data,
		BpropVariableFilters: emptyFilters(len(p.FilePatterns)),
	}, nil
}

// CrossBatchMixingParams configures a CrossBatchMixingDataSource.
type CrossBatchMixingParams struct {
	// FilePatterns is a list of file pattern strings, one per source. Each
	// is fetched on its own, so a pattern may itself be a comma-joined list.
	FilePatterns []string

	// Weights has one non-negative entry per file pattern; a source is
	// selected per batch with probability proportional to its weight. The
	// weights need not sum to one, but must not all be zero.
	Weights []float64

	// BpropVariableFilters optionally names a variable filter per file
	// pattern, restricting backpropagation for batches drawn from that
	// source. When empty it defaults to no restriction for every source;
	// when non-empty it must have the same length as FilePatterns.
	BpropVariableFilters []string

	// Seed seeds the selection RNG. Zero means a time-based seed.
	Seed int64
}

// CrossBatchMixingDataSource selects exactly one whole source per batch,
// with selection frequency proportional to the configured weights. Batches
// are homogeneous, so the selected source's variable filter applies
// uniformly to the whole batch.
//
// A single instance owns its RNG and is not safe for concurrent
// BuildDataSource calls; independent instances are.
type CrossBatchMixingDataSource struct {
	params CrossBatchMixingParams
	rng    *rand.Rand
}

// NewCrossBatchMixingDataSource returns a CrossBatchMixingDataSource holding
// a copy of p, with its selection RNG seeded from p.Seed.
func NewCrossBatchMixingDataSource(p CrossBatchMixingParams) *CrossBatchMixingDataSource {
	p.FilePatterns = slices.Clone(p.FilePatterns)
	p.Weights = slices.Clone(p.Weights)
	p.BpropVariableFilters = slices.Clone(p.BpropVariableFilters)
	seed := p.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &CrossBatchMixingDataSource{
		params: p,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// BuildDataSource draws one source according to the weights, fetches a batch
// from it alone, and returns the batch together with the selection
// bookkeeping. Each pattern is wrapped in a lazy producer so that only the
// selected source is fetched; fetching may advance a stateful file cursor,
// so unselected sources must not be touched.
func (s *CrossBatchMixingDataSource) BuildDataSource(fetch FetchFunc) (*ComposedBatch, error) {
	p := s.params
	if len(p.FilePatterns) == 0 {
		return nil, fmt.Errorf("%w: file_patterns must be a non-empty list", ErrInvalidConfiguration)
	}
	if len(p.FilePatterns) != len(p.Weights) {
		return nil, fmt.Errorf("%w: file_patterns and weights must have the same length,"+
			" found %d file_patterns and %d weights",
			ErrInvalidConfiguration, len(p.FilePatterns), len(p.Weights))
	}
	if n := len(p.BpropVariableFilters); n != 0 && n != len(p.FilePatterns) {
		return nil, fmt.Errorf("%w: bprop_variable_filters must be empty or match file_patterns,"+
			" found %d filters and %d file_patterns",
			ErrInvalidConfiguration, n, len(p.FilePatterns))
	}

	producers := make([]Producer, len(p.FilePatterns))
	for i, pattern := range p.FilePatterns {
		producers[i] = func() (Batch, error) {
			return fetch(pattern, nil)
		}
	}

	data, selected, err := MixByWeight(producers, p.Weights, s.rng)
	if err != nil {
		return nil, err
	}

	filters := p.BpropVariableFilters
	if len(filters) == 0 {
		filters = emptyFilters(len(p.FilePatterns))
	} else {
		filters = slices.Clone(filters)
	}

	// Replicate the one-hot per example so downstream per-example logic can
	// treat source selection uniformly across mixing strategies. A batch
	// without a leading batch dimension has no per-example rows to build,
	// so it is rejected rather than left to panic in tensor construction.
	batchSize := data.BatchSize()
	if batchSize == 0 {
		return nil, fmt.Errorf("fetch returned an empty batch for pattern %q", selectedPattern(p.FilePatterns, selected))
	}
	rows := make([][]float32, batchSize)
	for i := range rows {
		rows[i] = selected
	}

	return &ComposedBatch{
		Data:                 data,
		BpropVariableFilters: filters,
		SelectedBprop:        tensors.FromAnyValue(selected),
		SourceSelected:       tensors.FromAnyValue(rows),
	}, nil
}

// selectedPattern names the pattern at the one-hot index, for error
// messages.
func selectedPattern(patterns []string, oneHot []float32) string {
	for i, v := range oneHot {
		if v != 0 && i < len(patterns) {
			return patterns[i]
		}
	}
	return ""
}

// checkWeights rejects negative weights and all-zero weight lists. A silent
// uniform fallback on all-zero weights would mask a configuration bug, so it
// is an error instead.
func checkWeights(weights []float64) error {
	total := 0.0
	for i, w := range weights {
		if w < 0 {
			return fmt.Errorf("%w: weights must be non-negative, weights[%d] = %v",
				ErrInvalidConfiguration, i, w)
		}
		total += w
	}
	if total <= 0 {
		return fmt.Errorf("%w: weights must not all be zero", ErrInvalidConfiguration)
	}
	return nil
}
