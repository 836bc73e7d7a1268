// Package datasource describes how file-backed example streams are combined
// into a single stream of training batches.
//
// A DataSource is configured once with the file patterns it reads from and,
// for the mixing variants, the sampling weights between them. Building it
// against a fetch function produces a composed batch together with the
// bookkeeping a trainer needs to restrict gradient updates to the variables
// relevant to the batch's source(s).
//
// The package does not read files itself. All file access goes through the
// FetchFunc collaborator, which owns globbing, record parsing and batching.
// See the csvsource package for a concrete CSV-backed implementation.
package datasource

import (
	"errors"
	"sort"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

var (
	// ErrInvalidConfiguration indicates a malformed data source
	// configuration. It is raised eagerly when BuildDataSource is called,
	// before any fetch occurs.
	ErrInvalidConfiguration = errors.New("invalid data source configuration")

	// ErrNotImplemented indicates BuildDataSource was called on a data
	// source that does not implement it. This is a programming error, not a
	// configuration error, and should not be retried.
	ErrNotImplemented = errors.New("BuildDataSource is not implemented")
)

// Batch is one unit of training data: named tensors that share a leading
// batch dimension. The set of names is up to the fetch collaborator; the
// composition layer treats the contents as opaque.
type Batch map[string]*tensors.Tensor

// BatchSize returns the leading dimension of the first leaf tensor, walking
// leaves in name order so the answer is deterministic. Returns 0 for an
// empty batch.
func (b Batch) BatchSize() int {
	names := make([]string, 0, len(b))
	for name := range b {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t := b[name]
		if t == nil {
			continue
		}
		dims := t.Shape().Dimensions
		if len(dims) == 0 {
			continue
		}
		return dims[0]
	}
	return 0
}

// FetchFunc assembles one batch of examples from a file pattern. The pattern
// may be a comma-joined list of sub-patterns. When weights is non-nil it has
// one entry per sub-pattern and instructs proportional mixing of examples
// inside the returned batch; a nil weights means unweighted reading.
type FetchFunc func(filePattern string, weights []float64) (Batch, error)

// ComposedBatch is the result of building a data source: the batch itself
// plus the source-selection bookkeeping, where the variant produces it.
type ComposedBatch struct {
	// Data is the assembled batch. Always present.
	Data Batch

	// BpropVariableFilters has one entry per declared source, each naming a
	// variable-name filter that restricts backpropagation to that source's
	// parameters. An empty string means no restriction. Nil for
	// SimpleDataSource, which declares no per-source structure.
	BpropVariableFilters []string

	// SelectedBprop is a one-hot vector of length [num sources] identifying
	// which source produced this batch. Only set by cross-batch mixing.
	SelectedBprop *tensors.Tensor

	// SourceSelected is SelectedBprop broadcast to
	// [batch size, num sources], every row identical, so per-example logic
	// downstream can treat source selection uniformly. Only set by
	// cross-batch mixing.
	SourceSelected *tensors.Tensor
}

// DataSource composes one or more file-backed example streams into batches.
// BuildDataSource is a pure function of the source's fixed configuration and
// the fetch collaborator; it may be called once per training step or once to
// build a reusable pipeline. It must not assume fetch is idempotent or free
// of side effects.
type DataSource interface {
	BuildDataSource(fetch FetchFunc) (*ComposedBatch, error)
}

// UnimplementedDataSource can be embedded to stub out the DataSource
// interface while a variant is under construction. Its BuildDataSource
// always fails with ErrNotImplemented.
type UnimplementedDataSource struct{}

// BuildDataSource implements DataSource by failing.
func (UnimplementedDataSource) BuildDataSource(FetchFunc) (*ComposedBatch, error) {
	return nil, ErrNotImplemented
}

// emptyFilters returns the all-empty-string filter list used when a variant
// declares sources but no gradient routing between them.
func emptyFilters(n int) []string {
	return make([]string, n)
}
