package datasource

import "fmt"

// SimpleParams configures a SimpleDataSource.
type SimpleParams struct {
	// FilePattern is a single file pattern string. It may contain one
	// pattern or a comma-separated list of patterns; each is sampled from
	// with unspecified (in practice roughly equal) likelihood. To describe
	// explicit mixture weights between patterns use
	// WithinBatchMixingDataSource or CrossBatchMixingDataSource instead.
	FilePattern string
}

// SimpleDataSource is an unweighted, single-pattern data source. The fetch
// collaborator receives the configured pattern verbatim.
type SimpleDataSource struct {
	params SimpleParams
}

// NewSimpleDataSource returns a SimpleDataSource holding a copy of p.
func NewSimpleDataSource(p SimpleParams) *SimpleDataSource {
	return &SimpleDataSource{params: p}
}

// BuildDataSource fetches one batch from the configured pattern. No
// selection bookkeeping is produced.
func (s *SimpleDataSource) BuildDataSource(fetch FetchFunc) (*ComposedBatch, error) {
	if s.params.FilePattern == "" {
		return nil, fmt.Errorf("%w: file_pattern must be a non-empty string; to read multiple"+
			" files join patterns with commas", ErrInvalidConfiguration)
	}
	data, err := fetch(s.params.FilePattern, nil)
	if err != nil {
		return nil, err
	}
	return &ComposedBatch{Data: data}, nil
}
