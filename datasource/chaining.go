package datasource

import (
	"fmt"
	"slices"
	"strings"
)

// ChainingParams configures a ChainingDataSource.
type ChainingParams struct {
	// FilePatterns is an ordered list of file pattern strings that are read
	// from in sequence. Individual patterns must not contain commas, since
	// the comma is the delimiter used to join them for the fetch
	// collaborator.
	FilePatterns []string
}

// ChainingDataSource concatenates several file patterns into one fetch call.
// The fetch collaborator treats the joined pattern as a single interleaved
// stream; there is no per-source weighting and every source contributes to
// every batch.
type ChainingDataSource struct {
	params ChainingParams
}

// NewChainingDataSource returns a ChainingDataSource holding a copy of p.
func NewChainingDataSource(p ChainingParams) *ChainingDataSource {
	p.FilePatterns = slices.Clone(p.FilePatterns)
	return &ChainingDataSource{params: p}
}

// BuildDataSource joins the configured patterns with commas and fetches once
// on the joined string. The returned filters are all empty: chaining offers
// no selective gradient routing.
func (s *ChainingDataSource) BuildDataSource(fetch FetchFunc) (*ComposedBatch, error) {
	p := s.params
	if len(p.FilePatterns) == 0 {
		return nil, fmt.Errorf("%w: file_patterns must be a non-empty list", ErrInvalidConfiguration)
	}
	if err := checkNoCommas(p.FilePatterns, "chaining"); err != nil {
		return nil, err
	}
	data, err := fetch(strings.Join(p.FilePatterns, ","), nil)
	if err != nil {
		return nil, err
	}
	return &ComposedBatch{
		Data:                 data,
		BpropVariableFilters: emptyFilters(len(p.FilePatterns)),
	}, nil
}

// checkNoCommas rejects patterns that would corrupt a comma-joined pattern
// list.
func checkNoCommas(patterns []string, mode string) error {
	for _, pattern := range patterns {
		if strings.Contains(pattern, ",") {
			return fmt.Errorf("%w: file_pattern %q must not contain a comma when %s is used",
				ErrInvalidConfiguration, pattern, mode)
		}
	}
	return nil
}
