// Package csvsource provides a file-backed fetch collaborator over CSV
// shards. A Source reads examples from files matching glob patterns and
// assembles them into named-tensor batches, implementing the fetch contract
// of the datasource package: the pattern may be a comma-joined list of
// sub-patterns, and an optional parallel weight list mixes examples from the
// sub-patterns inside one batch.
//
// Files are loaded lazily, one shard at a time per sub-pattern, and each
// sub-pattern keeps a cursor that advances as examples are drawn and wraps
// at end of data. The cursor is stateful: fetching a pattern consumes
// examples from it.
package csvsource

import (
	"encoding/csv"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gomlx/gomlx/pkg/core/tensors"

	"github.com/Noofbiz/datamix/datasource"
)

// Params configures a Source.
type Params struct {
	// BatchSize is the number of examples per fetched batch. Defaults to 32.
	BatchSize int

	// FeatureColumns names the CSV columns read into the "inputs" tensor,
	// in order. Required.
	FeatureColumns []string

	// LabelColumns names the CSV columns read into the "labels" tensor, in
	// order. Required.
	LabelColumns []string

	// Seed seeds the RNG used for weighted intra-batch sampling. Zero means
	// a time-based seed.
	Seed int64
}

// Source assembles batches from CSV shards. A Source is stateful (it holds
// per-pattern read cursors) and is not safe for concurrent use.
type Source struct {
	params  Params
	rng     *rand.Rand
	cursors map[string]*cursor
}

// New returns a Source with defaults applied.
func New(p Params) (*Source, error) {
	if len(p.FeatureColumns) == 0 {
		return nil, fmt.Errorf("csvsource: FeatureColumns must not be empty")
	}
	if len(p.LabelColumns) == 0 {
		return nil, fmt.Errorf("csvsource: LabelColumns must not be empty")
	}
	if p.BatchSize == 0 {
		p.BatchSize = 32
	}
	p.FeatureColumns = normalizeColumns(p.FeatureColumns)
	p.LabelColumns = normalizeColumns(p.LabelColumns)
	if p.BatchSize < 0 {
		return nil, fmt.Errorf("csvsource: BatchSize must be positive, got %d", p.BatchSize)
	}
	seed := p.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Source{
		params:  p,
		rng:     rand.New(rand.NewSource(seed)),
		cursors: make(map[string]*cursor),
	}, nil
}

// Fetch implements the datasource fetch contract. The pattern may be a
// comma-joined list of glob sub-patterns; weights, when non-nil, has one
// entry per sub-pattern and mixes examples proportionally inside the batch.
// With nil weights the sub-patterns are cycled so each contributes a roughly
// equal share.
func (s *Source) Fetch(filePattern string, weights []float64) (datasource.Batch, error) {
	subs := strings.Split(filePattern, ",")
	if weights != nil && len(weights) != len(subs) {
		return nil, fmt.Errorf("csvsource: %d weights for %d sub-patterns in %q",
			len(weights), len(subs), filePattern)
	}

	var cum []float64
	if weights != nil {
		total := 0.0
		cum = make([]float64, len(weights))
		for i, w := range weights {
			if w < 0 {
				return nil, fmt.Errorf("csvsource: negative weight %v for sub-pattern %q", w, subs[i])
			}
			total += w
			cum[i] = total
		}
		if total <= 0 {
			return nil, fmt.Errorf("csvsource: weights for %q must not all be zero", filePattern)
		}
	}

	cursors := make([]*cursor, len(subs))
	for i, sub := range subs {
		c, err := s.cursorFor(strings.TrimSpace(sub))
		if err != nil {
			return nil, err
		}
		cursors[i] = c
	}

	inputs := make([][]float32, s.params.BatchSize)
	labels := make([][]float32, s.params.BatchSize)
	for i := range s.params.BatchSize {
		var c *cursor
		if cum == nil {
			c = cursors[i%len(cursors)]
		} else {
			r := s.rng.Float64() * cum[len(cum)-1]
			idx := 0
			for idx < len(cum)-1 && cum[idx] <= r {
				idx++
			}
			c = cursors[idx]
		}
		in, lab, err := c.next()
		if err != nil {
			return nil, err
		}
		inputs[i] = in
		labels[i] = lab
	}

	return datasource.Batch{
		"inputs": tensors.FromAnyValue(inputs),
		"labels": tensors.FromAnyValue(labels),
	}, nil
}

// cursorFor returns the read cursor for a sub-pattern, creating it on first
// use. Creation globs the pattern and verifies the expected columns exist;
// no rows are read until the cursor is advanced.
func (s *Source) cursorFor(pattern string) (*cursor, error) {
	if c, ok := s.cursors[pattern]; ok {
		return c, nil
	}
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("csvsource: bad pattern %q: %w", pattern, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("csvsource: no files match pattern %q", pattern)
	}
	c := &cursor{
		pattern:  pattern,
		paths:    paths,
		features: s.params.FeatureColumns,
		labels:   s.params.LabelColumns,
	}
	s.cursors[pattern] = c
	return c, nil
}

// cursor walks the shards of one sub-pattern sequentially, wrapping to the
// first shard after the last row of the last one.
type cursor struct {
	pattern  string
	paths    []string
	features []string
	labels   []string

	fileIdx int
	rowIdx  int
	// rows of the currently loaded shard; nil until first use
	rows     [][]string
	colIndex map[string]int
}

// next returns the features and labels of the next example, advancing the
// cursor.
func (c *cursor) next() ([]float32, []float32, error) {
	if c.rows == nil {
		if err := c.loadFile(c.fileIdx); err != nil {
			return nil, nil, err
		}
	}
	for c.rowIdx >= len(c.rows) {
		c.fileIdx = (c.fileIdx + 1) % len(c.paths)
		c.rowIdx = 0
		if err := c.loadFile(c.fileIdx); err != nil {
			return nil, nil, err
		}
	}

	record := c.rows[c.rowIdx]
	c.rowIdx++

	in, err := c.extract(record, c.features)
	if err != nil {
		return nil, nil, err
	}
	lab, err := c.extract(record, c.labels)
	if err != nil {
		return nil, nil, err
	}
	return in, lab, nil
}

// extract pulls the named columns from one record as float32 values.
func (c *cursor) extract(record []string, cols []string) ([]float32, error) {
	out := make([]float32, len(cols))
	for i, col := range cols {
		idx := c.colIndex[col]
		if idx >= len(record) {
			return nil, fmt.Errorf("csvsource: row in %q is missing column %q", c.pattern, col)
		}
		v, err := parseFloat32(record[idx])
		if err != nil {
			return nil, fmt.Errorf("csvsource: failed to parse column %q: %w", col, err)
		}
		out[i] = v
	}
	return out, nil
}

// loadFile reads one shard into memory and rebuilds the column index from
// its header.
func (c *cursor) loadFile(idx int) error {
	file, err := os.Open(c.paths[idx])
	if err != nil {
		return fmt.Errorf("csvsource: failed to open %s: %w", c.paths[idx], err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	all, err := reader.ReadAll()
	if err != nil {
		return fmt.Errorf("csvsource: failed to read %s: %w", c.paths[idx], err)
	}
	if len(all) == 0 {
		return fmt.Errorf("csvsource: %s has no header", c.paths[idx])
	}

	colIndex := make(map[string]int)
	for i, col := range all[0] {
		colIndex[strings.TrimSpace(strings.ToLower(col))] = i
	}
	for _, col := range c.features {
		if _, ok := colIndex[col]; !ok {
			return fmt.Errorf("csvsource: required column %q not found in %s", col, c.paths[idx])
		}
	}
	for _, col := range c.labels {
		if _, ok := colIndex[col]; !ok {
			return fmt.Errorf("csvsource: required column %q not found in %s", col, c.paths[idx])
		}
	}

	c.colIndex = colIndex
	c.rows = all[1:]
	if len(c.rows) == 0 {
		return fmt.Errorf("csvsource: %s has no data rows", c.paths[idx])
	}
	return nil
}

// normalizeColumns matches the lowercased, trimmed form used for header
// lookup.
func normalizeColumns(cols []string) []string {
	out := make([]string, len(cols))
	for i, col := range cols {
		out[i] = strings.TrimSpace(strings.ToLower(col))
	}
	return out
}

func parseFloat32(s string) (float32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty string")
	}
	v, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, err
	}
	return float32(v), nil
}
