// Package config builds data sources from declarative YAML pipeline
// definitions, so a training run can declare its input mixture without code
// changes:
//
//	type: cross_batch
//	file_patterns: [data/en/*.csv, data/de/*.csv]
//	weights: [0.9, 0.1]
//	bprop_variable_filters: [tower_en, tower_de]
//	seed: 42
//
// The loader checks that the declared fields belong to the declared type;
// structural validation (list lengths, commas in patterns) stays with
// BuildDataSource.
package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Noofbiz/datamix/datasource"
)

// Pipeline type names accepted in the YAML `type` field.
const (
	TypeSimple      = "simple"
	TypeChaining    = "chaining"
	TypeWithinBatch = "within_batch"
	TypeCrossBatch  = "cross_batch"
)

// Pipeline is the YAML form of a data source declaration.
type Pipeline struct {
	// Type selects the data source variant: simple, chaining, within_batch
	// or cross_batch.
	Type string `yaml:"type"`

	// FilePattern is the single (possibly comma-joined) pattern of a simple
	// source.
	FilePattern string `yaml:"file_pattern"`

	// FilePatterns lists one pattern per source for the multi-source
	// variants.
	FilePatterns []string `yaml:"file_patterns"`

	// Weights lists one sampling weight per pattern for the mixing
	// variants.
	Weights []float64 `yaml:"weights"`

	// BpropVariableFilters optionally lists one variable filter per pattern
	// for cross-batch mixing.
	BpropVariableFilters []string `yaml:"bprop_variable_filters"`

	// Seed seeds cross-batch selection. Zero means time-based.
	Seed int64 `yaml:"seed"`
}

// Parse decodes a YAML pipeline definition and builds the declared data
// source. Unknown YAML fields are rejected.
func Parse(data []byte) (datasource.DataSource, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("pipeline: definition is empty")
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var p Pipeline
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("pipeline: decode definition: %w", err)
	}
	return p.Build()
}

// Load reads a YAML pipeline definition from disk and builds the declared
// data source.
func Load(path string) (datasource.DataSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pipeline: read %s: %w", path, err)
	}
	ds, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %s: %w", path, err)
	}
	return ds, nil
}

// Build constructs the data source the pipeline declares, rejecting fields
// that do not belong to the declared type.
func (p Pipeline) Build() (datasource.DataSource, error) {
	switch p.Type {
	case TypeSimple:
		if err := p.rejectFields(fieldFilePatterns | fieldWeights | fieldFilters | fieldSeed); err != nil {
			return nil, err
		}
		return datasource.NewSimpleDataSource(datasource.SimpleParams{
			FilePattern: p.FilePattern,
		}), nil
	case TypeChaining:
		if err := p.rejectFields(fieldFilePattern | fieldWeights | fieldFilters | fieldSeed); err != nil {
			return nil, err
		}
		return datasource.NewChainingDataSource(datasource.ChainingParams{
			FilePatterns: p.FilePatterns,
		}), nil
	case TypeWithinBatch:
		if err := p.rejectFields(fieldFilePattern | fieldFilters | fieldSeed); err != nil {
			return nil, err
		}
		return datasource.NewWithinBatchMixingDataSource(datasource.WithinBatchMixingParams{
			FilePatterns: p.FilePatterns,
			Weights:      p.Weights,
		}), nil
	case TypeCrossBatch:
		if err := p.rejectFields(fieldFilePattern); err != nil {
			return nil, err
		}
		return datasource.NewCrossBatchMixingDataSource(datasource.CrossBatchMixingParams{
			FilePatterns:         p.FilePatterns,
			Weights:              p.Weights,
			BpropVariableFilters: p.BpropVariableFilters,
			Seed:                 p.Seed,
		}), nil
	case "":
		return nil, fmt.Errorf("pipeline: type is required (one of simple, chaining, within_batch, cross_batch)")
	default:
		return nil, fmt.Errorf("pipeline: unknown type %q (one of simple, chaining, within_batch, cross_batch)", p.Type)
	}
}

type fieldMask int

const (
	fieldFilePattern fieldMask = 1 << iota
	fieldFilePatterns
	fieldWeights
	fieldFilters
	fieldSeed
)

// rejectFields fails when any of the masked fields is set, naming the first
// offending field in declaration order and the pipeline type it does not
// apply to.
func (p Pipeline) rejectFields(mask fieldMask) error {
	checks := []struct {
		bit     fieldMask
		name    string
		present bool
	}{
		{fieldFilePattern, "file_pattern", p.FilePattern != ""},
		{fieldFilePatterns, "file_patterns", len(p.FilePatterns) > 0},
		{fieldWeights, "weights", len(p.Weights) > 0},
		{fieldFilters, "bprop_variable_filters", len(p.BpropVariableFilters) > 0},
		{fieldSeed, "seed", p.Seed != 0},
	}
	for _, c := range checks {
		if mask&c.bit != 0 && c.present {
			return fmt.Errorf("pipeline: field %s does not apply to type %s", c.name, p.Type)
		}
	}
	return nil
}
