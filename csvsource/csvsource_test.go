package csvsource

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/Noofbiz/datamix/datasource"
)

// writeCSV writes a CSV file with the given header and rows to path.
func writeCSV(t *testing.T, path, header string, rows []string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create csv %s: %v", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(header + "\n"); err != nil {
		t.Fatalf("failed to write header: %v", err)
	}
	for _, r := range rows {
		if _, err := f.WriteString(r + "\n"); err != nil {
			t.Fatalf("failed to write row: %v", err)
		}
	}
}

// writeSourceDir writes a two-shard source under dir whose label column
// carries the given tag so examples are traceable to their source.
func writeSourceDir(t *testing.T, dir string, tag float32) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	header := "x,y,label"
	writeCSV(t, filepath.Join(dir, "shard0.csv"), header, []string{
		fmt.Sprintf("1,2,%v", tag),
		fmt.Sprintf("3,4,%v", tag),
	})
	writeCSV(t, filepath.Join(dir, "shard1.csv"), header, []string{
		fmt.Sprintf("5,6,%v", tag),
	})
	return filepath.Join(dir, "*.csv")
}

func newTestSource(t *testing.T, batchSize int) *Source {
	t.Helper()
	s, err := New(Params{
		BatchSize:      batchSize,
		FeatureColumns: []string{"x", "y"},
		LabelColumns:   []string{"label"},
		Seed:           1,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

// labelValues reads the label column of a fetched batch back out of the
// tensor.
func labelValues(t *testing.T, b datasource.Batch) []float32 {
	t.Helper()
	rows := b["labels"].Value().([][]float32)
	out := make([]float32, len(rows))
	for i, row := range rows {
		out[i] = row[0]
	}
	return out
}

func TestFetchSinglePattern(t *testing.T) {
	tmp := t.TempDir()
	pattern := writeSourceDir(t, filepath.Join(tmp, "a"), 100)

	s := newTestSource(t, 4)
	batch, err := s.Fetch(pattern, nil)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	dims := batch["inputs"].Shape().Dimensions
	if len(dims) != 2 || dims[0] != 4 || dims[1] != 2 {
		t.Fatalf("expected inputs shape [4 2], got %v", dims)
	}
	if got := batch.BatchSize(); got != 4 {
		t.Fatalf("expected batch size 4, got %d", got)
	}

	// The source holds 3 rows across 2 shards; the 4th example wraps back
	// to the first shard.
	inputs := batch["inputs"].Value().([][]float32)
	want := [][]float32{{1, 2}, {3, 4}, {5, 6}, {1, 2}}
	for i := range want {
		if inputs[i][0] != want[i][0] || inputs[i][1] != want[i][1] {
			t.Fatalf("example %d: expected %v, got %v", i, want[i], inputs[i])
		}
	}
	for _, lab := range labelValues(t, batch) {
		if lab != 100 {
			t.Fatalf("expected all labels 100, got %v", lab)
		}
	}
}

func TestFetchCursorAdvancesAcrossCalls(t *testing.T) {
	tmp := t.TempDir()
	pattern := writeSourceDir(t, filepath.Join(tmp, "a"), 100)

	s := newTestSource(t, 2)
	first, err := s.Fetch(pattern, nil)
	if err != nil {
		t.Fatalf("first Fetch failed: %v", err)
	}
	second, err := s.Fetch(pattern, nil)
	if err != nil {
		t.Fatalf("second Fetch failed: %v", err)
	}

	// First call consumes rows 0-1, second starts at row 2.
	got := second["inputs"].Value().([][]float32)
	if got[0][0] != 5 || got[0][1] != 6 {
		t.Fatalf("expected second fetch to resume at row 2, got %v (first was %v)",
			got, first["inputs"].Value())
	}
}

func TestFetchRoundRobinMixing(t *testing.T) {
	tmp := t.TempDir()
	patternA := writeSourceDir(t, filepath.Join(tmp, "a"), 100)
	patternB := writeSourceDir(t, filepath.Join(tmp, "b"), 200)

	s := newTestSource(t, 6)
	batch, err := s.Fetch(patternA+","+patternB, nil)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	labels := labelValues(t, batch)
	for i, lab := range labels {
		want := float32(100)
		if i%2 == 1 {
			want = 200
		}
		if lab != want {
			t.Fatalf("example %d: expected label %v, got %v (labels %v)", i, want, lab, labels)
		}
	}
}

func TestFetchWeightedMixing(t *testing.T) {
	tmp := t.TempDir()
	patternA := writeSourceDir(t, filepath.Join(tmp, "a"), 100)
	patternB := writeSourceDir(t, filepath.Join(tmp, "b"), 200)

	// All weight on source A: no example may come from B.
	s := newTestSource(t, 8)
	batch, err := s.Fetch(patternA+","+patternB, []float64{1, 0})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	for i, lab := range labelValues(t, batch) {
		if lab != 100 {
			t.Fatalf("example %d came from the zero-weight source", i)
		}
	}
}

func TestFetchWeightedProportions(t *testing.T) {
	tmp := t.TempDir()
	patternA := writeSourceDir(t, filepath.Join(tmp, "a"), 100)
	patternB := writeSourceDir(t, filepath.Join(tmp, "b"), 200)

	s := newTestSource(t, 4000)
	batch, err := s.Fetch(patternA+","+patternB, []float64{0.75, 0.25})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	fromA := 0
	labels := labelValues(t, batch)
	for _, lab := range labels {
		if lab == 100 {
			fromA++
		}
	}
	frac := float64(fromA) / float64(len(labels))
	if frac < 0.70 || frac > 0.80 {
		t.Fatalf("expected roughly 0.75 of examples from source A, got %f", frac)
	}
}

func TestFetchErrors(t *testing.T) {
	tmp := t.TempDir()
	pattern := writeSourceDir(t, filepath.Join(tmp, "a"), 100)

	s := newTestSource(t, 2)

	if _, err := s.Fetch(pattern, []float64{1, 2}); err == nil {
		t.Fatal("expected error for weight/sub-pattern count mismatch")
	}
	if _, err := s.Fetch(filepath.Join(tmp, "missing", "*.csv"), nil); err == nil {
		t.Fatal("expected error for pattern with no matching files")
	}
	if _, err := s.Fetch(pattern, []float64{0}); err == nil {
		t.Fatal("expected error for all-zero weights")
	}
}

func TestFetchMissingColumn(t *testing.T) {
	tmp := t.TempDir()
	writeCSV(t, filepath.Join(tmp, "bad.csv"), "x,label", []string{"1,7"})

	s := newTestSource(t, 1)
	if _, err := s.Fetch(filepath.Join(tmp, "*.csv"), nil); err == nil {
		t.Fatal("expected error when a required column is missing")
	}
}

// TestCrossBatchOverCSV drives a CrossBatchMixingDataSource with a CSV
// source end to end.
func TestCrossBatchOverCSV(t *testing.T) {
	tmp := t.TempDir()
	patternA := writeSourceDir(t, filepath.Join(tmp, "a"), 100)
	patternB := writeSourceDir(t, filepath.Join(tmp, "b"), 200)

	s := newTestSource(t, 3)
	ds := datasource.NewCrossBatchMixingDataSource(datasource.CrossBatchMixingParams{
		FilePatterns:         []string{patternA, patternB},
		Weights:              []float64{1, 0},
		BpropVariableFilters: []string{"tower_a", "tower_b"},
		Seed:                 2,
	})

	ret, err := ds.BuildDataSource(s.Fetch)
	if err != nil {
		t.Fatalf("BuildDataSource failed: %v", err)
	}
	for _, lab := range labelValues(t, ret.Data) {
		if lab != 100 {
			t.Fatalf("batch is not homogeneous for the selected source: %v", lab)
		}
	}
	selected := ret.SelectedBprop.Value().([]float32)
	if selected[0] != 1 || selected[1] != 0 {
		t.Fatalf("expected selected_bprop [1 0], got %v", selected)
	}
	dims := ret.SourceSelected.Shape().Dimensions
	if len(dims) != 2 || dims[0] != 3 || dims[1] != 2 {
		t.Fatalf("expected source_selected shape [3 2], got %v", dims)
	}
}
