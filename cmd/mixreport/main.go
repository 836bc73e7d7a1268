// Command mixreport empirically verifies the sampling behavior of a
// YAML-declared data source pipeline. It drives the pipeline with a
// synthetic in-memory fetch for a number of steps, tallies which source each
// batch was drawn from, prints observed vs. configured proportions, and
// writes a bar-chart PNG of the result.
//
// Usage:
//
//	mixreport -config pipeline.yaml -steps 10000 -out mixreport.png
package main

import (
	"flag"
	"fmt"
	"image/color"
	"log"
	"math/rand"
	"os"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gopkg.in/yaml.v3"

	"github.com/Noofbiz/datamix/config"
	"github.com/Noofbiz/datamix/datasource"
)

var (
	configPath = flag.String("config", "pipeline.yaml", "path to the YAML pipeline definition")
	steps      = flag.Int("steps", 10000, "number of batches to draw")
	outPath    = flag.String("out", "mixreport.png", "output PNG path")
	batchSize  = flag.Int("batch", 16, "synthetic batch size")
)

func main() {
	flag.Parse()

	data, err := os.ReadFile(*configPath)
	if err != nil {
		log.Fatalf("failed to read config: %v", err)
	}
	var pipe config.Pipeline
	if err := yaml.Unmarshal(data, &pipe); err != nil {
		log.Fatalf("failed to decode config: %v", err)
	}
	ds, err := pipe.Build()
	if err != nil {
		log.Fatalf("failed to build pipeline: %v", err)
	}

	fetch := syntheticFetch(*batchSize)
	counts, fetched, err := tally(ds, fetch, *steps)
	if err != nil {
		log.Fatalf("failed to drive pipeline: %v", err)
	}

	if counts == nil {
		// Simple, chaining and within-batch pipelines produce no selection
		// bookkeeping; there is nothing to tally per source.
		fmt.Printf("Pipeline type %q drew %d batches (no per-batch source selection to report).\n",
			pipe.Type, fetched)
		return
	}

	configured := normalize(pipe.Weights)
	observed := make([]float64, len(counts))
	for i, c := range counts {
		observed[i] = float64(c) / float64(*steps)
	}

	fmt.Printf("Selection over %d batches:\n", *steps)
	for i := range counts {
		name := pipe.FilePatterns[i]
		fmt.Printf("  %-30s configured %.4f observed %.4f (%d batches)\n",
			name, configured[i], observed[i], counts[i])
	}

	if err := plotProportions(*outPath, pipe.FilePatterns, configured, observed); err != nil {
		log.Fatalf("failed to generate plot: %v", err)
	}
	log.Printf("Selection report written to %s", *outPath)
}

// syntheticFetch returns a fetch that fabricates fixed-size batches without
// touching the filesystem, so the report measures only selection behavior.
func syntheticFetch(batchSize int) datasource.FetchFunc {
	rng := rand.New(rand.NewSource(1))
	return func(pattern string, weights []float64) (datasource.Batch, error) {
		inputs := make([][]float32, batchSize)
		labels := make([][]float32, batchSize)
		for i := range batchSize {
			inputs[i] = []float32{rng.Float32(), rng.Float32()}
			labels[i] = []float32{rng.Float32()}
		}
		return datasource.Batch{
			"inputs": tensors.FromAnyValue(inputs),
			"labels": tensors.FromAnyValue(labels),
		}, nil
	}
}

// tally draws steps batches and counts selections per source. counts is nil
// when the pipeline produces no selection bookkeeping.
func tally(ds datasource.DataSource, fetch datasource.FetchFunc, steps int) (counts []int, fetched int, err error) {
	for range steps {
		ret, err := ds.BuildDataSource(fetch)
		if err != nil {
			return nil, fetched, err
		}
		fetched++
		if ret.SelectedBprop == nil {
			continue
		}
		oneHot, ok := ret.SelectedBprop.Value().([]float32)
		if !ok {
			return nil, fetched, fmt.Errorf("selected_bprop is not a float32 vector")
		}
		if counts == nil {
			counts = make([]int, len(oneHot))
		}
		for i, v := range oneHot {
			if v != 0 {
				counts[i]++
			}
		}
	}
	return counts, fetched, nil
}

// normalize scales weights to sum to one.
func normalize(weights []float64) []float64 {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	out := make([]float64, len(weights))
	if total <= 0 {
		return out
	}
	for i, w := range weights {
		out[i] = w / total
	}
	return out
}

// plotProportions writes a grouped bar chart comparing configured and
// observed selection proportions per source.
func plotProportions(outPath string, names []string, configured, observed []float64) error {
	p := plot.New()
	p.Title.Text = "Cross-batch selection: configured (grey) vs observed (blue)"
	p.Y.Label.Text = "fraction of batches"
	p.Y.Min = 0

	width := vg.Points(18)

	cb, err := plotter.NewBarChart(plotter.Values(configured), width)
	if err != nil {
		return err
	}
	cb.Color = color.RGBA{R: 120, G: 120, B: 120, A: 255}
	cb.Offset = -width / 2
	p.Add(cb)
	p.Legend.Add("configured", cb)

	ob, err := plotter.NewBarChart(plotter.Values(observed), width)
	if err != nil {
		return err
	}
	ob.Color = color.RGBA{R: 20, G: 80, B: 200, A: 255}
	ob.Offset = width / 2
	p.Add(ob)
	p.Legend.Add("observed", ob)

	p.Legend.Top = true
	p.NominalX(names...)
	return p.Save(6*vg.Inch, 4*vg.Inch, outPath)
}
