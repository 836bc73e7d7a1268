// Package trainer contains a small pure-Go MLP trainer that consumes
// composed batches and applies the gradient routing their bookkeeping
// describes: each model variable lives in a named scope, and a batch only
// updates the variables whose scope matches the filter of the source that
// produced it.
//
// The trainer is deliberately framework-free so tests run quickly and
// deterministically; it exists to exercise the selection bookkeeping, not to
// compete with a real training stack.
package trainer

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/Noofbiz/datamix/datasource"
)

// Config holds the model and training hyperparameters.
type Config struct {
	// HiddenSizes lists the hidden layer sizes. Defaults to a single hidden
	// layer of 64.
	HiddenSizes []int

	// InputDim is the feature dimension. Defaults to 2.
	InputDim int

	// OutputDim is the label dimension. Defaults to 1.
	OutputDim int

	// LearningRate for SGD updates. Defaults to 0.01.
	LearningRate float64

	// Scopes optionally names each layer's variable scope, in order, one
	// per layer (hidden layers then output). Scope names are what
	// bprop_variable_filters match against. When empty, layers are scoped
	// "layer0", "layer1", ...
	Scopes []string

	// Seed controls weight initialization. Zero means a time-based seed.
	Seed int64
}

// layer is one dense layer with its variable scope.
type layer struct {
	scope string
	// w is [out][in], b is [out]
	w [][]float32
	b []float32
}

// Model is a configurable MLP with ReLU hidden activations and a linear
// output, trained with minibatch SGD on mean squared error.
type Model struct {
	Config Config

	layers []layer
	rng    *rand.Rand
}

// New creates a Model with the provided configuration, applying defaults and
// initializing weights.
func New(cfg Config) (*Model, error) {
	if len(cfg.HiddenSizes) == 0 {
		cfg.HiddenSizes = []int{64}
	}
	if cfg.InputDim == 0 {
		cfg.InputDim = 2
	}
	if cfg.OutputDim == 0 {
		cfg.OutputDim = 1
	}
	if cfg.LearningRate == 0 {
		cfg.LearningRate = 0.01
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}

	sizes := make([]int, 0, 2+len(cfg.HiddenSizes))
	sizes = append(sizes, cfg.InputDim)
	sizes = append(sizes, cfg.HiddenSizes...)
	sizes = append(sizes, cfg.OutputDim)

	numLayers := len(sizes) - 1
	if len(cfg.Scopes) != 0 && len(cfg.Scopes) != numLayers {
		return nil, fmt.Errorf("trainer: expected %d scopes for %d layers, got %d",
			numLayers, numLayers, len(cfg.Scopes))
	}

	m := &Model{
		Config: cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}
	for l := range numLayers {
		in := sizes[l]
		out := sizes[l+1]
		scope := fmt.Sprintf("layer%d", l)
		if len(cfg.Scopes) != 0 {
			scope = cfg.Scopes[l]
		}
		w := make([][]float32, out)
		limit := float32(math.Sqrt(6.0 / float64(in+out)))
		for j := range out {
			row := make([]float32, in)
			for i := range in {
				row[i] = (m.rng.Float32()*2.0 - 1.0) * limit * 0.5
			}
			w[j] = row
		}
		m.layers = append(m.layers, layer{
			scope: scope,
			w:     w,
			b:     make([]float32, out),
		})
	}
	return m, nil
}

// Scopes returns the variable scopes of the model's layers, in order.
func (m *Model) Scopes() []string {
	out := make([]string, len(m.layers))
	for i, l := range m.layers {
		out[i] = l.scope
	}
	return out
}

// forward runs a single example through the network, returning the
// pre-activations per layer and the activations per layer (with the input at
// index 0).
func (m *Model) forward(input []float32) (preActs, acts [][]float32, err error) {
	if len(input) != len(m.layers[0].w[0]) {
		return nil, nil, fmt.Errorf("trainer: input has dimension %d, model expects %d",
			len(input), len(m.layers[0].w[0]))
	}
	numLayers := len(m.layers)
	acts = make([][]float32, numLayers+1)
	acts[0] = input
	preActs = make([][]float32, numLayers)

	for l, lay := range m.layers {
		inVec := acts[l]
		outDim := len(lay.b)
		pre := make([]float32, outDim)
		for j := range outDim {
			sum := lay.b[j]
			row := lay.w[j]
			for i, v := range inVec {
				sum += row[i] * v
			}
			pre[j] = sum
		}
		preActs[l] = pre

		act := make([]float32, outDim)
		copy(act, pre)
		if l < numLayers-1 {
			for i := range act {
				if act[i] < 0 {
					act[i] = 0
				}
			}
		}
		acts[l+1] = act
	}
	return preActs, acts, nil
}

// Predict returns model outputs for a batch of inputs.
func (m *Model) Predict(inputs [][]float32) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		_, acts, err := m.forward(in)
		if err != nil {
			return nil, err
		}
		out[i] = acts[len(acts)-1]
	}
	return out, nil
}

// Step runs one minibatch SGD step on MSE loss, updating only the layers
// whose scope contains filter. An empty filter updates every layer; a filter
// matching no scope leaves the model unchanged.
func (m *Model) Step(inputs, labels [][]float32, filter string) error {
	if len(inputs) == 0 {
		return errors.New("trainer: empty batch")
	}
	if len(inputs) != len(labels) {
		return fmt.Errorf("trainer: %d inputs but %d labels", len(inputs), len(labels))
	}

	numLayers := len(m.layers)
	gradW := make([][][]float32, numLayers)
	gradB := make([][]float32, numLayers)
	for l, lay := range m.layers {
		outDim := len(lay.b)
		inDim := len(lay.w[0])
		gradW[l] = make([][]float32, outDim)
		for j := range outDim {
			gradW[l][j] = make([]float32, inDim)
		}
		gradB[l] = make([]float32, outDim)
	}

	for ex := range inputs {
		preActs, acts, err := m.forward(inputs[ex])
		if err != nil {
			return err
		}
		outAct := acts[len(acts)-1]
		if len(labels[ex]) != len(outAct) {
			return fmt.Errorf("trainer: label has dimension %d, model outputs %d",
				len(labels[ex]), len(outAct))
		}

		delta := make([]float32, len(outAct))
		for j := range outAct {
			delta[j] = 2.0 * (outAct[j] - labels[ex][j])
		}

		for l := numLayers - 1; l >= 0; l-- {
			inAct := acts[l]
			for j, d := range delta {
				gradB[l][j] += d
				for i, v := range inAct {
					gradW[l][j][i] += d * v
				}
			}
			if l > 0 {
				prevLen := len(m.layers[l].w[0])
				newDelta := make([]float32, prevLen)
				for i := range prevLen {
					sum := float32(0.0)
					for j, d := range delta {
						sum += m.layers[l].w[j][i] * d
					}
					if preActs[l-1][i] <= 0 {
						sum = 0
					}
					newDelta[i] = sum
				}
				delta = newDelta
			}
		}
	}

	// Apply averaged gradients, gated per layer by the variable filter.
	lr := float32(m.Config.LearningRate)
	bInv := float32(1.0 / float64(len(inputs)))
	for l := range m.layers {
		if filter != "" && !strings.Contains(m.layers[l].scope, filter) {
			continue
		}
		for j := range m.layers[l].b {
			m.layers[l].b[j] -= lr * gradB[l][j] * bInv
			for i := range m.layers[l].w[j] {
				m.layers[l].w[j][i] -= lr * gradW[l][j][i] * bInv
			}
		}
	}
	return nil
}

// ResolveFilter returns the variable filter of the source that produced the
// batch: the filter at the selected one-hot index when selection bookkeeping
// is present, or the empty string (no restriction) otherwise.
func ResolveFilter(ret *datasource.ComposedBatch) string {
	if ret.SelectedBprop == nil || len(ret.BpropVariableFilters) == 0 {
		return ""
	}
	oneHot, ok := ret.SelectedBprop.Value().([]float32)
	if !ok {
		return ""
	}
	for i, v := range oneHot {
		if v != 0 && i < len(ret.BpropVariableFilters) {
			return ret.BpropVariableFilters[i]
		}
	}
	return ""
}

// Train pulls one composed batch from ds per step and applies a
// filter-gated SGD step for each. The batch's "inputs" and "labels" tensors
// feed the model; the selection bookkeeping decides which variables update.
func Train(m *Model, ds datasource.DataSource, fetch datasource.FetchFunc, steps int) error {
	for step := range steps {
		ret, err := ds.BuildDataSource(fetch)
		if err != nil {
			return fmt.Errorf("trainer: step %d: %w", step, err)
		}
		inputs, labels, err := batchSlices(ret.Data)
		if err != nil {
			return fmt.Errorf("trainer: step %d: %w", step, err)
		}
		if err := m.Step(inputs, labels, ResolveFilter(ret)); err != nil {
			return fmt.Errorf("trainer: step %d: %w", step, err)
		}
	}
	return nil
}

// batchSlices pulls the "inputs" and "labels" tensors of a batch back out as
// Go slices.
func batchSlices(b datasource.Batch) (inputs, labels [][]float32, err error) {
	in, ok := b["inputs"]
	if !ok {
		return nil, nil, errors.New(`batch has no "inputs" tensor`)
	}
	lab, ok := b["labels"]
	if !ok {
		return nil, nil, errors.New(`batch has no "labels" tensor`)
	}
	inputs, ok = in.Value().([][]float32)
	if !ok {
		return nil, nil, fmt.Errorf(`"inputs" tensor is not a float32 matrix`)
	}
	labels, ok = lab.Value().([][]float32)
	if !ok {
		return nil, nil, fmt.Errorf(`"labels" tensor is not a float32 matrix`)
	}
	return inputs, labels, nil
}
