package ml

import (
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
)

// Topology describes a dense network: Inputs features, ReLU hidden layers of
// the given widths, and one sigmoid output unit.
type Topology struct {
	Inputs int   `json:"inputs"`
	Hidden []int `json:"hidden"`
}

func (t Topology) Validate() error {
	if t.Inputs <= 0 {
		return errors.New("topology: inputs must be positive")
	}
	for i, width := range t.Hidden {
		if width <= 0 {
			return fmt.Errorf("topology: hidden layer %d has width %d", i, width)
		}
	}
	return nil
}

// layerSizes lists input and output width of each dense layer.
func (t Topology) layerSizes() [][2]int {
	sizes := make([][2]int, 0, len(t.Hidden)+1)
	in := t.Inputs
	for _, width := range t.Hidden {
		sizes = append(sizes, [2]int{in, width})
		in = width
	}
	return append(sizes, [2]int{in, 1})
}

type layer struct {
	inputs     int
	outputs    int
	weights    []float64 // outputs x inputs, row-major
	biases     []float64
	activation Activation

	weightGrads gradients
	biasGrads   gradients
}

func newLayer(inputs, outputs int, activation Activation) *layer {
	return &layer{
		inputs:      inputs,
		outputs:     outputs,
		weights:     make([]float64, inputs*outputs),
		biases:      make([]float64, outputs),
		activation:  activation,
		weightGrads: make(gradients, inputs*outputs),
		biasGrads:   make(gradients, outputs),
	}
}

var networkIDs atomic.Uint64

// Network is a small multilayer perceptron producing one probability.
// It is not safe for concurrent Fit and Predict calls.
type Network struct {
	id       uint64
	revision atomic.Uint64
	topology Topology
	layers   []*layer
	opt      Adam
	step     int
}

// NewNetwork builds an untrained network. Weights are drawn from rnd; biases
// start at zero.
func NewNetwork(topology Topology, rnd *rand.Rand) (*Network, error) {
	n, err := newEmptyNetwork(topology)
	if err != nil {
		return nil, err
	}
	for _, l := range n.layers {
		variance := 1.0 / float64(l.inputs)
		if _, ok := l.activation.(ReLUActivation); ok {
			variance = 2.0 / float64(l.inputs)
		}
		InitUniform(rnd, l.weights, variance)
	}
	return n, nil
}

func newEmptyNetwork(topology Topology) (*Network, error) {
	if err := topology.Validate(); err != nil {
		return nil, err
	}
	topology.Hidden = append([]int(nil), topology.Hidden...)
	n := &Network{
		id:       networkIDs.Add(1),
		topology: topology,
		opt:      DefaultAdam(),
	}
	sizes := topology.layerSizes()
	for i, size := range sizes {
		var activation Activation = ReLUActivation{}
		if i == len(sizes)-1 {
			activation = SigmoidActivation{}
		}
		n.layers = append(n.layers, newLayer(size[0], size[1], activation))
	}
	return n, nil
}

// ID is unique per process for every network built or decoded.
func (n *Network) ID() uint64 { return n.id }

// Revision increases every time the parameters change.
func (n *Network) Revision() uint64 { return n.revision.Load() }

func (n *Network) Topology() Topology {
	t := n.topology
	t.Hidden = append([]int(nil), t.Hidden...)
	return t
}

type buffers struct {
	pre    [][]float64
	acts   [][]float64
	deltas [][]float64
}

func (n *Network) newBuffers() *buffers {
	b := &buffers{
		pre:    make([][]float64, len(n.layers)),
		acts:   make([][]float64, len(n.layers)+1),
		deltas: make([][]float64, len(n.layers)),
	}
	for i, l := range n.layers {
		b.pre[i] = make([]float64, l.outputs)
		b.acts[i+1] = make([]float64, l.outputs)
		b.deltas[i] = make([]float64, l.outputs)
	}
	return b
}

func (n *Network) forward(x []float64, b *buffers) float64 {
	b.acts[0] = x
	for i, l := range n.layers {
		in := b.acts[i]
		for o := 0; o < l.outputs; o++ {
			sum := l.biases[o]
			row := l.weights[o*l.inputs : (o+1)*l.inputs]
			for j, w := range row {
				sum += w * in[j]
			}
			b.pre[i][o] = sum
			b.acts[i+1][o] = l.activation.Sigma(sum)
		}
	}
	return b.acts[len(n.layers)][0]
}

// backward accumulates gradients for one sample given dLoss/dz of the output
// unit. With a sigmoid output and cross-entropy loss that is p - y.
func (n *Network) backward(outDelta float64, b *buffers) {
	last := len(n.layers) - 1
	b.deltas[last][0] = outDelta
	for i := last; i >= 0; i-- {
		l := n.layers[i]
		in := b.acts[i]
		for o := 0; o < l.outputs; o++ {
			d := b.deltas[i][o]
			l.biasGrads[o].value += d
			base := o * l.inputs
			for j := 0; j < l.inputs; j++ {
				l.weightGrads[base+j].value += d * in[j]
			}
		}
		if i == 0 {
			break
		}
		prev := n.layers[i-1]
		for j := 0; j < l.inputs; j++ {
			var sum float64
			for o := 0; o < l.outputs; o++ {
				sum += l.weights[o*l.inputs+j] * b.deltas[i][o]
			}
			b.deltas[i-1][j] = sum * prev.activation.SigmaPrime(b.pre[i-1][j])
		}
	}
}

// Predict runs one forward pass and returns the positive-class probability.
func (n *Network) Predict(x []float64) (float64, error) {
	if len(x) != n.topology.Inputs {
		return 0, fmt.Errorf("expected %d features, got %d", n.topology.Inputs, len(x))
	}
	return n.forward(x, n.newBuffers()), nil
}

// Fit trains in place for the given number of full-batch epochs using binary
// cross-entropy and Adam. Loss and accuracy passed to onEpochEnd are measured
// on the forward passes of that epoch, before its update is applied. If the
// callback fails, training stops and the parameters keep every update made so
// far.
func (n *Network) Fit(xs [][]float64, ys []int, epochs int, onEpochEnd EpochCallback) error {
	if len(xs) == 0 || len(ys) == 0 {
		return errors.New("features or labels empty")
	}
	if len(xs) != len(ys) {
		return errors.New("features and labels size mismatch")
	}
	if epochs <= 0 {
		return errors.New("epochs must be positive")
	}
	for i, x := range xs {
		if len(x) != n.topology.Inputs {
			return fmt.Errorf("sample %d: expected %d features, got %d", i, n.topology.Inputs, len(x))
		}
		if ys[i] != 0 && ys[i] != 1 {
			return fmt.Errorf("sample %d: label must be 0 or 1, got %d", i, ys[i])
		}
	}

	b := n.newBuffers()
	scale := 1 / float64(len(xs))
	for epoch := 0; epoch < epochs; epoch++ {
		var loss float64
		var correct int
		for i, x := range xs {
			p := n.forward(x, b)
			y := float64(ys[i])
			loss += binaryCrossEntropy(p, y)
			if (p >= 0.5) == (ys[i] == 1) {
				correct++
			}
			n.backward(p-y, b)
		}

		n.step++
		for _, l := range n.layers {
			l.weightGrads.apply(l.weights, n.opt, n.step, scale)
			l.biasGrads.apply(l.biases, n.opt, n.step, scale)
		}
		n.revision.Add(1)

		if onEpochEnd != nil {
			logs := EpochLogs{Loss: loss * scale, Accuracy: float64(correct) * scale}
			if err := onEpochEnd(epoch, logs); err != nil {
				return fmt.Errorf("epoch %d: %w", epoch, err)
			}
		}
	}
	return nil
}
