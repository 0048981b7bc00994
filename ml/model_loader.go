package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

const (
	modelFormat  = "labcheck-mlp"
	modelVersion = 1
)

var ErrIncompatibleModel = errors.New("incompatible model payload")

type modelDocument struct {
	Format   string          `json:"format"`
	Version  int             `json:"version"`
	Topology Topology        `json:"topology"`
	Layers   []layerDocument `json:"layers"`
}

type layerDocument struct {
	Activation string    `json:"activation"`
	Weights    []float64 `json:"weights"`
	Biases     []float64 `json:"biases"`
}

// MarshalJSON encodes architecture and parameters. Optimizer state is not
// persisted.
func (n *Network) MarshalJSON() ([]byte, error) {
	doc := modelDocument{
		Format:   modelFormat,
		Version:  modelVersion,
		Topology: n.Topology(),
		Layers:   make([]layerDocument, len(n.layers)),
	}
	for i, l := range n.layers {
		doc.Layers[i] = layerDocument{
			Activation: l.activation.Name(),
			Weights:    l.weights,
			Biases:     l.biases,
		}
	}
	return json.Marshal(doc)
}

// UnmarshalNetwork decodes a payload written by MarshalJSON. Anything that is
// not exactly the expected format, version and shape fails with
// ErrIncompatibleModel.
func UnmarshalNetwork(data []byte) (*Network, error) {
	var doc modelDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIncompatibleModel, err)
	}
	if doc.Format != modelFormat || doc.Version != modelVersion {
		return nil, fmt.Errorf("%w: format %q version %d", ErrIncompatibleModel, doc.Format, doc.Version)
	}
	n, err := newEmptyNetwork(doc.Topology)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIncompatibleModel, err)
	}
	if len(doc.Layers) != len(n.layers) {
		return nil, fmt.Errorf("%w: expected %d layers, got %d", ErrIncompatibleModel, len(n.layers), len(doc.Layers))
	}
	for i, l := range n.layers {
		ld := doc.Layers[i]
		if ld.Activation != l.activation.Name() {
			return nil, fmt.Errorf("%w: layer %d activation %q", ErrIncompatibleModel, i, ld.Activation)
		}
		if len(ld.Weights) != len(l.weights) || len(ld.Biases) != len(l.biases) {
			return nil, fmt.Errorf("%w: layer %d shape mismatch", ErrIncompatibleModel, i)
		}
		if !allFinite(ld.Weights) || !allFinite(ld.Biases) {
			return nil, fmt.Errorf("%w: layer %d has non-finite parameters", ErrIncompatibleModel, i)
		}
		copy(l.weights, ld.Weights)
		copy(l.biases, ld.Biases)
	}
	return n, nil
}

func allFinite(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
