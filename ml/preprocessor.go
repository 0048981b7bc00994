package ml

import (
	"errors"
	"fmt"
)

var ErrMissingFeature = errors.New("missing feature")

// FeatureScale is the fixed shift and divisor applied to one raw feature.
type FeatureScale struct {
	Center float64 `json:"center" yaml:"center"`
	Scale  float64 `json:"scale" yaml:"scale"`
}

// Normalizer turns a raw feature mapping into the ordered, dimensionless
// vector the network consumes.
type Normalizer struct {
	keys   []string
	params map[string]FeatureScale
}

func NewNormalizer(keys []string, params map[string]FeatureScale) (*Normalizer, error) {
	if len(keys) == 0 {
		return nil, errors.New("normalizer needs at least one feature key")
	}
	n := &Normalizer{
		keys:   append([]string(nil), keys...),
		params: make(map[string]FeatureScale, len(keys)),
	}
	for _, key := range keys {
		p, ok := params[key]
		if !ok {
			return nil, fmt.Errorf("no scale for feature %q", key)
		}
		if p.Scale <= 0 {
			return nil, fmt.Errorf("feature %q: scale must be positive", key)
		}
		n.params[key] = p
	}
	return n, nil
}

func (n *Normalizer) Keys() []string {
	return append([]string(nil), n.keys...)
}

// Normalize requires an entry for every key; callers that want zeros for
// missing values must fill them in first.
func (n *Normalizer) Normalize(raw map[string]float64) ([]float64, error) {
	out := make([]float64, len(n.keys))
	for i, key := range n.keys {
		v, ok := raw[key]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingFeature, key)
		}
		p := n.params[key]
		out[i] = Standardize(v, p.Center, p.Scale)
	}
	return out, nil
}

// FeatureStats returns a copy of the per-feature constants.
func (n *Normalizer) FeatureStats() map[string]FeatureScale {
	out := make(map[string]FeatureScale, len(n.params))
	for k, v := range n.params {
		out[k] = v
	}
	return out
}
