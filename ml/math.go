package ml

import (
	"math"
	"math/rand"
)

const probabilityEpsilon = 1e-7

// Standardize shifts and scales one raw value. A zero scale maps everything
// to 0.
func Standardize(value, center, scale float64) float64 {
	if scale == 0 {
		return 0
	}
	return (value - center) / scale
}

func Sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// InitUniform fills data with zero-mean uniform noise of the given variance.
func InitUniform(rnd *rand.Rand, data []float64, variance float64) {
	const uniformVariance = 1.0 / 12
	scale := math.Sqrt(variance / uniformVariance)
	for i := range data {
		data[i] = (rnd.Float64() - 0.5) * scale
	}
}

func binaryCrossEntropy(p, y float64) float64 {
	p = math.Min(math.Max(p, probabilityEpsilon), 1-probabilityEpsilon)
	return -(y*math.Log(p) + (1-y)*math.Log(1-p))
}
