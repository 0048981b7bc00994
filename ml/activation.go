package ml

// Activation is applied element-wise to a layer's pre-activation output.
type Activation interface {
	Name() string
	Sigma(x float64) float64
	SigmaPrime(x float64) float64
}

type ReLUActivation struct{}

func (ReLUActivation) Name() string { return "relu" }

func (ReLUActivation) Sigma(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

func (ReLUActivation) SigmaPrime(x float64) float64 {
	if x > 0 {
		return 1
	}
	return 0
}

type SigmoidActivation struct{}

func (SigmoidActivation) Name() string { return "sigmoid" }

func (SigmoidActivation) Sigma(x float64) float64 { return Sigmoid(x) }

func (SigmoidActivation) SigmaPrime(x float64) float64 {
	y := Sigmoid(x)
	return y * (1 - y)
}
