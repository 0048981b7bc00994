package ml

import "math"

// Adam holds optimizer hyper-parameters. Moment estimates live next to each
// parameter in a gradient.
type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
}

func DefaultAdam() Adam {
	return Adam{
		LearningRate: 0.01,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
	}
}

type gradient struct {
	value float64
	m1    float64
	m2    float64
}

// update returns the bias-corrected Adam step for one parameter at time t.
func (a Adam) update(g *gradient, value float64, t int) float64 {
	g.m1 = g.m1*a.Beta1 + value*(1-a.Beta1)
	g.m2 = g.m2*a.Beta2 + value*value*(1-a.Beta2)
	m1 := g.m1 / (1 - math.Pow(a.Beta1, float64(t)))
	m2 := g.m2 / (1 - math.Pow(a.Beta2, float64(t)))
	return a.LearningRate * m1 / (math.Sqrt(m2) + a.Epsilon)
}

type gradients []gradient

// apply moves params against the accumulated gradient (multiplied by scale)
// and clears the accumulator.
func (gs gradients) apply(params []float64, opt Adam, t int, scale float64) {
	for i := range gs {
		g := &gs[i]
		params[i] -= opt.update(g, g.value*scale, t)
		g.value = 0
	}
}
