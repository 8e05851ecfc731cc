package anysgd

import "github.com/unixpickle/anydiff"

// Momentum implements SGD with momentum.
//
// The transformed gradient v is computed as
//
//     v := momentum * v + grad
//
// where v starts out at zero.
type Momentum struct {
	Momentum float64
	velocity anydiff.Grad
}

// Transform transforms the gradient using momentum.
//
// This is not thread-safe.
func (m *Momentum) Transform(g anydiff.Grad) anydiff.Grad {
	if m.velocity == nil {
		m.velocity = zeroGrad(g)
	}
	for v, grad := range g {
		vel := m.velocity[v]
		vel.Scale(vel.Creator().MakeNumeric(m.Momentum))
		vel.Add(grad)
		grad.Set(vel)
	}
	return g
}
