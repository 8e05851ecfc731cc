package anysgd

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

const (
	rmspropDefaultDecayRate = 0.9
	rmspropDefaultDamping   = 1e-8
)

// RMSProp divides each gradient component by a running
// root-mean-square of its recent values; see:
// http://www.cs.toronto.edu/~tijmen/csc321/slides/lecture_slides_lec6.pdf.
type RMSProp struct {
	// The decay rate for the running average.
	// If it is 0, a default of 0.9 is used.
	DecayRate float64

	// Damping is used to prevent divisions by zero.
	// If it is 0, a default is used.
	Damping float64

	moment anydiff.Grad
}

// Transform transforms the gradient using RMSProp.
//
// This is not thread-safe.
func (r *RMSProp) Transform(realGrad anydiff.Grad) anydiff.Grad {
	decay := valueOrDefault(r.DecayRate, rmspropDefaultDecayRate)
	first := r.moment == nil
	if first {
		r.moment = zeroGrad(realGrad)
	}
	for v, grad := range realGrad {
		c := grad.Creator()
		sq := grad.Copy()
		anyvec.Pow(sq, c.MakeNumeric(2))
		if first {
			r.moment[v].Set(sq)
		} else {
			r.moment[v].Scale(c.MakeNumeric(decay))
			sq.Scale(c.MakeNumeric(1 - decay))
			r.moment[v].Add(sq)
		}

		div := r.moment[v].Copy()
		div.AddScalar(c.MakeNumeric(valueOrDefault(r.Damping, rmspropDefaultDamping)))
		anyvec.Pow(div, c.MakeNumeric(-0.5))
		grad.Mul(div)
	}
	return realGrad
}
