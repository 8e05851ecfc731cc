package anysgd

import (
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

const (
	adamDefaultDecayRate1 = 0.9
	adamDefaultDecayRate2 = 0.999
	adamDefaultDamping    = 1e-8
)

// Adam implements the adaptive moments SGD technique
// described in https://arxiv.org/pdf/1412.6980.pdf.
//
// The damping term is added after the square root of the
// second moment, matching the usual formulation
//
//     m_hat / (sqrt(v_hat) + damping)
type Adam struct {
	// These are decay rates for the first and second
	// moments of the gradient.
	// If these are 0, defaults as suggested in the
	// original Adam paper are used.
	DecayRate1, DecayRate2 float64

	// Damping is used to prevent divisions by zero.
	// If it is 0, a default is used.
	Damping float64

	firstMoment  anydiff.Grad
	secondMoment anydiff.Grad
	iteration    float64
}

// Transform replaces the gradient with the bias-corrected
// Adam step direction.
//
// This is not thread-safe.
func (a *Adam) Transform(realGrad anydiff.Grad) anydiff.Grad {
	rate1 := valueOrDefault(a.DecayRate1, adamDefaultDecayRate1)
	rate2 := valueOrDefault(a.DecayRate2, adamDefaultDecayRate2)

	if a.firstMoment == nil {
		a.firstMoment = zeroGrad(realGrad)
		a.secondMoment = zeroGrad(realGrad)
	}
	a.iteration++

	correction1 := 1 / (1 - math.Pow(rate1, a.iteration))
	correction2 := 1 / (1 - math.Pow(rate2, a.iteration))
	damping := valueOrDefault(a.Damping, adamDefaultDamping)

	for variable, vec := range realGrad {
		c := vec.Creator()
		first := a.firstMoment[variable]
		second := a.secondMoment[variable]

		first.Scale(c.MakeNumeric(rate1))
		scaled := vec.Copy()
		scaled.Scale(c.MakeNumeric(1 - rate1))
		first.Add(scaled)

		second.Scale(c.MakeNumeric(rate2))
		sq := vec.Copy()
		anyvec.Pow(sq, c.MakeNumeric(2))
		sq.Scale(c.MakeNumeric(1 - rate2))
		second.Add(sq)

		divisor := second.Copy()
		divisor.Scale(c.MakeNumeric(correction2))
		anyvec.Pow(divisor, c.MakeNumeric(0.5))
		divisor.AddScalar(c.MakeNumeric(damping))

		vec.Set(first)
		vec.Scale(c.MakeNumeric(correction1))
		vec.Div(divisor)
	}

	return realGrad
}

func zeroGrad(g anydiff.Grad) anydiff.Grad {
	res := anydiff.Grad{}
	for v, vec := range g {
		res[v] = vec.Creator().MakeVector(vec.Len())
	}
	return res
}
