package copyformer

import (
	"math"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anydifftest"
	"github.com/unixpickle/anyvec/anyvec32"
	"github.com/unixpickle/anyvec/anyvec64"
)

func TestDotCost(t *testing.T) {
	testCost(t, DotCost{}, []float32{
		1, 0.5, 2,
		3, -1, 2,
	}, []float32{
		-1, -2, -3,
		-2, -3, -1,
	}, []float32{8, 5}, 2)
}

func TestCrossEntropy(t *testing.T) {
	// log(e^1 + e^2 + e^3) = 3.40760596
	testCost(t, CrossEntropy{}, []float32{
		0, 1, 0,
		0, 0, 0,
		1, 0, 0,
	}, []float32{
		1, 2, 3,
		1, 2, 3,
		1, 2, 3,
	}, []float32{3.40760596 - 2, 0, 3.40760596 - 1}, 3)
}

func TestCrossEntropyIgnoredRows(t *testing.T) {
	logits := anydiff.NewVar(anyvec64.MakeVectorData([]float64{
		0.5, -1, 2,
		3, 0.1, -0.7,
	}))
	desired := anydiff.NewConst(anyvec64.MakeVectorData([]float64{
		0, 0, 1,
		0, 0, 0,
	}))
	cost := anydiff.Sum(CrossEntropy{}.Cost(desired, logits, 2))
	grad := anydiff.NewGrad(logits)
	one := anyvec64.MakeVectorData([]float64{1})
	cost.Propagate(one, grad)
	for i, x := range grad[logits].Data().([]float64)[3:] {
		if x != 0 {
			t.Errorf("ignored row component %d has gradient %f", i, x)
		}
	}

	checker := &anydifftest.ResChecker{
		F: func() anydiff.Res {
			return CrossEntropy{}.Cost(desired, logits, 2)
		},
		V: []*anydiff.Var{logits},
	}
	checker.FullCheck(t)
}

func testCost(t *testing.T, c Cost, desired, output, expected []float32, n int) {
	desiredRes := anydiff.NewConst(anyvec32.MakeVectorData(desired))
	outputRes := anydiff.NewConst(anyvec32.MakeVectorData(output))

	actual := c.Cost(desiredRes, outputRes, n).Output().Data().([]float32)

	for i, x := range expected {
		a := actual[i]
		if math.IsNaN(float64(a)) || math.Abs(float64(x-a)) > 1e-3 {
			t.Errorf("component %d: expected %f but got %f", i, x, a)
		}
	}
}
