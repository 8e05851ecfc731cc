package anysgd

import (
	"math"
	"math/rand"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
)

type testSample struct {
	X2 float64
	Y2 float64
	XY float64
	X  float64
	Y  float64
}

func (t *testSample) Apply(x, y anydiff.Res) anydiff.Res {
	mk := x.Output().Creator().MakeNumeric
	a := anydiff.Scale(anydiff.Mul(x, x), mk(t.X2))
	b := anydiff.Scale(anydiff.Mul(y, y), mk(t.Y2))
	c := anydiff.Scale(anydiff.Mul(x, y), mk(t.XY))
	d := anydiff.Scale(x, mk(t.X))
	e := anydiff.Scale(y, mk(t.Y))
	return anydiff.Add(
		anydiff.Add(a, b),
		anydiff.Add(anydiff.Add(c, d), e),
	)
}

type testSampleList []*testSample

func newTestSampleList() testSampleList {
	// Together, these polynomials add up to 3x^2+3xy-2x+y^2.
	// The global minimum is (x = 4/3, y = -2).
	return testSampleList{
		{X2: 2, X: -1, XY: 0, Y2: 0.5},
		{X2: -1, X: 0, XY: 2, Y2: 0.5},
		{X2: 2, X: -1, XY: 1, Y2: 0},
	}
}

func (t testSampleList) Len() int {
	return len(t)
}

func (t testSampleList) Swap(i, j int) {
	t[i], t[j] = t[j], t[i]
}

func (t testSampleList) Slice(i, j int) SampleList {
	return append(testSampleList{}, t[i:j]...)
}

type testGradienter struct {
	X *anydiff.Var
	Y *anydiff.Var

	NumBatches int
}

func newTestGradienter(c anyvec.Creator) *testGradienter {
	return &testGradienter{
		X: anydiff.NewVar(c.MakeVector(1)),
		Y: anydiff.NewVar(c.MakeVector(1)),
	}
}

func (t *testGradienter) Fetch(s SampleList) (Batch, error) {
	return s, nil
}

func (t *testGradienter) Gradient(b Batch) anydiff.Grad {
	t.NumBatches++
	var cost anydiff.Res
	for _, x := range b.(testSampleList) {
		res := x.Apply(t.X, t.Y)
		if cost == nil {
			cost = res
		} else {
			cost = anydiff.Add(cost, res)
		}
	}
	grad := anydiff.NewGrad(t.X, t.Y)
	c := t.X.Vector.Creator()
	cost.Propagate(c.MakeVectorData(c.MakeNumericList([]float64{1})), grad)
	return grad
}

func (t *testGradienter) current() (x, y float64) {
	return t.X.Vector.Data().([]float64)[0], t.Y.Vector.Data().([]float64)[0]
}

func (t *testGradienter) errorMargin() float64 {
	x, y := t.current()
	return math.Max(math.Abs(x-4.0/3), math.Abs(y+2))
}

func TestSGD(t *testing.T) {
	g := newTestGradienter(anyvec64.CurrentCreator())
	s := &SGD{
		Fetcher:    g,
		Gradienter: g,
		Samples:    newTestSampleList(),
		Rater:      ConstRater(0.01),
		Rand:       rand.New(rand.NewSource(1)),
	}

	for i := 0; i < 5000; i++ {
		if err := s.Epoch(); err != nil {
			t.Fatal(err)
		}
	}

	if g.errorMargin() > 1e-2 {
		x, y := g.current()
		t.Errorf("bad solution: %f, %f", x, y)
	}
}

func TestSGDEpochCoverage(t *testing.T) {
	g := newTestGradienter(anyvec64.CurrentCreator())
	var seen int
	s := &SGD{
		Fetcher:    g,
		Gradienter: g,
		Samples:    newTestSampleList(),
		Rater:      ConstRater(0),
		BatchSize:  2,
		StatusFunc: func(b Batch) {
			seen += b.(testSampleList).Len()
		},
	}
	if err := s.Epoch(); err != nil {
		t.Fatal(err)
	}
	if g.NumBatches != 2 {
		t.Errorf("expected 2 batches but got %d", g.NumBatches)
	}
	if seen != 3 || s.NumProcessed != 3 {
		t.Errorf("expected 3 samples but saw %d (processed %d)", seen, s.NumProcessed)
	}
}

func TestSGDEmpty(t *testing.T) {
	g := newTestGradienter(anyvec64.CurrentCreator())
	s := &SGD{
		Fetcher:    g,
		Gradienter: g,
		Samples:    testSampleList{},
		Rater:      ConstRater(0.1),
	}
	if err := s.Epoch(); err == nil {
		t.Error("expected error for empty sample list")
	}
}
