package anytrain

import (
	"math"
	"math/rand"
	"reflect"
	"testing"

	"github.com/unixpickle/anyvec/anyvec64"
	"github.com/unixpickle/copyformer"
	"github.com/unixpickle/copyformer/copytask"
)

func testModel(seed int64) *copyformer.Transformer {
	return copyformer.NewTransformer(anyvec64.CurrentCreator(), rand.New(rand.NewSource(seed)),
		&copyformer.Hyperparams{
			SourceVocab:   6,
			TargetVocab:   6,
			MaxLen:        5,
			ModelSize:     8,
			NumHeads:      2,
			HiddenSize:    8,
			EncoderLayers: 1,
			DecoderLayers: 1,
		})
}

func TestNewBatch(t *testing.T) {
	samples := []*copytask.Sample{
		{Source: []int{3, 4, 5, 0}, Target: []int{3, 4, 5, 0}},
		{Source: []int{1, 2, 3, 4}, Target: []int{1, 2, 3, 4}},
	}
	b, err := NewBatch(samples, copytask.PadToken)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(b.TargetIn, [][]int{{3, 4, 5}, {1, 2, 3}}) {
		t.Errorf("bad target input: %v", b.TargetIn)
	}
	if !reflect.DeepEqual(b.TargetOut, [][]int{{4, 5, 0}, {2, 3, 4}}) {
		t.Errorf("bad target output: %v", b.TargetOut)
	}
	if b.SourceMask.Cols != 4 || b.TargetMask.Rows != 3 || b.TargetMask.Cols != 3 {
		t.Error("bad mask shapes")
	}
	if b.SourceMask.Allows(0, 0, 3) {
		t.Error("source padding not masked")
	}

	if _, err := NewBatch([]*copytask.Sample{{Source: []int{1}, Target: []int{1}}}, 0); err == nil {
		t.Error("expected error for one-token target")
	}
}

func TestTotalCostIgnoresPadding(t *testing.T) {
	model := testModel(1)
	trainer := &Trainer{Model: model, Cost: copyformer.CrossEntropy{},
		Params: model.Parameters()}
	b, err := NewBatch([]*copytask.Sample{
		{Source: []int{3, 4, 0, 0}, Target: []int{3, 4, 0, 0}},
		{Source: []int{1, 2, 3, 4}, Target: []int{1, 2, 3, 4}},
	}, copytask.PadToken)
	if err != nil {
		t.Fatal(err)
	}

	actual := trainer.TotalCost(b).Output().Data().([]float64)[0]

	logits := model.Forward(b.Source, b.TargetIn, b.SourceMask,
		b.TargetMask).Output().Data().([]float64)
	var expected float64
	var count int
	var row int
	for _, seq := range b.TargetOut {
		for _, tok := range seq {
			if tok != copytask.PadToken {
				expected += crossEntropy(logits[row*6:(row+1)*6], tok)
				count++
			}
			row++
		}
	}
	expected /= float64(count)

	if math.Abs(actual-expected) > 1e-8 {
		t.Errorf("expected cost %f but got %f", expected, actual)
	}
}

func TestGradientAccumulatesStats(t *testing.T) {
	model := testModel(2)
	trainer := &Trainer{Model: model, Cost: copyformer.CrossEntropy{},
		Params: model.Parameters()}
	b, _ := NewBatch([]*copytask.Sample{
		{Source: []int{3, 4, 0, 0}, Target: []int{3, 4, 0, 0}},
	}, copytask.PadToken)

	grad := trainer.Gradient(b)
	if len(grad) != len(model.Parameters()) {
		t.Errorf("expected %d gradients but got %d", len(model.Parameters()), len(grad))
	}
	if trainer.Stats.Total != 3 {
		t.Errorf("expected 3 total tokens but got %d", trainer.Stats.Total)
	}
	if trainer.Stats.Loss != trainer.LastCost {
		t.Errorf("loss %f does not match last cost %f", trainer.Stats.Loss, trainer.LastCost)
	}

	trainer.Stats = Stats{}
	trainer.ExcludePadFromAccuracy = true
	trainer.Gradient(b)
	if trainer.Stats.Total != 1 {
		t.Errorf("expected 1 real token but got %d", trainer.Stats.Total)
	}
}

func TestCountCorrect(t *testing.T) {
	logits := anyvec64.MakeVectorData([]float64{
		0, 5, 1,
		2, 0, 1,
		0, 0, 3,
		1, 0, 0,
	})
	expected := [][]int{{1, 2}, {2, 0}}
	correct, total := CountCorrect(logits, expected, -1)
	if correct != 3 || total != 4 {
		t.Errorf("expected 3/4 but got %d/%d", correct, total)
	}
	correct, total = CountCorrect(logits, expected, 0)
	if correct != 2 || total != 3 {
		t.Errorf("expected 2/3 but got %d/%d", correct, total)
	}
}

func crossEntropy(logits []float64, target int) float64 {
	max := logits[0]
	for _, x := range logits {
		max = math.Max(max, x)
	}
	var sum float64
	for _, x := range logits {
		sum += math.Exp(x - max)
	}
	return math.Log(sum) + max - logits[target]
}
