// Package anytrain trains a copyformer.Transformer with
// ground-truth decoder inputs.
package anytrain

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/copyformer"
	"github.com/unixpickle/copyformer/anymask"
	"github.com/unixpickle/copyformer/anysgd"
	"github.com/unixpickle/copyformer/copytask"
	"github.com/unixpickle/essentials"
)

// A Batch stores the shifted target views of a batch of
// samples, along with their attention masks.
type Batch struct {
	Source [][]int

	// TargetIn is every target without its last token.
	TargetIn [][]int

	// TargetOut is every target without its first token.
	TargetOut [][]int

	SourceMask *anymask.Mask
	TargetMask *anymask.Mask
}

// Stats accumulates loss and accuracy counts.
type Stats struct {
	Loss    float64
	Correct int
	Total   int
}

// Accuracy returns Correct/Total, or 0 if Total is 0.
func (s *Stats) Accuracy() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Correct) / float64(s.Total)
}

// A Trainer creates batches, computes gradients, and adds
// up costs and accuracies for a Transformer.
type Trainer struct {
	Model  *copyformer.Transformer
	Cost   copyformer.Cost
	Params []*anydiff.Var

	// PadToken is ignored by the cost.
	PadToken int

	// ExcludePadFromAccuracy removes padding positions
	// from Stats.Total.
	ExcludePadFromAccuracy bool

	// MaxGos specifies the maximum goroutines to use
	// simultaneously for fetching samples.
	// If it is 0, GOMAXPROCS is used.
	MaxGos int

	// After every gradient computation, LastCost is set to
	// the mean cost of the batch.
	LastCost float64

	// Stats is updated by every gradient computation.
	Stats Stats
}

// NewTrainer creates a Trainer using cross-entropy cost
// and every parameter of the model.
func NewTrainer(c *copytask.Config, model *copyformer.Transformer) *Trainer {
	return &Trainer{
		Model:                  model,
		Cost:                   copyformer.CrossEntropy{},
		Params:                 model.Parameters(),
		PadToken:               copytask.PadToken,
		ExcludePadFromAccuracy: c.ExcludePadFromAccuracy,
		MaxGos:                 c.FetchGos,
	}
}

// Fetch produces a *Batch for the subset of samples.
// The s argument must implement copytask.SampleList.
func (t *Trainer) Fetch(s anysgd.SampleList) (anysgd.Batch, error) {
	if s.Len() == 0 {
		return nil, errors.New("fetch batch: empty batch")
	}

	l := s.(copytask.SampleList)
	samples := make([]*copytask.Sample, l.Len())

	idxChan := make(chan int, l.Len())
	for i := 0; i < l.Len(); i++ {
		idxChan <- i
	}
	close(idxChan)

	maxGos := t.MaxGos
	if maxGos == 0 {
		maxGos = runtime.GOMAXPROCS(0)
	}

	wg := sync.WaitGroup{}
	errChan := make(chan error, maxGos)
	for i := 0; i < maxGos; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range idxChan {
				sample, err := l.GetSample(i)
				if err != nil {
					errChan <- essentials.AddCtx("fetch batch", err)
					return
				}
				samples[i] = sample
			}
		}()
	}

	wg.Wait()
	close(errChan)

	if err := <-errChan; err != nil {
		return nil, err
	}

	return NewBatch(samples, t.PadToken)
}

// NewBatch splits the targets of the samples into
// shifted target views and builds the masks.
func NewBatch(samples []*copytask.Sample, pad int) (*Batch, error) {
	res := &Batch{}
	for i, s := range samples {
		if len(s.Target) < 2 {
			return nil, fmt.Errorf("new batch: sample %d: target too short (%d tokens)",
				i, len(s.Target))
		}
		if i > 0 && (len(s.Source) != len(res.Source[0]) ||
			len(s.Target) != len(samples[0].Target)) {
			return nil, fmt.Errorf("new batch: sample %d: mismatching sequence lengths", i)
		}
		res.Source = append(res.Source, s.Source)
		res.TargetIn = append(res.TargetIn, s.Target[:len(s.Target)-1])
		res.TargetOut = append(res.TargetOut, s.Target[1:])
	}
	res.SourceMask, res.TargetMask = anymask.Build(res.Source, res.TargetIn, pad)
	return res, nil
}

// TotalCost computes the mean cost over every target
// position that is not padding.
func (t *Trainer) TotalCost(b *Batch) anydiff.Res {
	cost, _ := t.costAndLogits(b)
	return cost
}

// Gradient computes the gradient for the batch's cost.
// It also sets t.LastCost and adds to t.Stats.
//
// The b argument must be a *Batch.
func (t *Trainer) Gradient(b anysgd.Batch) anydiff.Grad {
	batch := b.(*Batch)
	res := anydiff.NewGrad(t.Params...)

	cost, logits := t.costAndLogits(batch)
	t.LastCost = numericFloat(anyvec.Sum(cost.Output()))

	correct, total := CountCorrect(logits.Output(), batch.TargetOut, t.accuracyIgnore())
	t.Stats.Loss += t.LastCost
	t.Stats.Correct += correct
	t.Stats.Total += total

	c := cost.Output().Creator()
	upstream := c.MakeVectorData(c.MakeNumericList([]float64{1}))
	cost.Propagate(upstream, res)

	return res
}

func (t *Trainer) costAndLogits(b *Batch) (cost, logits anydiff.Res) {
	logits = t.Model.Forward(b.Source, b.TargetIn, b.SourceMask, b.TargetMask)
	c := logits.Output().Creator()
	vocab := t.Model.Output.OutCount
	rows := logits.Output().Len() / vocab

	desired := anydiff.NewConst(copyformer.OneHot(c, b.TargetOut, vocab, t.PadToken))
	var count int
	for _, seq := range b.TargetOut {
		for _, tok := range seq {
			if tok != t.PadToken {
				count++
			}
		}
	}

	return anydiff.Pool(logits, func(logits anydiff.Res) anydiff.Res {
		sum := anydiff.Sum(t.Cost.Cost(desired, logits, rows))
		scale := 0.0
		if count > 0 {
			scale = 1 / float64(count)
		}
		return anydiff.Scale(sum, c.MakeNumeric(scale))
	}), logits
}

func (t *Trainer) accuracyIgnore() int {
	if t.ExcludePadFromAccuracy {
		return t.PadToken
	}
	return -1
}

// CountCorrect counts the rows of logits whose argmax
// equals the expected token.
//
// Expected tokens equal to ignore are skipped entirely.
// Pass a negative ignore to count every position.
func CountCorrect(logits anyvec.Vector, expected [][]int, ignore int) (correct, total int) {
	data := vectorFloats(logits)
	var rows int
	for _, seq := range expected {
		rows += len(seq)
	}
	if rows == 0 || len(data)%rows != 0 {
		panic(fmt.Sprintf("cannot split %d logits into %d rows", len(data), rows))
	}
	cols := len(data) / rows
	var row int
	for _, seq := range expected {
		for _, tok := range seq {
			if tok != ignore {
				if argmax(data[row*cols:(row+1)*cols]) == tok {
					correct++
				}
				total++
			}
			row++
		}
	}
	return
}

func argmax(row []float64) int {
	var best int
	for i, x := range row {
		if x > row[best] {
			best = i
		}
	}
	return best
}

func vectorFloats(v anyvec.Vector) []float64 {
	switch data := v.Data().(type) {
	case []float32:
		res := make([]float64, len(data))
		for i, x := range data {
			res[i] = float64(x)
		}
		return res
	case []float64:
		return data
	default:
		panic(fmt.Sprintf("unsupported vector data: %T", data))
	}
}

func numericFloat(n anyvec.Numeric) float64 {
	switch n := n.(type) {
	case float32:
		return float64(n)
	case float64:
		return n
	default:
		panic(fmt.Sprintf("unsupported numeric: %T", n))
	}
}
