package copytask

import (
	"math/rand"

	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/copyformer/anysgd"
	"github.com/unixpickle/essentials"
)

// A Sample is a source sequence with the target sequence
// the model should learn to produce for it.
type Sample struct {
	Source []int
	Target []int
}

// IsCopy reports whether the target is an exact copy of
// the source.
func IsCopy(s *Sample) bool {
	if len(s.Source) != len(s.Target) {
		return false
	}
	for i, x := range s.Source {
		if s.Target[i] != x {
			return false
		}
	}
	return true
}

// A SampleList is an anysgd.SampleList that produces
// sequence pairs.
type SampleList interface {
	anysgd.SampleList

	GetSample(idx int) (*Sample, error)
	Creator() anyvec.Creator
}

// A Dataset deterministically generates copy-task
// samples from an index.
type Dataset struct {
	VocabSize int
	SeqLen    int
	MinSeqLen int
	Seed      int64
}

// NewDataset creates a Dataset for the configuration.
func NewDataset(c *Config) (*Dataset, error) {
	if err := c.Validate(); err != nil {
		return nil, essentials.AddCtx("new dataset", err)
	}
	return &Dataset{
		VocabSize: c.VocabSize,
		SeqLen:    c.SeqLen,
		MinSeqLen: c.MinSeqLen,
		Seed:      streamSeed(c.ResolveSeed(), StreamData),
	}, nil
}

// Sample generates the sample at the given index.
//
// The result depends only on the index and d's fields,
// so it is safe to call from multiple goroutines.
func (d *Dataset) Sample(idx int) *Sample {
	r := rand.New(rand.NewSource(streamSeed(d.Seed, int64(idx))))
	length := d.SeqLen
	if d.MinSeqLen < d.SeqLen {
		length = d.MinSeqLen + r.Intn(d.SeqLen-d.MinSeqLen+1)
	}
	src := make([]int, d.SeqLen)
	for i := 0; i < length; i++ {
		src[i] = 1 + r.Intn(d.VocabSize-1)
	}
	for i := length; i < d.SeqLen; i++ {
		src[i] = PadToken
	}
	return &Sample{
		Source: src,
		Target: append([]int{}, src...),
	}
}

// Samples is a finite, shuffleable list of indices into
// a Dataset.
type Samples struct {
	Dataset *Dataset
	Indices []int

	creator anyvec.Creator
}

// NewSamples creates the list of c.NumSamples samples.
func NewSamples(c *Config) (*Samples, error) {
	d, err := NewDataset(c)
	if err != nil {
		return nil, err
	}
	creator, err := c.Creator()
	if err != nil {
		return nil, err
	}
	res := &Samples{
		Dataset: d,
		Indices: make([]int, c.NumSamples),
		creator: creator,
	}
	for i := range res.Indices {
		res.Indices[i] = i
	}
	return res, nil
}

// Len returns the number of samples.
func (s *Samples) Len() int {
	return len(s.Indices)
}

// Swap swaps two samples.
func (s *Samples) Swap(i, j int) {
	s.Indices[i], s.Indices[j] = s.Indices[j], s.Indices[i]
}

// Slice copies a sub-slice of the list.
func (s *Samples) Slice(i, j int) anysgd.SampleList {
	return &Samples{
		Dataset: s.Dataset,
		Indices: append([]int{}, s.Indices[i:j]...),
		creator: s.creator,
	}
}

// GetSample generates the sample at the list index.
func (s *Samples) GetSample(idx int) (*Sample, error) {
	return s.Dataset.Sample(s.Indices[idx]), nil
}

// Creator returns the creator for the configured device.
func (s *Samples) Creator() anyvec.Creator {
	return s.creator
}
