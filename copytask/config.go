// Package copytask defines the synthetic copy task: its
// configuration and its dataset of sequence pairs.
package copytask

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec32"
	"github.com/unixpickle/anyvec/anyvec64"
	"github.com/unixpickle/copyformer"
)

// PadToken is the reserved token ID for padding.
// It never appears in the real content of a sequence.
const PadToken = 0

// Random streams derived from Config.Seed.
const (
	StreamModel = iota
	StreamShuffle
	StreamData
)

// Config stores every hyperparameter for a training run.
// It is created once and treated as read-only afterwards.
type Config struct {
	VocabSize int

	// SeqLen is the length of every (padded) sequence.
	SeqLen int

	// MinSeqLen is the minimum number of real tokens in a
	// sequence.
	// If it is less than SeqLen, shorter sequences are
	// padded with PadToken.
	MinSeqLen int

	NumSamples   int
	BatchSize    int
	LearningRate float64
	Epochs       int

	// Optimizer is a name accepted by anysgd.NewTransformer.
	Optimizer string

	// Device selects the numeric backend: "cpu32" or
	// "cpu64".
	Device string

	// Seed seeds every random stream.
	// If it is 0, the clock is used.
	Seed int64

	ModelSize     int
	NumHeads      int
	HiddenSize    int
	EncoderLayers int
	DecoderLayers int

	// FetchGos is the number of goroutines used to
	// generate samples for a batch.
	// If it is 0, GOMAXPROCS is used.
	FetchGos int

	// ExcludePadFromAccuracy removes padding positions
	// from the accuracy denominator.
	// It is off by default, so padding positions count
	// towards the total.
	ExcludePadFromAccuracy bool

	MetricsPath    string
	CheckpointPath string
}

// DefaultConfig returns the compiled-in configuration.
func DefaultConfig() *Config {
	return &Config{
		VocabSize:     10,
		SeqLen:        5,
		MinSeqLen:     5,
		NumSamples:    1000,
		BatchSize:     4,
		LearningRate:  0.001,
		Epochs:        10,
		Optimizer:     "adam",
		Device:        "cpu32",
		ModelSize:     32,
		NumHeads:      4,
		HiddenSize:    64,
		EncoderLayers: 2,
		DecoderLayers: 2,

		MetricsPath:    "assets/metrics.json",
		CheckpointPath: "checkpoints/transformer.pt",
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	positives := []struct {
		name  string
		value int
	}{
		{"NumSamples", c.NumSamples},
		{"BatchSize", c.BatchSize},
		{"Epochs", c.Epochs},
		{"ModelSize", c.ModelSize},
		{"NumHeads", c.NumHeads},
		{"HiddenSize", c.HiddenSize},
	}
	for _, p := range positives {
		if p.value <= 0 {
			return fmt.Errorf("validate config: %s must be positive (got %d)", p.name, p.value)
		}
	}
	if c.VocabSize < 2 {
		return fmt.Errorf("validate config: VocabSize must be at least 2 (got %d)", c.VocabSize)
	}
	if c.SeqLen < 2 {
		return fmt.Errorf("validate config: SeqLen must be at least 2 (got %d)", c.SeqLen)
	}
	if c.MinSeqLen < 1 || c.MinSeqLen > c.SeqLen {
		return fmt.Errorf("validate config: MinSeqLen must be in [1, %d] (got %d)",
			c.SeqLen, c.MinSeqLen)
	}
	if c.ModelSize%c.NumHeads != 0 {
		return fmt.Errorf("validate config: ModelSize %d not divisible by NumHeads %d",
			c.ModelSize, c.NumHeads)
	}
	if c.EncoderLayers < 0 || c.DecoderLayers < 0 || c.FetchGos < 0 {
		return errors.New("validate config: layer and goroutine counts may not be negative")
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("validate config: LearningRate must be positive (got %f)",
			c.LearningRate)
	}
	if _, err := c.Creator(); err != nil {
		return err
	}
	return nil
}

// Creator returns the anyvec.Creator for c.Device.
func (c *Config) Creator() (anyvec.Creator, error) {
	switch c.Device {
	case "cpu32":
		return anyvec32.CurrentCreator(), nil
	case "cpu64":
		return anyvec64.CurrentCreator(), nil
	default:
		return nil, fmt.Errorf("unknown device: %s", c.Device)
	}
}

// Hyperparams returns the model shape for the task.
// Target sequences are fed to the decoder without their
// last token, so SeqLen bounds both sides.
func (c *Config) Hyperparams() *copyformer.Hyperparams {
	return &copyformer.Hyperparams{
		SourceVocab:   c.VocabSize,
		TargetVocab:   c.VocabSize,
		MaxLen:        c.SeqLen,
		ModelSize:     c.ModelSize,
		NumHeads:      c.NumHeads,
		HiddenSize:    c.HiddenSize,
		EncoderLayers: c.EncoderLayers,
		DecoderLayers: c.DecoderLayers,
	}
}

// ResolveSeed replaces a zero Seed with one taken from
// the clock and returns the seed in use.
func (c *Config) ResolveSeed() int64 {
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
	return c.Seed
}

// RandFor creates an independent random source for one
// of the Stream constants.
// Equal seeds always yield equal streams.
func (c *Config) RandFor(stream int) *rand.Rand {
	return rand.New(rand.NewSource(streamSeed(c.ResolveSeed(), int64(stream))))
}

func streamSeed(seed, stream int64) int64 {
	// splitmix64 finalizer
	z := uint64(seed) + uint64(stream+1)*0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return int64(z ^ (z >> 31))
}
