package anytrain

import (
	"github.com/unixpickle/copyformer"
	"github.com/unixpickle/copyformer/anysgd"
	"github.com/unixpickle/copyformer/copytask"
	"github.com/unixpickle/essentials"
)

// A Loop trains for a fixed number of epochs and records
// the loss and accuracy of each one.
type Loop struct {
	Trainer *Trainer
	SGD     *anysgd.SGD
	Epochs  int

	// StatusFunc, if non-nil, is called after every epoch
	// with the zero-based epoch index and its metrics.
	StatusFunc func(epoch int, loss, accuracy float64)
}

// NewLoop wires a Trainer and an SGD for the config.
func NewLoop(c *copytask.Config, model *copyformer.Transformer,
	samples copytask.SampleList) (*Loop, error) {
	if err := c.Validate(); err != nil {
		return nil, essentials.AddCtx("new loop", err)
	}
	transformer, err := anysgd.NewTransformer(c.Optimizer)
	if err != nil {
		return nil, essentials.AddCtx("new loop", err)
	}
	t := NewTrainer(c, model)
	return &Loop{
		Trainer: t,
		SGD: &anysgd.SGD{
			Fetcher:     t,
			Gradienter:  t,
			Transformer: transformer,
			Samples:     samples,
			Rater:       anysgd.ConstRater(c.LearningRate),
			Rand:        c.RandFor(copytask.StreamShuffle),
			BatchSize:   c.BatchSize,
		},
		Epochs: c.Epochs,
	}, nil
}

// Run trains for l.Epochs epochs.
//
// If stop is closed or receives a value, training ends
// after the current epoch and the metrics gathered so far
// are returned.
func (l *Loop) Run(stop <-chan struct{}) (*Metrics, error) {
	metrics := NewMetrics()
	for epoch := 0; epoch < l.Epochs; epoch++ {
		select {
		case <-stop:
			return metrics, nil
		default:
		}

		l.Trainer.Stats = Stats{}
		if err := l.SGD.Epoch(); err != nil {
			return metrics, essentials.AddCtx("run training loop", err)
		}

		stats := l.Trainer.Stats
		metrics.Add(stats.Loss, stats.Accuracy())
		if l.StatusFunc != nil {
			l.StatusFunc(epoch, stats.Loss, stats.Accuracy())
		}
	}
	return metrics, nil
}
