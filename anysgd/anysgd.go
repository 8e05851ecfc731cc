// Package anysgd provides tools for Stochastic Gradient
// Descent over anydiff parameters.
package anysgd

import (
	"errors"
	"math/rand"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/essentials"
)

// SGD performs stochastic gradient descent, one epoch at
// a time.
type SGD struct {
	// Fetcher is used to turn each mini-batch of samples
	// into a Batch for the Gradienter.
	Fetcher Fetcher

	// Gradienter is used to compute initial, untransformed
	// gradients for each mini-batch.
	Gradienter Gradienter

	// Transformer, if non-nil, is used to transform each
	// gradient before the step.
	Transformer Transformer

	// Samples is the list of training samples to use for
	// training.
	// It is re-shuffled at the start of every epoch.
	//
	// The list may not be empty.
	Samples SampleList

	// Rater determines the learning rate for each step.
	Rater Rater

	// Rand is used for shuffling.
	// If it is nil, the global random source is used.
	Rand *rand.Rand

	// StatusFunc, if non-nil, is called after every
	// mini-batch step.
	StatusFunc func(b Batch)

	// BatchSize is the mini-batch size.
	// If it is 0, then the entire sample list is used at
	// every iteration.
	BatchSize int

	// NumProcessed keeps track of the number of samples that
	// have been passed to Gradienter so far.
	// It is used to compute the epoch for Rater.
	NumProcessed int
}

// Epoch shuffles the samples and then performs one step
// for every non-overlapping mini-batch, so that each
// sample is used exactly once.
//
// If fetching a batch fails, the epoch is aborted and
// the error is returned.
func (s *SGD) Epoch() error {
	if s.Samples.Len() == 0 {
		return errors.New("run SGD epoch: empty sample list")
	}
	Shuffle(s.Rand, s.Samples)
	for idx := 0; idx < s.Samples.Len(); {
		batchSize := s.batchSize(s.Samples.Len() - idx)
		batch, err := s.Fetcher.Fetch(s.Samples.Slice(idx, idx+batchSize))
		if err != nil {
			return essentials.AddCtx("run SGD epoch", err)
		}
		idx += batchSize

		grad := s.Gradienter.Gradient(batch)
		if s.Transformer != nil {
			grad = s.Transformer.Transform(grad)
		}

		epoch := float64(s.NumProcessed) / float64(s.Samples.Len())
		scaleGradient(grad, -s.Rater.Rate(epoch))
		grad.AddToVars()

		s.NumProcessed += batchSize

		if s.StatusFunc != nil {
			s.StatusFunc(batch)
		}
	}
	return nil
}

func (s *SGD) batchSize(remaining int) int {
	if s.BatchSize == 0 || s.BatchSize > remaining {
		return remaining
	} else {
		return s.BatchSize
	}
}

func scaleGradient(g anydiff.Grad, s float64) {
	for _, v := range g {
		g.Scale(v.Creator().MakeNumeric(s))
		return
	}
}
