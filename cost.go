package copyformer

import "github.com/unixpickle/anydiff"

// A Cost provides a way to measure the amount of error
// from the output of a network.
//
// Just like regular Layers, a Cost function is batched.
// It takes a packed batch of desired outputs and actual
// outputs, and produces a batch of costs.
type Cost interface {
	Cost(desired, actual anydiff.Res, n int) anydiff.Res
}

// DotCost computes the cost by taking the dot product of
// the desired and actual outputs, and then negating it.
//
// This is meant to be used with LogSoftmax activations.
// When you dot the output of a LogSoftmax with the
// desired probabilities, you get an unbiased measure of
// cross-entropy error.
type DotCost struct{}

// Cost takes the dot product of each actual output with
// each desired output, negates it, and uses that as the
// cost.
func (d DotCost) Cost(desired, actual anydiff.Res, n int) anydiff.Res {
	comb := anydiff.Mul(desired, actual)
	dots := anydiff.SumCols(&anydiff.Matrix{
		Data: comb,
		Rows: n,
		Cols: comb.Output().Len() / n,
	})
	return anydiff.Scale(dots, dots.Output().Creator().MakeNumeric(-1))
}

// CrossEntropy combines a LogSoftmax over raw logits
// with a DotCost.
//
// Rows of desired that are entirely zero (for example,
// one-hot rows for an ignored padding token) produce a
// cost of exactly 0 and contribute nothing to gradients.
type CrossEntropy struct{}

// Cost computes the cross-entropy of each row of logits
// against the corresponding desired distribution.
func (c CrossEntropy) Cost(desired, actual anydiff.Res, n int) anydiff.Res {
	return DotCost{}.Cost(desired, LogSoftmax.Apply(actual, n), n)
}
