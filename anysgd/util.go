package anysgd

import (
	"fmt"
	"math/rand"
)

// Shuffle shuffles a list of samples using r, or the
// global random source if r is nil.
// If the list implements PostShuffler, then PostShuffle
// is called after the shuffle completes.
func Shuffle(r *rand.Rand, s SampleList) {
	intn := rand.Intn
	if r != nil {
		intn = r.Intn
	}
	for i := 0; i < s.Len(); i++ {
		j := i + intn(s.Len()-i)
		s.Swap(i, j)
	}
	if p, ok := s.(PostShuffler); ok {
		p.PostShuffle()
	}
}

// A ConstRater is a Rater which always returns the same
// constant learning rate.
type ConstRater float64

// Rate returns float64(c).
func (c ConstRater) Rate(epoch float64) float64 {
	return float64(c)
}

// NewTransformer creates a gradient Transformer by name.
//
// Supported names are "adam", "rmsprop", "momentum" and
// "sgd" (plain gradients, which yields a nil Transformer).
func NewTransformer(name string) (Transformer, error) {
	switch name {
	case "adam":
		return &Adam{}, nil
	case "rmsprop":
		return &RMSProp{}, nil
	case "momentum":
		return &Momentum{Momentum: 0.9}, nil
	case "sgd":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown optimizer: %s", name)
	}
}

func valueOrDefault(value, def float64) float64 {
	if value == 0 {
		return def
	}
	return value
}
