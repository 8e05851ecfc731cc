package copyformer

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

const defaultLayerNormStabilizer = 1e-5

func init() {
	var l LayerNorm
	serializer.RegisterTypedDeserializer(l.SerializerType(), DeserializeLayerNorm)
}

// LayerNorm normalizes every row vector to zero mean and
// unit variance, then applies a learned Affine.
type LayerNorm struct {
	Size   int
	Affine *Affine

	// Stabilizer is added to variances to keep them from
	// being 0.
	//
	// If it is 0, a default is used.
	Stabilizer float64
}

// DeserializeLayerNorm deserializes a LayerNorm.
func DeserializeLayerNorm(d []byte) (*LayerNorm, error) {
	var res LayerNorm
	var stab serializer.Float64
	if err := serializer.DeserializeAny(d, &res.Affine, &stab); err != nil {
		return nil, essentials.AddCtx("deserialize LayerNorm", err)
	}
	res.Size = res.Affine.Scalers.Vector.Len()
	res.Stabilizer = float64(stab)
	return &res, nil
}

// NewLayerNorm creates a LayerNorm for rows of the given
// size.
func NewLayerNorm(c anyvec.Creator, size int) *LayerNorm {
	return &LayerNorm{
		Size:   size,
		Affine: NewAffineIdentity(c, size),
	}
}

// Apply normalizes each of the n rows in the input.
func (l *LayerNorm) Apply(in anydiff.Res, n int) anydiff.Res {
	if in.Output().Len() != n*l.Size {
		panic(fmt.Sprintf("input length should be %d, but got %d", n*l.Size,
			in.Output().Len()))
	}
	c := in.Output().Creator()
	invSize := c.MakeNumeric(1 / float64(l.Size))
	return anydiff.Pool(in, func(in anydiff.Res) anydiff.Res {
		// Work on the transpose so that per-row statistics
		// can be broadcast with the *Repeated functions.
		mean := anydiff.Scale(anydiff.SumCols(&anydiff.Matrix{
			Data: in,
			Rows: n,
			Cols: l.Size,
		}), invSize)
		inT := anydiff.Transpose(&anydiff.Matrix{Data: in, Rows: n, Cols: l.Size})
		centeredT := anydiff.AddRepeated(inT.Data, anydiff.Scale(mean, c.MakeNumeric(-1)))
		return anydiff.Pool(centeredT, func(centeredT anydiff.Res) anydiff.Res {
			centered := anydiff.Transpose(&anydiff.Matrix{
				Data: centeredT,
				Rows: l.Size,
				Cols: n,
			})
			variance := anydiff.Scale(anydiff.SumCols(&anydiff.Matrix{
				Data: anydiff.Square(centered.Data),
				Rows: n,
				Cols: l.Size,
			}), invSize)
			variance = anydiff.AddScalar(variance, c.MakeNumeric(l.stabilizer()))
			normalizer := anydiff.Pow(variance, c.MakeNumeric(-0.5))
			normalized := anydiff.Transpose(&anydiff.Matrix{
				Data: anydiff.ScaleRepeated(centeredT, normalizer),
				Rows: l.Size,
				Cols: n,
			})
			return l.Affine.Apply(normalized.Data, n)
		})
	})
}

// Parameters returns the parameters of the Affine.
func (l *LayerNorm) Parameters() []*anydiff.Var {
	return l.Affine.Parameters()
}

// SerializerType returns the unique ID used to serialize
// a LayerNorm with the serializer package.
func (l *LayerNorm) SerializerType() string {
	return "github.com/unixpickle/copyformer.LayerNorm"
}

// Serialize serializes the layer.
func (l *LayerNorm) Serialize() ([]byte, error) {
	return serializer.SerializeAny(l.Affine, serializer.Float64(l.Stabilizer))
}

func (l *LayerNorm) stabilizer() float64 {
	if l.Stabilizer == 0 {
		return defaultLayerNormStabilizer
	} else {
		return l.Stabilizer
	}
}
