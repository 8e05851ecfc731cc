package copyformer

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/copyformer/anymask"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var h AttentionHead
	serializer.RegisterTypedDeserializer(h.SerializerType(), DeserializeAttentionHead)
	var a Attention
	serializer.RegisterTypedDeserializer(a.SerializerType(), DeserializeAttention)
}

// An AttentionHead is one head of multi-head attention.
//
// The Output projection maps the head's values back up
// to the model size, so that the outputs of all heads
// can be summed instead of concatenated.
type AttentionHead struct {
	Query  *FC
	Key    *FC
	Value  *FC
	Output *FC
}

// DeserializeAttentionHead deserializes an AttentionHead.
func DeserializeAttentionHead(d []byte) (*AttentionHead, error) {
	var res AttentionHead
	err := serializer.DeserializeAny(d, &res.Query, &res.Key, &res.Value, &res.Output)
	if err != nil {
		return nil, essentials.AddCtx("deserialize AttentionHead", err)
	}
	return &res, nil
}

// NewAttentionHead creates a randomized AttentionHead.
func NewAttentionHead(c anyvec.Creator, r *rand.Rand, modelSize, headSize int) *AttentionHead {
	return &AttentionHead{
		Query:  NewFC(c, r, modelSize, headSize),
		Key:    NewFC(c, r, modelSize, headSize),
		Value:  NewFC(c, r, modelSize, headSize),
		Output: NewFC(c, r, headSize, modelSize),
	}
}

// Apply computes masked scaled dot-product attention for
// every sequence in the batch.
//
// The queries are mask.Batch sequences of rows of the
// model size, and likewise for keys.
// The result has one model-sized row per query.
func (h *AttentionHead) Apply(queries, keys anydiff.Res, mask *anymask.Mask) anydiff.Res {
	batch := mask.Batch
	keyLen := mask.Cols
	modelSize := h.Query.InCount
	headSize := h.Query.OutCount
	queryLen := queries.Output().Len() / (batch * modelSize)
	if queryLen*batch*modelSize != queries.Output().Len() {
		panic(fmt.Sprintf("query length %d not divisible into %d sequences",
			queries.Output().Len(), batch))
	}
	if keys.Output().Len() != batch*keyLen*modelSize {
		panic(fmt.Sprintf("key length should be %d, but got %d",
			batch*keyLen*modelSize, keys.Output().Len()))
	}

	c := queries.Output().Creator()
	scale := c.MakeNumeric(1 / math.Sqrt(float64(headSize)))

	q := h.Query.Apply(queries, batch*queryLen)
	k := h.Key.Apply(keys, batch*keyLen)
	v := h.Value.Apply(keys, batch*keyLen)

	return anydiff.Pool(q, func(q anydiff.Res) anydiff.Res {
		return anydiff.Pool(k, func(k anydiff.Res) anydiff.Res {
			return anydiff.Pool(v, func(v anydiff.Res) anydiff.Res {
				var outs []anydiff.Res
				for b := 0; b < batch; b++ {
					qMat := &anydiff.Matrix{
						Data: anydiff.Slice(q, b*queryLen*headSize, (b+1)*queryLen*headSize),
						Rows: queryLen,
						Cols: headSize,
					}
					kMat := &anydiff.Matrix{
						Data: anydiff.Slice(k, b*keyLen*headSize, (b+1)*keyLen*headSize),
						Rows: keyLen,
						Cols: headSize,
					}
					vMat := &anydiff.Matrix{
						Data: anydiff.Slice(v, b*keyLen*headSize, (b+1)*keyLen*headSize),
						Rows: keyLen,
						Cols: headSize,
					}
					scores := anydiff.Scale(anydiff.MatMul(false, true, qMat, kMat).Data, scale)
					bias := anydiff.NewConst(mask.Bias(c, b, queryLen))
					weights := anydiff.Exp(anydiff.LogSoftmax(anydiff.Add(scores, bias), keyLen))
					weighted := anydiff.MatMul(false, false, &anydiff.Matrix{
						Data: weights,
						Rows: queryLen,
						Cols: keyLen,
					}, vMat)
					outs = append(outs, weighted.Data)
				}
				return h.Output.Apply(anydiff.Concat(outs...), batch*queryLen)
			})
		})
	})
}

// Parameters returns the parameters of every projection.
func (h *AttentionHead) Parameters() []*anydiff.Var {
	return AllParameters(h.Query, h.Key, h.Value, h.Output)
}

// SerializerType returns the unique ID used to serialize
// an AttentionHead with the serializer package.
func (h *AttentionHead) SerializerType() string {
	return "github.com/unixpickle/copyformer.AttentionHead"
}

// Serialize serializes the head.
func (h *AttentionHead) Serialize() ([]byte, error) {
	return serializer.SerializeAny(h.Query, h.Key, h.Value, h.Output)
}

// Attention is multi-head attention.
type Attention []*AttentionHead

// DeserializeAttention deserializes an Attention.
func DeserializeAttention(d []byte) (Attention, error) {
	slice, err := serializer.DeserializeSlice(d)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Attention", err)
	}
	res := make(Attention, len(slice))
	for i, x := range slice {
		if head, ok := x.(*AttentionHead); ok {
			res[i] = head
		} else {
			return nil, fmt.Errorf("deserialize Attention: not an *AttentionHead: %T", x)
		}
	}
	return res, nil
}

// NewAttention creates randomized multi-head attention.
// The model size must be divisible by the head count.
func NewAttention(c anyvec.Creator, r *rand.Rand, modelSize, numHeads int) Attention {
	if numHeads <= 0 || modelSize%numHeads != 0 {
		panic(fmt.Sprintf("model size %d not divisible by %d heads", modelSize, numHeads))
	}
	res := make(Attention, numHeads)
	for i := range res {
		res[i] = NewAttentionHead(c, r, modelSize, modelSize/numHeads)
	}
	return res
}

// Apply sums the outputs of every head.
func (a Attention) Apply(queries, keys anydiff.Res, mask *anymask.Mask) anydiff.Res {
	var sum anydiff.Res
	for _, head := range a {
		out := head.Apply(queries, keys, mask)
		if sum == nil {
			sum = out
		} else {
			sum = anydiff.Add(sum, out)
		}
	}
	return sum
}

// Parameters returns the parameters of every head.
func (a Attention) Parameters() []*anydiff.Var {
	var res []*anydiff.Var
	for _, head := range a {
		res = append(res, head.Parameters()...)
	}
	return res
}

// SerializerType returns the unique ID used to serialize
// an Attention with the serializer package.
func (a Attention) SerializerType() string {
	return "github.com/unixpickle/copyformer.Attention"
}

// Serialize serializes the heads.
func (a Attention) Serialize() ([]byte, error) {
	slice := make([]serializer.Serializer, len(a))
	for i, head := range a {
		slice[i] = head
	}
	return serializer.SerializeSlice(slice)
}
