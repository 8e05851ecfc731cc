package copyformer

import (
	"fmt"
	"math/rand"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/copyformer/anymask"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var e EncoderLayer
	serializer.RegisterTypedDeserializer(e.SerializerType(), DeserializeEncoderLayer)
	var d DecoderLayer
	serializer.RegisterTypedDeserializer(d.SerializerType(), DeserializeDecoderLayer)
	var es EncoderStack
	serializer.RegisterTypedDeserializer(es.SerializerType(), DeserializeEncoderStack)
	var ds DecoderStack
	serializer.RegisterTypedDeserializer(ds.SerializerType(), DeserializeDecoderStack)
	var t Transformer
	serializer.RegisterTypedDeserializer(t.SerializerType(), DeserializeTransformer)
}

// Hyperparams describes the shape of a Transformer.
type Hyperparams struct {
	SourceVocab   int
	TargetVocab   int
	MaxLen        int
	ModelSize     int
	NumHeads      int
	HiddenSize    int
	EncoderLayers int
	DecoderLayers int
}

// NewFeedForward creates the position-wise feed-forward
// sublayer of a transformer block.
func NewFeedForward(c anyvec.Creator, r *rand.Rand, modelSize, hiddenSize int) Net {
	return Net{
		NewFC(c, r, modelSize, hiddenSize),
		ReLU,
		NewFC(c, r, hiddenSize, modelSize),
	}
}

// An EncoderLayer applies self-attention followed by a
// feed-forward network.
// Each sublayer has a residual connection and is
// followed by a LayerNorm.
type EncoderLayer struct {
	SelfAttn    Attention
	AttnNorm    *LayerNorm
	FeedForward Net
	FeedFwdNorm *LayerNorm
}

// DeserializeEncoderLayer deserializes an EncoderLayer.
func DeserializeEncoderLayer(d []byte) (*EncoderLayer, error) {
	var res EncoderLayer
	err := serializer.DeserializeAny(d, &res.SelfAttn, &res.AttnNorm, &res.FeedForward,
		&res.FeedFwdNorm)
	if err != nil {
		return nil, essentials.AddCtx("deserialize EncoderLayer", err)
	}
	return &res, nil
}

// NewEncoderLayer creates a randomized EncoderLayer.
func NewEncoderLayer(c anyvec.Creator, r *rand.Rand, h *Hyperparams) *EncoderLayer {
	return &EncoderLayer{
		SelfAttn:    NewAttention(c, r, h.ModelSize, h.NumHeads),
		AttnNorm:    NewLayerNorm(c, h.ModelSize),
		FeedForward: NewFeedForward(c, r, h.ModelSize, h.HiddenSize),
		FeedFwdNorm: NewLayerNorm(c, h.ModelSize),
	}
}

// Apply encodes a batch of source sequences.
func (e *EncoderLayer) Apply(in anydiff.Res, srcMask *anymask.Mask) anydiff.Res {
	rows := rowCount(in, e.AttnNorm.Size)
	attended := anydiff.Pool(in, func(in anydiff.Res) anydiff.Res {
		return e.AttnNorm.Apply(anydiff.Add(in, e.SelfAttn.Apply(in, in, srcMask)), rows)
	})
	return residualNorm(attended, e.FeedForward, e.FeedFwdNorm, rows)
}

// Parameters returns the parameters of every sublayer.
func (e *EncoderLayer) Parameters() []*anydiff.Var {
	return AllParameters(e.SelfAttn, e.AttnNorm, e.FeedForward, e.FeedFwdNorm)
}

// SerializerType returns the unique ID used to serialize
// an EncoderLayer with the serializer package.
func (e *EncoderLayer) SerializerType() string {
	return "github.com/unixpickle/copyformer.EncoderLayer"
}

// Serialize serializes the layer.
func (e *EncoderLayer) Serialize() ([]byte, error) {
	return serializer.SerializeAny(e.SelfAttn, e.AttnNorm, e.FeedForward, e.FeedFwdNorm)
}

// A DecoderLayer applies causal self-attention, then
// attention over the encoder output, then a feed-forward
// network.
type DecoderLayer struct {
	SelfAttn    Attention
	SelfNorm    *LayerNorm
	CrossAttn   Attention
	CrossNorm   *LayerNorm
	FeedForward Net
	FeedFwdNorm *LayerNorm
}

// DeserializeDecoderLayer deserializes a DecoderLayer.
func DeserializeDecoderLayer(d []byte) (*DecoderLayer, error) {
	var res DecoderLayer
	err := serializer.DeserializeAny(d, &res.SelfAttn, &res.SelfNorm, &res.CrossAttn,
		&res.CrossNorm, &res.FeedForward, &res.FeedFwdNorm)
	if err != nil {
		return nil, essentials.AddCtx("deserialize DecoderLayer", err)
	}
	return &res, nil
}

// NewDecoderLayer creates a randomized DecoderLayer.
func NewDecoderLayer(c anyvec.Creator, r *rand.Rand, h *Hyperparams) *DecoderLayer {
	return &DecoderLayer{
		SelfAttn:    NewAttention(c, r, h.ModelSize, h.NumHeads),
		SelfNorm:    NewLayerNorm(c, h.ModelSize),
		CrossAttn:   NewAttention(c, r, h.ModelSize, h.NumHeads),
		CrossNorm:   NewLayerNorm(c, h.ModelSize),
		FeedForward: NewFeedForward(c, r, h.ModelSize, h.HiddenSize),
		FeedFwdNorm: NewLayerNorm(c, h.ModelSize),
	}
}

// Apply decodes a batch of target sequences given the
// encoded source sequences.
func (d *DecoderLayer) Apply(in, memory anydiff.Res, srcMask,
	tgtMask *anymask.Mask) anydiff.Res {
	rows := rowCount(in, d.SelfNorm.Size)
	selfAttended := anydiff.Pool(in, func(in anydiff.Res) anydiff.Res {
		return d.SelfNorm.Apply(anydiff.Add(in, d.SelfAttn.Apply(in, in, tgtMask)), rows)
	})
	crossAttended := anydiff.Pool(selfAttended, func(in anydiff.Res) anydiff.Res {
		return d.CrossNorm.Apply(anydiff.Add(in, d.CrossAttn.Apply(in, memory, srcMask)), rows)
	})
	return residualNorm(crossAttended, d.FeedForward, d.FeedFwdNorm, rows)
}

// Parameters returns the parameters of every sublayer.
func (d *DecoderLayer) Parameters() []*anydiff.Var {
	return AllParameters(d.SelfAttn, d.SelfNorm, d.CrossAttn, d.CrossNorm,
		d.FeedForward, d.FeedFwdNorm)
}

// SerializerType returns the unique ID used to serialize
// a DecoderLayer with the serializer package.
func (d *DecoderLayer) SerializerType() string {
	return "github.com/unixpickle/copyformer.DecoderLayer"
}

// Serialize serializes the layer.
func (d *DecoderLayer) Serialize() ([]byte, error) {
	return serializer.SerializeAny(d.SelfAttn, d.SelfNorm, d.CrossAttn, d.CrossNorm,
		d.FeedForward, d.FeedFwdNorm)
}

// An EncoderStack applies EncoderLayers in order.
type EncoderStack []*EncoderLayer

// DeserializeEncoderStack deserializes an EncoderStack.
func DeserializeEncoderStack(d []byte) (EncoderStack, error) {
	slice, err := serializer.DeserializeSlice(d)
	if err != nil {
		return nil, essentials.AddCtx("deserialize EncoderStack", err)
	}
	res := make(EncoderStack, len(slice))
	for i, x := range slice {
		if layer, ok := x.(*EncoderLayer); ok {
			res[i] = layer
		} else {
			return nil, fmt.Errorf("deserialize EncoderStack: not an *EncoderLayer: %T", x)
		}
	}
	return res, nil
}

// Apply applies every layer.
func (e EncoderStack) Apply(in anydiff.Res, srcMask *anymask.Mask) anydiff.Res {
	for _, layer := range e {
		in = layer.Apply(in, srcMask)
	}
	return in
}

// Parameters returns the parameters of every layer.
func (e EncoderStack) Parameters() []*anydiff.Var {
	var res []*anydiff.Var
	for _, layer := range e {
		res = append(res, layer.Parameters()...)
	}
	return res
}

// SerializerType returns the unique ID used to serialize
// an EncoderStack with the serializer package.
func (e EncoderStack) SerializerType() string {
	return "github.com/unixpickle/copyformer.EncoderStack"
}

// Serialize serializes the stack.
func (e EncoderStack) Serialize() ([]byte, error) {
	slice := make([]serializer.Serializer, len(e))
	for i, layer := range e {
		slice[i] = layer
	}
	return serializer.SerializeSlice(slice)
}

// A DecoderStack applies DecoderLayers in order.
type DecoderStack []*DecoderLayer

// DeserializeDecoderStack deserializes a DecoderStack.
func DeserializeDecoderStack(d []byte) (DecoderStack, error) {
	slice, err := serializer.DeserializeSlice(d)
	if err != nil {
		return nil, essentials.AddCtx("deserialize DecoderStack", err)
	}
	res := make(DecoderStack, len(slice))
	for i, x := range slice {
		if layer, ok := x.(*DecoderLayer); ok {
			res[i] = layer
		} else {
			return nil, fmt.Errorf("deserialize DecoderStack: not a *DecoderLayer: %T", x)
		}
	}
	return res, nil
}

// Apply applies every layer.
// The memory is reused by every layer.
func (d DecoderStack) Apply(in, memory anydiff.Res, srcMask,
	tgtMask *anymask.Mask) anydiff.Res {
	if len(d) == 0 {
		return in
	}
	return anydiff.Pool(memory, func(memory anydiff.Res) anydiff.Res {
		for _, layer := range d {
			in = layer.Apply(in, memory, srcMask, tgtMask)
		}
		return in
	})
}

// Parameters returns the parameters of every layer.
func (d DecoderStack) Parameters() []*anydiff.Var {
	var res []*anydiff.Var
	for _, layer := range d {
		res = append(res, layer.Parameters()...)
	}
	return res
}

// SerializerType returns the unique ID used to serialize
// a DecoderStack with the serializer package.
func (d DecoderStack) SerializerType() string {
	return "github.com/unixpickle/copyformer.DecoderStack"
}

// Serialize serializes the stack.
func (d DecoderStack) Serialize() ([]byte, error) {
	slice := make([]serializer.Serializer, len(d))
	for i, layer := range d {
		slice[i] = layer
	}
	return serializer.SerializeSlice(slice)
}

// A Transformer is an encoder-decoder sequence model.
type Transformer struct {
	SourceEmbed *Embedding
	TargetEmbed *Embedding
	Positional  *PositionalEncoding
	Encoder     EncoderStack
	Decoder     DecoderStack

	// Output projects decoder rows to target vocabulary
	// logits.
	Output *FC
}

// DeserializeTransformer deserializes a Transformer.
func DeserializeTransformer(d []byte) (*Transformer, error) {
	var res Transformer
	err := serializer.DeserializeAny(d, &res.SourceEmbed, &res.TargetEmbed,
		&res.Positional, &res.Encoder, &res.Decoder, &res.Output)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Transformer", err)
	}
	return &res, nil
}

// NewTransformer creates a randomized Transformer.
//
// If r is nil, the global random source is used.
func NewTransformer(c anyvec.Creator, r *rand.Rand, h *Hyperparams) *Transformer {
	res := &Transformer{
		SourceEmbed: NewEmbedding(c, r, h.SourceVocab, h.ModelSize),
		TargetEmbed: NewEmbedding(c, r, h.TargetVocab, h.ModelSize),
		Positional:  &PositionalEncoding{MaxLen: h.MaxLen, Size: h.ModelSize},
		Output:      NewFC(c, r, h.ModelSize, h.TargetVocab),
	}
	for i := 0; i < h.EncoderLayers; i++ {
		res.Encoder = append(res.Encoder, NewEncoderLayer(c, r, h))
	}
	for i := 0; i < h.DecoderLayers; i++ {
		res.Decoder = append(res.Decoder, NewDecoderLayer(c, r, h))
	}
	return res
}

// Forward computes logits over the target vocabulary for
// every position of every target input sequence.
//
// The result is a (len(tgtIn)*len(tgtIn[0])) x
// TargetVocab matrix.
func (t *Transformer) Forward(src, tgtIn [][]int, srcMask,
	tgtMask *anymask.Mask) anydiff.Res {
	if len(src) != len(tgtIn) || srcMask.Batch != len(src) || tgtMask.Batch != len(tgtIn) {
		panic("mismatching batch sizes")
	}
	if srcMask.Cols != len(src[0]) || tgtMask.Cols != len(tgtIn[0]) {
		panic("mask does not match sequence length")
	}
	batch := len(src)
	memory := t.Encoder.Apply(t.Positional.Apply(t.SourceEmbed.Embed(src), batch), srcMask)
	decoded := t.Decoder.Apply(t.Positional.Apply(t.TargetEmbed.Embed(tgtIn), batch),
		memory, srcMask, tgtMask)
	return t.Output.Apply(decoded, batch*len(tgtIn[0]))
}

// Parameters returns every learnable parameter.
func (t *Transformer) Parameters() []*anydiff.Var {
	return AllParameters(t.SourceEmbed, t.TargetEmbed, t.Encoder, t.Decoder, t.Output)
}

// SerializerType returns the unique ID used to serialize
// a Transformer with the serializer package.
func (t *Transformer) SerializerType() string {
	return "github.com/unixpickle/copyformer.Transformer"
}

// Serialize serializes the Transformer.
func (t *Transformer) Serialize() ([]byte, error) {
	return serializer.SerializeAny(t.SourceEmbed, t.TargetEmbed, t.Positional,
		t.Encoder, t.Decoder, t.Output)
}

func residualNorm(in anydiff.Res, sublayer Layer, norm *LayerNorm, rows int) anydiff.Res {
	return anydiff.Pool(in, func(in anydiff.Res) anydiff.Res {
		return norm.Apply(anydiff.Add(in, sublayer.Apply(in, rows)), rows)
	})
}

func rowCount(in anydiff.Res, size int) int {
	if in.Output().Len()%size != 0 {
		panic(fmt.Sprintf("input length %d not divisible by row size %d",
			in.Output().Len(), size))
	}
	return in.Output().Len() / size
}
