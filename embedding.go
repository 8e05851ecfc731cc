package copyformer

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var e Embedding
	serializer.RegisterTypedDeserializer(e.SerializerType(), DeserializeEmbedding)
	var p PositionalEncoding
	serializer.RegisterTypedDeserializer(p.SerializerType(), DeserializePositionalEncoding)
}

// An Embedding maps token IDs to learned vectors.
//
// Embedded vectors are scaled by sqrt(Size).
type Embedding struct {
	Vocab int
	Size  int

	// Table is a Vocab x Size matrix.
	Table *anydiff.Var
}

// DeserializeEmbedding deserializes an Embedding.
func DeserializeEmbedding(d []byte) (*Embedding, error) {
	var vocab serializer.Int
	var table *anyvecsave.S
	if err := serializer.DeserializeAny(d, &vocab, &table); err != nil {
		return nil, essentials.AddCtx("deserialize Embedding", err)
	}
	if vocab <= 0 || table.Vector.Len()%int(vocab) != 0 {
		return nil, fmt.Errorf("deserialize Embedding: bad table size %d for vocab %d",
			table.Vector.Len(), vocab)
	}
	return &Embedding{
		Vocab: int(vocab),
		Size:  table.Vector.Len() / int(vocab),
		Table: anydiff.NewVar(table.Vector),
	}, nil
}

// NewEmbedding creates a randomized Embedding.
func NewEmbedding(c anyvec.Creator, r *rand.Rand, vocab, size int) *Embedding {
	table := c.MakeVector(vocab * size)
	anyvec.Rand(table, anyvec.Normal, r)
	table.Scale(c.MakeNumeric(1 / math.Sqrt(float64(size))))
	return &Embedding{
		Vocab: vocab,
		Size:  size,
		Table: anydiff.NewVar(table),
	}
}

// Embed looks up every token in a batch of equal-length
// sequences.
// The result is a (len(seqs)*len(seqs[0])) x Size matrix.
func (e *Embedding) Embed(seqs [][]int) anydiff.Res {
	c := e.Table.Vector.Creator()
	oneHot := OneHot(c, seqs, e.Vocab, -1)
	rows := oneHot.Len() / e.Vocab
	res := anydiff.MatMul(false, false,
		&anydiff.Matrix{Data: anydiff.NewConst(oneHot), Rows: rows, Cols: e.Vocab},
		&anydiff.Matrix{Data: e.Table, Rows: e.Vocab, Cols: e.Size},
	)
	return anydiff.Scale(res.Data, c.MakeNumeric(math.Sqrt(float64(e.Size))))
}

// Parameters returns the embedding table.
func (e *Embedding) Parameters() []*anydiff.Var {
	return []*anydiff.Var{e.Table}
}

// SerializerType returns the unique ID used to serialize
// an Embedding with the serializer package.
func (e *Embedding) SerializerType() string {
	return "github.com/unixpickle/copyformer.Embedding"
}

// Serialize serializes the Embedding.
func (e *Embedding) Serialize() ([]byte, error) {
	return serializer.SerializeAny(
		serializer.Int(e.Vocab),
		&anyvecsave.S{Vector: e.Table.Vector},
	)
}

// OneHot packs a batch of equal-length token sequences
// into one-hot rows of length vocab.
//
// Tokens equal to ignore produce all-zero rows.
// Pass a negative ignore to encode every token.
func OneHot(c anyvec.Creator, seqs [][]int, vocab, ignore int) anyvec.Vector {
	var rows int
	for _, seq := range seqs {
		rows += len(seq)
	}
	data := make([]float64, rows*vocab)
	var row int
	for _, seq := range seqs {
		for _, tok := range seq {
			if tok < 0 || tok >= vocab {
				panic(fmt.Sprintf("token %d out of range [0, %d)", tok, vocab))
			}
			if tok != ignore {
				data[row*vocab+tok] = 1
			}
			row++
		}
	}
	return c.MakeVectorData(c.MakeNumericList(data))
}

// PositionalEncoding adds fixed sinusoidal position
// signals to each sequence in a batch.
type PositionalEncoding struct {
	MaxLen int
	Size   int
}

// DeserializePositionalEncoding deserializes a
// PositionalEncoding.
func DeserializePositionalEncoding(d []byte) (*PositionalEncoding, error) {
	var maxLen, size serializer.Int
	if err := serializer.DeserializeAny(d, &maxLen, &size); err != nil {
		return nil, essentials.AddCtx("deserialize PositionalEncoding", err)
	}
	return &PositionalEncoding{MaxLen: int(maxLen), Size: int(size)}, nil
}

// Apply adds position signals to n sequences which are
// packed as consecutive rows of the input.
func (p *PositionalEncoding) Apply(in anydiff.Res, n int) anydiff.Res {
	rowsPerSeq := in.Output().Len() / (n * p.Size)
	if rowsPerSeq*n*p.Size != in.Output().Len() {
		panic(fmt.Sprintf("input length %d not divisible into %d sequences of width %d",
			in.Output().Len(), n, p.Size))
	}
	if rowsPerSeq > p.MaxLen {
		panic(fmt.Sprintf("sequence length %d exceeds maximum %d", rowsPerSeq, p.MaxLen))
	}
	c := in.Output().Creator()
	table := c.MakeVectorData(c.MakeNumericList(p.table(rowsPerSeq)))
	return anydiff.AddRepeated(in, anydiff.NewConst(table))
}

// SerializerType returns the unique ID used to serialize
// a PositionalEncoding with the serializer package.
func (p *PositionalEncoding) SerializerType() string {
	return "github.com/unixpickle/copyformer.PositionalEncoding"
}

// Serialize serializes the PositionalEncoding.
func (p *PositionalEncoding) Serialize() ([]byte, error) {
	return serializer.SerializeAny(serializer.Int(p.MaxLen), serializer.Int(p.Size))
}

func (p *PositionalEncoding) table(length int) []float64 {
	res := make([]float64, length*p.Size)
	for pos := 0; pos < length; pos++ {
		for i := 0; i < p.Size; i += 2 {
			angle := float64(pos) / math.Pow(10000, float64(i)/float64(p.Size))
			res[pos*p.Size+i] = math.Sin(angle)
			if i+1 < p.Size {
				res[pos*p.Size+i+1] = math.Cos(angle)
			}
		}
	}
	return res
}
