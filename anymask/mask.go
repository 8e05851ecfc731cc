// Package anymask builds the attention masks used by an
// encoder-decoder transformer.
package anymask

import (
	"fmt"

	"github.com/unixpickle/anyvec"
)

// Blocked is the additive bias applied to attention
// scores for positions that may not be attended to.
const Blocked = -1e9

// A Mask indicates, for every sequence in a batch, which
// key positions each query position may attend to.
//
// Allowed is packed as Batch matrices of Rows x Cols.
// A Mask with one row applies that row to every query.
type Mask struct {
	Batch   int
	Rows    int
	Cols    int
	Allowed []bool
}

// Padding creates a one-row mask which allows every
// position whose token is not pad.
//
// All of the sequences must have the same length.
func Padding(seqs [][]int, pad int) *Mask {
	if len(seqs) == 0 {
		panic("cannot mask empty batch")
	}
	cols := len(seqs[0])
	res := &Mask{
		Batch:   len(seqs),
		Rows:    1,
		Cols:    cols,
		Allowed: make([]bool, len(seqs)*cols),
	}
	for b, seq := range seqs {
		if len(seq) != cols {
			panic(fmt.Sprintf("sequence %d has length %d (expected %d)", b, len(seq), cols))
		}
		for j, tok := range seq {
			res.Allowed[b*cols+j] = tok != pad
		}
	}
	return res
}

// Causal creates a mask which allows query i to attend
// to key j if and only if j <= i.
func Causal(batch, n int) *Mask {
	res := &Mask{
		Batch:   batch,
		Rows:    n,
		Cols:    n,
		Allowed: make([]bool, batch*n*n),
	}
	for b := 0; b < batch; b++ {
		for i := 0; i < n; i++ {
			for j := 0; j <= i; j++ {
				res.Allowed[(b*n+i)*n+j] = true
			}
		}
	}
	return res
}

// And combines two masks so that a position is allowed
// only if both masks allow it.
//
// One-row masks are broadcast to match the other mask.
func And(m1, m2 *Mask) *Mask {
	if m1.Batch != m2.Batch || m1.Cols != m2.Cols {
		panic(fmt.Sprintf("mismatching mask shapes: %dx?x%d and %dx?x%d",
			m1.Batch, m1.Cols, m2.Batch, m2.Cols))
	}
	rows := m1.Rows
	if rows == 1 {
		rows = m2.Rows
	} else if m2.Rows != 1 && m2.Rows != rows {
		panic(fmt.Sprintf("mismatching mask rows: %d and %d", m1.Rows, m2.Rows))
	}
	res := &Mask{
		Batch:   m1.Batch,
		Rows:    rows,
		Cols:    m1.Cols,
		Allowed: make([]bool, m1.Batch*rows*m1.Cols),
	}
	for b := 0; b < res.Batch; b++ {
		for i := 0; i < rows; i++ {
			for j := 0; j < res.Cols; j++ {
				res.Allowed[(b*rows+i)*res.Cols+j] = m1.Allows(b, i, j) && m2.Allows(b, i, j)
			}
		}
	}
	return res
}

// Build produces the source and target masks for a
// batch of source sequences and shifted target
// inputs.
//
// The source mask hides padding in the source.
// The target mask hides padding in the target and every
// future position.
func Build(src, tgtIn [][]int, pad int) (srcMask, tgtMask *Mask) {
	if len(src) != len(tgtIn) {
		panic(fmt.Sprintf("source batch size %d does not match target batch size %d",
			len(src), len(tgtIn)))
	}
	srcMask = Padding(src, pad)
	tgtPad := Padding(tgtIn, pad)
	tgtMask = And(tgtPad, Causal(tgtPad.Batch, tgtPad.Cols))
	return
}

// Allows reports whether query i of sequence b may
// attend to key j.
func (m *Mask) Allows(b, i, j int) bool {
	if m.Rows == 1 {
		i = 0
	}
	return m.Allowed[(b*m.Rows+i)*m.Cols+j]
}

// Bias creates a rows x Cols matrix for sequence b which
// can be added to attention scores.
// Allowed entries are 0 and blocked entries are Blocked.
func (m *Mask) Bias(c anyvec.Creator, b, rows int) anyvec.Vector {
	if m.Rows != 1 && m.Rows != rows {
		panic(fmt.Sprintf("mask has %d rows but %d were requested", m.Rows, rows))
	}
	data := make([]float64, rows*m.Cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < m.Cols; j++ {
			if !m.Allows(b, i, j) {
				data[i*m.Cols+j] = Blocked
			}
		}
	}
	return c.MakeVectorData(c.MakeNumericList(data))
}
