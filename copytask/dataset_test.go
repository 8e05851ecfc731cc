package copytask

import (
	"reflect"
	"testing"
)

func TestDatasetCopyProperty(t *testing.T) {
	c := DefaultConfig()
	c.Seed = 1
	c.MinSeqLen = 2
	c.SeqLen = 7
	d, err := NewDataset(c)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 500; i++ {
		s := d.Sample(i)
		if !IsCopy(s) {
			t.Fatalf("sample %d is not a copy: %v -> %v", i, s.Source, s.Target)
		}
		if len(s.Source) != c.SeqLen {
			t.Fatalf("sample %d has length %d", i, len(s.Source))
		}
		var real int
		for j, tok := range s.Source {
			if tok < 0 || tok >= c.VocabSize {
				t.Fatalf("sample %d: token %d out of range", i, tok)
			}
			if tok != PadToken {
				if j != real {
					t.Fatalf("sample %d: padding before real token: %v", i, s.Source)
				}
				real++
			}
		}
		if real < c.MinSeqLen {
			t.Fatalf("sample %d: only %d real tokens", i, real)
		}
	}
}

func TestDatasetDeterministic(t *testing.T) {
	c1 := DefaultConfig()
	c1.Seed = 7
	c2 := DefaultConfig()
	c2.Seed = 7
	d1, _ := NewDataset(c1)
	d2, _ := NewDataset(c2)
	for i := 0; i < 20; i++ {
		if !reflect.DeepEqual(d1.Sample(i), d2.Sample(i)) {
			t.Fatalf("sample %d differs", i)
		}
	}
	if reflect.DeepEqual(d1.Sample(0).Source, d1.Sample(1).Source) &&
		reflect.DeepEqual(d1.Sample(1).Source, d1.Sample(2).Source) {
		t.Error("samples do not vary with the index")
	}
}

func TestDatasetInvalidConfig(t *testing.T) {
	c := DefaultConfig()
	c.VocabSize = 0
	if _, err := NewDataset(c); err == nil {
		t.Error("expected error for empty vocabulary")
	}
	c = DefaultConfig()
	c.SeqLen = 0
	if _, err := NewSamples(c); err == nil {
		t.Error("expected error for empty sequences")
	}
}

func TestSamplesSlice(t *testing.T) {
	c := DefaultConfig()
	c.Seed = 3
	c.NumSamples = 10
	s, err := NewSamples(c)
	if err != nil {
		t.Fatal(err)
	}
	s.Swap(0, 9)
	sliced := s.Slice(0, 3).(*Samples)
	if sliced.Len() != 3 || sliced.Indices[0] != 9 {
		t.Fatalf("unexpected slice: %v", sliced.Indices)
	}
	sliced.Swap(0, 1)
	if s.Indices[0] != 9 {
		t.Error("slice shares storage with the original list")
	}
	sample, err := sliced.GetSample(1)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(sample, s.Dataset.Sample(9)) {
		t.Error("GetSample returned the wrong sample")
	}
}
