package copytask

import "testing"

func TestDefaultConfigValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestConfigValidate(t *testing.T) {
	cases := map[string]func(c *Config){
		"VocabSize":    func(c *Config) { c.VocabSize = 0 },
		"SingleToken":  func(c *Config) { c.VocabSize = 1 },
		"SeqLen":       func(c *Config) { c.SeqLen = 0 },
		"MinSeqLen":    func(c *Config) { c.MinSeqLen = c.SeqLen + 1 },
		"BatchSize":    func(c *Config) { c.BatchSize = -1 },
		"Heads":        func(c *Config) { c.NumHeads = 3 },
		"LearningRate": func(c *Config) { c.LearningRate = 0 },
		"Device":       func(c *Config) { c.Device = "tpu" },
	}
	for name, mutate := range cases {
		c := DefaultConfig()
		mutate(c)
		if c.Validate() == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestConfigCreator(t *testing.T) {
	c := DefaultConfig()
	c.Device = "cpu64"
	creator, err := c.Creator()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := creator.MakeVector(1).Data().([]float64); !ok {
		t.Error("cpu64 device does not produce float64 vectors")
	}
}

func TestRandFor(t *testing.T) {
	c := DefaultConfig()
	c.Seed = 42
	r1 := c.RandFor(StreamModel)
	r2 := c.RandFor(StreamModel)
	r3 := c.RandFor(StreamShuffle)
	a, b, d := r1.Int63(), r2.Int63(), r3.Int63()
	if a != b {
		t.Error("equal streams diverged")
	}
	if a == d {
		t.Error("different streams matched")
	}

	unseeded := DefaultConfig()
	if unseeded.ResolveSeed() == 0 || unseeded.Seed == 0 {
		t.Error("seed was not resolved")
	}
}
