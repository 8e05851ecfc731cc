package anytrain

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/copyformer"
	"github.com/unixpickle/copyformer/copytask"
)

func testConfig(t *testing.T) *copytask.Config {
	c := copytask.DefaultConfig()
	c.VocabSize = 10
	c.SeqLen = 5
	c.MinSeqLen = 5
	c.BatchSize = 4
	c.Epochs = 1
	c.NumSamples = 32
	c.Seed = 1337
	c.ModelSize = 16
	c.NumHeads = 2
	c.HiddenSize = 32
	c.EncoderLayers = 1
	c.DecoderLayers = 1
	dir := t.TempDir()
	c.MetricsPath = filepath.Join(dir, "assets", "metrics.json")
	c.CheckpointPath = filepath.Join(dir, "checkpoints", "transformer.pt")
	return c
}

func runConfig(t *testing.T, c *copytask.Config,
	stop <-chan struct{}) (*copyformer.Transformer, *Metrics) {
	creator, err := c.Creator()
	if err != nil {
		t.Fatal(err)
	}
	model := copyformer.NewTransformer(creator, c.RandFor(copytask.StreamModel),
		c.Hyperparams())
	samples, err := copytask.NewSamples(c)
	if err != nil {
		t.Fatal(err)
	}
	loop, err := NewLoop(c, model, samples)
	if err != nil {
		t.Fatal(err)
	}
	metrics, err := loop.Run(stop)
	if err != nil {
		t.Fatal(err)
	}
	return model, metrics
}

func TestLoopSingleEpoch(t *testing.T) {
	c := testConfig(t)
	model, metrics := runConfig(t, c, nil)

	if len(metrics.Losses) != 1 || len(metrics.Accuracies) != 1 {
		t.Fatalf("expected one epoch of metrics but got %v", metrics)
	}
	if acc := metrics.Accuracies[0]; acc < 0 || acc > 1 {
		t.Errorf("accuracy out of range: %f", acc)
	}

	if err := metrics.Save(c.MetricsPath); err != nil {
		t.Fatal(err)
	}
	if err := SaveCheckpoint(c.CheckpointPath, model); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(c.MetricsPath)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string][]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if len(raw) != 2 || len(raw["losses"]) != 1 || len(raw["accuracies"]) != 1 {
		t.Errorf("unexpected metrics file: %s", data)
	}
	if _, err := os.Stat(c.CheckpointPath); err != nil {
		t.Error(err)
	}
}

func TestLoopDeterministic(t *testing.T) {
	c1 := testConfig(t)
	c1.Epochs = 2
	c2 := testConfig(t)
	c2.Epochs = 2
	_, m1 := runConfig(t, c1, nil)
	_, m2 := runConfig(t, c2, nil)
	if !reflect.DeepEqual(m1, m2) {
		t.Errorf("metrics differ: %v vs %v", m1, m2)
	}
}

func TestLoopImproves(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping training run in short mode")
	}
	c := testConfig(t)
	c.Epochs = 6
	c.NumSamples = 200
	c.LearningRate = 0.003
	_, metrics := runConfig(t, c, nil)
	first := metrics.Accuracies[0]
	last := metrics.Accuracies[len(metrics.Accuracies)-1]
	if last <= first {
		t.Errorf("accuracy did not improve: %v", metrics.Accuracies)
	}
	if metrics.Losses[len(metrics.Losses)-1] >= metrics.Losses[0] {
		t.Errorf("loss did not decrease: %v", metrics.Losses)
	}
}

func TestLoopStop(t *testing.T) {
	c := testConfig(t)
	c.Epochs = 3
	stop := make(chan struct{})
	close(stop)
	_, metrics := runConfig(t, c, stop)
	if len(metrics.Losses) != 0 {
		t.Errorf("expected no epochs but got %d", len(metrics.Losses))
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	c := testConfig(t)
	model, _ := runConfig(t, c, nil)
	if err := SaveCheckpoint(c.CheckpointPath, model); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadCheckpoint(c.CheckpointPath)
	if err != nil {
		t.Fatal(err)
	}

	b, err := NewBatch([]*copytask.Sample{
		{Source: []int{1, 2, 3, 4, 5}, Target: []int{1, 2, 3, 4, 5}},
	}, copytask.PadToken)
	if err != nil {
		t.Fatal(err)
	}
	out1 := model.Forward(b.Source, b.TargetIn, b.SourceMask, b.TargetMask).Output()
	out2 := loaded.Forward(b.Source, b.TargetIn, b.SourceMask, b.TargetMask).Output()
	diff := out1.Copy()
	diff.Sub(out2)
	if max := anyvec.AbsMax(diff).(float32); max != 0 {
		t.Errorf("loaded model differs by %f", max)
	}

	if _, err := LoadCheckpoint(filepath.Join(t.TempDir(), "missing.pt")); err == nil {
		t.Error("expected error for missing checkpoint")
	}
}
