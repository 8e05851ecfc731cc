package anytrain

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/unixpickle/essentials"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Metrics records the loss and accuracy of every epoch,
// in order.
type Metrics struct {
	Losses     []float64 `json:"losses"`
	Accuracies []float64 `json:"accuracies"`
}

// NewMetrics creates an empty record.
func NewMetrics() *Metrics {
	return &Metrics{Losses: []float64{}, Accuracies: []float64{}}
}

// Add appends the results of one epoch.
func (m *Metrics) Add(loss, accuracy float64) {
	m.Losses = append(m.Losses, loss)
	m.Accuracies = append(m.Accuracies, accuracy)
}

// Save writes the metrics as JSON, creating the parent
// directory if needed.
func (m *Metrics) Save(path string) error {
	data, err := json.Marshal(m)
	if err != nil {
		return essentials.AddCtx("save metrics", err)
	}
	if err := writeFile(path, data); err != nil {
		return essentials.AddCtx("save metrics", err)
	}
	return nil
}

// LoadMetrics reads metrics written by Save.
func LoadMetrics(path string) (*Metrics, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, essentials.AddCtx("load metrics", err)
	}
	res := NewMetrics()
	if err := json.Unmarshal(data, res); err != nil {
		return nil, essentials.AddCtx("load metrics", err)
	}
	return res, nil
}

// A Summary condenses a run's Metrics.
type Summary struct {
	Epochs       int
	BestAccuracy float64
	BestEpoch    int
	MeanAccuracy float64
	MinLoss      float64
}

// Summary summarizes the metrics.
// It returns nil if no epochs were recorded.
func (m *Metrics) Summary() *Summary {
	if len(m.Accuracies) == 0 {
		return nil
	}
	best := floats.MaxIdx(m.Accuracies)
	return &Summary{
		Epochs:       len(m.Accuracies),
		BestAccuracy: m.Accuracies[best],
		BestEpoch:    best,
		MeanAccuracy: stat.Mean(m.Accuracies, nil),
		MinLoss:      floats.Min(m.Losses),
	}
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}
