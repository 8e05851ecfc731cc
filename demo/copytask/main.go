package main

import (
	"log"

	"github.com/unixpickle/copyformer"
	"github.com/unixpickle/copyformer/anytrain"
	"github.com/unixpickle/copyformer/copytask"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/rip"
)

func main() {
	log.Println("Setting up...")

	cfg := copytask.DefaultConfig()
	essentials.Must(cfg.Validate())
	log.Printf("seed: %d", cfg.ResolveSeed())

	creator, err := cfg.Creator()
	essentials.Must(err)
	model := copyformer.NewTransformer(creator, cfg.RandFor(copytask.StreamModel),
		cfg.Hyperparams())

	samples, err := copytask.NewSamples(cfg)
	essentials.Must(err)

	loop, err := anytrain.NewLoop(cfg, model, samples)
	essentials.Must(err)
	loop.StatusFunc = func(epoch int, loss, accuracy float64) {
		log.Printf("epoch %d: loss=%.4f accuracy=%.4f", epoch+1, loss, accuracy)
	}

	log.Println("Press ctrl+c once to stop after the current epoch...")
	metrics, err := loop.Run(rip.NewRIP().Chan())
	essentials.Must(err)

	if s := metrics.Summary(); s != nil {
		log.Printf("best accuracy %.4f at epoch %d, min loss %.4f", s.BestAccuracy,
			s.BestEpoch+1, s.MinLoss)
	}

	essentials.Must(metrics.Save(cfg.MetricsPath))
	essentials.Must(anytrain.SaveCheckpoint(cfg.CheckpointPath, model))
	log.Println("Model and metrics saved.")
}
