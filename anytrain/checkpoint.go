package anytrain

import (
	"os"

	"github.com/unixpickle/copyformer"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

// SaveCheckpoint serializes every parameter of the model
// to a file, creating the parent directory if needed.
func SaveCheckpoint(path string, model *copyformer.Transformer) error {
	data, err := serializer.SerializeAny(model)
	if err != nil {
		return essentials.AddCtx("save checkpoint", err)
	}
	if err := writeFile(path, data); err != nil {
		return essentials.AddCtx("save checkpoint", err)
	}
	return nil
}

// LoadCheckpoint reads a model written by SaveCheckpoint.
func LoadCheckpoint(path string) (*copyformer.Transformer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, essentials.AddCtx("load checkpoint", err)
	}
	var model *copyformer.Transformer
	if err := serializer.DeserializeAny(data, &model); err != nil {
		return nil, essentials.AddCtx("load checkpoint", err)
	}
	return model, nil
}
