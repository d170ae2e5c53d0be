package pixel

import (
	"fmt"

	"github.com/tsawler/go-palette/checkpoints"
)

const (
	weightName = "pixel.weight"
	biasName   = "pixel.bias"
)

// Checkpoint captures the current weights. Training state, optimizer
// state and metadata are left for the caller to fill in.
func (m *Model) Checkpoint() *checkpoints.Checkpoint {
	return &checkpoints.Checkpoint{
		Weights: []checkpoints.WeightTensor{
			{
				Name:  weightName,
				Shape: append([]int(nil), m.weight.Shape...),
				Data:  append([]float32(nil), m.weight.Value...),
				Layer: "pixel",
				Type:  "weight",
			},
			{
				Name:  biasName,
				Shape: append([]int(nil), m.bias.Shape...),
				Data:  append([]float32(nil), m.bias.Value...),
				Layer: "pixel",
				Type:  "bias",
			},
		},
		Metadata: checkpoints.CheckpointMetadata{
			Description: fmt.Sprintf("pixel denoiser, %d channels", m.channels),
			Tags:        []string{"pixel"},
		},
	}
}

// SaveWeights writes the weights as a JSON checkpoint.
func (m *Model) SaveWeights(path string) error {
	return m.SaveWeightsAs(path, checkpoints.FormatJSON)
}

// SaveWeightsAs writes the weights in the given format.
func (m *Model) SaveWeightsAs(path string, format checkpoints.CheckpointFormat) error {
	return checkpoints.NewCheckpointSaver(format).SaveCheckpoint(m.Checkpoint(), path)
}

// LoadWeights copies weights from a checkpoint into m.
func (m *Model) LoadWeights(c *checkpoints.Checkpoint) error {
	w, ok := c.Weight(weightName)
	if !ok {
		return fmt.Errorf("pixel: checkpoint has no %s", weightName)
	}
	b, ok := c.Weight(biasName)
	if !ok {
		return fmt.Errorf("pixel: checkpoint has no %s", biasName)
	}
	if len(w.Data) != len(m.weight.Value) || len(b.Data) != len(m.bias.Value) {
		return fmt.Errorf("pixel: checkpoint holds %d/%d values, model needs %d/%d",
			len(w.Data), len(b.Data), len(m.weight.Value), len(m.bias.Value))
	}
	copy(m.weight.Value, w.Data)
	copy(m.bias.Value, b.Data)
	return nil
}

// FromCheckpoint builds a model sized by the checkpoint's weight tensor.
func FromCheckpoint(c *checkpoints.Checkpoint, seed int64) (*Model, error) {
	w, ok := c.Weight(weightName)
	if !ok || len(w.Shape) != 2 || w.Shape[1] != numFeatures {
		return nil, fmt.Errorf("pixel: checkpoint is not a pixel model")
	}
	m, err := New(Config{Channels: w.Shape[0], Seed: seed})
	if err != nil {
		return nil, err
	}
	if err := m.LoadWeights(c); err != nil {
		return nil, err
	}
	return m, nil
}

// Load reads a checkpoint file in the given format and builds the model.
func Load(path string, format checkpoints.CheckpointFormat, seed int64) (*Model, *checkpoints.Checkpoint, error) {
	c, err := checkpoints.NewCheckpointSaver(format).LoadCheckpoint(path)
	if err != nil {
		return nil, nil, err
	}
	m, err := FromCheckpoint(c, seed)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, c, nil
}
