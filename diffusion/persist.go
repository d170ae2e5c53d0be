package diffusion

import (
	"fmt"
	"path/filepath"

	"github.com/tsawler/go-palette/tensor"
)

// Save writes the model weights to models/model_<epoch>, with a _BEST
// suffix for a new best epoch.
func (e *Engine) Save(epoch int, best bool) error {
	if err := e.Model.SaveWeights(e.weightPath(epoch, best)); err != nil {
		return fmt.Errorf("failed to save model for epoch %d: %w", epoch, err)
	}
	return nil
}

func (e *Engine) weightPath(epoch int, best bool) string {
	name := fmt.Sprintf("model_%d", epoch)
	if best {
		name += "_BEST"
	}
	return filepath.Join(e.modelDir, name)
}

// logLine appends text to the run log and, when alsoPrint is set, to the
// console logger.
func (e *Engine) logLine(text string, alsoPrint bool) error {
	if err := e.runLog.WriteLine(text, true); err != nil {
		return fmt.Errorf("failed to write run log: %w", err)
	}
	if alsoPrint {
		e.logger.Info(text)
	}
	return nil
}

func (e *Engine) logScalar(series string, value float64, step int) error {
	for _, s := range e.scalars {
		if err := s.AddScalar(series, value, step); err != nil {
			return fmt.Errorf("failed to log scalar %s: %w", series, err)
		}
	}
	return nil
}

func (e *Engine) logVisuals(series string, index int, cond, predicted, gt *tensor.Tensor) error {
	images := []struct {
		suffix, tag string
		img         *tensor.Tensor
	}{
		{"Conditioned", "Cond", cond},
		{"Predicted", "Pred", predicted},
		{"Ground Truth", "GT", gt},
	}

	for _, s := range e.images {
		for _, im := range images {
			if err := s.AddImage(series+"/"+im.suffix, im.img, index); err != nil {
				return fmt.Errorf("failed to log image %s/%s: %w", series, im.suffix, err)
			}
		}
	}
	for _, s := range e.artifacts {
		for _, im := range images {
			name := fmt.Sprintf("%s_%s_%d", series, im.tag, index)
			if err := s.SaveArtifact(im.img, e.imageDir, name); err != nil {
				return fmt.Errorf("failed to save artifact %s: %w", name, err)
			}
		}
	}
	return nil
}
