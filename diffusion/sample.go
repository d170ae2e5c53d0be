package diffusion

import (
	"fmt"

	"github.com/tsawler/go-palette/tensor"
)

// InferOneBatch reconstructs the masked region of cond. Sampling starts
// from noise inside the mask and applies the model's refinement step for
// t = T-1 down to 0, re-imposing cond outside the mask after every step.
func (e *Engine) InferOneBatch(cond, mask *tensor.Tensor) (*tensor.Tensor, error) {
	if cond == nil || mask == nil || !tensor.SameShape(cond, mask) {
		return nil, fmt.Errorf("%w: cond %v, mask %v", ErrShapeMismatch, shapeOf(cond), shapeOf(mask))
	}

	noise, err := tensor.RandomNormalLike(cond, e.rng)
	if err != nil {
		return nil, err
	}
	current, err := tensor.Blend(noise, cond, mask)
	if err != nil {
		return nil, err
	}

	for t := e.InferenceSchedule.Len() - 1; t >= 0; t-- {
		refined, err := e.Model.RefinementStep(current, cond, e.InferenceSchedule.Alpha(t), e.InferenceSchedule.Gamma(t))
		if err != nil {
			return nil, fmt.Errorf("refinement step %d failed: %w", t, err)
		}
		if !tensor.SameShape(refined, cond) {
			return nil, fmt.Errorf("%w: refinement step %d returned %v, want %v", ErrShapeMismatch, t, shapeOf(refined), cond.Shape)
		}
		if current, err = tensor.Blend(refined, cond, mask); err != nil {
			return nil, err
		}
		if e.observer != nil {
			e.observer(t, current)
		}
	}
	return current, nil
}
