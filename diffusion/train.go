package diffusion

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/tsawler/go-palette/tensor"
	"github.com/tsawler/go-palette/training"
)

// TrainOneBatch corrupts the ground truth at a uniformly drawn noise level,
// asks the model for the noise and applies one optimizer update. The loss
// is returned as computed, NaN included.
func (e *Engine) TrainOneBatch(b *Batch) (float64, error) {
	if err := b.Validate(); err != nil {
		return 0, err
	}

	e.Optimizer.ZeroGrad()

	gamma := e.TrainSchedule.Gamma(e.rng.Intn(e.TrainSchedule.Len()))
	noise, err := tensor.RandomNormalLike(b.GroundTruth, e.rng)
	if err != nil {
		return 0, err
	}
	noisy, err := tensor.Corrupt(b.GroundTruth, noise, gamma)
	if err != nil {
		return 0, fmt.Errorf("failed to corrupt batch: %w", err)
	}

	predicted, err := e.Model.PredictNoise(b.Cond, noisy, gamma)
	if err != nil {
		return 0, fmt.Errorf("noise prediction failed: %w", err)
	}
	if !tensor.SameShape(predicted, noise) {
		return 0, fmt.Errorf("%w: predicted noise %v, want %v", ErrShapeMismatch, shapeOf(predicted), noise.Shape)
	}

	loss, err := e.Loss.Forward(predicted, noise)
	if err != nil {
		return 0, fmt.Errorf("loss forward failed: %w", err)
	}
	grad, err := e.Loss.Backward(predicted, noise)
	if err != nil {
		return 0, fmt.Errorf("loss backward failed: %w", err)
	}
	if err := e.Model.Backward(grad); err != nil {
		return 0, fmt.Errorf("model backward failed: %w", err)
	}
	if err := e.Optimizer.Step(); err != nil {
		return 0, fmt.Errorf("optimizer step failed: %w", err)
	}
	return loss, nil
}

// TrainSingleEpoch runs one pass over the training data. Every LogEvery
// batches it logs the interval mean and emits train/<loss> at the global
// batch index. It returns the mean of the last interval, counting a
// partial tail.
func (e *Engine) TrainSingleEpoch(ctx context.Context, epoch int) (float64, error) {
	e.Model.Train()
	if err := e.TrainData.Reset(); err != nil {
		return 0, fmt.Errorf("failed to reset training data: %w", err)
	}

	batches := e.TrainData.Len()
	bar := training.NewProgressBarTo(e.progress, fmt.Sprintf("Epoch %d", epoch), batches)
	series := "train/" + e.Loss.Name()

	var (
		running float64
		pending int
		last    float64
		i       int
	)
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		b, err := e.TrainData.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("failed to load training batch: %w", err)
		}
		i++

		loss, err := e.TrainOneBatch(b)
		if err != nil {
			return 0, fmt.Errorf("batch %d: %w", i, err)
		}
		lr := e.Optimizer.LearningRate()
		bar.Update(i, map[string]float64{"lr": lr, "loss": loss})

		running += loss
		pending++
		if i%e.cfg.LogEvery != 0 {
			continue
		}

		last = running / float64(e.cfg.LogEvery)
		if err := e.logLine(fmt.Sprintf("Epoch %3d, iteration %6d. Current learning rate is %.2e. Mean loss: %.5f.",
			epoch, i, lr, last), false); err != nil {
			return 0, err
		}
		if err := e.logScalar(series, last, (epoch-1)*batches+i); err != nil {
			return 0, err
		}
		running, pending = 0, 0
	}
	bar.Finish()

	if i == 0 {
		return 0, fmt.Errorf("%w: training data produced no batches", ErrInvalidConfig)
	}
	if pending > 0 {
		last = running / float64(pending)
	}
	return last, nil
}

func shapeOf(t *tensor.Tensor) []int {
	if t == nil {
		return nil
	}
	return t.Shape
}
