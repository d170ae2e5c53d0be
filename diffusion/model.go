// Package diffusion implements the training, sampling and epoch control
// loop of an image-to-image diffusion model. The learned network, noise
// schedules, optimizer, data sources and telemetry are consumed through
// the interfaces declared here.
package diffusion

import (
	"errors"
	"fmt"

	"github.com/tsawler/go-palette/optimizer"
	"github.com/tsawler/go-palette/tensor"
)

var (
	// ErrInvalidConfig reports a missing collaborator or a bad cadence.
	ErrInvalidConfig = errors.New("invalid diffusion config")

	// ErrShapeMismatch reports batch tensors or model outputs whose shape
	// differs from the batch.
	ErrShapeMismatch = tensor.ErrShapeMismatch
)

// Batch holds ground truth, conditioning image and mask, each [N, C, H, W].
// Mask elements are 0 (known) or 1 (unknown).
type Batch struct {
	GroundTruth *tensor.Tensor
	Cond        *tensor.Tensor
	Mask        *tensor.Tensor
}

// Validate checks that all three tensors are present and share one shape.
func (b *Batch) Validate() error {
	if b == nil || b.GroundTruth == nil || b.Cond == nil || b.Mask == nil {
		return fmt.Errorf("%w: batch is missing a tensor", ErrShapeMismatch)
	}
	if !tensor.SameShape(b.GroundTruth, b.Cond, b.Mask) {
		return fmt.Errorf("%w: ground truth %v, cond %v, mask %v",
			ErrShapeMismatch, b.GroundTruth.Shape, b.Cond.Shape, b.Mask.Shape)
	}
	if b.GroundTruth.Dim() < 2 {
		return fmt.Errorf("%w: batch tensors need a leading batch dimension, got %v",
			ErrShapeMismatch, b.GroundTruth.Shape)
	}
	return nil
}

// Size returns the number of samples in the batch.
func (b *Batch) Size() int {
	return b.GroundTruth.BatchSize()
}

// Schedule is a noise schedule indexed 0..Len()-1.
type Schedule interface {
	Len() int
	Alpha(t int) float64
	Gamma(t int) float64
}

// NoisePredictor predicts the noise that was mixed into noisy.
type NoisePredictor interface {
	PredictNoise(cond, noisy *tensor.Tensor, gamma float64) (*tensor.Tensor, error)
}

// Refiner performs one reverse denoising step from level t to t-1.
type Refiner interface {
	RefinementStep(current, cond *tensor.Tensor, alpha, gamma float64) (*tensor.Tensor, error)
}

// Trainable exposes what the training step needs from a model.
type Trainable interface {
	// Backward propagates the loss gradient w.r.t. the last prediction
	// into the parameter gradients.
	Backward(grad *tensor.Tensor) error
	Parameters() []*optimizer.Parameter
	Train()
	Eval()
}

// WeightWriter persists model weights.
type WeightWriter interface {
	SaveWeights(path string) error
}

// Model is the full capability set the engine drives.
type Model interface {
	NoisePredictor
	Refiner
	Trainable
	WeightWriter
}

// UnimplementedRefiner can be embedded by models that have not defined a
// refinement step. Sampling with such a model panics.
type UnimplementedRefiner struct{}

// RefinementStep always panics.
func (UnimplementedRefiner) RefinementStep(current, cond *tensor.Tensor, alpha, gamma float64) (*tensor.Tensor, error) {
	panic("diffusion: must define a refinement step")
}

// Loss is the training objective.
type Loss interface {
	Forward(predicted, target *tensor.Tensor) (float64, error)
	Backward(predicted, target *tensor.Tensor) (*tensor.Tensor, error)
	Name() string
}

// Metric scores a predicted batch against the ground truth, one value per
// sample. NaN values are allowed and skipped during aggregation.
type Metric interface {
	Name() string
	Compute(output, target *tensor.Tensor) ([]float64, error)
}

// MaskedMetric is a Metric that restricts itself to the unknown region.
type MaskedMetric interface {
	Metric
	ComputeMasked(output, target, mask *tensor.Tensor) ([]float64, error)
}

// Optimizer applies parameter updates.
type Optimizer interface {
	ZeroGrad()
	Step() error
	LearningRate() float64
	UpdateLearningRate(lr float64)
}

// LRScheduler maps an epoch to a learning rate.
type LRScheduler interface {
	GetLR(epoch int, step int, baseLR float64) float64
	GetName() string
}

// MetricScheduler is an LRScheduler driven by the evaluation RMS.
type MetricScheduler interface {
	LRScheduler
	Step(metric float64, currentLR float64) float64
}

// BatchSource yields batches for one epoch. Next returns io.EOF when the
// epoch is exhausted and Reset starts a new one.
type BatchSource interface {
	Len() int
	Reset() error
	Next() (*Batch, error)
}

// ScalarSink records a scalar series value.
type ScalarSink interface {
	AddScalar(series string, value float64, step int) error
}

// ImageSink records an image series value.
type ImageSink interface {
	AddImage(series string, img *tensor.Tensor, step int) error
}

// ArtifactSaver writes a named image artifact into dir.
type ArtifactSaver interface {
	SaveArtifact(img *tensor.Tensor, dir, name string) error
}

// RunLog is the durable, append-only run log.
type RunLog interface {
	WriteLine(line string, stamp bool) error
}

// StepObserver is called after every reverse step with the re-blended
// image at level t.
type StepObserver func(t int, current *tensor.Tensor)

// MetricResult is the mean of one metric over an evaluation epoch.
type MetricResult struct {
	Name string
	Mean float64
}

type constantLR struct{}

func (constantLR) GetLR(_ int, _ int, baseLR float64) float64 { return baseLR }
func (constantLR) GetName() string                           { return "ConstantLR" }
