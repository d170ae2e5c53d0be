package training

import (
	"fmt"
	"math"
	"strings"

	"github.com/tsawler/go-palette/tensor"
)

// Metric compares a batch of outputs against targets and yields one
// scalar per sample.
type Metric interface {
	Name() string
	Compute(output, target *tensor.Tensor) ([]float64, error)
}

// NaNMean averages values while skipping NaN entries. It returns NaN when
// every value is NaN or the slice is empty.
func NaNMean(values []float64) float64 {
	var sum float64
	var n int
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// NewMetric returns the metric registered under name.
func NewMetric(name string) (Metric, error) {
	switch strings.ToLower(name) {
	case "mae":
		return MAE{}, nil
	case "mse":
		return MSE{}, nil
	case "rmse":
		return RMSE{}, nil
	case "psnr":
		return PSNR{}, nil
	case "masked_mae":
		return MaskedMAE{}, nil
	default:
		return nil, fmt.Errorf("unknown metric %q", name)
	}
}

// NewMetrics resolves a list of metric names, preserving order.
func NewMetrics(names []string) ([]Metric, error) {
	metrics := make([]Metric, 0, len(names))
	for _, name := range names {
		m, err := NewMetric(name)
		if err != nil {
			return nil, err
		}
		metrics = append(metrics, m)
	}
	return metrics, nil
}

// perSample applies reduce to the element pairs of every sample along the
// leading dimension.
func perSample(output, target *tensor.Tensor, reduce func(o, t []float32) float64) ([]float64, error) {
	if output == nil || target == nil {
		return nil, fmt.Errorf("%w: nil tensor", tensor.ErrShapeMismatch)
	}
	if !tensor.SameShape(output, target) {
		return nil, fmt.Errorf("%w: output %v, target %v", tensor.ErrShapeMismatch, output.Shape, target.Shape)
	}
	n := output.BatchSize()
	if n == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	size := output.NumElems / n
	results := make([]float64, n)
	for i := 0; i < n; i++ {
		results[i] = reduce(output.Data[i*size:(i+1)*size], target.Data[i*size:(i+1)*size])
	}
	return results, nil
}

func meanSquaredError(o, t []float32) float64 {
	var sum float64
	for i := range o {
		d := float64(o[i]) - float64(t[i])
		sum += d * d
	}
	return sum / float64(len(o))
}

// MAE is the per-sample mean absolute error
type MAE struct{}

func (MAE) Name() string { return "MAE" }

func (MAE) Compute(output, target *tensor.Tensor) ([]float64, error) {
	return perSample(output, target, func(o, t []float32) float64 {
		var sum float64
		for i := range o {
			sum += math.Abs(float64(o[i]) - float64(t[i]))
		}
		return sum / float64(len(o))
	})
}

// MSE is the per-sample mean squared error
type MSE struct{}

func (MSE) Name() string { return "MSE" }

func (MSE) Compute(output, target *tensor.Tensor) ([]float64, error) {
	return perSample(output, target, meanSquaredError)
}

// RMSE is the per-sample root mean squared error
type RMSE struct{}

func (RMSE) Name() string { return "RMSE" }

func (RMSE) Compute(output, target *tensor.Tensor) ([]float64, error) {
	return perSample(output, target, func(o, t []float32) float64 {
		return math.Sqrt(meanSquaredError(o, t))
	})
}

// PSNR is the per-sample peak signal-to-noise ratio in dB for images in
// [-1, 1] (peak-to-peak range 2). Identical images give +Inf.
type PSNR struct{}

func (PSNR) Name() string { return "PSNR" }

func (PSNR) Compute(output, target *tensor.Tensor) ([]float64, error) {
	return perSample(output, target, func(o, t []float32) float64 {
		mse := meanSquaredError(o, t)
		if mse == 0 {
			return math.Inf(1)
		}
		return 10 * math.Log10(4/mse)
	})
}

// MaskedMetric is implemented by metrics that can restrict themselves to
// the unknown region of a mask.
type MaskedMetric interface {
	Metric
	ComputeMasked(output, target, mask *tensor.Tensor) ([]float64, error)
}

// MaskedMAE is the mean absolute error over the unknown (mask != 0)
// region. Samples with an empty mask yield NaN, which NaNMean skips.
// Without a mask it behaves like MAE.
type MaskedMAE struct{}

func (MaskedMAE) Name() string { return "MaskedMAE" }

func (MaskedMAE) Compute(output, target *tensor.Tensor) ([]float64, error) {
	return MAE{}.Compute(output, target)
}

func (MaskedMAE) ComputeMasked(output, target, mask *tensor.Tensor) ([]float64, error) {
	results, err := perSample(output, target, func(o, t []float32) float64 { return 0 })
	if err != nil {
		return nil, err
	}
	if mask == nil || !tensor.SameShape(output, mask) {
		return nil, fmt.Errorf("%w: mask does not match output", tensor.ErrShapeMismatch)
	}
	size := output.NumElems / len(results)
	for i := range results {
		var sum float64
		var count int
		for j := i * size; j < (i+1)*size; j++ {
			if mask.Data[j] == 0 {
				continue
			}
			sum += math.Abs(float64(output.Data[j]) - float64(target.Data[j]))
			count++
		}
		if count == 0 {
			results[i] = math.NaN()
		} else {
			results[i] = sum / float64(count)
		}
	}
	return results, nil
}
