package training

import (
	"fmt"
	"math"
	"strings"

	"github.com/tsawler/go-palette/tensor"
)

// Loss interface defines methods that all loss functions must implement
type Loss interface {
	Forward(predicted, target *tensor.Tensor) (float64, error)
	Backward(predicted, target *tensor.Tensor) (*tensor.Tensor, error)
	Name() string
}

// NewLoss returns the loss named kind ("mse" or "l1") with mean reduction.
func NewLoss(kind string) (Loss, error) {
	switch strings.ToLower(kind) {
	case "", "mse", "l2":
		return NewMSELoss("mean"), nil
	case "l1", "mae":
		return NewL1Loss("mean"), nil
	default:
		return nil, fmt.Errorf("unknown loss %q", kind)
	}
}

func reductionScale(reduction string, n int) float64 {
	if reduction == "mean" {
		return 1.0 / float64(n)
	}
	return 1.0
}

// MSELoss implements Mean Squared Error loss function
type MSELoss struct {
	reduction string // "mean" or "sum"
}

// NewMSELoss creates a new Mean Squared Error loss function
func NewMSELoss(reduction string) *MSELoss {
	if reduction == "" {
		reduction = "mean"
	}
	return &MSELoss{reduction: reduction}
}

func (mse *MSELoss) Name() string {
	return "MSELoss"
}

// Forward computes the MSE loss: L = (1/N) * sum((y_pred - y_true)^2)
func (mse *MSELoss) Forward(predicted, target *tensor.Tensor) (float64, error) {
	diff, err := tensor.Sub(predicted, target)
	if err != nil {
		return 0, fmt.Errorf("predicted and target tensors must have the same shape: %w", err)
	}

	var sum float64
	for _, d := range diff.Data {
		sum += float64(d) * float64(d)
	}
	return sum * reductionScale(mse.reduction, diff.NumElems), nil
}

// Backward computes the gradient of MSE loss
func (mse *MSELoss) Backward(predicted, target *tensor.Tensor) (*tensor.Tensor, error) {
	// d/d(pred) = 2 * (predicted - target) / N
	diff, err := tensor.Sub(predicted, target)
	if err != nil {
		return nil, fmt.Errorf("gradient subtraction failed: %w", err)
	}
	return tensor.Scale(diff, 2*reductionScale(mse.reduction, diff.NumElems)), nil
}

// L1Loss implements mean absolute error loss
type L1Loss struct {
	reduction string
}

// NewL1Loss creates a new L1 loss function
func NewL1Loss(reduction string) *L1Loss {
	if reduction == "" {
		reduction = "mean"
	}
	return &L1Loss{reduction: reduction}
}

func (l1 *L1Loss) Name() string {
	return "L1Loss"
}

// Forward computes L = (1/N) * sum(|y_pred - y_true|)
func (l1 *L1Loss) Forward(predicted, target *tensor.Tensor) (float64, error) {
	diff, err := tensor.Sub(predicted, target)
	if err != nil {
		return 0, fmt.Errorf("predicted and target tensors must have the same shape: %w", err)
	}

	var sum float64
	for _, d := range diff.Data {
		sum += math.Abs(float64(d))
	}
	return sum * reductionScale(l1.reduction, diff.NumElems), nil
}

// Backward uses sign(pred - target) with a zero subgradient at 0.
func (l1 *L1Loss) Backward(predicted, target *tensor.Tensor) (*tensor.Tensor, error) {
	diff, err := tensor.Sub(predicted, target)
	if err != nil {
		return nil, fmt.Errorf("gradient subtraction failed: %w", err)
	}
	scale := float32(reductionScale(l1.reduction, diff.NumElems))
	for i, d := range diff.Data {
		switch {
		case d > 0:
			diff.Data[i] = scale
		case d < 0:
			diff.Data[i] = -scale
		default:
			diff.Data[i] = 0
		}
	}
	return diff, nil
}
