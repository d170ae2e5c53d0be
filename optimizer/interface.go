package optimizer

import (
	"fmt"

	"github.com/tsawler/go-palette/checkpoints"
)

// Parameter is a learnable tensor owned by a model. Value and Grad are
// flat float32 slices of equal length; the optimizer updates Value in
// place from Grad.
type Parameter struct {
	Name  string
	Shape []int
	Value []float32
	Grad  []float32
}

// NewParameter wraps value as a parameter with a zero gradient.
func NewParameter(name string, shape []int, value []float32) *Parameter {
	return &Parameter{
		Name:  name,
		Shape: append([]int(nil), shape...),
		Value: value,
		Grad:  make([]float32, len(value)),
	}
}

// ZeroGrad clears the accumulated gradient.
func (p *Parameter) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// Optimizer defines the common interface for all optimizers
// This interface enables state save/restore for checkpoint functionality
type Optimizer interface {
	// Step applies one update to every parameter from its gradient
	Step() error

	// ZeroGrad clears the gradients of every parameter
	ZeroGrad()

	// GetState extracts optimizer state for checkpointing
	GetState() (*OptimizerState, error)

	// LoadState restores optimizer state from checkpoint
	LoadState(state *OptimizerState) error

	// GetStepCount returns the current optimization step number
	GetStepCount() uint64

	LearningRate() float64

	// UpdateLearningRate updates the learning rate
	UpdateLearningRate(lr float64)
}

// OptimizerState represents the complete state of an optimizer
type OptimizerState = checkpoints.OptimizerState

func validateParameters(params []*Parameter) error {
	if len(params) == 0 {
		return fmt.Errorf("no parameters provided")
	}
	for i, p := range params {
		if p == nil {
			return fmt.Errorf("parameter %d is nil", i)
		}
		if len(p.Value) != len(p.Grad) {
			return fmt.Errorf("parameter %s: value has %d elements, grad has %d", p.Name, len(p.Value), len(p.Grad))
		}
		if calculateTensorSize(p.Shape) != len(p.Value) {
			return fmt.Errorf("parameter %s: shape %v does not match %d elements", p.Name, p.Shape, len(p.Value))
		}
	}
	return nil
}

// calculateTensorSize calculates the number of elements in a tensor
func calculateTensorSize(shape []int) int {
	size := 1
	for _, dim := range shape {
		size *= dim
	}
	return size
}

// extractBufferIndex extracts the buffer index from state tensor names like "momentum_0", "variance_1"
func extractBufferIndex(name string) int {
	var idx int
	lastUnderscoreIdx := -1
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '_' {
			lastUnderscoreIdx = i
			break
		}
	}

	if lastUnderscoreIdx == -1 {
		return -1
	}

	if n, err := fmt.Sscanf(name[lastUnderscoreIdx+1:], "%d", &idx); n == 1 && err == nil {
		return idx
	}
	return -1
}

// validateStateType ensures the state type matches the optimizer
func validateStateType(optimizerType string, state *OptimizerState) error {
	if state == nil {
		return fmt.Errorf("optimizer state is nil")
	}
	if state.Type != optimizerType {
		return fmt.Errorf("state type mismatch: expected %s, got %s", optimizerType, state.Type)
	}
	return nil
}
