package optimizer

import (
	"fmt"

	"github.com/tsawler/go-palette/checkpoints"
)

// SGDOptimizer implements stochastic gradient descent with optional
// momentum, Nesterov momentum and L2 weight decay.
type SGDOptimizer struct {
	// Hyperparameters
	Rate        float64
	Momentum    float64 // Momentum coefficient (0 for vanilla SGD)
	WeightDecay float64 // L2 regularization coefficient
	Nesterov    bool

	// Momentum buffers, allocated only if momentum > 0
	MomentumBuffers [][]float32

	StepCount uint64

	params []*Parameter
}

// SGDConfig holds configuration for SGD optimizer
type SGDConfig struct {
	LearningRate float64
	Momentum     float64
	WeightDecay  float64
	Nesterov     bool
}

// DefaultSGDConfig returns default SGD optimizer configuration
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.01,
		Momentum:     0.0,
		WeightDecay:  0.0,
		Nesterov:     false,
	}
}

// NewSGDOptimizer creates an SGD optimizer over params
func NewSGDOptimizer(config SGDConfig, params []*Parameter) (*SGDOptimizer, error) {
	if err := validateParameters(params); err != nil {
		return nil, err
	}

	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Momentum < 0 {
		return nil, fmt.Errorf("momentum cannot be negative: %f", config.Momentum)
	}
	if config.Momentum > 1.0 {
		return nil, fmt.Errorf("momentum cannot be greater than 1.0: %f", config.Momentum)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}
	if config.Nesterov && config.Momentum == 0 {
		return nil, fmt.Errorf("nesterov momentum requires a positive momentum")
	}

	sgd := &SGDOptimizer{
		Rate:        config.LearningRate,
		Momentum:    config.Momentum,
		WeightDecay: config.WeightDecay,
		Nesterov:    config.Nesterov,
		params:      params,
	}

	if config.Momentum > 0 {
		sgd.MomentumBuffers = make([][]float32, len(params))
		for i, p := range params {
			sgd.MomentumBuffers[i] = make([]float32, len(p.Value))
		}
	}

	return sgd, nil
}

// Step performs a single SGD optimization step
func (sgd *SGDOptimizer) Step() error {
	first := sgd.StepCount == 0
	sgd.StepCount++

	for i, p := range sgd.params {
		var buf []float32
		if sgd.MomentumBuffers != nil {
			buf = sgd.MomentumBuffers[i]
		}
		for j, w := range p.Value {
			g := float64(p.Grad[j]) + sgd.WeightDecay*float64(w)
			if buf != nil {
				if first {
					buf[j] = float32(g)
				} else {
					buf[j] = float32(sgd.Momentum*float64(buf[j]) + g)
				}
				if sgd.Nesterov {
					g += sgd.Momentum * float64(buf[j])
				} else {
					g = float64(buf[j])
				}
			}
			p.Value[j] = float32(float64(w) - sgd.Rate*g)
		}
	}
	return nil
}

func (sgd *SGDOptimizer) ZeroGrad() {
	for _, p := range sgd.params {
		p.ZeroGrad()
	}
}

func (sgd *SGDOptimizer) LearningRate() float64 {
	return sgd.Rate
}

// UpdateLearningRate updates the learning rate (useful for learning rate scheduling)
func (sgd *SGDOptimizer) UpdateLearningRate(lr float64) {
	sgd.Rate = lr
}

// GetStepCount returns the current step count
func (sgd *SGDOptimizer) GetStepCount() uint64 {
	return sgd.StepCount
}

// GetState extracts optimizer state for checkpointing
func (sgd *SGDOptimizer) GetState() (*OptimizerState, error) {
	stateData := make([]checkpoints.OptimizerTensor, 0)

	for i, buffer := range sgd.MomentumBuffers {
		if tensor := extractBufferState(buffer, fmt.Sprintf("momentum_%d", i), "momentum"); tensor != nil {
			stateData = append(stateData, *tensor)
		}
	}

	return &OptimizerState{
		Type: "SGD",
		Parameters: map[string]interface{}{
			"learning_rate": sgd.Rate,
			"momentum":      sgd.Momentum,
			"weight_decay":  sgd.WeightDecay,
			"nesterov":      sgd.Nesterov,
			"step_count":    float64(sgd.StepCount),
		},
		StateData: stateData,
	}, nil
}

// LoadState restores optimizer state from checkpoint
func (sgd *SGDOptimizer) LoadState(state *OptimizerState) error {
	if err := validateStateType("SGD", state); err != nil {
		return err
	}

	sgd.Rate = extractFloat64Param(state.Parameters, "learning_rate", sgd.Rate)
	sgd.Momentum = extractFloat64Param(state.Parameters, "momentum", sgd.Momentum)
	sgd.WeightDecay = extractFloat64Param(state.Parameters, "weight_decay", sgd.WeightDecay)
	sgd.Nesterov = extractBoolParam(state.Parameters, "nesterov", sgd.Nesterov)
	sgd.StepCount = extractUint64Param(state.Parameters, "step_count", sgd.StepCount)

	if sgd.Momentum > 0 && sgd.MomentumBuffers == nil {
		sgd.MomentumBuffers = make([][]float32, len(sgd.params))
		for i, p := range sgd.params {
			sgd.MomentumBuffers[i] = make([]float32, len(p.Value))
		}
	}

	return restoreIndexedBuffers(sgd.MomentumBuffers, state, "momentum")
}
