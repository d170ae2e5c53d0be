package optimizer

import (
	"fmt"
	"math"

	"github.com/tsawler/go-palette/checkpoints"
)

// AdamOptimizer implements Adam with decoupled (AdamW-style) weight decay
type AdamOptimizer struct {
	// Hyperparameters
	Rate        float64
	Beta1       float64 // Momentum decay (typically 0.9)
	Beta2       float64 // Variance decay (typically 0.999)
	Epsilon     float64 // Small constant to prevent division by zero (typically 1e-8)
	WeightDecay float64

	MomentumBuffers [][]float32 // First moment for each parameter
	VarianceBuffers [][]float32 // Second moment for each parameter

	// Step tracking for bias correction
	StepCount uint64

	params []*Parameter
}

// AdamConfig holds configuration for Adam optimizer
type AdamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64
}

// DefaultAdamConfig returns default Adam optimizer configuration
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
	}
}

// NewAdamOptimizer creates an Adam optimizer over params
func NewAdamOptimizer(config AdamConfig, params []*Parameter) (*AdamOptimizer, error) {
	if err := validateParameters(params); err != nil {
		return nil, err
	}
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Beta1 < 0 || config.Beta1 >= 1 {
		return nil, fmt.Errorf("beta1 must be in [0, 1): %f", config.Beta1)
	}
	if config.Beta2 < 0 || config.Beta2 >= 1 {
		return nil, fmt.Errorf("beta2 must be in [0, 1): %f", config.Beta2)
	}
	if config.Epsilon <= 0 {
		return nil, fmt.Errorf("epsilon must be positive: %g", config.Epsilon)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}

	adam := &AdamOptimizer{
		Rate:            config.LearningRate,
		Beta1:           config.Beta1,
		Beta2:           config.Beta2,
		Epsilon:         config.Epsilon,
		WeightDecay:     config.WeightDecay,
		MomentumBuffers: make([][]float32, len(params)),
		VarianceBuffers: make([][]float32, len(params)),
		params:          params,
	}
	for i, p := range params {
		adam.MomentumBuffers[i] = make([]float32, len(p.Value))
		adam.VarianceBuffers[i] = make([]float32, len(p.Value))
	}

	return adam, nil
}

// Step performs a single Adam optimization step
func (adam *AdamOptimizer) Step() error {
	adam.StepCount++

	bias1 := 1 - math.Pow(adam.Beta1, float64(adam.StepCount))
	bias2 := 1 - math.Pow(adam.Beta2, float64(adam.StepCount))

	for i, p := range adam.params {
		m := adam.MomentumBuffers[i]
		v := adam.VarianceBuffers[i]
		for j, w := range p.Value {
			g := float64(p.Grad[j])
			mj := adam.Beta1*float64(m[j]) + (1-adam.Beta1)*g
			vj := adam.Beta2*float64(v[j]) + (1-adam.Beta2)*g*g
			m[j] = float32(mj)
			v[j] = float32(vj)

			update := (mj / bias1) / (math.Sqrt(vj/bias2) + adam.Epsilon)
			p.Value[j] = float32(float64(w) - adam.Rate*(update+adam.WeightDecay*float64(w)))
		}
	}
	return nil
}

func (adam *AdamOptimizer) ZeroGrad() {
	for _, p := range adam.params {
		p.ZeroGrad()
	}
}

func (adam *AdamOptimizer) LearningRate() float64 {
	return adam.Rate
}

// UpdateLearningRate updates the learning rate (useful for learning rate scheduling)
func (adam *AdamOptimizer) UpdateLearningRate(newLR float64) {
	adam.Rate = newLR
}

// GetStepCount returns the current step count
func (adam *AdamOptimizer) GetStepCount() uint64 {
	return adam.StepCount
}

// GetState extracts optimizer state for checkpointing
func (adam *AdamOptimizer) GetState() (*OptimizerState, error) {
	stateData := make([]checkpoints.OptimizerTensor, 0, 2*len(adam.params))
	for i := range adam.params {
		stateData = append(stateData,
			*extractBufferState(adam.MomentumBuffers[i], fmt.Sprintf("momentum_%d", i), "momentum"),
			*extractBufferState(adam.VarianceBuffers[i], fmt.Sprintf("variance_%d", i), "variance"),
		)
	}

	return &OptimizerState{
		Type: "Adam",
		Parameters: map[string]interface{}{
			"learning_rate": adam.Rate,
			"beta1":         adam.Beta1,
			"beta2":         adam.Beta2,
			"epsilon":       adam.Epsilon,
			"weight_decay":  adam.WeightDecay,
			"step_count":    float64(adam.StepCount),
		},
		StateData: stateData,
	}, nil
}

// LoadState restores optimizer state from checkpoint
func (adam *AdamOptimizer) LoadState(state *OptimizerState) error {
	if err := validateStateType("Adam", state); err != nil {
		return err
	}

	adam.Rate = extractFloat64Param(state.Parameters, "learning_rate", adam.Rate)
	adam.Beta1 = extractFloat64Param(state.Parameters, "beta1", adam.Beta1)
	adam.Beta2 = extractFloat64Param(state.Parameters, "beta2", adam.Beta2)
	adam.Epsilon = extractFloat64Param(state.Parameters, "epsilon", adam.Epsilon)
	adam.WeightDecay = extractFloat64Param(state.Parameters, "weight_decay", adam.WeightDecay)
	adam.StepCount = extractUint64Param(state.Parameters, "step_count", adam.StepCount)

	if err := restoreIndexedBuffers(adam.MomentumBuffers, state, "momentum"); err != nil {
		return err
	}
	return restoreIndexedBuffers(adam.VarianceBuffers, state, "variance")
}
