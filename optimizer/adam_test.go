package optimizer

import (
	"math"
	"testing"
)

// TestAdamConfig tests the Adam configuration
func TestAdamConfig(t *testing.T) {
	config := DefaultAdamConfig()

	if config.LearningRate != 0.001 {
		t.Errorf("Expected learning rate 0.001, got %f", config.LearningRate)
	}
	if config.Beta1 != 0.9 {
		t.Errorf("Expected beta1 0.9, got %f", config.Beta1)
	}
	if config.Beta2 != 0.999 {
		t.Errorf("Expected beta2 0.999, got %f", config.Beta2)
	}
	if config.Epsilon != 1e-8 {
		t.Errorf("Expected epsilon 1e-8, got %g", config.Epsilon)
	}
	if config.WeightDecay != 0.0 {
		t.Errorf("Expected weight decay 0.0, got %f", config.WeightDecay)
	}
}

func TestAdamConfigValidation(t *testing.T) {
	params := []*Parameter{NewParameter("w", []int{1}, []float32{0})}
	for _, config := range []AdamConfig{
		{LearningRate: -1, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8},
		{LearningRate: 0.1, Beta1: 1, Beta2: 0.999, Epsilon: 1e-8},
		{LearningRate: 0.1, Beta1: 0.9, Beta2: 1.2, Epsilon: 1e-8},
		{LearningRate: 0.1, Beta1: 0.9, Beta2: 0.999, Epsilon: 0},
		{LearningRate: 0.1, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8, WeightDecay: -1},
	} {
		if _, err := NewAdamOptimizer(config, params); err == nil {
			t.Errorf("expected error for %+v", config)
		}
	}
}

// The bias-corrected first step moves each weight by lr*sign(grad).
func TestAdamFirstStep(t *testing.T) {
	p := NewParameter("w", []int{3}, []float32{1, 1, 1})
	adam, err := NewAdamOptimizer(DefaultAdamConfig(), []*Parameter{p})
	if err != nil {
		t.Fatal(err)
	}
	adam.UpdateLearningRate(0.1)

	p.Grad[0], p.Grad[1], p.Grad[2] = 2, -0.5, 0
	if err := adam.Step(); err != nil {
		t.Fatal(err)
	}

	want := []float32{0.9, 1.1, 1}
	for i := range want {
		if math.Abs(float64(p.Value[i]-want[i])) > 1e-4 {
			t.Errorf("w[%d]: got %v, want %v", i, p.Value[i], want[i])
		}
	}
}

func TestAdamDecoupledWeightDecay(t *testing.T) {
	config := DefaultAdamConfig()
	config.LearningRate = 0.1
	config.WeightDecay = 0.5
	p := NewParameter("w", []int{1}, []float32{2})
	adam, err := NewAdamOptimizer(config, []*Parameter{p})
	if err != nil {
		t.Fatal(err)
	}
	// With zero gradient only the decay term moves the weight.
	if err := adam.Step(); err != nil {
		t.Fatal(err)
	}
	if math.Abs(float64(p.Value[0])-1.9) > 1e-5 {
		t.Errorf("got %v, want 1.9", p.Value[0])
	}
}

func TestAdamConverges(t *testing.T) {
	config := DefaultAdamConfig()
	config.LearningRate = 0.05
	p := NewParameter("w", []int{1}, []float32{3})
	adam, err := NewAdamOptimizer(config, []*Parameter{p})
	if err != nil {
		t.Fatal(err)
	}
	// minimize (w - 1)^2
	for i := 0; i < 500; i++ {
		adam.ZeroGrad()
		p.Grad[0] = 2 * (p.Value[0] - 1)
		if err := adam.Step(); err != nil {
			t.Fatal(err)
		}
	}
	if math.Abs(float64(p.Value[0])-1) > 0.1 {
		t.Errorf("did not converge: w = %v", p.Value[0])
	}
}

func TestAdamStateRoundTrip(t *testing.T) {
	p := NewParameter("w", []int{2}, []float32{1, 2})
	adam, err := NewAdamOptimizer(DefaultAdamConfig(), []*Parameter{p})
	if err != nil {
		t.Fatal(err)
	}
	p.Grad[0], p.Grad[1] = 1, -1
	for i := 0; i < 3; i++ {
		if err := adam.Step(); err != nil {
			t.Fatal(err)
		}
	}

	state, err := adam.GetState()
	if err != nil {
		t.Fatal(err)
	}
	if len(state.StateData) != 2 {
		t.Fatalf("expected momentum and variance tensors, got %d", len(state.StateData))
	}

	q := NewParameter("w", []int{2}, []float32{1, 2})
	restored, err := NewAdamOptimizer(DefaultAdamConfig(), []*Parameter{q})
	if err != nil {
		t.Fatal(err)
	}
	if err := restored.LoadState(state); err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if restored.GetStepCount() != 3 {
		t.Errorf("step count: got %d", restored.GetStepCount())
	}
	for i := range adam.MomentumBuffers[0] {
		if restored.MomentumBuffers[0][i] != adam.MomentumBuffers[0][i] ||
			restored.VarianceBuffers[0][i] != adam.VarianceBuffers[0][i] {
			t.Errorf("moment %d not restored", i)
		}
	}

	state.StateData[0].Name = "momentum_7"
	if err := restored.LoadState(state); err == nil {
		t.Error("expected invalid index error")
	}
}
