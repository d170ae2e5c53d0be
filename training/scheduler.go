package training

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// LRScheduler defines the interface for learning rate scheduling strategies.
// GetLR is a pure function of its arguments so that a failed epoch can be
// retried without rewinding scheduler state.
type LRScheduler interface {
	// GetLR returns the learning rate for the current epoch/step
	GetLR(epoch int, step int, baseLR float64) float64

	// GetName returns the scheduler name for logging
	GetName() string
}

// MetricScheduler is implemented by schedulers that react to an
// evaluation metric rather than to the epoch number alone.
type MetricScheduler interface {
	LRScheduler
	Step(metric float64, currentLR float64) float64
}

// StatefulScheduler is implemented by schedulers whose progress must be
// checkpointed to survive a restart.
type StatefulScheduler interface {
	LRScheduler
	State() map[string]interface{}
	LoadState(state map[string]interface{}) error
}

// SchedulerConfig selects and parameterizes a scheduler. Zero values fall
// back to each scheduler's defaults.
type SchedulerConfig struct {
	Kind      string  `yaml:"kind"`
	StepSize  int     `yaml:"step_size,omitempty"`
	Gamma     float64 `yaml:"gamma,omitempty"`
	TMax      int     `yaml:"t_max,omitempty"`
	EtaMin    float64 `yaml:"eta_min,omitempty"`
	Factor    float64 `yaml:"factor,omitempty"`
	Patience  int     `yaml:"patience,omitempty"`
	Threshold float64 `yaml:"threshold,omitempty"`
	Mode      string  `yaml:"mode,omitempty"`
}

// NewScheduler builds the scheduler named by cfg.Kind: constant, step,
// exponential, cosine or plateau.
func NewScheduler(cfg SchedulerConfig) (LRScheduler, error) {
	switch strings.ToLower(cfg.Kind) {
	case "", "constant", "none":
		return &NoOpScheduler{}, nil
	case "step":
		return NewStepLRScheduler(cfg.StepSize, cfg.Gamma), nil
	case "exponential", "exp":
		return NewExponentialLRScheduler(cfg.Gamma), nil
	case "cosine":
		return NewCosineAnnealingLRScheduler(cfg.TMax, cfg.EtaMin), nil
	case "plateau":
		return NewReduceLROnPlateauScheduler(cfg.Factor, cfg.Patience, cfg.Threshold, cfg.Mode), nil
	default:
		return nil, fmt.Errorf("unknown lr scheduler %q", cfg.Kind)
	}
}

// StepLRScheduler reduces learning rate by a factor every stepSize epochs
type StepLRScheduler struct {
	StepSize int     // Epochs between LR reductions
	Gamma    float64 // Multiplicative factor of LR decay
}

// NewStepLRScheduler creates a step learning rate scheduler
func NewStepLRScheduler(stepSize int, gamma float64) *StepLRScheduler {
	if stepSize <= 0 {
		stepSize = 30
	}
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.1
	}
	return &StepLRScheduler{StepSize: stepSize, Gamma: gamma}
}

func (s *StepLRScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	return baseLR * math.Pow(s.Gamma, float64(epoch/s.StepSize))
}

func (s *StepLRScheduler) GetName() string {
	return "StepLR"
}

// ExponentialLRScheduler decays learning rate exponentially
type ExponentialLRScheduler struct {
	Gamma float64 // Multiplicative factor of LR decay per epoch
}

// NewExponentialLRScheduler creates an exponential learning rate scheduler
func NewExponentialLRScheduler(gamma float64) *ExponentialLRScheduler {
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.95
	}
	return &ExponentialLRScheduler{Gamma: gamma}
}

func (s *ExponentialLRScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	return baseLR * math.Pow(s.Gamma, float64(epoch))
}

func (s *ExponentialLRScheduler) GetName() string {
	return "ExponentialLR"
}

// CosineAnnealingLRScheduler implements cosine annealing schedule
type CosineAnnealingLRScheduler struct {
	TMax   int     // Maximum number of epochs
	EtaMin float64 // Minimum learning rate
}

// NewCosineAnnealingLRScheduler creates a cosine annealing scheduler
func NewCosineAnnealingLRScheduler(tMax int, etaMin float64) *CosineAnnealingLRScheduler {
	if tMax <= 0 {
		tMax = 100
	}
	if etaMin < 0 {
		etaMin = 0
	}
	return &CosineAnnealingLRScheduler{TMax: tMax, EtaMin: etaMin}
}

func (s *CosineAnnealingLRScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	if epoch >= s.TMax {
		return s.EtaMin
	}
	return s.EtaMin + (baseLR-s.EtaMin)*(1+math.Cos(math.Pi*float64(epoch)/float64(s.TMax)))/2
}

func (s *CosineAnnealingLRScheduler) GetName() string {
	return "CosineAnnealingLR"
}

// ReduceLROnPlateauScheduler reduces LR when a metric has stopped improving.
// Unlike the other schedulers it keeps state, fed by Step.
type ReduceLROnPlateauScheduler struct {
	Factor    float64 // Factor by which the learning rate will be reduced
	Patience  int     // Evaluations with no improvement before reducing
	Threshold float64 // Threshold for measuring the new optimum
	Mode      string  // One of "min" or "max"

	bestMetric  float64
	badEpochs   int
	currentLR   float64
	initialized bool
}

// NewReduceLROnPlateauScheduler creates a plateau-based scheduler
func NewReduceLROnPlateauScheduler(factor float64, patience int, threshold float64, mode string) *ReduceLROnPlateauScheduler {
	if factor <= 0 || factor >= 1 {
		factor = 0.1
	}
	if patience <= 0 {
		patience = 10
	}
	if threshold < 0 {
		threshold = 1e-4
	}
	if mode != "min" && mode != "max" {
		mode = "min"
	}
	return &ReduceLROnPlateauScheduler{
		Factor:    factor,
		Patience:  patience,
		Threshold: threshold,
		Mode:      mode,
	}
}

// Step records one evaluation of the monitored metric and returns the
// learning rate to use from now on.
func (s *ReduceLROnPlateauScheduler) Step(metric float64, currentLR float64) float64 {
	if !s.initialized {
		s.bestMetric = metric
		s.currentLR = currentLR
		s.initialized = true
		return currentLR
	}

	var improved bool
	if s.Mode == "min" {
		improved = metric < s.bestMetric-s.Threshold
	} else {
		improved = metric > s.bestMetric+s.Threshold
	}

	if improved {
		s.bestMetric = metric
		s.badEpochs = 0
	} else {
		s.badEpochs++
		if s.badEpochs >= s.Patience {
			s.currentLR *= s.Factor
			s.badEpochs = 0
		}
	}

	return s.currentLR
}

func (s *ReduceLROnPlateauScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	if s.initialized {
		return s.currentLR
	}
	return baseLR
}

func (s *ReduceLROnPlateauScheduler) GetName() string {
	return "ReduceLROnPlateau"
}

// State returns the scheduler progress. Non-finite metrics are stored as
// strings so the map survives JSON encoding.
func (s *ReduceLROnPlateauScheduler) State() map[string]interface{} {
	return map[string]interface{}{
		"initialized": s.initialized,
		"best_metric": EncodeFloat(s.bestMetric),
		"bad_epochs":  float64(s.badEpochs),
		"current_lr":  s.currentLR,
	}
}

// LoadState restores progress saved by State.
func (s *ReduceLROnPlateauScheduler) LoadState(state map[string]interface{}) error {
	initialized, _ := state["initialized"].(bool)
	best, err := DecodeFloat(state["best_metric"])
	if err != nil {
		return fmt.Errorf("best_metric: %w", err)
	}
	bad, err := DecodeFloat(state["bad_epochs"])
	if err != nil {
		return fmt.Errorf("bad_epochs: %w", err)
	}
	lr, err := DecodeFloat(state["current_lr"])
	if err != nil {
		return fmt.Errorf("current_lr: %w", err)
	}
	s.initialized = initialized
	s.bestMetric = best
	s.badEpochs = int(bad)
	s.currentLR = lr
	return nil
}

// EncodeFloat returns v unchanged when finite and as "NaN", "+Inf" or
// "-Inf" otherwise.
func EncodeFloat(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	return v
}

// DecodeFloat reverses EncodeFloat. A missing value decodes to zero.
func DecodeFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case string:
		return strconv.ParseFloat(x, 64)
	default:
		return 0, fmt.Errorf("unexpected value %v (%T)", v, v)
	}
}

// NoOpScheduler maintains constant learning rate (default behavior)
type NoOpScheduler struct{}

func (s *NoOpScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	return baseLR
}

func (s *NoOpScheduler) GetName() string {
	return "ConstantLR"
}
