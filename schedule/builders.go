package schedule

import (
	"fmt"
	"math"
	"strings"
)

// Kind names a schedule family.
type Kind string

const (
	KindLinear    Kind = "linear"
	KindQuadratic Kind = "quadratic"
	KindCosine    Kind = "cosine"
)

// Config describes how to build a schedule.
type Config struct {
	Kind      Kind    `yaml:"kind"`
	Steps     int     `yaml:"steps"`
	BetaStart float64 `yaml:"beta_start"`
	BetaEnd   float64 `yaml:"beta_end"`
	CosineS   float64 `yaml:"cosine_s"`
}

// DefaultTrainConfig mirrors the usual image-to-image training table.
func DefaultTrainConfig() Config {
	return Config{Kind: KindLinear, Steps: 2000, BetaStart: 1e-6, BetaEnd: 0.01}
}

// DefaultInferenceConfig is a shorter sweep for sampling.
func DefaultInferenceConfig() Config {
	return Config{Kind: KindLinear, Steps: 1000, BetaStart: 1e-4, BetaEnd: 0.09}
}

// Build constructs the schedule described by c.
func (c Config) Build() (*NoiseSchedule, error) {
	switch Kind(strings.ToLower(string(c.Kind))) {
	case KindLinear, "":
		return Linear(c.Steps, c.BetaStart, c.BetaEnd)
	case KindQuadratic:
		return Quadratic(c.Steps, c.BetaStart, c.BetaEnd)
	case KindCosine:
		s := c.CosineS
		if s <= 0 {
			s = 8e-3
		}
		return Cosine(c.Steps, s)
	default:
		return nil, fmt.Errorf("%w: unknown schedule kind %q", ErrInvalidSchedule, c.Kind)
	}
}

// Linear spaces betas evenly from start to end.
func Linear(steps int, start, end float64) (*NoiseSchedule, error) {
	if steps < 1 {
		return nil, fmt.Errorf("%w: steps must be positive, got %d", ErrInvalidSchedule, steps)
	}
	return FromBetas(linspace(start, end, steps))
}

// Quadratic spaces sqrt(beta) evenly from sqrt(start) to sqrt(end).
func Quadratic(steps int, start, end float64) (*NoiseSchedule, error) {
	if steps < 1 {
		return nil, fmt.Errorf("%w: steps must be positive, got %d", ErrInvalidSchedule, steps)
	}
	betas := linspace(math.Sqrt(start), math.Sqrt(end), steps)
	for i, b := range betas {
		betas[i] = b * b
	}
	return FromBetas(betas)
}

// Cosine follows the squared-cosine cumulative schedule with offset s.
// Betas are capped at 0.999.
func Cosine(steps int, s float64) (*NoiseSchedule, error) {
	if steps < 1 {
		return nil, fmt.Errorf("%w: steps must be positive, got %d", ErrInvalidSchedule, steps)
	}
	f := func(t float64) float64 {
		x := (t/float64(steps) + s) / (1 + s) * math.Pi / 2
		return math.Cos(x) * math.Cos(x)
	}
	betas := make([]float64, steps)
	for i := range betas {
		beta := 1 - f(float64(i+1))/f(float64(i))
		betas[i] = math.Min(math.Max(beta, 0), 0.999)
	}
	return FromBetas(betas)
}

func linspace(start, end float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = start
		return out
	}
	step := (end - start) / float64(n-1)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}
