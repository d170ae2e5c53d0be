// Package schedule builds the per-timestep coefficient tables consumed by
// the diffusion engine.
package schedule

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidSchedule is returned for empty, ragged or out-of-range tables.
var ErrInvalidSchedule = errors.New("invalid noise schedule")

// NoiseSchedule holds T (alpha, gamma) pairs. Index 0 is the least
// corrupted step; gamma is the cumulative retained-signal fraction and
// never increases with the index.
type NoiseSchedule struct {
	Alphas []float64 `yaml:"alphas" json:"alphas"`
	Gammas []float64 `yaml:"gammas" json:"gammas"`
}

// New validates and wraps the coefficient tables.
func New(alphas, gammas []float64) (*NoiseSchedule, error) {
	s := &NoiseSchedule{Alphas: alphas, Gammas: gammas}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// FromBetas derives alpha_t = 1 - beta_t and gamma_t = prod(alpha_0..alpha_t).
func FromBetas(betas []float64) (*NoiseSchedule, error) {
	alphas := make([]float64, len(betas))
	gammas := make([]float64, len(betas))
	cumulative := 1.0
	for i, beta := range betas {
		if beta < 0 || beta >= 1 || math.IsNaN(beta) {
			return nil, fmt.Errorf("%w: beta[%d] = %v outside [0, 1)", ErrInvalidSchedule, i, beta)
		}
		alphas[i] = 1 - beta
		cumulative *= alphas[i]
		gammas[i] = cumulative
	}
	return New(alphas, gammas)
}

// Validate checks the invariants the engine relies on.
func (s *NoiseSchedule) Validate() error {
	if len(s.Gammas) == 0 {
		return fmt.Errorf("%w: schedule must have at least one step", ErrInvalidSchedule)
	}
	if len(s.Alphas) != len(s.Gammas) {
		return fmt.Errorf("%w: %d alphas but %d gammas", ErrInvalidSchedule, len(s.Alphas), len(s.Gammas))
	}
	for i, g := range s.Gammas {
		if !(g > 0 && g <= 1) {
			return fmt.Errorf("%w: gamma[%d] = %v outside (0, 1]", ErrInvalidSchedule, i, g)
		}
		if i > 0 && g > s.Gammas[i-1] {
			return fmt.Errorf("%w: gamma[%d] = %v increases over gamma[%d] = %v", ErrInvalidSchedule, i, g, i-1, s.Gammas[i-1])
		}
		if a := s.Alphas[i]; !(a > 0 && a <= 1) {
			return fmt.Errorf("%w: alpha[%d] = %v outside (0, 1]", ErrInvalidSchedule, i, a)
		}
	}
	return nil
}

func (s *NoiseSchedule) Len() int {
	return len(s.Gammas)
}

func (s *NoiseSchedule) Alpha(t int) float64 {
	return s.Alphas[t]
}

func (s *NoiseSchedule) Gamma(t int) float64 {
	return s.Gammas[t]
}
