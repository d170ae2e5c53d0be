// Package pixel provides a small conditional denoiser used for smoke runs
// and tests. Each output channel is an affine function of the noisy image,
// the conditioning image and their products with sqrt(gamma).
package pixel

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/tsawler/go-palette/optimizer"
	"github.com/tsawler/go-palette/tensor"
)

// features per channel: y, cond, y*sqrt(gamma), cond*sqrt(gamma)
const numFeatures = 4

// ErrNoForward is returned by Backward when no training forward pass is
// cached.
var ErrNoForward = errors.New("pixel: backward without a training forward pass")

// Config describes the model.
type Config struct {
	Channels int
	Seed     int64
	// InitScale is the standard deviation of the initial weights.
	InitScale float64
}

// DefaultConfig returns an RGB model.
func DefaultConfig() Config {
	return Config{Channels: 3, Seed: 1, InitScale: 0.01}
}

// Model is the pixel-wise noise predictor.
type Model struct {
	channels int
	weight   *optimizer.Parameter // [C, numFeatures]
	bias     *optimizer.Parameter // [C]

	mu       sync.Mutex
	rng      *rand.Rand
	training bool

	// last training forward pass
	lastNoisy *tensor.Tensor
	lastCond  *tensor.Tensor
	lastScale float32
}

// New creates a model with small random weights.
func New(cfg Config) (*Model, error) {
	if cfg.Channels <= 0 {
		return nil, fmt.Errorf("pixel: channels must be positive, got %d", cfg.Channels)
	}
	if cfg.InitScale < 0 {
		return nil, fmt.Errorf("pixel: init scale cannot be negative, got %v", cfg.InitScale)
	}
	rng := rand.New(rand.NewSource(cfg.Seed))

	w := make([]float32, cfg.Channels*numFeatures)
	for i := range w {
		w[i] = float32(rng.NormFloat64() * cfg.InitScale)
	}
	return &Model{
		channels: cfg.Channels,
		weight:   optimizer.NewParameter("pixel.weight", []int{cfg.Channels, numFeatures}, w),
		bias:     optimizer.NewParameter("pixel.bias", []int{cfg.Channels}, make([]float32, cfg.Channels)),
		rng:      rng,
		training: true,
	}, nil
}

// Channels returns the number of image channels the model expects.
func (m *Model) Channels() int { return m.channels }

// Parameters returns the weight and bias parameters.
func (m *Model) Parameters() []*optimizer.Parameter {
	return []*optimizer.Parameter{m.weight, m.bias}
}

// Train enables caching of forward passes for Backward.
func (m *Model) Train() {
	m.mu.Lock()
	m.training = true
	m.mu.Unlock()
}

// Eval disables caching and drops any cached pass.
func (m *Model) Eval() {
	m.mu.Lock()
	m.training = false
	m.lastNoisy, m.lastCond = nil, nil
	m.mu.Unlock()
}

// checkInput requires [N, C, H, W] inputs of matching shape.
func (m *Model) checkInput(cond, noisy *tensor.Tensor) error {
	if cond == nil || noisy == nil || !tensor.SameShape(cond, noisy) {
		return fmt.Errorf("%w: cond and noisy must share a shape", tensor.ErrShapeMismatch)
	}
	if noisy.Dim() != 4 || noisy.Shape[1] != m.channels {
		return fmt.Errorf("%w: expected [N, %d, H, W], got %v", tensor.ErrShapeMismatch, m.channels, noisy.Shape)
	}
	return nil
}

// PredictNoise estimates the noise mixed into noisy at level gamma.
func (m *Model) PredictNoise(cond, noisy *tensor.Tensor, gamma float64) (*tensor.Tensor, error) {
	if err := m.checkInput(cond, noisy); err != nil {
		return nil, err
	}
	if gamma < 0 || gamma > 1 || math.IsNaN(gamma) {
		return nil, fmt.Errorf("pixel: gamma %v outside [0, 1]", gamma)
	}
	s := float32(math.Sqrt(gamma))

	out := tensor.ZerosLike(noisy)
	plane := noisy.Shape[2] * noisy.Shape[3]
	for n := 0; n < noisy.Shape[0]; n++ {
		for c := 0; c < m.channels; c++ {
			w := m.weight.Value[c*numFeatures : (c+1)*numFeatures]
			b := m.bias.Value[c]
			base := (n*m.channels + c) * plane
			for i := base; i < base+plane; i++ {
				y, x := noisy.Data[i], cond.Data[i]
				out.Data[i] = w[0]*y + w[1]*x + w[2]*y*s + w[3]*x*s + b
			}
		}
	}

	m.mu.Lock()
	if m.training {
		m.lastNoisy, m.lastCond, m.lastScale = noisy.Clone(), cond.Clone(), s
	}
	m.mu.Unlock()
	return out, nil
}

// Backward accumulates parameter gradients for the last training forward
// pass. grad is d(loss)/d(prediction).
func (m *Model) Backward(grad *tensor.Tensor) error {
	m.mu.Lock()
	noisy, cond, s := m.lastNoisy, m.lastCond, m.lastScale
	m.mu.Unlock()

	if noisy == nil {
		return ErrNoForward
	}
	if grad == nil || !tensor.SameShape(grad, noisy) {
		return fmt.Errorf("%w: gradient %v for prediction %v", tensor.ErrShapeMismatch, shapeOf(grad), noisy.Shape)
	}

	plane := noisy.Shape[2] * noisy.Shape[3]
	for n := 0; n < noisy.Shape[0]; n++ {
		for c := 0; c < m.channels; c++ {
			var g [numFeatures]float64
			var gb float64
			base := (n*m.channels + c) * plane
			for i := base; i < base+plane; i++ {
				d := float64(grad.Data[i])
				y, x := float64(noisy.Data[i]), float64(cond.Data[i])
				g[0] += d * y
				g[1] += d * x
				g[2] += d * y * float64(s)
				g[3] += d * x * float64(s)
				gb += d
			}
			for k := range g {
				m.weight.Grad[c*numFeatures+k] += float32(g[k])
			}
			m.bias.Grad[c] += float32(gb)
		}
	}
	return nil
}

// RefinementStep samples y_{t-1} from the posterior given y_t = current.
// The clean image implied by the predicted noise is clipped to [-1, 1]
// before the posterior mean is formed. The previous cumulative level is
// gamma/alpha, so the final step (gamma == alpha) adds no noise.
func (m *Model) RefinementStep(current, cond *tensor.Tensor, alpha, gamma float64) (*tensor.Tensor, error) {
	if alpha <= 0 || alpha > 1 || gamma <= 0 || gamma > 1 {
		return nil, fmt.Errorf("pixel: invalid step alpha=%v gamma=%v", alpha, gamma)
	}
	eps, err := m.PredictNoise(cond, current, gamma)
	if err != nil {
		return nil, err
	}

	oneMinusGamma := 1 - gamma
	if oneMinusGamma <= 0 {
		return current.Clone(), nil
	}
	gammaPrev := math.Min(gamma/alpha, 1)
	beta := 1 - alpha

	sqrtGamma := math.Sqrt(gamma)
	sqrtOneMinus := math.Sqrt(oneMinusGamma)
	coefX0 := beta * math.Sqrt(gammaPrev) / oneMinusGamma
	coefY := (1 - gammaPrev) * math.Sqrt(alpha) / oneMinusGamma
	std := math.Sqrt(math.Max(beta*(1-gammaPrev)/oneMinusGamma, 0))

	out := tensor.ZerosLike(current)
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, y := range current.Data {
		x0 := (float64(y) - sqrtOneMinus*float64(eps.Data[i])) / sqrtGamma
		x0 = math.Max(-1, math.Min(1, x0))
		v := coefX0*x0 + coefY*float64(y)
		if std > 0 {
			v += std * m.rng.NormFloat64()
		}
		out.Data[i] = float32(v)
	}
	return out, nil
}

func shapeOf(t *tensor.Tensor) []int {
	if t == nil {
		return nil
	}
	return t.Shape
}
