package tensor

import (
	"fmt"
	"math"
)

func binary(t1, t2 *Tensor, op func(a, b float32) float32) (*Tensor, error) {
	if err := checkShapesCompatible(t1, t2); err != nil {
		return nil, err
	}
	result := ZerosLike(t1)
	for i := 0; i < t1.NumElems; i++ {
		result.Data[i] = op(t1.Data[i], t2.Data[i])
	}
	return result, nil
}

func Sub(t1, t2 *Tensor) (*Tensor, error) {
	return binary(t1, t2, func(a, b float32) float32 { return a - b })
}

// Scale multiplies every element by s.
func Scale(t *Tensor, s float64) *Tensor {
	result := ZerosLike(t)
	for i, v := range t.Data {
		result.Data[i] = float32(float64(v) * s)
	}
	return result
}

// AddScaled computes a*x + b*y element-wise.
func AddScaled(a float64, x *Tensor, b float64, y *Tensor) (*Tensor, error) {
	if err := checkShapesCompatible(x, y); err != nil {
		return nil, err
	}
	result := ZerosLike(x)
	for i := 0; i < x.NumElems; i++ {
		result.Data[i] = float32(a*float64(x.Data[i]) + b*float64(y.Data[i]))
	}
	return result, nil
}

// Corrupt applies the forward diffusion blend
// sqrt(gamma)*clean + sqrt(1-gamma)*noise. With gamma == 1 the result is
// exactly clean.
func Corrupt(clean, noise *Tensor, gamma float64) (*Tensor, error) {
	if gamma <= 0 || gamma > 1 || math.IsNaN(gamma) {
		return nil, fmt.Errorf("gamma must be in (0, 1], got %v", gamma)
	}
	if gamma == 1 {
		if err := checkShapesCompatible(clean, noise); err != nil {
			return nil, err
		}
		return clean.Clone(), nil
	}
	return AddScaled(math.Sqrt(gamma), clean, math.Sqrt(1-gamma), noise)
}

// Blend selects candidate where mask is non-zero and cond elsewhere. It is
// a selection rather than candidate*mask + cond*(1-mask), so known pixels
// are copied bit for bit even when candidate holds NaN or Inf there.
func Blend(candidate, cond, mask *Tensor) (*Tensor, error) {
	if err := checkShapesCompatible(candidate, cond); err != nil {
		return nil, err
	}
	if err := checkShapesCompatible(cond, mask); err != nil {
		return nil, err
	}
	result := ZerosLike(cond)
	for i := 0; i < cond.NumElems; i++ {
		if mask.Data[i] != 0 {
			result.Data[i] = candidate.Data[i]
		} else {
			result.Data[i] = cond.Data[i]
		}
	}
	return result, nil
}

// Sum returns the float64 sum of all elements.
func Sum(t *Tensor) float64 {
	var sum float64
	for _, v := range t.Data {
		sum += float64(v)
	}
	return sum
}

// Mean returns the arithmetic mean of all elements.
func Mean(t *Tensor) float64 {
	if t.NumElems == 0 {
		return math.NaN()
	}
	return Sum(t) / float64(t.NumElems)
}
