package dataset

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/tsawler/go-palette/tensor"
)

// MaskGenerator produces [C, H, W] masks with 1 over the unknown region.
type MaskGenerator interface {
	Generate(rng *rand.Rand, channels, height, width int) (*tensor.Tensor, error)
}

// NewMaskGenerator returns the generator for kind: center, box or half.
func NewMaskGenerator(kind string) (MaskGenerator, error) {
	switch strings.ToLower(kind) {
	case "", "center":
		return CenterMask{Fraction: 0.5}, nil
	case "box":
		return BoxMask{MinFraction: 0.25, MaxFraction: 0.5}, nil
	case "half":
		return HalfMask{}, nil
	default:
		return nil, fmt.Errorf("unknown mask kind %q", kind)
	}
}

// CenterMask hides a centred rectangle covering Fraction of each side.
type CenterMask struct {
	Fraction float64
}

func (m CenterMask) Generate(_ *rand.Rand, channels, height, width int) (*tensor.Tensor, error) {
	if m.Fraction <= 0 || m.Fraction > 1 {
		return nil, fmt.Errorf("center mask fraction must be in (0, 1], got %v", m.Fraction)
	}
	h := atLeastOne(int(float64(height) * m.Fraction))
	w := atLeastOne(int(float64(width) * m.Fraction))
	return rectMask(channels, height, width, (height-h)/2, (width-w)/2, h, w)
}

// BoxMask hides a rectangle at a random position whose sides are drawn
// uniformly between MinFraction and MaxFraction of the image.
type BoxMask struct {
	MinFraction, MaxFraction float64
}

func (m BoxMask) Generate(rng *rand.Rand, channels, height, width int) (*tensor.Tensor, error) {
	if rng == nil {
		return nil, fmt.Errorf("box mask requires a random source")
	}
	if m.MinFraction <= 0 || m.MaxFraction > 1 || m.MinFraction > m.MaxFraction {
		return nil, fmt.Errorf("box mask fractions must satisfy 0 < min <= max <= 1, got %v, %v", m.MinFraction, m.MaxFraction)
	}
	side := func(n int) int {
		f := m.MinFraction + rng.Float64()*(m.MaxFraction-m.MinFraction)
		return atLeastOne(int(float64(n) * f))
	}
	h, w := side(height), side(width)
	top := rng.Intn(height - h + 1)
	left := rng.Intn(width - w + 1)
	return rectMask(channels, height, width, top, left, h, w)
}

// HalfMask hides the right half of the image.
type HalfMask struct{}

func (HalfMask) Generate(_ *rand.Rand, channels, height, width int) (*tensor.Tensor, error) {
	w := width - width/2
	return rectMask(channels, height, width, 0, width-w, height, w)
}

func rectMask(channels, height, width, top, left, h, w int) (*tensor.Tensor, error) {
	mask, err := tensor.Zeros([]int{channels, height, width})
	if err != nil {
		return nil, err
	}
	plane := height * width
	for c := 0; c < channels; c++ {
		for y := top; y < top+h; y++ {
			for x := left; x < left+w; x++ {
				mask.Data[c*plane+y*width+x] = 1
			}
		}
	}
	return mask, nil
}

func atLeastOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
