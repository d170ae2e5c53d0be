package dataset

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/tsawler/go-palette/tensor"
)

// SyntheticDataset generates smooth procedural images. Image i depends only
// on the seed and i.
type SyntheticDataset struct {
	n, channels, size int
	seed              int64
}

// NewSyntheticDataset returns n images of shape [channels, size, size].
func NewSyntheticDataset(n, channels, size int, seed int64) (*SyntheticDataset, error) {
	if n <= 0 || channels <= 0 || size <= 0 {
		return nil, fmt.Errorf("synthetic dataset needs positive n, channels and size, got %d, %d, %d", n, channels, size)
	}
	return &SyntheticDataset{n: n, channels: channels, size: size, seed: seed}, nil
}

func (d *SyntheticDataset) Len() int { return d.n }

// Image renders a sum of two oriented sine waves per channel, scaled into
// [-0.9, 0.9].
func (d *SyntheticDataset) Image(index int) (*tensor.Tensor, error) {
	if err := checkIndex(index, d.n); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(d.seed*1_000_003 + int64(index)))

	plane := d.size * d.size
	data := make([]float32, d.channels*plane)
	for c := 0; c < d.channels; c++ {
		fx, fy := rng.Float64()*4+0.5, rng.Float64()*4+0.5
		phase := rng.Float64() * 2 * math.Pi
		tilt := rng.Float64()*2 - 1
		for y := 0; y < d.size; y++ {
			for x := 0; x < d.size; x++ {
				u := float64(x) / float64(d.size)
				v := float64(y) / float64(d.size)
				val := 0.6*math.Sin(2*math.Pi*fx*u+phase) + 0.3*math.Cos(2*math.Pi*fy*v) + 0.3*tilt*(u-v)
				data[c*plane+y*d.size+x] = float32(math.Max(-0.9, math.Min(0.9, val)))
			}
		}
	}
	return tensor.NewTensor([]int{d.channels, d.size, d.size}, data)
}
