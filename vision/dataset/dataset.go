// Package dataset provides image sources and the inpainting dataset that
// turns them into ground truth, conditioning image and mask triples.
package dataset

import (
	"fmt"

	"github.com/tsawler/go-palette/tensor"
)

// Sample is one training or evaluation example, each tensor [C, H, W].
type Sample struct {
	GroundTruth *tensor.Tensor
	Cond        *tensor.Tensor
	Mask        *tensor.Tensor
}

// Dataset is an indexed collection of samples.
type Dataset interface {
	Len() int
	Get(index int) (*Sample, error)
}

// ImageSource is an indexed collection of [C, H, W] images in [-1, 1].
type ImageSource interface {
	Len() int
	Image(index int) (*tensor.Tensor, error)
}

func checkIndex(index, n int) error {
	if index < 0 || index >= n {
		return fmt.Errorf("index %d out of range [0, %d)", index, n)
	}
	return nil
}
