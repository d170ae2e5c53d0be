package dataset

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-palette/tensor"
)

// InpaintingDataset pairs every image of a source with a generated mask.
// The conditioning image equals the ground truth outside the mask and is
// zero inside it. The mask for index i is drawn from a generator seeded
// with seed+i, so a sample is the same every time it is loaded.
type InpaintingDataset struct {
	source ImageSource
	masks  MaskGenerator
	seed   int64
}

// NewInpaintingDataset wraps source.
func NewInpaintingDataset(source ImageSource, masks MaskGenerator, seed int64) (*InpaintingDataset, error) {
	if source == nil || masks == nil {
		return nil, fmt.Errorf("inpainting dataset needs an image source and a mask generator")
	}
	return &InpaintingDataset{source: source, masks: masks, seed: seed}, nil
}

func (d *InpaintingDataset) Len() int { return d.source.Len() }

// Get builds the sample at index.
func (d *InpaintingDataset) Get(index int) (*Sample, error) {
	gt, err := d.source.Image(index)
	if err != nil {
		return nil, err
	}
	cond, mask, err := MaskImage(gt, d.masks, rand.New(rand.NewSource(d.seed+int64(index))))
	if err != nil {
		return nil, fmt.Errorf("sample %d: %w", index, err)
	}
	return &Sample{GroundTruth: gt, Cond: cond, Mask: mask}, nil
}

// MaskImage applies masks to a single image outside any dataset, returning
// the conditioning image and mask.
func MaskImage(img *tensor.Tensor, masks MaskGenerator, rng *rand.Rand) (cond, mask *tensor.Tensor, err error) {
	if img.Dim() != 3 {
		return nil, nil, fmt.Errorf("%w: image has shape %v, want [C, H, W]", tensor.ErrShapeMismatch, img.Shape)
	}
	if mask, err = masks.Generate(rng, img.Shape[0], img.Shape[1], img.Shape[2]); err != nil {
		return nil, nil, err
	}
	if cond, err = tensor.Blend(tensor.ZerosLike(img), img, mask); err != nil {
		return nil, nil, err
	}
	return cond, mask, nil
}
