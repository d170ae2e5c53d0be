package tensor

import (
	"fmt"
)

// Reshape returns a tensor sharing t's data with a new shape. One
// dimension may be -1 and is inferred.
func (t *Tensor) Reshape(newShape []int) (*Tensor, error) {
	shape := make([]int, len(newShape))
	copy(shape, newShape)

	newNumElems := 1
	negOneIdx := -1
	for i, dim := range shape {
		switch {
		case dim == -1:
			if negOneIdx >= 0 {
				return nil, fmt.Errorf("only one dimension can be -1")
			}
			negOneIdx = i
		case dim <= 0:
			return nil, fmt.Errorf("dimension %d has invalid size %d", i, dim)
		default:
			newNumElems *= dim
		}
	}

	if negOneIdx >= 0 {
		if t.NumElems%newNumElems != 0 {
			return nil, fmt.Errorf("cannot reshape tensor of size %d into shape with -1: size must be divisible by %d", t.NumElems, newNumElems)
		}
		shape[negOneIdx] = t.NumElems / newNumElems
		newNumElems = t.NumElems
	}

	if newNumElems != t.NumElems {
		return nil, fmt.Errorf("cannot reshape tensor of size %d into shape %v (size %d)", t.NumElems, shape, newNumElems)
	}

	return &Tensor{
		Shape:    shape,
		Strides:  calculateStrides(shape),
		Data:     t.Data,
		NumElems: t.NumElems,
	}, nil
}

func (t *Tensor) Clone() *Tensor {
	clone := &Tensor{
		Shape:    make([]int, len(t.Shape)),
		Strides:  make([]int, len(t.Strides)),
		Data:     make([]float32, len(t.Data)),
		NumElems: t.NumElems,
	}
	copy(clone.Shape, t.Shape)
	copy(clone.Strides, t.Strides)
	copy(clone.Data, t.Data)
	return clone
}

// Equal reports whether both tensors have the same shape and bit-identical
// elements. NaN compares unequal to NaN, as with ==.
func (t *Tensor) Equal(other *Tensor) bool {
	if other == nil || !shapesEqual(t.Shape, other.Shape) {
		return false
	}
	for i := 0; i < t.NumElems; i++ {
		if t.Data[i] != other.Data[i] {
			return false
		}
	}
	return true
}

// At returns the element at the given indices.
func (t *Tensor) At(indices ...int) (float32, error) {
	if len(indices) != len(t.Shape) {
		return 0, fmt.Errorf("expected %d indices, got %d", len(t.Shape), len(indices))
	}
	offset := 0
	for i, idx := range indices {
		if idx < 0 || idx >= t.Shape[i] {
			return 0, fmt.Errorf("index %d out of range for dimension %d (size %d)", idx, i, t.Shape[i])
		}
		offset += idx * t.Strides[i]
	}
	return t.Data[offset], nil
}

// Sample returns a copy of item i of the leading dimension, keeping a
// leading dimension of size one.
func (t *Tensor) Sample(i int) (*Tensor, error) {
	if len(t.Shape) < 2 {
		return nil, fmt.Errorf("Sample requires at least 2 dimensions, got %d", len(t.Shape))
	}
	if i < 0 || i >= t.Shape[0] {
		return nil, fmt.Errorf("sample index %d out of range [0, %d)", i, t.Shape[0])
	}
	size := t.Strides[0]
	shape := append([]int{1}, t.Shape[1:]...)
	data := make([]float32, size)
	copy(data, t.Data[i*size:(i+1)*size])
	return NewTensor(shape, data)
}

// Stack joins same-shaped samples along a new leading dimension, so N
// samples of shape S give [N, S...].
func Stack(samples []*Tensor) (*Tensor, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot stack zero tensors")
	}
	itemShape := samples[0].Shape
	data := make([]float32, 0, samples[0].NumElems*len(samples))
	for i, s := range samples {
		if !shapesEqual(s.Shape, itemShape) {
			return nil, fmt.Errorf("%w: sample %d has shape %v, expected %v", ErrShapeMismatch, i, s.Shape, itemShape)
		}
		data = append(data, s.Data...)
	}
	return NewTensor(append([]int{len(samples)}, itemShape...), data)
}
