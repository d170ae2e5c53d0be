package tensor

import (
	"errors"
	"fmt"
)

// ErrShapeMismatch is returned when two tensors taking part in the same
// operation do not share a shape.
var ErrShapeMismatch = errors.New("tensor shape mismatch")

// Tensor is a dense, row-major float32 array. Images are laid out as
// [batch, channels, height, width].
type Tensor struct {
	Shape    []int
	Strides  []int
	Data     []float32
	NumElems int
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, elements=%d)", t.Shape, t.NumElems)
}

// Dim returns the number of dimensions
func (t *Tensor) Dim() int {
	return len(t.Shape)
}

// BatchSize returns the size of the leading dimension
func (t *Tensor) BatchSize() int {
	if len(t.Shape) == 0 {
		return 0
	}
	return t.Shape[0]
}

func calculateStrides(shape []int) []int {
	if len(shape) == 0 {
		return []int{}
	}

	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func calculateNumElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}

	elements := 1
	for _, dim := range shape {
		elements *= dim
	}
	return elements
}

func validateShape(shape []int) error {
	for i, dim := range shape {
		if dim <= 0 {
			return fmt.Errorf("invalid shape: dimension %d has size %d, must be positive", i, dim)
		}
	}
	return nil
}

func shapesEqual(shape1, shape2 []int) bool {
	if len(shape1) != len(shape2) {
		return false
	}
	for i := range shape1 {
		if shape1[i] != shape2[i] {
			return false
		}
	}
	return true
}

// SameShape reports whether every tensor has the shape of the first one.
func SameShape(tensors ...*Tensor) bool {
	if len(tensors) == 0 {
		return true
	}
	for _, t := range tensors[1:] {
		if !shapesEqual(tensors[0].Shape, t.Shape) {
			return false
		}
	}
	return true
}

func checkShapesCompatible(t1, t2 *Tensor) error {
	if t1 == nil || t2 == nil {
		return fmt.Errorf("%w: nil tensor", ErrShapeMismatch)
	}
	if len(t1.Shape) == 0 || len(t2.Shape) == 0 {
		return fmt.Errorf("%w: cannot operate on empty tensors", ErrShapeMismatch)
	}
	if !shapesEqual(t1.Shape, t2.Shape) {
		return fmt.Errorf("%w: %v vs %v", ErrShapeMismatch, t1.Shape, t2.Shape)
	}
	return nil
}
