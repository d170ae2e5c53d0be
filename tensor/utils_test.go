package tensor

import (
	"errors"
	"reflect"
	"testing"
)

func TestReshape(t *testing.T) {
	x, _ := NewTensor([]int{2, 3}, []float32{1, 2, 3, 4, 5, 6})

	r, err := x.Reshape([]int{3, -1})
	if err != nil {
		t.Fatalf("Reshape failed: %v", err)
	}
	if !reflect.DeepEqual(r.Shape, []int{3, 2}) {
		t.Errorf("Shape = %v, expected [3 2]", r.Shape)
	}
	if &r.Data[0] != &x.Data[0] {
		t.Error("Reshape should share the underlying data")
	}

	if _, err := x.Reshape([]int{4, 2}); err == nil {
		t.Error("expected error for size mismatch")
	}
	if _, err := x.Reshape([]int{-1, -1}); err == nil {
		t.Error("expected error for two inferred dimensions")
	}
}

func TestCloneIsDeep(t *testing.T) {
	x, _ := NewTensor([]int{2}, []float32{1, 2})
	c := x.Clone()
	c.Data[0] = 42
	if x.Data[0] != 1 {
		t.Error("Clone shares data with the original")
	}
}

func TestAt(t *testing.T) {
	x, _ := NewTensor([]int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	v, err := x.At(1, 2)
	if err != nil {
		t.Fatalf("At failed: %v", err)
	}
	if v != 6 {
		t.Errorf("At(1, 2) = %f, expected 6", v)
	}
	if _, err := x.At(2, 0); err == nil {
		t.Error("expected out of range error")
	}
}

func TestSampleAndStack(t *testing.T) {
	x, _ := NewTensor([]int{3, 1, 2}, []float32{1, 2, 3, 4, 5, 6})

	last, err := x.Sample(2)
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}
	if !reflect.DeepEqual(last.Shape, []int{1, 1, 2}) {
		t.Errorf("Sample shape = %v, expected [1 1 2]", last.Shape)
	}
	if last.Data[0] != 5 || last.Data[1] != 6 {
		t.Errorf("Sample data = %v, expected [5 6]", last.Data)
	}
	if _, err := x.Sample(3); err == nil {
		t.Error("expected error for sample index out of range")
	}

	first, _ := x.Sample(0)
	stacked, err := Stack([]*Tensor{first, last})
	if err != nil {
		t.Fatalf("Stack failed: %v", err)
	}
	if !reflect.DeepEqual(stacked.Shape, []int{2, 1, 1, 2}) {
		t.Errorf("Stack shape = %v, expected [2 1 1 2]", stacked.Shape)
	}
	if !reflect.DeepEqual(stacked.Data, []float32{1, 2, 5, 6}) {
		t.Errorf("Stack data = %v, expected [1 2 5 6]", stacked.Data)
	}

	odd, _ := Zeros([]int{1, 3})
	if _, err := Stack([]*Tensor{first, odd}); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Stack error = %v, expected ErrShapeMismatch", err)
	}
	flat, _ := Zeros([]int{1, 2})
	if _, err := Stack([]*Tensor{first, flat}); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Stack of [1 1 2] and [1 2] = %v, expected ErrShapeMismatch", err)
	}
}

func TestStackKeepsSampleShape(t *testing.T) {
	tests := []struct {
		name   string
		sample []int
		want   []int
	}{
		{"single channel", []int{1, 2, 2}, []int{3, 1, 2, 2}},
		{"rgb", []int{3, 2, 2}, []int{3, 3, 2, 2}},
		{"vector", []int{4}, []int{3, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			samples := make([]*Tensor, 3)
			for i := range samples {
				samples[i], _ = Full(tt.sample, float32(i))
			}
			stacked, err := Stack(samples)
			if err != nil {
				t.Fatalf("Stack failed: %v", err)
			}
			if !reflect.DeepEqual(stacked.Shape, tt.want) {
				t.Errorf("Stack shape = %v, expected %v", stacked.Shape, tt.want)
			}
			per := stacked.NumElems / 3
			if stacked.Data[per] != 1 || stacked.Data[2*per] != 2 {
				t.Errorf("samples out of order: %v", stacked.Data)
			}
		})
	}
}
