package tensor

import (
	"math"
	"math/rand"
	"reflect"
	"testing"
)

func TestNewTensor(t *testing.T) {
	t.Run("Valid tensor", func(t *testing.T) {
		shape := []int{2, 3}
		data := []float32{1, 2, 3, 4, 5, 6}

		tensor, err := NewTensor(shape, data)
		if err != nil {
			t.Fatalf("NewTensor failed: %v", err)
		}
		if !reflect.DeepEqual(tensor.Shape, shape) {
			t.Errorf("Shape = %v, expected %v", tensor.Shape, shape)
		}
		if tensor.NumElems != 6 {
			t.Errorf("NumElems = %d, expected 6", tensor.NumElems)
		}
		if !reflect.DeepEqual(tensor.Strides, []int{3, 1}) {
			t.Errorf("Strides = %v, expected [3 1]", tensor.Strides)
		}
		if !reflect.DeepEqual(tensor.Data, data) {
			t.Errorf("Data = %v, expected %v", tensor.Data, data)
		}
	})

	t.Run("Shape is copied", func(t *testing.T) {
		shape := []int{2, 2}
		tensor, err := NewTensor(shape, nil)
		if err != nil {
			t.Fatalf("NewTensor failed: %v", err)
		}
		shape[0] = 7
		if tensor.Shape[0] != 2 {
			t.Errorf("Shape[0] = %d after caller mutation, expected 2", tensor.Shape[0])
		}
	})

	t.Run("Length mismatch", func(t *testing.T) {
		if _, err := NewTensor([]int{2, 2}, []float32{1, 2, 3}); err == nil {
			t.Error("expected error for data length mismatch")
		}
	})

	t.Run("Invalid shape", func(t *testing.T) {
		if _, err := NewTensor([]int{2, 0}, nil); err == nil {
			t.Error("expected error for zero dimension")
		}
	})
}

func TestFull(t *testing.T) {
	tensor, err := Full([]int{3}, 2.5)
	if err != nil {
		t.Fatalf("Full failed: %v", err)
	}
	for i, v := range tensor.Data {
		if v != 2.5 {
			t.Errorf("Data[%d] = %f, expected 2.5", i, v)
		}
	}

	ones, _ := Ones([]int{2})
	if ones.Data[0] != 1 || ones.Data[1] != 1 {
		t.Errorf("Ones = %v, expected [1 1]", ones.Data)
	}
}

func TestRandomNormalIsReproducible(t *testing.T) {
	a, err := RandomNormal([]int{4, 4}, rand.New(rand.NewSource(42)))
	if err != nil {
		t.Fatalf("RandomNormal failed: %v", err)
	}
	b, _ := RandomNormal([]int{4, 4}, rand.New(rand.NewSource(42)))
	if !a.Equal(b) {
		t.Error("RandomNormal with identical seeds produced different tensors")
	}

	if _, err := RandomNormal([]int{2}, nil); err == nil {
		t.Error("expected error for nil random source")
	}
}

func TestRandomNormalMoments(t *testing.T) {
	noise, _ := RandomNormal([]int{100, 100}, rand.New(rand.NewSource(7)))
	mean := Mean(noise)
	var variance float64
	for _, v := range noise.Data {
		variance += (float64(v) - mean) * (float64(v) - mean)
	}
	variance /= float64(noise.NumElems)

	if math.Abs(mean) > 0.05 {
		t.Errorf("mean = %f, expected close to 0", mean)
	}
	if math.Abs(variance-1) > 0.05 {
		t.Errorf("variance = %f, expected close to 1", variance)
	}
}
