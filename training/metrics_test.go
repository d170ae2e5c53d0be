package training

import (
	"errors"
	"math"
	"testing"

	"github.com/tsawler/go-palette/tensor"
)

func TestNaNMean(t *testing.T) {
	nan := math.NaN()
	tests := []struct {
		name   string
		values []float64
		want   float64
	}{
		{"skips NaN", []float64{1.0, nan, 3.0}, 2.0},
		{"no NaN", []float64{1, 2, 3, 4}, 2.5},
		{"single", []float64{7}, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NaNMean(tt.values); got != tt.want {
				t.Errorf("NaNMean(%v) = %v, want %v", tt.values, got, tt.want)
			}
		})
	}

	if got := NaNMean([]float64{nan, nan}); !math.IsNaN(got) {
		t.Errorf("all-NaN mean should be NaN, got %v", got)
	}
	if got := NaNMean(nil); !math.IsNaN(got) {
		t.Errorf("empty mean should be NaN, got %v", got)
	}
}

func TestRegressionMetrics(t *testing.T) {
	// two samples of shape [1, 2]
	output := mustTensor(t, []int{2, 1, 2}, []float32{0, 0, 1, 1})
	target := mustTensor(t, []int{2, 1, 2}, []float32{1, -1, 1, 1})

	tests := []struct {
		metric Metric
		want   []float64
	}{
		{MAE{}, []float64{1, 0}},
		{MSE{}, []float64{1, 0}},
		{RMSE{}, []float64{1, 0}},
		{PSNR{}, []float64{10 * math.Log10(4), math.Inf(1)}},
		{MaskedMAE{}, []float64{1, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.metric.Name(), func(t *testing.T) {
			got, err := tt.metric.Compute(output, target)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d per-sample values, got %d", len(tt.want), len(got))
			}
			for i := range got {
				if math.Abs(got[i]-tt.want[i]) > 1e-9 && got[i] != tt.want[i] {
					t.Errorf("sample %d: got %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestMaskedMAE(t *testing.T) {
	output := mustTensor(t, []int{2, 1, 2}, []float32{0, 5, 9, 9})
	target := mustTensor(t, []int{2, 1, 2}, []float32{1, 0, 0, 0})
	mask := mustTensor(t, []int{2, 1, 2}, []float32{1, 0, 0, 0})

	got, err := MaskedMAE{}.ComputeMasked(output, target, mask)
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != 1 {
		t.Errorf("sample 0: got %v, want 1", got[0])
	}
	if !math.IsNaN(got[1]) {
		t.Errorf("sample with empty mask should be NaN, got %v", got[1])
	}
	if NaNMean(got) != 1 {
		t.Errorf("NaNMean should skip the empty sample, got %v", NaNMean(got))
	}

	short := mustTensor(t, []int{1, 1, 2}, nil)
	if _, err := (MaskedMAE{}).ComputeMasked(output, target, short); !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestMetricShapeMismatch(t *testing.T) {
	a := mustTensor(t, []int{2, 3}, nil)
	b := mustTensor(t, []int{3, 2}, nil)
	if _, err := (MAE{}).Compute(a, b); !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch, got %v", err)
	}
	if _, err := (MSE{}).Compute(nil, b); !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch for nil, got %v", err)
	}
}

func TestNewMetrics(t *testing.T) {
	metrics, err := NewMetrics([]string{"psnr", "MAE", "masked_mae"})
	if err != nil {
		t.Fatal(err)
	}
	names := []string{"PSNR", "MAE", "MaskedMAE"}
	for i, m := range metrics {
		if m.Name() != names[i] {
			t.Errorf("metric %d: got %s, want %s", i, m.Name(), names[i])
		}
	}
	if _, ok := metrics[2].(MaskedMetric); !ok {
		t.Error("masked_mae should implement MaskedMetric")
	}
	if _, err := NewMetrics([]string{"ssim"}); err == nil {
		t.Error("expected error for unknown metric")
	}
}
