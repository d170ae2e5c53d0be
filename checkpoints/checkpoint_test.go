package checkpoints

import (
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testCheckpoint() *Checkpoint {
	c := &Checkpoint{
		Weights: []WeightTensor{
			{Name: "pixel.w_noisy", Shape: []int{3}, Data: []float32{0.5, -0.25, 1}, Layer: "pixel", Type: "weight"},
			{Name: "pixel.bias", Shape: []int{3}, Data: []float32{0, 0.1, -0.1}, Layer: "pixel", Type: "bias"},
		},
		TrainingState: TrainingState{
			Epoch:        12,
			Step:         3400,
			LearningRate: 1.5e-4,
			TotalSteps:   3400,
		},
		OptimizerState: &OptimizerState{
			Type: "Adam",
			Parameters: map[string]interface{}{
				"learning_rate": 0.001,
				"beta1":         0.9,
				"step_count":    float64(42),
			},
			StateData: []OptimizerTensor{
				{Name: "pixel.w_noisy", Shape: []int{3}, Data: []float32{0.01, 0.02, 0.03}, StateType: "m"},
				{Name: "pixel.w_noisy", Shape: []int{3}, Data: []float32{1e-4, 2e-4, 3e-4}, StateType: "v"},
			},
		},
		SchedulerState: map[string]interface{}{
			"initialized": true,
			"best_metric": "NaN",
			"current_lr":  5e-4,
		},
		Metadata: CheckpointMetadata{
			Version:     "1.0.0",
			Framework:   "go-palette",
			CreatedAt:   time.Date(2024, 3, 9, 14, 30, 0, 123000000, time.UTC),
			Description: "Test checkpoint",
			Tags:        []string{"test", "inpainting"},
			RunID:       "0b6f1d92-7c1e-4a4a-9d7e-8d6c2b1f0e33",
		},
	}
	return c
}

func assertCheckpointsEqual(t *testing.T, want, got *Checkpoint) {
	t.Helper()

	if len(got.Weights) != len(want.Weights) {
		t.Fatalf("weights: got %d, want %d", len(got.Weights), len(want.Weights))
	}
	for i, w := range want.Weights {
		g := got.Weights[i]
		if g.Name != w.Name || g.Layer != w.Layer || g.Type != w.Type {
			t.Errorf("weight %d: got %s/%s/%s, want %s/%s/%s", i, g.Name, g.Layer, g.Type, w.Name, w.Layer, w.Type)
		}
		if len(g.Shape) != len(w.Shape) || len(g.Data) != len(w.Data) {
			t.Fatalf("weight %d: got shape %v len %d, want shape %v len %d", i, g.Shape, len(g.Data), w.Shape, len(w.Data))
		}
		for j := range w.Data {
			if g.Data[j] != w.Data[j] {
				t.Errorf("weight %d data[%d]: got %v, want %v", i, j, g.Data[j], w.Data[j])
			}
		}
	}

	if got.TrainingState != want.TrainingState {
		t.Errorf("training state: got %+v, want %+v", got.TrainingState, want.TrainingState)
	}

	if got.OptimizerState == nil {
		t.Fatal("optimizer state was not restored")
	}
	if got.OptimizerState.Type != want.OptimizerState.Type {
		t.Errorf("optimizer type: got %q, want %q", got.OptimizerState.Type, want.OptimizerState.Type)
	}
	for k, v := range want.OptimizerState.Parameters {
		if got.OptimizerState.Parameters[k] != v {
			t.Errorf("optimizer parameter %s: got %v, want %v", k, got.OptimizerState.Parameters[k], v)
		}
	}
	if len(got.OptimizerState.StateData) != len(want.OptimizerState.StateData) {
		t.Fatalf("optimizer state tensors: got %d, want %d", len(got.OptimizerState.StateData), len(want.OptimizerState.StateData))
	}
	for i, s := range want.OptimizerState.StateData {
		g := got.OptimizerState.StateData[i]
		if g.Name != s.Name || g.StateType != s.StateType {
			t.Errorf("optimizer state %d: got %s/%s, want %s/%s", i, g.Name, g.StateType, s.Name, s.StateType)
		}
		for j := range s.Data {
			if g.Data[j] != s.Data[j] {
				t.Errorf("optimizer state %d data[%d]: got %v, want %v", i, j, g.Data[j], s.Data[j])
			}
		}
	}

	if len(got.SchedulerState) != len(want.SchedulerState) {
		t.Errorf("scheduler state: got %v, want %v", got.SchedulerState, want.SchedulerState)
	}
	for k, v := range want.SchedulerState {
		if got.SchedulerState[k] != v {
			t.Errorf("scheduler state %s: got %v, want %v", k, got.SchedulerState[k], v)
		}
	}

	m, gm := want.Metadata, got.Metadata
	if gm.Version != m.Version || gm.Framework != m.Framework || gm.Description != m.Description || gm.RunID != m.RunID {
		t.Errorf("metadata: got %+v, want %+v", gm, m)
	}
	if !gm.CreatedAt.Equal(m.CreatedAt) {
		t.Errorf("created_at: got %v, want %v", gm.CreatedAt, m.CreatedAt)
	}
	if len(gm.Tags) != len(m.Tags) {
		t.Errorf("tags: got %v, want %v", gm.Tags, m.Tags)
	}
}

func TestCheckpointSaveLoad(t *testing.T) {
	tests := []struct {
		name   string
		format CheckpointFormat
	}{
		{"json", FormatJSON},
		{"proto", FormatProto},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "models", "model_12_BEST")
			saver := NewCheckpointSaver(tt.format)

			want := testCheckpoint()
			if err := saver.SaveCheckpoint(want, path); err != nil {
				t.Fatalf("SaveCheckpoint: %v", err)
			}

			got, err := saver.LoadCheckpoint(path)
			if err != nil {
				t.Fatalf("LoadCheckpoint: %v", err)
			}
			assertCheckpointsEqual(t, want, got)

			entries, err := os.ReadDir(filepath.Dir(path))
			if err != nil {
				t.Fatal(err)
			}
			if len(entries) != 1 {
				t.Errorf("expected only the checkpoint file, found %d entries", len(entries))
			}
		})
	}
}

func TestSaveCheckpointFillsMetadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ckpt")
	saver := NewCheckpointSaver(FormatProto)

	c := &Checkpoint{Weights: []WeightTensor{{Name: "w", Shape: []int{1}, Data: []float32{2}}}}
	if err := saver.SaveCheckpoint(c, path); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}
	got, err := saver.LoadCheckpoint(path)
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if got.Metadata.Framework != "go-palette" {
		t.Errorf("framework: got %q", got.Metadata.Framework)
	}
	if got.Metadata.CreatedAt.IsZero() {
		t.Error("created_at was not set")
	}
	if got.OptimizerState != nil {
		t.Error("expected no optimizer state")
	}
	if _, ok := got.Weight("w"); !ok {
		t.Error("weight w not found")
	}
	if _, ok := got.Weight("missing"); ok {
		t.Error("unexpected weight found")
	}
}

func TestCheckpointNonFiniteWeights(t *testing.T) {
	nan := float32(math.NaN())
	inf := float32(math.Inf(1))
	for _, format := range []CheckpointFormat{FormatJSON, FormatProto} {
		t.Run(format.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "model_3")
			saver := NewCheckpointSaver(format)
			c := &Checkpoint{
				Weights: []WeightTensor{{Name: "w", Shape: []int{4}, Data: []float32{nan, inf, -inf, 0.25}}},
				OptimizerState: &OptimizerState{
					Type:      "Adam",
					StateData: []OptimizerTensor{{Name: "w", Shape: []int{1}, Data: []float32{nan}, StateType: "m"}},
				},
			}
			if err := saver.SaveCheckpoint(c, path); err != nil {
				t.Fatalf("SaveCheckpoint with non-finite weights: %v", err)
			}
			got, err := saver.LoadCheckpoint(path)
			if err != nil {
				t.Fatalf("LoadCheckpoint: %v", err)
			}
			w, ok := got.Weight("w")
			if !ok || len(w.Data) != 4 {
				t.Fatalf("weight w not restored: %+v", got.Weights)
			}
			if !math.IsNaN(float64(w.Data[0])) || !math.IsInf(float64(w.Data[1]), 1) || !math.IsInf(float64(w.Data[2]), -1) || w.Data[3] != 0.25 {
				t.Errorf("restored data %v", w.Data)
			}
			if d := got.OptimizerState.StateData[0].Data; len(d) != 1 || !math.IsNaN(float64(d[0])) {
				t.Errorf("restored optimizer data %v", d)
			}
		})
	}
}

func TestFloat32sJSON(t *testing.T) {
	tests := []struct {
		in   Float32s
		want string
	}{
		{Float32s{1, -0.5, 1e-7}, `[1,-0.5,1e-07]`},
		{Float32s{float32(math.NaN()), float32(math.Inf(-1))}, `["NaN","-Inf"]`},
		{Float32s{}, `[]`},
	}
	for _, tt := range tests {
		raw, err := json.Marshal(tt.in)
		if err != nil {
			t.Fatal(err)
		}
		if string(raw) != tt.want {
			t.Errorf("Marshal(%v) = %s, want %s", tt.in, raw, tt.want)
		}
	}

	var f Float32s
	if err := json.Unmarshal([]byte(`[0.5, "+Inf", 2]`), &f); err != nil {
		t.Fatal(err)
	}
	if len(f) != 3 || f[0] != 0.5 || !math.IsInf(float64(f[1]), 1) || f[2] != 2 {
		t.Errorf("Unmarshal = %v", f)
	}
	if err := json.Unmarshal([]byte(`["bogus"]`), &f); err == nil {
		t.Error("expected error for unparsable string")
	}
}

func TestUnsupportedFormat(t *testing.T) {
	saver := NewCheckpointSaver(CheckpointFormat(99))
	err := saver.SaveCheckpoint(testCheckpoint(), filepath.Join(t.TempDir(), "x"))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
	if _, err := saver.LoadCheckpoint("nope"); err == nil {
		t.Error("expected error loading missing file")
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    CheckpointFormat
		wantErr bool
	}{
		{"", FormatJSON, false},
		{"json", FormatJSON, false},
		{"proto", FormatProto, false},
		{"pb", FormatProto, false},
		{"onnx", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrUnsupportedFormat) {
				t.Errorf("ParseFormat(%q): expected ErrUnsupportedFormat, got %v", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseFormat(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
}

func TestLoadCorruptCheckpoint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad")
	if err := os.WriteFile(path, []byte{0x12, 0xff, 0xff}, 0o644); err != nil {
		t.Fatal(err)
	}

	for _, format := range []CheckpointFormat{FormatJSON, FormatProto} {
		if _, err := NewCheckpointSaver(format).LoadCheckpoint(path); err == nil {
			t.Errorf("%s: expected decode error", format)
		}
	}
}

func TestProtoRejectsShapeMismatch(t *testing.T) {
	b := marshalTensor("w", []int{2, 2}, []float32{1, 2, 3}, "")
	if _, _, _, _, err := unmarshalTensor(b); err == nil {
		t.Error("expected error for inconsistent tensor")
	}
}
