package diffusion

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/tsawler/go-palette/training"
)

func TestRunTieCountsAsBest(t *testing.T) {
	h := newHarness(t, Config{LogEvery: 10, EvalEvery: 1, SaveEvery: 1, MaxEpochs: 2}, 2, nil)
	if err := h.engine.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	// the constant metric gives RMS 0.5 twice, so epoch 2 ties epoch 1
	want := []string{"model_1_BEST", "model_2_BEST"}
	if strings.Join(h.model.saved, ",") != strings.Join(want, ",") {
		t.Errorf("saved %v, want %v", h.model.saved, want)
	}
	s := h.engine.State()
	if s.Epoch != 3 || !s.HasBest || s.BestRMS != 0.5 || !s.Saved {
		t.Errorf("unexpected state %+v", s)
	}

	log := h.runLog(t)
	if n := strings.Count(log, "However, the model has already been saved this epoch. Resuming training."); n != 2 {
		t.Errorf("expected two skipped saves, got %d:\n%s", n, log)
	}
	if strings.Contains(log, "Saving model...") {
		t.Errorf("regular save happened on an already-saved epoch:\n%s", log)
	}
	for _, line := range []string{
		"Begin epoch 1", "Beginning training...",
		"This is an evaluation epoch. Beginning evaluation...",
		"Mean evaluation results follow:", "{A: 0.5}",
		"The RMS value is 0.5000", "This is the new best epoch!!",
		"Saving new best model...", "This is a save epoch.",
	} {
		if !strings.Contains(log, line) {
			t.Errorf("run log missing %q", line)
		}
	}

	rms := h.sink.named("Evaluation/All_Metrics_RMS")
	if len(rms) != 2 || rms[0].step != 1 || rms[1].step != 2 || rms[0].value != 0.5 {
		t.Errorf("RMS scalars %+v", rms)
	}
	if m := h.sink.named("Evaluation/A"); len(m) != 2 || m[0].step != 1 || m[1].step != 2 {
		t.Errorf("metric scalars %+v", m)
	}
}

func TestRunStrictImprovement(t *testing.T) {
	h := newHarness(t, Config{LogEvery: 10, EvalEvery: 1, SaveEvery: 1, MaxEpochs: 2, StrictImprovement: true}, 2, nil)
	if err := h.engine.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := []string{"model_1_BEST", "model_2"}
	if strings.Join(h.model.saved, ",") != strings.Join(want, ",") {
		t.Errorf("saved %v, want %v", h.model.saved, want)
	}
	log := h.runLog(t)
	if !strings.Contains(log, "Saving model...") || !strings.Contains(log, "Resuming training.") {
		t.Errorf("expected a regular save in epoch 2:\n%s", log)
	}
}

func TestRunCadences(t *testing.T) {
	h := newHarness(t, Config{LogEvery: 10, EvalEvery: 2, SaveEvery: 3, MaxEpochs: 6}, 1, nil)
	if err := h.engine.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	// evaluations at 2, 4, 6 (ties, all best); a plain save at 3; 6 is
	// already saved
	want := []string{"model_2_BEST", "model_3", "model_4_BEST", "model_6_BEST"}
	if strings.Join(h.model.saved, ",") != strings.Join(want, ",") {
		t.Errorf("saved %v, want %v", h.model.saved, want)
	}
	if h.eval.resets != 3 {
		t.Errorf("expected 3 evaluations, got %d", h.eval.resets)
	}
}

func TestRunNaNIsNeverBest(t *testing.T) {
	h := newHarness(t, Config{LogEvery: 10, EvalEvery: 1, SaveEvery: 5, MaxEpochs: 1}, 1,
		[]Metric{constantMetric{"N", math.NaN()}})
	if err := h.engine.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(h.model.saved) != 0 || h.engine.State().HasBest {
		t.Errorf("NaN RMS should not become best: saved %v, state %+v", h.model.saved, h.engine.State())
	}
}

func TestRunRetriesFailedEpoch(t *testing.T) {
	h := newHarness(t, Config{LogEvery: 10, EvalEvery: 1, SaveEvery: 1, MaxEpochs: 1}, 2, nil)
	h.engine.Scheduler = training.NewStepLRScheduler(1, 0.5)
	boom := errors.New("disk full")
	h.model.saveErr = boom

	if err := h.engine.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected save error, got %v", err)
	}
	if s := h.engine.State(); s.Epoch != 1 || s.HasBest {
		t.Errorf("failed epoch committed state %+v", s)
	}
	if len(h.opt.lrs) != 0 {
		t.Errorf("scheduler advanced on a failed epoch: %v", h.opt.lrs)
	}

	if err := h.engine.Run(context.Background()); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if s := h.engine.State(); s.Epoch != 2 || !s.HasBest {
		t.Errorf("retry did not commit: %+v", s)
	}
	if len(h.opt.lrs) != 1 || h.opt.lrs[0] != 0.05 {
		t.Errorf("learning rates %v, want [0.05]", h.opt.lrs)
	}
	if strings.Join(h.model.saved, ",") != "model_1_BEST" {
		t.Errorf("saved %v", h.model.saved)
	}
}

type plateauSpy struct {
	steps []float64
}

func (p *plateauSpy) GetLR(epoch int, step int, baseLR float64) float64 { return baseLR }
func (p *plateauSpy) GetName() string                                   { return "spy" }
func (p *plateauSpy) Step(metric float64, currentLR float64) float64 {
	p.steps = append(p.steps, metric)
	return currentLR / 10
}

func TestRunMetricScheduler(t *testing.T) {
	h := newHarness(t, Config{LogEvery: 10, EvalEvery: 2, SaveEvery: 10, MaxEpochs: 4}, 1, nil)
	spy := &plateauSpy{}
	h.engine.Scheduler = spy

	if err := h.engine.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(spy.steps) != 2 || spy.steps[0] != 0.5 {
		t.Errorf("Step should run on evaluation epochs only, got %v", spy.steps)
	}
	want := []float64{0.1, 0.01, 0.1, 0.01}
	for i := range want {
		if math.Abs(h.opt.lrs[i]-want[i]) > 1e-12 {
			t.Errorf("learning rates %v, want %v", h.opt.lrs, want)
			break
		}
	}
}

func TestRunCancelled(t *testing.T) {
	h := newHarness(t, DefaultConfig(""), 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.engine.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if h.engine.State().Epoch != 1 {
		t.Error("cancelled run advanced the epoch")
	}
}
