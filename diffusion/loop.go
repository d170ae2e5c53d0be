package diffusion

import (
	"context"
	"fmt"
	"math"
)

// Run drives epochs until MaxEpochs is reached or ctx is cancelled. A
// failed epoch commits nothing, so calling Run again retries it.
func (e *Engine) Run(ctx context.Context) error {
	for e.cfg.MaxEpochs == 0 || e.state.Epoch <= e.cfg.MaxEpochs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.RunEpoch(ctx); err != nil {
			return fmt.Errorf("epoch %d: %w", e.state.Epoch, err)
		}
	}
	return nil
}

// RunEpoch trains, evaluates and saves one epoch, then advances the epoch
// counter and learning rate.
func (e *Engine) RunEpoch(ctx context.Context) error {
	next := e.state
	next.Saved = false
	epoch := next.Epoch

	if err := e.logLine(fmt.Sprintf("Begin epoch %d", epoch), true); err != nil {
		return err
	}
	if err := e.logLine("Beginning training...", true); err != nil {
		return err
	}
	if _, err := e.TrainSingleEpoch(ctx, epoch); err != nil {
		return err
	}

	evaluated := false
	var rms float64
	if epoch%e.cfg.EvalEvery == 0 {
		var err error
		if rms, err = e.evaluate(ctx, epoch); err != nil {
			return err
		}
		evaluated = true

		if e.improved(next, rms) {
			if err := e.logLine("This is the new best epoch!!", true); err != nil {
				return err
			}
			next.BestRMS, next.HasBest = rms, true
			if err := e.logLine("Saving new best model...", false); err != nil {
				return err
			}
			if err := e.Save(epoch, true); err != nil {
				return err
			}
			next.Saved = true
		}
	}

	if epoch%e.cfg.SaveEvery == 0 {
		if err := e.logLine("This is a save epoch.", false); err != nil {
			return err
		}
		if next.Saved {
			if err := e.logLine("However, the model has already been saved this epoch. Resuming training.", false); err != nil {
				return err
			}
		} else {
			if err := e.logLine("Saving model...", false); err != nil {
				return err
			}
			if err := e.Save(epoch, false); err != nil {
				return err
			}
			next.Saved = true
			if err := e.logLine("Resuming training.", true); err != nil {
				return err
			}
		}
	}

	lr := e.nextLR(epoch, evaluated, rms)
	next.Epoch++
	e.state = next
	e.Optimizer.UpdateLearningRate(lr)
	return nil
}

func (e *Engine) evaluate(ctx context.Context, epoch int) (float64, error) {
	if err := e.logLine("This is an evaluation epoch. Beginning evaluation...", true); err != nil {
		return 0, err
	}
	results, err := e.EvaluateSingleEpoch(ctx, epoch)
	if err != nil {
		return 0, err
	}
	if err := e.logLine("Mean evaluation results follow:", true); err != nil {
		return 0, err
	}
	if err := e.logLine(FormatResults(results), true); err != nil {
		return 0, err
	}

	rms := RMS(results)
	e.lastRMS, e.lastEvalEpoch = rms, epoch
	if err := e.logLine(fmt.Sprintf("The RMS value is %.4f", rms), true); err != nil {
		return 0, err
	}
	for _, r := range results {
		if err := e.logScalar("Evaluation/"+r.Name, r.Mean, epoch); err != nil {
			return 0, err
		}
	}
	if err := e.logScalar("Evaluation/All_Metrics_RMS", rms, epoch); err != nil {
		return 0, err
	}
	return rms, nil
}

// improved reports whether rms becomes the new best. The first finite RMS
// always does; after that a tie counts unless StrictImprovement is set.
func (e *Engine) improved(s RunState, rms float64) bool {
	if math.IsNaN(rms) {
		return false
	}
	if !s.HasBest {
		return true
	}
	if e.cfg.StrictImprovement {
		return rms < s.BestRMS
	}
	return rms <= s.BestRMS
}

func (e *Engine) nextLR(epoch int, evaluated bool, rms float64) float64 {
	if ms, ok := e.Scheduler.(MetricScheduler); ok {
		if evaluated {
			return ms.Step(rms, e.Optimizer.LearningRate())
		}
		return ms.GetLR(epoch, 0, e.baseLR)
	}
	return e.Scheduler.GetLR(epoch, 0, e.baseLR)
}
