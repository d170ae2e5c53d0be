package main

import (
	"fmt"

	"github.com/tsawler/go-palette/checkpoints"
	"github.com/tsawler/go-palette/diffusion"
	"github.com/tsawler/go-palette/models/pixel"
	"github.com/tsawler/go-palette/optimizer"
	"github.com/tsawler/go-palette/training"
)

// pendingMetricKey holds the RMS of the saved epoch, which a metric
// scheduler has not consumed yet when the checkpoint is written.
const pendingMetricKey = "pending_metric"

// checkpointingModel saves full checkpoints: weights, optimizer state,
// training progress and the run ID.
type checkpointingModel struct {
	*pixel.Model
	opt    optimizer.Optimizer
	sched  training.LRScheduler
	baseLR float64
	saver  *checkpoints.CheckpointSaver
	runID  string
	engine *diffusion.Engine
}

func (m *checkpointingModel) SaveWeights(path string) error {
	c := m.Checkpoint()
	c.Metadata.RunID = m.runID

	state, err := m.opt.GetState()
	if err != nil {
		return fmt.Errorf("optimizer state: %w", err)
	}
	c.OptimizerState = state
	c.TrainingState = checkpoints.TrainingState{
		Step:         int(m.opt.GetStepCount()),
		LearningRate: m.opt.LearningRate(),
	}
	if m.engine != nil {
		c.TrainingState.Epoch = m.engine.State().Epoch
		c.TrainingState.TotalSteps = c.TrainingState.Epoch * m.engine.TrainData.Len()
	}
	if ss, ok := m.sched.(training.StatefulScheduler); ok {
		c.SchedulerState = ss.State()
		if m.engine != nil {
			if rms, epoch := m.engine.Evaluation(); epoch != 0 && epoch == c.TrainingState.Epoch {
				c.SchedulerState[pendingMetricKey] = training.EncodeFloat(rms)
			}
		}
	}
	return m.saver.SaveCheckpoint(c, path)
}

// resume loads weights and optimizer state from path and returns the epoch
// training continues from.
func (m *checkpointingModel) resume(path string) (int, error) {
	c, err := m.saver.LoadCheckpoint(path)
	if err != nil {
		return 0, err
	}
	if err := m.LoadWeights(c); err != nil {
		return 0, err
	}
	if c.OptimizerState != nil {
		if err := m.opt.LoadState(c.OptimizerState); err != nil {
			return 0, fmt.Errorf("optimizer state: %w", err)
		}
	}
	lr, err := m.resumeLR(c)
	if err != nil {
		return 0, err
	}
	if lr > 0 {
		m.opt.UpdateLearningRate(lr)
	}
	return c.TrainingState.Epoch + 1, nil
}

// resumeLR returns the rate the engine would have set after the saved
// epoch. Checkpoints are written before the epoch's scheduler update.
func (m *checkpointingModel) resumeLR(c *checkpoints.Checkpoint) (float64, error) {
	saved := c.TrainingState
	switch s := m.sched.(type) {
	case nil:
		return saved.LearningRate, nil
	case training.StatefulScheduler:
		if c.SchedulerState != nil {
			if err := s.LoadState(c.SchedulerState); err != nil {
				return 0, fmt.Errorf("scheduler state: %w", err)
			}
		}
		if ms, ok := s.(training.MetricScheduler); ok {
			if v, ok := c.SchedulerState[pendingMetricKey]; ok {
				rms, err := training.DecodeFloat(v)
				if err != nil {
					return 0, fmt.Errorf("scheduler state: %w", err)
				}
				return ms.Step(rms, saved.LearningRate), nil
			}
		}
		if c.SchedulerState == nil {
			return saved.LearningRate, nil
		}
		return s.GetLR(saved.Epoch, 0, m.baseLR), nil
	default:
		return s.GetLR(saved.Epoch, 0, m.baseLR), nil
	}
}
