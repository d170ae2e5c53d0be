package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"path/filepath"

	"github.com/tsawler/go-palette/async"
	"github.com/tsawler/go-palette/config"
	"github.com/tsawler/go-palette/diffusion"
	"github.com/tsawler/go-palette/models/pixel"
	"github.com/tsawler/go-palette/optimizer"
	"github.com/tsawler/go-palette/schedule"
	"github.com/tsawler/go-palette/training"
	"github.com/tsawler/go-palette/vision/dataloader"
	"github.com/tsawler/go-palette/vision/dataset"
)

// datasets builds the training and evaluation inpainting datasets.
func datasets(cfg config.RunConfig, logger *slog.Logger) (train, eval *dataset.InpaintingDataset, err error) {
	masks, err := dataset.NewMaskGenerator(cfg.Data.Mask)
	if err != nil {
		return nil, nil, err
	}

	var trainSrc, evalSrc dataset.ImageSource
	if cfg.Data.TrainDir == "" {
		if trainSrc, err = dataset.NewSyntheticDataset(cfg.Data.SyntheticTrain, cfg.Data.Channels, cfg.Data.ImageSize, cfg.Run.Seed); err != nil {
			return nil, nil, err
		}
		if evalSrc, err = dataset.NewSyntheticDataset(cfg.Data.SyntheticEval, cfg.Data.Channels, cfg.Data.ImageSize, cfg.Run.Seed+1); err != nil {
			return nil, nil, err
		}
		logger.Info("using synthetic data", "train", cfg.Data.SyntheticTrain, "eval", cfg.Data.SyntheticEval)
	} else {
		folder, err := dataset.NewImageFolderDataset(cfg.Data.TrainDir, cfg.Data.ImageSize, cfg.Data.Extensions)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Data.EvalDir != "" {
			evalFolder, err := dataset.NewImageFolderDataset(cfg.Data.EvalDir, cfg.Data.ImageSize, cfg.Data.Extensions)
			if err != nil {
				return nil, nil, err
			}
			trainSrc, evalSrc = folder, evalFolder
		} else {
			t, e := folder.Split(1-cfg.Data.EvalSplit, rand.New(rand.NewSource(cfg.Run.Seed)))
			if t.Len() == 0 || e.Len() == 0 {
				return nil, nil, fmt.Errorf("eval split %.2f of %d images leaves an empty side", cfg.Data.EvalSplit, folder.Len())
			}
			trainSrc, evalSrc = t, e
		}
		logger.Info("using image folders", "train", trainSrc, "eval", evalSrc)
	}

	if train, err = dataset.NewInpaintingDataset(trainSrc, masks, cfg.Run.Seed); err != nil {
		return nil, nil, err
	}
	// evaluation masks are fixed across epochs
	if eval, err = dataset.NewInpaintingDataset(evalSrc, masks, cfg.Run.Seed+1_000_000); err != nil {
		return nil, nil, err
	}
	return train, eval, nil
}

// sources wraps the datasets in loaders sharing one sample cache, and
// optionally in a prefetcher. closers must be called when training stops.
func sources(ctx context.Context, cfg config.RunConfig, train, eval dataset.Dataset, logger *slog.Logger) (trainSrc, evalSrc diffusion.BatchSource, closers []func() error, err error) {
	trainLoader, evalLoader, err := dataloader.CreateSharedDataLoaders(train, eval, dataloader.Config{
		BatchSize:    cfg.Data.BatchSize,
		Shuffle:      cfg.Data.Shuffle,
		Rand:         rand.New(rand.NewSource(cfg.Run.Seed + 2)),
		MaxCacheSize: cfg.Data.CacheSize,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	closers = []func() error{func() error {
		logger.Debug("sample cache", "stats", trainLoader.Stats())
		return nil
	}}
	if cfg.Data.Prefetch == 0 {
		return trainLoader, evalLoader, closers, nil
	}

	trainPF, err := async.NewPrefetcher(ctx, trainLoader, async.Config{Depth: cfg.Data.Prefetch})
	if err != nil {
		return nil, nil, nil, err
	}
	evalPF, err := async.NewPrefetcher(ctx, evalLoader, async.Config{Depth: cfg.Data.Prefetch})
	if err != nil {
		trainPF.Close()
		return nil, nil, nil, err
	}
	for _, pf := range []struct {
		name string
		p    *async.Prefetcher
	}{{"train", trainPF}, {"eval", evalPF}} {
		closers = append(closers, func() error {
			st := pf.p.Stats()
			logger.Debug("prefetcher stopped", "loader", pf.name, "batches", st.BatchesProduced, "resets", st.Generation, "queued", st.QueuedBatches)
			return pf.p.Close()
		})
	}
	return trainPF, evalPF, closers, nil
}

// newOptimizer builds the configured optimizer over params.
func newOptimizer(cfg config.OptimizerSection, params []*optimizer.Parameter) (optimizer.Optimizer, error) {
	switch cfg.Kind {
	case "sgd", "SGD":
		return optimizer.NewSGDOptimizer(optimizer.SGDConfig{
			LearningRate: cfg.LearningRate,
			Momentum:     cfg.Momentum,
			WeightDecay:  cfg.WeightDecay,
			Nesterov:     cfg.Nesterov,
		}, params)
	case "adam", "Adam":
		return optimizer.NewAdamOptimizer(optimizer.AdamConfig{
			LearningRate: cfg.LearningRate,
			Beta1:        cfg.Beta1,
			Beta2:        cfg.Beta2,
			Epsilon:      cfg.Epsilon,
			WeightDecay:  cfg.WeightDecay,
		}, params)
	default:
		return nil, fmt.Errorf("unknown optimizer %q", cfg.Kind)
	}
}

// components assembles everything the engine consumes except the model
// and the data sources.
type components struct {
	trainSchedule     *schedule.NoiseSchedule
	inferenceSchedule *schedule.NoiseSchedule
	optimizer         optimizer.Optimizer
	scheduler         training.LRScheduler
	loss              training.Loss
	metrics           []diffusion.Metric
}

func buildComponents(cfg config.RunConfig, model *pixel.Model) (*components, error) {
	trainSched, err := cfg.Schedule.Train.Build()
	if err != nil {
		return nil, fmt.Errorf("train schedule: %w", err)
	}
	inferSched, err := cfg.Schedule.Inference.Build()
	if err != nil {
		return nil, fmt.Errorf("inference schedule: %w", err)
	}
	opt, err := newOptimizer(cfg.Optimizer, model.Parameters())
	if err != nil {
		return nil, err
	}
	sched, err := training.NewScheduler(cfg.LRScheduler)
	if err != nil {
		return nil, err
	}
	loss, err := training.NewLoss(cfg.Loss)
	if err != nil {
		return nil, err
	}
	ms, err := training.NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}
	metrics := make([]diffusion.Metric, len(ms))
	for i, m := range ms {
		metrics[i] = m
	}
	return &components{
		trainSchedule:     trainSched,
		inferenceSchedule: inferSched,
		optimizer:         opt,
		scheduler:         sched,
		loss:              loss,
		metrics:           metrics,
	}, nil
}

func (c *components) engineComponents(model diffusion.Model, train, eval diffusion.BatchSource) diffusion.Components {
	return diffusion.Components{
		Model:             model,
		TrainSchedule:     c.trainSchedule,
		InferenceSchedule: c.inferenceSchedule,
		Optimizer:         c.optimizer,
		Scheduler:         c.scheduler,
		Loss:              c.loss,
		Metrics:           c.metrics,
		TrainData:         train,
		EvalData:          eval,
	}
}

func engineConfig(cfg config.RunConfig) diffusion.Config {
	return diffusion.Config{
		LogEvery:          cfg.Run.LogEvery,
		EvalEvery:         cfg.Run.EvalEvery,
		SaveEvery:         cfg.Run.SaveEvery,
		OutputDir:         cfg.Run.OutputDir,
		MaxEpochs:         cfg.Run.MaxEpochs,
		Seed:              cfg.Run.Seed,
		StrictImprovement: cfg.Run.StrictImprovement,
	}
}

func telemetryPath(cfg config.RunConfig, name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(cfg.Run.OutputDir, name)
}
