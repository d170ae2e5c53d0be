package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tsawler/go-palette/checkpoints"
	"github.com/tsawler/go-palette/config"
	"github.com/tsawler/go-palette/diffusion"
	"github.com/tsawler/go-palette/logging"
	"github.com/tsawler/go-palette/models/pixel"
	"github.com/tsawler/go-palette/telemetry"
)

type trainOptions struct {
	configPath string
	outputDir  string
	maxEpochs  int
	seed       int64
	trainDir   string
	evalDir    string
	resume     string
	noProgress bool
}

func newTrainCommand(a *app) *cobra.Command {
	var opts trainOptions

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the pixel denoiser until interrupted or max_epochs is reached",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("output-dir") {
				cfg.Run.OutputDir = opts.outputDir
			}
			if cmd.Flags().Changed("max-epochs") {
				cfg.Run.MaxEpochs = opts.maxEpochs
			}
			if cmd.Flags().Changed("seed") {
				cfg.Run.Seed = opts.seed
			}
			if cmd.Flags().Changed("train-dir") {
				cfg.Data.TrainDir = opts.trainDir
			}
			if cmd.Flags().Changed("eval-dir") {
				cfg.Data.EvalDir = opts.evalDir
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			runID := uuid.NewString()
			logger := a.logger.With("command", "train", "run_id", runID)
			return runTraining(cmd.Context(), cfg, runID, opts, logger)
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", "", "YAML run configuration (defaults when empty)")
	cmd.Flags().StringVar(&opts.outputDir, "output-dir", "", "Override run.output_dir")
	cmd.Flags().IntVar(&opts.maxEpochs, "max-epochs", 0, "Override run.max_epochs (0 runs until interrupted)")
	cmd.Flags().Int64Var(&opts.seed, "seed", 0, "Override run.seed")
	cmd.Flags().StringVar(&opts.trainDir, "train-dir", "", "Override data.train_dir")
	cmd.Flags().StringVar(&opts.evalDir, "eval-dir", "", "Override data.eval_dir")
	cmd.Flags().StringVar(&opts.resume, "resume", "", "Checkpoint to continue training from")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "Hide progress bars")

	return cmd
}

func loadConfig(path string) (config.RunConfig, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func runTraining(ctx context.Context, cfg config.RunConfig, runID string, opts trainOptions, logger *slog.Logger) error {
	format, err := checkpoints.ParseFormat(cfg.Checkpoint.Format)
	if err != nil {
		return err
	}

	trainDS, evalDS, err := datasets(cfg, logger)
	if err != nil {
		return err
	}
	trainSrc, evalSrc, closers, err := sources(ctx, cfg, trainDS, evalDS, logger)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range closers {
			c()
		}
	}()

	channels := cfg.Data.Channels
	if cfg.Data.TrainDir != "" {
		channels = 3
	}
	base, err := pixel.New(pixel.Config{Channels: channels, Seed: cfg.Run.Seed, InitScale: 0.01})
	if err != nil {
		return err
	}
	parts, err := buildComponents(cfg, base)
	if err != nil {
		return err
	}
	model := &checkpointingModel{
		Model:  base,
		opt:    parts.optimizer,
		sched:  parts.scheduler,
		baseLR: parts.optimizer.LearningRate(),
		saver:  checkpoints.NewCheckpointSaver(format),
		runID:  runID,
	}

	engineOpts := []diffusion.Option{diffusion.WithLogger(logger)}
	if opts.noProgress {
		engineOpts = append(engineOpts, diffusion.WithProgress(nil))
	}

	runLog, err := logging.NewRunLog(telemetryPath(cfg, "logfile.log"))
	if err != nil {
		return err
	}
	if err := runLog.WriteLine("Run ID "+runID, true); err != nil {
		return err
	}
	engineOpts = append(engineOpts, diffusion.WithRunLog(runLog))

	var scalars telemetry.MultiScalar
	var collector *telemetry.Collector
	if cfg.Telemetry.ScalarsFile != "" {
		sf, err := telemetry.NewScalarFile(telemetryPath(cfg, cfg.Telemetry.ScalarsFile))
		if err != nil {
			return err
		}
		defer sf.Close()
		scalars = append(scalars, sf)
	}
	var plots *telemetry.PlottingService
	if cfg.Telemetry.CollectorFile != "" || cfg.Telemetry.PlotURL != "" {
		collector = telemetry.NewCollector("pixel", runID)
		scalars = append(scalars, collector)
	}
	if len(scalars) > 0 {
		engineOpts = append(engineOpts, diffusion.WithScalarSink(scalars))
	}
	if cfg.Telemetry.PlotURL != "" {
		pcfg := telemetry.DefaultPlottingServiceConfig()
		pcfg.BaseURL = cfg.Telemetry.PlotURL
		if cfg.Telemetry.PlotTimeout > 0 {
			pcfg.Timeout = cfg.Telemetry.PlotTimeout
		}
		plots = telemetry.NewPlottingService(pcfg, collector)
		plots.Enable()
		if err := plots.CheckHealth(ctx); err != nil {
			logger.Warn("plotting service unavailable; plots will be skipped", "url", pcfg.BaseURL, "error", err)
			plots.Disable()
		}
	}
	if cfg.Telemetry.SaveImages {
		engineOpts = append(engineOpts, diffusion.WithArtifactSaver(telemetry.PNGSaver{}))
		engineOpts = append(engineOpts, diffusion.WithImageSink(telemetry.ImageDir{Dir: telemetryPath(cfg, "images")}))
	}

	engine, err := diffusion.New(engineConfig(cfg), parts.engineComponents(model, trainSrc, evalSrc), engineOpts...)
	if err != nil {
		return err
	}
	model.engine = engine

	if opts.resume != "" {
		epoch, err := model.resume(opts.resume)
		if err != nil {
			return fmt.Errorf("resume from %s: %w", opts.resume, err)
		}
		if err := engine.Restore(diffusion.RunState{Epoch: epoch}); err != nil {
			return err
		}
		logger.Info("resuming training", "checkpoint", opts.resume, "epoch", epoch)
	}

	logger.Info("starting training", "output_dir", cfg.Run.OutputDir, "max_epochs", cfg.Run.MaxEpochs)
	runErr := engine.Run(ctx)

	if collector != nil {
		collector.RecordParameters(base.Parameters(), 20)
		if cfg.Telemetry.CollectorFile != "" {
			if err := collector.WriteJSON(telemetryPath(cfg, cfg.Telemetry.CollectorFile)); err != nil {
				logger.Warn("failed to write plot data", "error", err)
			}
		}
		if plots != nil && plots.IsEnabled() {
			// the run context may already be cancelled
			if _, err := plots.Flush(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("failed to send plots", "error", err)
			}
		}
	}

	state := engine.State()
	if runErr != nil {
		return runErr
	}
	logger.Info("training finished", "epochs", state.Epoch-1, "best_rms", state.BestRMS)
	return nil
}
