package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tsawler/go-palette/checkpoints"
	"github.com/tsawler/go-palette/diffusion"
	"github.com/tsawler/go-palette/models/pixel"
	"github.com/tsawler/go-palette/tensor"
	"github.com/tsawler/go-palette/vision/dataloader"
	"github.com/tsawler/go-palette/vision/dataset"
	"github.com/tsawler/go-palette/vision/preprocessing"
)

type inferOptions struct {
	configPath string
	checkpoint string
	input      string
	output     string
	mask       string
	traceEvery int
}

func newInferCommand(a *app) *cobra.Command {
	var opts inferOptions

	cmd := &cobra.Command{
		Use:   "infer",
		Short: "Reconstruct masked regions of every image in a folder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.checkpoint == "" || opts.input == "" || opts.output == "" {
				return fmt.Errorf("--checkpoint, --input and --output are required")
			}
			logger := a.logger.With("command", "infer", "checkpoint", opts.checkpoint)
			return runInference(cmd, opts, logger)
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", "", "YAML run configuration (defaults when empty)")
	cmd.Flags().StringVar(&opts.checkpoint, "checkpoint", "", "Model checkpoint, e.g. runs/models/model_12_BEST")
	cmd.Flags().StringVar(&opts.input, "input", "", "Directory of images to reconstruct")
	cmd.Flags().StringVar(&opts.output, "output", "", "Directory for reconstructed images")
	cmd.Flags().StringVar(&opts.mask, "mask", "", "Override data.mask (center, box, half)")
	cmd.Flags().IntVar(&opts.traceEvery, "trace", 0, "Also write every Nth intermediate step of the first image")

	return cmd
}

func runInference(cmd *cobra.Command, opts inferOptions, logger *slog.Logger) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.mask != "" {
		cfg.Data.Mask = opts.mask
	}
	format, err := checkpoints.ParseFormat(cfg.Checkpoint.Format)
	if err != nil {
		return err
	}

	model, ckpt, err := pixel.Load(opts.checkpoint, format, cfg.Run.Seed)
	if err != nil {
		return err
	}
	model.Eval()
	logger.Info("loaded checkpoint", "channels", model.Channels(), "run_id", ckpt.Metadata.RunID, "epoch", ckpt.TrainingState.Epoch)
	if model.Channels() != 3 {
		return fmt.Errorf("image folders are RGB; checkpoint has %d channels", model.Channels())
	}

	images, err := dataset.NewImageFolderDataset(opts.input, cfg.Data.ImageSize, cfg.Data.Extensions)
	if err != nil {
		return err
	}
	masks, err := dataset.NewMaskGenerator(cfg.Data.Mask)
	if err != nil {
		return err
	}
	ds, err := dataset.NewInpaintingDataset(images, masks, cfg.Run.Seed)
	if err != nil {
		return err
	}
	loader, err := dataloader.NewDataLoader(ds, dataloader.Config{BatchSize: cfg.Data.BatchSize, MaxCacheSize: -1, Name: "infer"})
	if err != nil {
		return err
	}

	parts, err := buildComponents(cfg, model)
	if err != nil {
		return err
	}
	engineCfg := engineConfig(cfg)
	engineCfg.OutputDir = opts.output

	var traceDir string
	var tracing bool
	engineOpts := []diffusion.Option{diffusion.WithLogger(logger), diffusion.WithRand(rand.New(rand.NewSource(cfg.Run.Seed)))}
	if opts.traceEvery > 0 {
		traceDir = filepath.Join(opts.output, "trace")
		engineOpts = append(engineOpts, diffusion.WithStepObserver(func(t int, current *tensor.Tensor) {
			if !tracing || t%opts.traceEvery != 0 {
				return
			}
			first, err := current.Sample(0)
			if err != nil {
				return
			}
			if err := preprocessing.SavePNG(first, filepath.Join(traceDir, fmt.Sprintf("step_%05d.png", t))); err != nil {
				logger.Warn("failed to write trace image", "step", t, "error", err)
			}
		}))
	}
	engine, err := diffusion.New(engineCfg, parts.engineComponents(model, loader, loader), engineOpts...)
	if err != nil {
		return err
	}

	if err := loader.Reset(); err != nil {
		return err
	}
	written := 0
	for batchIndex := 0; ; batchIndex++ {
		if err := cmd.Context().Err(); err != nil {
			return err
		}
		b, err := loader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		tracing = batchIndex == 0
		pred, err := engine.InferOneBatch(b.Cond, b.Mask)
		if err != nil {
			return err
		}
		for i := 0; i < b.Size(); i++ {
			path, err := images.Path(written)
			if err != nil {
				return err
			}
			if err := writePair(opts.output, path, b.Cond, pred, i); err != nil {
				return err
			}
			written++
		}
		logger.Info("reconstructed batch", "batch", batchIndex+1, "of", loader.Len())
	}

	logger.Info("inference finished", "images", written, "output", opts.output)
	return nil
}

func writePair(outDir, srcPath string, cond, pred *tensor.Tensor, i int) error {
	name := strings.TrimSuffix(filepath.Base(srcPath), filepath.Ext(srcPath))
	for _, out := range []struct {
		suffix string
		t      *tensor.Tensor
	}{{"cond", cond}, {"pred", pred}} {
		sample, err := out.t.Sample(i)
		if err != nil {
			return err
		}
		if err := preprocessing.SavePNG(sample, filepath.Join(outDir, name+"_"+out.suffix+".png")); err != nil {
			return err
		}
	}
	return nil
}

func newScheduleCommand(a *app) *cobra.Command {
	var (
		configPath string
		which      string
	)

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Print the train or inference noise schedule as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			sc := cfg.Schedule.Train
			switch which {
			case "train":
			case "inference":
				sc = cfg.Schedule.Inference
			default:
				return fmt.Errorf("unknown schedule %q (train, inference)", which)
			}
			s, err := sc.Build()
			if err != nil {
				return err
			}
			a.logger.Debug("built schedule", "which", which, "steps", s.Len())
			return s.WriteYAML(cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "YAML run configuration (defaults when empty)")
	cmd.Flags().StringVar(&which, "which", "train", "Schedule to print (train, inference)")
	return cmd
}

