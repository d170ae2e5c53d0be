// Package config loads the YAML run configuration for palette.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tsawler/go-palette/checkpoints"
	"github.com/tsawler/go-palette/schedule"
	"github.com/tsawler/go-palette/training"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

type RunConfig struct {
	Run         RunSection               `yaml:"run"`
	Data        DataSection              `yaml:"data"`
	Schedule    ScheduleSection          `yaml:"schedule"`
	Optimizer   OptimizerSection         `yaml:"optimizer"`
	LRScheduler training.SchedulerConfig `yaml:"lr_scheduler"`
	Loss        string                   `yaml:"loss"`
	Metrics     []string                 `yaml:"metrics"`
	Checkpoint  CheckpointSection        `yaml:"checkpoint"`
	Telemetry   TelemetrySection         `yaml:"telemetry"`
}

type RunSection struct {
	OutputDir         string `yaml:"output_dir"`
	LogEvery          int    `yaml:"log_every"`
	EvalEvery         int    `yaml:"eval_every"`
	SaveEvery         int    `yaml:"save_every"`
	MaxEpochs         int    `yaml:"max_epochs"`
	Seed              int64  `yaml:"seed"`
	StrictImprovement bool   `yaml:"strict_improvement"`
}

// DataSection selects the training and evaluation images. An empty
// TrainDir selects the synthetic dataset.
type DataSection struct {
	TrainDir       string   `yaml:"train_dir"`
	EvalDir        string   `yaml:"eval_dir"`
	EvalSplit      float64  `yaml:"eval_split"`
	Extensions     []string `yaml:"extensions,omitempty"`
	ImageSize      int      `yaml:"image_size"`
	BatchSize      int      `yaml:"batch_size"`
	Shuffle        bool     `yaml:"shuffle"`
	Prefetch       int      `yaml:"prefetch"`
	CacheSize      int      `yaml:"cache_size"`
	Mask           string   `yaml:"mask"`
	Channels       int      `yaml:"channels"`
	SyntheticTrain int      `yaml:"synthetic_train"`
	SyntheticEval  int      `yaml:"synthetic_eval"`
}

type ScheduleSection struct {
	Train     schedule.Config `yaml:"train"`
	Inference schedule.Config `yaml:"inference"`
}

type OptimizerSection struct {
	Kind         string  `yaml:"kind"`
	LearningRate float64 `yaml:"learning_rate"`
	Momentum     float64 `yaml:"momentum"`
	Nesterov     bool    `yaml:"nesterov"`
	Beta1        float64 `yaml:"beta1"`
	Beta2        float64 `yaml:"beta2"`
	Epsilon      float64 `yaml:"epsilon"`
	WeightDecay  float64 `yaml:"weight_decay"`
}

type CheckpointSection struct {
	Format string `yaml:"format"`
}

// TelemetrySection configures the optional sinks. Empty paths disable the
// corresponding sink.
type TelemetrySection struct {
	ScalarsFile   string        `yaml:"scalars_file"`
	CollectorFile string        `yaml:"collector_file"`
	PlotURL       string        `yaml:"plot_url"`
	PlotTimeout   time.Duration `yaml:"plot_timeout"`
	SaveImages    bool          `yaml:"save_images"`
}

// Default returns a configuration that trains on synthetic data.
func Default() RunConfig {
	return RunConfig{
		Run: RunSection{
			OutputDir: "runs",
			LogEvery:  100,
			EvalEvery: 1,
			SaveEvery: 1,
			Seed:      1,
		},
		Data: DataSection{
			EvalSplit:      0.1,
			ImageSize:      32,
			BatchSize:      8,
			Shuffle:        true,
			Prefetch:       2,
			Mask:           "center",
			Channels:       3,
			SyntheticTrain: 256,
			SyntheticEval:  32,
		},
		Schedule: ScheduleSection{
			Train:     schedule.DefaultTrainConfig(),
			Inference: schedule.DefaultInferenceConfig(),
		},
		Optimizer: OptimizerSection{
			Kind:         "adam",
			LearningRate: 1e-3,
			Momentum:     0.9,
			Beta1:        0.9,
			Beta2:        0.999,
			Epsilon:      1e-8,
		},
		LRScheduler: training.SchedulerConfig{Kind: "constant"},
		Loss:        "mse",
		Metrics:     []string{"mae", "masked_mae"},
		Checkpoint:  CheckpointSection{Format: "json"},
		Telemetry: TelemetrySection{
			ScalarsFile: "scalars.jsonl",
			PlotTimeout: 30 * time.Second,
		},
	}
}

// Load reads path over Default. Unknown keys are rejected.
func Load(path string) (RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RunConfig{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return RunConfig{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over Default and validates the result.
func Parse(data []byte) (RunConfig, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return RunConfig{}, fmt.Errorf("decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return RunConfig{}, err
	}
	return cfg, nil
}

// Write encodes cfg as YAML.
func (c RunConfig) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

// Validate reports every inconsistency in c.
func (c RunConfig) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(c.Run.OutputDir != "", "run.output_dir is required")
	check(c.Run.LogEvery > 0, "run.log_every must be positive, got %d", c.Run.LogEvery)
	check(c.Run.EvalEvery > 0, "run.eval_every must be positive, got %d", c.Run.EvalEvery)
	check(c.Run.SaveEvery > 0, "run.save_every must be positive, got %d", c.Run.SaveEvery)
	check(c.Run.MaxEpochs >= 0, "run.max_epochs cannot be negative, got %d", c.Run.MaxEpochs)

	check(c.Data.ImageSize > 0, "data.image_size must be positive, got %d", c.Data.ImageSize)
	check(c.Data.BatchSize > 0, "data.batch_size must be positive, got %d", c.Data.BatchSize)
	check(c.Data.Prefetch >= 0, "data.prefetch cannot be negative, got %d", c.Data.Prefetch)
	check(c.Data.EvalSplit >= 0 && c.Data.EvalSplit < 1, "data.eval_split must be in [0, 1), got %v", c.Data.EvalSplit)
	if c.Data.TrainDir == "" {
		check(c.Data.SyntheticTrain > 0, "data.synthetic_train must be positive without train_dir")
		check(c.Data.SyntheticEval > 0, "data.synthetic_eval must be positive without train_dir")
		check(c.Data.Channels == 1 || c.Data.Channels == 3, "data.channels must be 1 or 3, got %d", c.Data.Channels)
	} else if c.Data.EvalDir == "" {
		check(c.Data.EvalSplit > 0, "data.eval_split must be positive without eval_dir")
	}
	switch strings.ToLower(c.Data.Mask) {
	case "", "center", "box", "half":
	default:
		check(false, "data.mask %q is not one of center, box, half", c.Data.Mask)
	}

	if _, err := c.Schedule.Train.Build(); err != nil {
		check(false, "schedule.train: %v", err)
	}
	if _, err := c.Schedule.Inference.Build(); err != nil {
		check(false, "schedule.inference: %v", err)
	}

	switch strings.ToLower(c.Optimizer.Kind) {
	case "sgd", "adam":
	default:
		check(false, "optimizer.kind %q is not one of sgd, adam", c.Optimizer.Kind)
	}
	check(c.Optimizer.LearningRate > 0, "optimizer.learning_rate must be positive, got %v", c.Optimizer.LearningRate)

	if _, err := training.NewScheduler(c.LRScheduler); err != nil {
		check(false, "lr_scheduler: %v", err)
	}
	if _, err := training.NewLoss(c.Loss); err != nil {
		check(false, "loss: %v", err)
	}
	check(len(c.Metrics) > 0, "metrics must name at least one metric")
	if _, err := training.NewMetrics(c.Metrics); err != nil {
		check(false, "metrics: %v", err)
	}
	if _, err := checkpoints.ParseFormat(c.Checkpoint.Format); err != nil {
		check(false, "checkpoint.format: %v", err)
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
}
