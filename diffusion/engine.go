package diffusion

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/tsawler/go-palette/logging"
)

// Config holds the run cadences and output location.
type Config struct {
	// LogEvery is the number of batches per training log line.
	LogEvery int
	// EvalEvery and SaveEvery are epoch cadences.
	EvalEvery int
	SaveEvery int

	// OutputDir receives logfile.log, output/ and models/.
	OutputDir string

	// MaxEpochs bounds Run; 0 runs until the context is cancelled.
	MaxEpochs int
	Seed      int64

	// StrictImprovement requires the RMS to drop below the best value
	// instead of matching it.
	StrictImprovement bool
}

// DefaultConfig returns LogEvery 100 and evaluation and saving every epoch.
func DefaultConfig(outputDir string) Config {
	return Config{
		LogEvery:  100,
		EvalEvery: 1,
		SaveEvery: 1,
		OutputDir: outputDir,
	}
}

// Validate reports non-positive cadences or a missing output directory.
func (c Config) Validate() error {
	switch {
	case c.LogEvery <= 0:
		return fmt.Errorf("%w: log every must be positive, got %d", ErrInvalidConfig, c.LogEvery)
	case c.EvalEvery <= 0:
		return fmt.Errorf("%w: eval every must be positive, got %d", ErrInvalidConfig, c.EvalEvery)
	case c.SaveEvery <= 0:
		return fmt.Errorf("%w: save every must be positive, got %d", ErrInvalidConfig, c.SaveEvery)
	case c.MaxEpochs < 0:
		return fmt.Errorf("%w: max epochs must not be negative, got %d", ErrInvalidConfig, c.MaxEpochs)
	case c.OutputDir == "":
		return fmt.Errorf("%w: output directory is required", ErrInvalidConfig)
	}
	return nil
}

// Components are the collaborators the engine drives. Scheduler may be nil
// for a constant learning rate.
type Components struct {
	Model             Model
	TrainSchedule     Schedule
	InferenceSchedule Schedule
	Optimizer         Optimizer
	Scheduler         LRScheduler
	Loss              Loss
	Metrics           []Metric
	TrainData         BatchSource
	EvalData          BatchSource
}

func (c Components) validate() error {
	switch {
	case c.Model == nil:
		return fmt.Errorf("%w: model is required", ErrInvalidConfig)
	case c.TrainSchedule == nil || c.TrainSchedule.Len() == 0:
		return fmt.Errorf("%w: training schedule is empty", ErrInvalidConfig)
	case c.InferenceSchedule == nil || c.InferenceSchedule.Len() == 0:
		return fmt.Errorf("%w: inference schedule is empty", ErrInvalidConfig)
	case c.Optimizer == nil:
		return fmt.Errorf("%w: optimizer is required", ErrInvalidConfig)
	case c.Loss == nil:
		return fmt.Errorf("%w: loss is required", ErrInvalidConfig)
	case c.TrainData == nil:
		return fmt.Errorf("%w: training data is required", ErrInvalidConfig)
	case c.EvalData == nil:
		return fmt.Errorf("%w: evaluation data is required", ErrInvalidConfig)
	case len(c.Metrics) == 0:
		return fmt.Errorf("%w: at least one metric is required", ErrInvalidConfig)
	}

	seen := make(map[string]bool, len(c.Metrics))
	for i, m := range c.Metrics {
		if m == nil {
			return fmt.Errorf("%w: metric %d is nil", ErrInvalidConfig, i)
		}
		if seen[m.Name()] {
			return fmt.Errorf("%w: duplicate metric %q", ErrInvalidConfig, m.Name())
		}
		seen[m.Name()] = true
	}
	return nil
}

// RunState is the epoch-level state committed after each successful epoch.
type RunState struct {
	Epoch   int
	BestRMS float64
	HasBest bool
	// Saved reports whether weights were written during the last epoch.
	Saved bool
}

// Engine orchestrates training, sampling and evaluation.
type Engine struct {
	cfg Config
	Components

	logger    *slog.Logger
	runLog    RunLog
	progress  io.Writer
	scalars   []ScalarSink
	images    []ImageSink
	artifacts []ArtifactSaver
	observer  StepObserver
	rng       *rand.Rand

	baseLR   float64
	state    RunState
	imageDir string
	modelDir string

	lastRMS       float64
	lastEvalEpoch int
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger mirrors console-worthy run log events to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithRunLog replaces the default <output>/logfile.log run log.
func WithRunLog(l RunLog) Option {
	return func(e *Engine) { e.runLog = l }
}

// WithProgress directs progress bars to w. Use io.Discard to hide them.
func WithProgress(w io.Writer) Option {
	return func(e *Engine) { e.progress = w }
}

// WithScalarSink registers a scalar sink. Sinks run in registration order.
func WithScalarSink(s ScalarSink) Option {
	return func(e *Engine) { e.scalars = append(e.scalars, s) }
}

// WithImageSink registers an image sink.
func WithImageSink(s ImageSink) Option {
	return func(e *Engine) { e.images = append(e.images, s) }
}

// WithArtifactSaver registers an artifact saver.
func WithArtifactSaver(s ArtifactSaver) Option {
	return func(e *Engine) { e.artifacts = append(e.artifacts, s) }
}

// WithStepObserver installs a hook called after every reverse step.
func WithStepObserver(fn StepObserver) Option {
	return func(e *Engine) { e.observer = fn }
}

// WithRand replaces the generator seeded from Config.Seed.
func WithRand(rng *rand.Rand) Option {
	return func(e *Engine) { e.rng = rng }
}

// New validates cfg and c and creates the output directory layout.
func New(cfg Config, c Components, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	if c.Scheduler == nil {
		c.Scheduler = constantLR{}
	}

	e := &Engine{
		cfg:        cfg,
		Components: c,
		progress:   os.Stderr,
		baseLR:     c.Optimizer.LearningRate(),
		state:      RunState{Epoch: 1},
		imageDir:   filepath.Join(cfg.OutputDir, "output"),
		modelDir:   filepath.Join(cfg.OutputDir, "models"),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.Ensure(e.logger)
	if e.rng == nil {
		e.rng = rand.New(rand.NewSource(cfg.Seed))
	}
	if e.progress == nil {
		e.progress = io.Discard
	}

	for _, dir := range []string{cfg.OutputDir, e.imageDir, e.modelDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	if e.runLog == nil {
		l, err := logging.NewRunLog(filepath.Join(cfg.OutputDir, "logfile.log"))
		if err != nil {
			return nil, err
		}
		e.runLog = l
	}
	return e, nil
}

// State returns the committed run state.
func (e *Engine) State() RunState {
	return e.state
}

// Restore replaces the run state, e.g. to continue from a checkpoint.
func (e *Engine) Restore(s RunState) error {
	if s.Epoch < 1 {
		return fmt.Errorf("%w: epoch must be at least 1, got %d", ErrInvalidConfig, s.Epoch)
	}
	e.state = s
	return nil
}

// Evaluation returns the RMS of the most recent evaluation and the epoch
// it ran in. During a save it reports the epoch being saved, before the
// learning rate advances. The epoch is zero until the first evaluation.
func (e *Engine) Evaluation() (rms float64, epoch int) {
	return e.lastRMS, e.lastEvalEpoch
}

// ImageDir is the directory artifacts are written to.
func (e *Engine) ImageDir() string { return e.imageDir }

// ModelDir is the directory model weights are written to.
func (e *Engine) ModelDir() string { return e.modelDir }
