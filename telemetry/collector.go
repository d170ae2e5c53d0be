package telemetry

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tsawler/go-palette/optimizer"
)

// Collector is a ScalarSink keeping every series in memory so it can be
// rendered as PlotData.
type Collector struct {
	modelName string
	runID     string
	now       func() time.Time

	mu     sync.Mutex
	order  []string
	series map[string][]point
	params []ParameterStats
}

type point struct {
	step  int
	value float64
}

// ParameterStats summarizes one parameter tensor
type ParameterStats struct {
	Name      string    `json:"name"`
	Mean      float64   `json:"mean"`
	Std       float64   `json:"std"`
	Min       float64   `json:"min"`
	Max       float64   `json:"max"`
	Histogram []float64 `json:"histogram"`
	Bins      []float64 `json:"bins"`
}

// NewCollector creates an empty collector
func NewCollector(modelName, runID string) *Collector {
	return &Collector{
		modelName: modelName,
		runID:     runID,
		now:       time.Now,
		series:    make(map[string][]point),
	}
}

// AddScalar records value at step
func (c *Collector) AddScalar(series string, value float64, step int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.series[series]; !ok {
		c.order = append(c.order, series)
	}
	c.series[series] = append(c.series[series], point{step: step, value: value})
	return nil
}

// Series returns the names recorded so far, in first-seen order
func (c *Collector) Series() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...)
}

// RecordParameters stores distribution statistics for params, replacing
// any earlier snapshot.
func (c *Collector) RecordParameters(params []*optimizer.Parameter, bins int) {
	if bins <= 0 {
		bins = 20
	}
	stats := make([]ParameterStats, 0, len(params))
	for _, p := range params {
		stats = append(stats, parameterStats(p.Name, p.Value, bins))
	}
	c.mu.Lock()
	c.params = stats
	c.mu.Unlock()
}

func parameterStats(name string, values []float32, bins int) ParameterStats {
	s := ParameterStats{Name: name, Min: math.Inf(1), Max: math.Inf(-1)}
	if len(values) == 0 {
		return ParameterStats{Name: name}
	}
	var sum float64
	for _, v := range values {
		f := float64(v)
		sum += f
		s.Min = math.Min(s.Min, f)
		s.Max = math.Max(s.Max, f)
	}
	s.Mean = sum / float64(len(values))
	var sq float64
	for _, v := range values {
		d := float64(v) - s.Mean
		sq += d * d
	}
	s.Std = math.Sqrt(sq / float64(len(values)))

	width := (s.Max - s.Min) / float64(bins)
	s.Histogram = make([]float64, bins)
	s.Bins = make([]float64, bins+1)
	for i := range s.Bins {
		s.Bins[i] = s.Min + float64(i)*width
	}
	for _, v := range values {
		idx := bins - 1
		if width > 0 {
			idx = int((float64(v) - s.Min) / width)
		}
		if idx >= bins {
			idx = bins - 1
		}
		s.Histogram[idx]++
	}
	return s
}

// TrainingCurvesPlot renders every train/ series against the global batch
// index.
func (c *Collector) TrainingCurvesPlot() PlotData {
	return c.linePlot(TrainingCurves, "Training Loss", "train/", "Iteration", "Loss")
}

// EvaluationPlot renders every Evaluation/ series against the epoch.
func (c *Collector) EvaluationPlot() PlotData {
	return c.linePlot(EvaluationMetrics, "Evaluation Metrics", "Evaluation/", "Epoch", "Value")
}

// ParameterPlot renders the last parameter snapshot as histograms.
func (c *Collector) ParameterPlot() PlotData {
	c.mu.Lock()
	defer c.mu.Unlock()

	pd := c.header(ParameterDistribution, "Parameter Distribution", defaultConfig("Value", "Count"))
	metrics := make(map[string]interface{}, len(c.params))
	for _, s := range c.params {
		series := SeriesData{Name: s.Name, Type: "histogram"}
		for i, count := range s.Histogram {
			series.Data = append(series.Data, DataPoint{X: (s.Bins[i] + s.Bins[i+1]) / 2, Y: count})
		}
		pd.Series = append(pd.Series, series)
		metrics[s.Name] = map[string]interface{}{"mean": s.Mean, "std": s.Std, "min": s.Min, "max": s.Max}
	}
	if len(metrics) > 0 {
		pd.Metrics = metrics
	}
	return pd
}

// Plots returns every plot that has data.
func (c *Collector) Plots() []PlotData {
	var out []PlotData
	for _, pd := range []PlotData{c.TrainingCurvesPlot(), c.EvaluationPlot(), c.ParameterPlot()} {
		if len(pd.Series) > 0 {
			out = append(out, pd)
		}
	}
	return out
}

// WriteJSON writes Plots to path as a JSON array.
func (c *Collector) WriteJSON(path string) error {
	plots := c.Plots()
	parts := make([]string, len(plots))
	for i, pd := range plots {
		s, err := pd.ToJSON()
		if err != nil {
			return fmt.Errorf("failed to encode %s plot: %w", pd.PlotType, err)
		}
		parts[i] = s
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("["+strings.Join(parts, ",\n")+"]\n"), 0o644)
}

func (c *Collector) linePlot(kind PlotType, title, prefix, xLabel, yLabel string) PlotData {
	c.mu.Lock()
	defer c.mu.Unlock()

	pd := c.header(kind, title, defaultConfig(xLabel, yLabel))
	names := make([]string, 0, len(c.order))
	for _, name := range c.order {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}

	for _, name := range names {
		series := SeriesData{Name: strings.TrimPrefix(name, prefix), Type: "line"}
		dropped := 0
		for _, p := range c.series[name] {
			// JSON has no NaN or Inf
			if math.IsNaN(p.value) || math.IsInf(p.value, 0) {
				dropped++
				continue
			}
			series.Data = append(series.Data, DataPoint{X: p.step, Y: p.value})
		}
		if dropped > 0 {
			series.Style = map[string]interface{}{"dropped_points": dropped}
		}
		pd.Series = append(pd.Series, series)
	}
	return pd
}

func (c *Collector) header(kind PlotType, title string, cfg PlotConfig) PlotData {
	return PlotData{
		PlotType:  kind,
		Title:     title,
		Timestamp: c.now(),
		ModelName: c.modelName,
		RunID:     c.runID,
		Config:    cfg,
	}
}
