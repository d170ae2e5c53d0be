// Package telemetry holds the scalar and image sinks used by the diffusion
// engine: JSON-lines scalar files, an in-memory plot collector, a client
// for the plotting sidecar and PNG writers.
package telemetry

import (
	"encoding/json"
	"time"
)

// PlotType represents different types of plots that can be generated
type PlotType string

const (
	TrainingCurves        PlotType = "training_curves"
	EvaluationMetrics     PlotType = "evaluation_metrics"
	ParameterDistribution PlotType = "parameter_distribution"
)

// PlotData is the JSON document accepted by the plotting sidecar
type PlotData struct {
	PlotType  PlotType  `json:"plot_type"`
	Title     string    `json:"title"`
	Timestamp time.Time `json:"timestamp"`
	ModelName string    `json:"model_name"`
	RunID     string    `json:"run_id,omitempty"`

	Series []SeriesData `json:"series"`
	Config PlotConfig   `json:"config"`

	Metrics map[string]interface{} `json:"metrics,omitempty"`
}

// SeriesData represents a single data series in a plot
type SeriesData struct {
	Name  string                 `json:"name"`
	Type  string                 `json:"type"` // "line", "scatter", "histogram", "bar"
	Data  []DataPoint            `json:"data"`
	Style map[string]interface{} `json:"style,omitempty"`
}

// DataPoint represents a single data point
type DataPoint struct {
	X     interface{} `json:"x"`
	Y     interface{} `json:"y"`
	Label string      `json:"label,omitempty"`
}

// PlotConfig contains plot-specific configuration
type PlotConfig struct {
	XAxisLabel  string `json:"x_axis_label"`
	YAxisLabel  string `json:"y_axis_label"`
	XAxisScale  string `json:"x_axis_scale"` // "linear", "log"
	YAxisScale  string `json:"y_axis_scale"`
	ShowLegend  bool   `json:"show_legend"`
	ShowGrid    bool   `json:"show_grid"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Interactive bool   `json:"interactive"`
}

// ToJSON converts plot data to JSON string
func (pd PlotData) ToJSON() (string, error) {
	data, err := json.MarshalIndent(pd, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func defaultConfig(xLabel, yLabel string) PlotConfig {
	return PlotConfig{
		XAxisLabel:  xLabel,
		YAxisLabel:  yLabel,
		XAxisScale:  "linear",
		YAxisScale:  "linear",
		ShowLegend:  true,
		ShowGrid:    true,
		Width:       800,
		Height:      600,
		Interactive: true,
	}
}
