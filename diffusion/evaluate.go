package diffusion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/tsawler/go-palette/tensor"
	"github.com/tsawler/go-palette/training"
)

// EvaluateOneBatch samples a prediction for b and scores it with every
// metric. Masked metrics see the batch mask.
func (e *Engine) EvaluateOneBatch(b *Batch) (*tensor.Tensor, map[string][]float64, error) {
	if err := b.Validate(); err != nil {
		return nil, nil, err
	}
	predicted, err := e.InferOneBatch(b.Cond, b.Mask)
	if err != nil {
		return nil, nil, err
	}

	results := make(map[string][]float64, len(e.Metrics))
	for _, m := range e.Metrics {
		var values []float64
		if mm, ok := m.(MaskedMetric); ok {
			values, err = mm.ComputeMasked(predicted, b.GroundTruth, b.Mask)
		} else {
			values, err = m.Compute(predicted, b.GroundTruth)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("metric %s failed: %w", m.Name(), err)
		}
		results[m.Name()] = values
	}
	return predicted, results, nil
}

// EvaluateSingleEpoch scores the whole evaluation set and returns the
// NaN-tolerant mean of every metric in configuration order. The last
// sample of the last batch is sent to the visual sinks.
func (e *Engine) EvaluateSingleEpoch(ctx context.Context, epoch int) ([]MetricResult, error) {
	e.Model.Eval()
	if err := e.EvalData.Reset(); err != nil {
		return nil, fmt.Errorf("failed to reset evaluation data: %w", err)
	}

	bar := training.NewProgressBarTo(e.progress, "Evaluation", e.EvalData.Len())
	all := make(map[string][]float64, len(e.Metrics))
	var (
		last          *Batch
		lastPredicted *tensor.Tensor
		i             int
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := e.EvalData.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load evaluation batch: %w", err)
		}
		i++

		predicted, results, err := e.EvaluateOneBatch(b)
		if err != nil {
			return nil, fmt.Errorf("evaluation batch %d: %w", i, err)
		}
		for name, values := range results {
			all[name] = append(all[name], values...)
		}
		last, lastPredicted = b, predicted
		bar.Update(i, nil)
	}
	bar.Finish()

	if last == nil {
		return nil, fmt.Errorf("%w: evaluation data produced no batches", ErrInvalidConfig)
	}

	means := make([]MetricResult, len(e.Metrics))
	for j, m := range e.Metrics {
		means[j] = MetricResult{Name: m.Name(), Mean: training.NaNMean(all[m.Name()])}
	}

	n := last.Size() - 1
	cond, err := lastSample(last.Cond, n)
	if err != nil {
		return nil, err
	}
	predicted, err := lastSample(lastPredicted, n)
	if err != nil {
		return nil, err
	}
	gt, err := lastSample(last.GroundTruth, n)
	if err != nil {
		return nil, err
	}
	if err := e.logVisuals("Evaluation", epoch, cond, predicted, gt); err != nil {
		return nil, err
	}
	return means, nil
}

// RMS returns the root mean square of the metric means.
func RMS(results []MetricResult) float64 {
	if len(results) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, r := range results {
		sum += r.Mean * r.Mean
	}
	return math.Sqrt(sum / float64(len(results)))
}

// FormatResults renders results as {Name: value, ...} in order.
func FormatResults(results []MetricResult) string {
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = fmt.Sprintf("%s: %.6g", r.Name, r.Mean)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// lastSample returns item i of t as [C, H, W].
func lastSample(t *tensor.Tensor, i int) (*tensor.Tensor, error) {
	s, err := t.Sample(i)
	if err != nil {
		return nil, err
	}
	return s.Reshape(s.Shape[1:])
}
