package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// PlottingService handles communication with the sidecar plotting
// application. It is a scalar sink through its Collector; recorded series
// are pushed on Flush.
type PlottingService struct {
	*Collector

	baseURL    string
	httpClient *http.Client
	config     PlottingServiceConfig
	enabled    bool
}

// PlottingServiceConfig contains configuration for the plotting service
type PlottingServiceConfig struct {
	BaseURL       string        `json:"base_url" yaml:"base_url"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout"`
	RetryAttempts int           `json:"retry_attempts" yaml:"retry_attempts"`
	RetryDelay    time.Duration `json:"retry_delay" yaml:"retry_delay"`
}

// PlottingResponse represents the response from the plotting service
type PlottingResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	PlotURL   string `json:"plot_url,omitempty"`
	ViewURL   string `json:"view_url,omitempty"`
	PlotID    string `json:"plot_id,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}

// DefaultPlottingServiceConfig returns default configuration for the plotting service
func DefaultPlottingServiceConfig() PlottingServiceConfig {
	return PlottingServiceConfig{
		BaseURL:       "http://localhost:8080",
		Timeout:       30 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    1 * time.Second,
	}
}

// NewPlottingService creates a new plotting service client collecting into
// collector, or into a fresh one when collector is nil. It starts disabled.
func NewPlottingService(config PlottingServiceConfig, collector *Collector) *PlottingService {
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = 1
	}
	if collector == nil {
		collector = NewCollector("", "")
	}
	return &PlottingService{
		Collector:  collector,
		baseURL:    config.BaseURL,
		httpClient: &http.Client{Timeout: config.Timeout},
		config:     config,
	}
}

// Enable enables the plotting service
func (ps *PlottingService) Enable() { ps.enabled = true }

// Disable disables the plotting service
func (ps *PlottingService) Disable() { ps.enabled = false }

// IsEnabled returns whether the plotting service is enabled
func (ps *PlottingService) IsEnabled() bool { return ps.enabled }

func disabledResponse() *PlottingResponse {
	return &PlottingResponse{Success: false, Message: "Plotting service is disabled"}
}

// SendPlotData posts one plot to the sidecar
func (ps *PlottingService) SendPlotData(ctx context.Context, plotData PlotData) (*PlottingResponse, error) {
	if !ps.enabled {
		return disabledResponse(), nil
	}

	jsonData, err := json.Marshal(plotData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal plot data: %w", err)
	}

	url := fmt.Sprintf("%s/api/plot", ps.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "go-palette")

	resp, err := ps.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var plotResponse PlottingResponse
	if err := json.Unmarshal(respBody, &plotResponse); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &plotResponse, fmt.Errorf("HTTP request failed with status %d: %s", resp.StatusCode, plotResponse.Message)
	}
	return &plotResponse, nil
}

// SendPlotDataWithRetry retries SendPlotData up to RetryAttempts times,
// waiting RetryDelay between attempts.
func (ps *PlottingService) SendPlotDataWithRetry(ctx context.Context, plotData PlotData) (*PlottingResponse, error) {
	if !ps.enabled {
		return disabledResponse(), nil
	}

	var lastErr error
	for attempt := 0; attempt < ps.config.RetryAttempts; attempt++ {
		resp, err := ps.SendPlotData(ctx, plotData)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if attempt < ps.config.RetryAttempts-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(ps.config.RetryDelay):
			}
		}
	}
	return nil, fmt.Errorf("failed to send plot data after %d attempts: %w", ps.config.RetryAttempts, lastErr)
}

// CheckHealth checks if the plotting service is available
func (ps *PlottingService) CheckHealth(ctx context.Context) error {
	if !ps.enabled {
		return fmt.Errorf("plotting service is disabled")
	}

	url := fmt.Sprintf("%s/health", ps.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := ps.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send health check request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status %d", resp.StatusCode)
	}
	return nil
}

// Flush sends every non-empty plot collected so far. The first error
// stops the flush.
func (ps *PlottingService) Flush(ctx context.Context) ([]*PlottingResponse, error) {
	if !ps.enabled {
		return nil, nil
	}
	var out []*PlottingResponse
	for _, pd := range ps.Plots() {
		resp, err := ps.SendPlotDataWithRetry(ctx, pd)
		if err != nil {
			return out, fmt.Errorf("%s: %w", pd.PlotType, err)
		}
		out = append(out, resp)
	}
	return out, nil
}
