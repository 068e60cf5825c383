// Package telemetry implements the telemetry-collaborator client: a
// read-only HTTP client for per-hypervisor and per-VM CPU-utilization
// time series, consumed by the orchestrator's plan phase and wrapped by
// pkg/telemetrycache for repeated reads within one deployment window.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Cloudslab/sdcon/internal/sdcerr"
	"github.com/Cloudslab/sdcon/pkg/telemetrycache"
)

// Config describes how to reach the telemetry backend.
type Config struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

// Client is a thin read-only client bound to one telemetry backend.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// New returns a Client with a sane default timeout if cfg.Timeout is zero.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}
}

type seriesPoint struct {
	Timestamp       int64   `json:"timestamp"`
	IntervalSeconds int     `json:"interval_seconds"`
	ValuePercent    float64 `json:"value_percent"`
}

func (c *Client) get(ctx context.Context, path string) ([]telemetrycache.Sample, error) {
	url := c.cfg.BaseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("telemetry: building request: %w", err)
	}
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, sdcerr.NewUnreachable("telemetry-backend", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, sdcerr.NewNotFound("telemetry-series", path)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("telemetry: GET %s: unexpected status %d: %s", path, resp.StatusCode, data)
	}

	var points []seriesPoint
	if err := json.NewDecoder(resp.Body).Decode(&points); err != nil {
		return nil, fmt.Errorf("telemetry: decoding %s: %w", path, err)
	}
	samples := make([]telemetrycache.Sample, len(points))
	for i, p := range points {
		samples[i] = telemetrycache.Sample{
			Timestamp:       p.Timestamp,
			IntervalSeconds: p.IntervalSeconds,
			ValuePercent:    p.ValuePercent,
		}
	}
	return samples, nil
}

// HypervisorCPU fetches hostName's CPU-utilization series.
func (c *Client) HypervisorCPU(ctx context.Context, hostName string) ([]telemetrycache.Sample, error) {
	return c.get(ctx, fmt.Sprintf("/telemetry/hypervisors/%s/cpu", hostName))
}

// VMCPU fetches vmName's CPU-utilization series.
func (c *Client) VMCPU(ctx context.Context, vmName string) ([]telemetrycache.Sample, error) {
	return c.get(ctx, fmt.Sprintf("/telemetry/vms/%s/cpu", vmName))
}
