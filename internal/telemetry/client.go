// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Default queries. {jobs} in the throughput query is replaced by the
// active replica count.
const (
	DefaultPowerQuery      = `avg_over_time(ipmi_power_watts[10s])`
	DefaultCPUQuery        = `100*(1-avg by(instance)(rate(node_cpu_seconds_total{mode="idle"}[20s])))`
	DefaultThroughputQuery = `sum(vllm:avg_generation_throughput_toks_per_s{instance=~"vllm_serving_0:8000|vllm_serving_1:8000"})/{jobs}`
)

var (
	// ErrNoData is returned when a query matches no series.
	ErrNoData = errors.New("query returned no data")
	// ErrQueryFailed is returned when the endpoint reports a non-success status.
	ErrQueryFailed = errors.New("metrics query failed")
)

// Config configures the metrics client and monitor.
type Config struct {
	// BaseURL is the metrics proxy root, e.g. http://localhost:8100/metrics.
	BaseURL string

	Interval        time.Duration
	Timeout         time.Duration
	PowerQuery      string
	CPUQuery        string
	ThroughputQuery string

	// History is the number of throughput samples kept.
	History int

	// RatePerSecond bounds outgoing queries across all panels.
	RatePerSecond float64
}

// DefaultConfig returns the stock query set polling every 5 seconds.
func DefaultConfig() Config {
	return Config{
		BaseURL:         "http://localhost:8100/metrics",
		Interval:        5 * time.Second,
		Timeout:         4 * time.Second,
		PowerQuery:      DefaultPowerQuery,
		CPUQuery:        DefaultCPUQuery,
		ThroughputQuery: DefaultThroughputQuery,
		History:         30,
		RatePerSecond:   4,
	}
}

func (c *Config) setDefaults() {
	d := DefaultConfig()
	if c.BaseURL == "" {
		c.BaseURL = d.BaseURL
	}
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.PowerQuery == "" {
		c.PowerQuery = d.PowerQuery
	}
	if c.CPUQuery == "" {
		c.CPUQuery = d.CPUQuery
	}
	if c.ThroughputQuery == "" {
		c.ThroughputQuery = d.ThroughputQuery
	}
	if c.History <= 0 {
		c.History = d.History
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = d.RatePerSecond
	}
}

// ThroughputQueryFor substitutes the job count (floor 1) into query.
func ThroughputQueryFor(query string, jobs int) string {
	if jobs < 1 {
		jobs = 1
	}
	return strings.ReplaceAll(query, "{jobs}", strconv.Itoa(jobs))
}

// Sample is one instant-vector element.
type Sample struct {
	Metric map[string]string
	Time   time.Time
	Value  float64
}

type queryResponse struct {
	Status    string `json:"status"`
	ErrorType string `json:"errorType,omitempty"`
	Error     string `json:"error,omitempty"`
	Data      struct {
		ResultType string `json:"resultType"`
		Result     []struct {
			Metric map[string]string `json:"metric"`
			Value  []json.RawMessage `json:"value"`
		} `json:"result"`
	} `json:"data"`
}

// Client runs instant queries against the metrics endpoint.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

// NewClient creates a metrics client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	cfg.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	burst := int(cfg.RatePerSecond)
	if burst < 3 {
		burst = 3
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst),
		log:     logger.Named("telemetry"),
	}
}

// Query runs promql and returns all samples.
func (c *Client) Query(ctx context.Context, promql string) ([]Sample, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := c.baseURL + "/api/v1/query?" + url.Values{"query": {promql}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read metrics response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: HTTP %d", ErrQueryFailed, resp.StatusCode)
	}

	var qr queryResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		return nil, fmt.Errorf("decode metrics response: %w", err)
	}
	if qr.Status != "success" {
		return nil, fmt.Errorf("%w: %s %s", ErrQueryFailed, qr.ErrorType, qr.Error)
	}

	out := make([]Sample, 0, len(qr.Data.Result))
	for _, r := range qr.Data.Result {
		s, err := parseValue(r.Value)
		if err != nil {
			c.log.Debug("skipping malformed sample", zap.String("query", promql), zap.Error(err))
			continue
		}
		s.Metric = r.Metric
		out = append(out, s)
	}
	return out, nil
}

// QueryValue runs promql and returns the first sample's value.
func (c *Client) QueryValue(ctx context.Context, promql string) (float64, error) {
	samples, err := c.Query(ctx, promql)
	if err != nil {
		return 0, err
	}
	if len(samples) == 0 {
		return 0, ErrNoData
	}
	return samples[0].Value, nil
}

// parseValue decodes a [unixSeconds, "value"] pair.
func parseValue(pair []json.RawMessage) (Sample, error) {
	if len(pair) != 2 {
		return Sample{}, fmt.Errorf("value has %d elements", len(pair))
	}
	var ts float64
	if err := json.Unmarshal(pair[0], &ts); err != nil {
		return Sample{}, fmt.Errorf("timestamp: %w", err)
	}
	var raw string
	if err := json.Unmarshal(pair[1], &raw); err != nil {
		return Sample{}, fmt.Errorf("value: %w", err)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return Sample{}, fmt.Errorf("value: %w", err)
	}
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return Sample{Time: time.Unix(sec, nsec), Value: v}, nil
}
