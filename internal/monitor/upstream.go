package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// UpstreamClient queries the external monitoring API for raw metric and cost
// series. The analysis on top of them lives in Service.
type UpstreamClient struct {
	baseURL string
	http    *http.Client
}

// NewUpstreamClient creates a client against the monitoring API base URL.
func NewUpstreamClient(baseURL string) *UpstreamClient {
	return &UpstreamClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type requestCountResponse struct {
	Datapoints []struct {
		Sum float64 `json:"sum"`
	} `json:"datapoints"`
}

type dailyCostsResponse struct {
	DailyCosts []float64 `json:"dailyCosts"`
}

// RequestCount returns the total request count for the service over the window.
func (c *UpstreamClient) RequestCount(ctx context.Context, service, window string) (float64, error) {
	var resp requestCountResponse
	err := c.post(ctx, "/metrics/request-count", map[string]string{
		"serviceName": service,
		"window":      window,
	}, &resp)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, p := range resp.Datapoints {
		total += p.Sum
	}
	return total, nil
}

// DailyCosts returns the per-day spend over the last days days.
func (c *UpstreamClient) DailyCosts(ctx context.Context, days int) ([]float64, error) {
	var resp dailyCostsResponse
	err := c.post(ctx, "/costs/daily", map[string]int{"days": days}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.DailyCosts, nil
}

func (c *UpstreamClient) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal upstream request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upstream %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("upstream %s: status %d: %s", path, resp.StatusCode, snippet)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode upstream %s response: %w", path, err)
	}
	return nil
}
