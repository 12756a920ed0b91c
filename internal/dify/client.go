// Package dify is a minimal client for the Dify chat-messages API,
// covering only the streaming call the relay needs.
package dify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/chatrelay/linedify/internal/config"
)

const chatEndpoint = "/chat-messages"

// Client issues streaming chat calls against a Dify backend.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a Dify API client. The underlying http.Client carries no
// overall timeout: the SSE response stays open for the whole aggregation and
// is bounded by the caller's deadlines instead.
func NewClient(cfg config.DifyConfig) *Client {
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{},
	}
}

// StreamChat opens a streaming chat call for the given query and user.
// The caller owns the returned body and must close it; closing it early is
// the only cancellation signal the backend receives.
func (c *Client) StreamChat(ctx context.Context, query, user string) (io.ReadCloser, error) {
	body, err := json.Marshal(map[string]any{
		"query":         query,
		"user":          user,
		"response_mode": "streaming",
		"inputs":        map[string]any{},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dify chat request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("dify chat status %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}
	return resp.Body, nil
}
