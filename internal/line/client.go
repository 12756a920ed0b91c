package line

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/chatrelay/linedify/internal/config"
)

const (
	replyEndpoint = "/v2/bot/message/reply"
	pushEndpoint  = "/v2/bot/message/push"
)

// Client sends messages through the LINE Messaging API using net/http.
// Push calls go through a token-bucket limiter so a burst of finished
// aggregations cannot trip the platform's rate limits.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a LINE Messaging API client.
func NewClient(cfg config.LineConfig) *Client {
	perSecond := cfg.PushPerSecond
	if perSecond <= 0 {
		perSecond = 10
	}
	burst := cfg.PushBurst
	if burst <= 0 {
		burst = int(perSecond)
	}
	return &Client{
		baseURL:    cfg.APIBase,
		token:      cfg.ChannelToken,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Reply consumes the one-time reply token. The platform rejects expired or
// reused tokens; callers must not retry. Not rate limited — a delayed reply
// is a dead reply.
func (c *Client) Reply(ctx context.Context, replyToken, text string) error {
	payload := map[string]any{
		"replyToken": replyToken,
		"messages":   []textMessage{{Type: "text", Text: text}},
	}
	return c.post(ctx, replyEndpoint, payload)
}

// Push sends to a durable conversation id. May be called any number of times
// per conversation; waits on the outbound limiter first.
func (c *Client) Push(ctx context.Context, to, text string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("push rate limit: %w", err)
	}
	payload := map[string]any{
		"to":       to,
		"messages": []textMessage{{Type: "text", Text: text}},
	}
	return c.post(ctx, pushEndpoint, payload)
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal line request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("line api %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("line api %s status %d: %s", path, resp.StatusCode, bytes.TrimSpace(detail))
	}
	return nil
}
