package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults. LINE's text message limit
// is 5000 characters; the synchronous reply token stays valid for well under
// a minute, hence the short idle window.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			WebhookPath: "/line/webhook",
		},
		Line: LineConfig{
			APIBase:       "https://api.line.me",
			PushPerSecond: 10,
			PushBurst:     20,
		},
		Dify: DifyConfig{
			BaseURL: "https://api.dify.ai/v1",
		},
		Relay: RelayConfig{
			Mode:              ModeAckPush,
			MaxTextChars:      5000,
			IdleTimeoutSec:    12,
			OverallTimeoutSec: 90,
			AckText:           "收到，思考中…",
			BusyText:          "系統忙碌中，請稍後再試一次。",
			TruncationMarker:  "…(訊息過長已截斷)",
		},
		Filter: FilterConfig{
			LifecycleEvents: []string{
				"workflow_started",
				"node_started", "node_finished",
				"tool_started", "tool_finished",
				"retriever_started", "retriever_finished",
				"agent_log", "ping",
			},
			TerminalEvents: []string{
				"message_end", "agent_end", "workflow_finished",
			},
			TextFields:       []string{"answer", "delta", "text", "content"},
			MinThoughtLen:    10,
			MaxEventTokenLen: 32,
		},
		Diag: DiagConfig{
			RawCapacity:   256,
			EventCapacity: 256,
		},
		Monitor: MonitorConfig{
			Listen:             "0.0.0.0:8081",
			CacheTTLSec:        120,
			BaselineMonthlyUSD: 30,
		},
		Telemetry: TelemetryConfig{
			Protocol:    "http",
			ServiceName: "linedify",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error; env vars alone can configure the gateway.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, cfg.Validate()
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}

	envStr("LINEDIFY_LINE_CHANNEL_SECRET", &c.Line.ChannelSecret)
	envStr("LINEDIFY_LINE_CHANNEL_TOKEN", &c.Line.ChannelToken)
	envStr("LINEDIFY_LINE_API_BASE", &c.Line.APIBase)
	envStr("LINEDIFY_DIFY_API_KEY", &c.Dify.APIKey)
	envStr("LINEDIFY_DIFY_BASE_URL", &c.Dify.BaseURL)

	envStr("LINEDIFY_MODE", &c.Relay.Mode)
	envInt("LINEDIFY_IDLE_TIMEOUT_SEC", &c.Relay.IdleTimeoutSec)
	envInt("LINEDIFY_OVERALL_TIMEOUT_SEC", &c.Relay.OverallTimeoutSec)
	envInt("LINEDIFY_MAX_TEXT_CHARS", &c.Relay.MaxTextChars)

	envStr("LINEDIFY_HOST", &c.Server.Host)
	envInt("LINEDIFY_PORT", &c.Server.Port)

	envStr("LINEDIFY_MONITOR_UPSTREAM_URL", &c.Monitor.UpstreamURL)
	envStr("LINEDIFY_MONITOR_LISTEN", &c.Monitor.Listen)
	if v := os.Getenv("LINEDIFY_MONITOR_ENABLED"); v != "" {
		c.Monitor.Enabled = v == "true" || v == "1"
	}

	envStr("LINEDIFY_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("LINEDIFY_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("LINEDIFY_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("LINEDIFY_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("LINEDIFY_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}

// Validate rejects configurations the dispatcher cannot run with.
func (c *Config) Validate() error {
	switch c.Relay.Mode {
	case ModeAckPush, ModeReplyOnce:
	default:
		return fmt.Errorf("relay.mode must be %q or %q, got %q", ModeAckPush, ModeReplyOnce, c.Relay.Mode)
	}
	if c.Relay.IdleTimeoutSec <= 0 {
		return fmt.Errorf("relay.idleTimeoutSec must be positive")
	}
	if c.Relay.OverallTimeoutSec < c.Relay.IdleTimeoutSec {
		return fmt.Errorf("relay.overallTimeoutSec must be >= relay.idleTimeoutSec")
	}
	if c.Relay.MaxTextChars <= len([]rune(c.Relay.TruncationMarker)) {
		return fmt.Errorf("relay.maxTextChars must exceed the truncation marker length")
	}
	return nil
}

// LoadFilterFile reads a filter vocabulary file and merges non-empty fields
// over the current filter config. Used both at startup and on fsnotify reload.
func LoadFilterFile(path string, base FilterConfig) (FilterConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read filter file: %w", err)
	}

	var overlay FilterConfig
	if err := json5.Unmarshal(data, &overlay); err != nil {
		return base, fmt.Errorf("parse filter file: %w", err)
	}

	merged := base
	if len(overlay.LifecycleEvents) > 0 {
		merged.LifecycleEvents = overlay.LifecycleEvents
	}
	if len(overlay.TerminalEvents) > 0 {
		merged.TerminalEvents = overlay.TerminalEvents
	}
	if len(overlay.TextFields) > 0 {
		merged.TextFields = overlay.TextFields
	}
	if overlay.MinThoughtLen > 0 {
		merged.MinThoughtLen = overlay.MinThoughtLen
	}
	if overlay.MaxEventTokenLen > 0 {
		merged.MaxEventTokenLen = overlay.MaxEventTokenLen
	}
	return merged, nil
}
