// Package config holds process-wide configuration for the linedify gateway.
// Config is loaded once at startup from a JSON5 file and overlaid with
// LINEDIFY_* environment variables; components receive the resolved values
// by reference, never by reading globals.
package config

import "time"

// Delivery modes for the dispatcher. Fixed for the whole process.
const (
	ModeAckPush   = "ack_push"   // ack via reply token, answer via push
	ModeReplyOnce = "reply_once" // single reply carries the final answer
)

// Config is the root configuration object.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Line      LineConfig      `json:"line"`
	Dify      DifyConfig      `json:"dify"`
	Relay     RelayConfig     `json:"relay"`
	Filter    FilterConfig    `json:"filter"`
	Diag      DiagConfig      `json:"diag"`
	Monitor   MonitorConfig   `json:"monitor"`
	Telemetry TelemetryConfig `json:"telemetry"`
}

// ServerConfig configures the front-door HTTP listener.
type ServerConfig struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	WebhookPath string `json:"webhookPath"`
}

// LineConfig holds LINE Messaging API credentials and endpoints.
type LineConfig struct {
	ChannelSecret string  `json:"channelSecret"`
	ChannelToken  string  `json:"channelToken"`
	APIBase       string  `json:"apiBase"`
	PushPerSecond float64 `json:"pushPerSecond"` // outbound send rate limit
	PushBurst     int     `json:"pushBurst"`
}

// DifyConfig holds the Dify chat backend credentials and endpoint.
type DifyConfig struct {
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl"`
}

// RelayConfig drives the aggregator and dispatcher.
type RelayConfig struct {
	Mode              string `json:"mode"` // ack_push | reply_once
	MaxTextChars      int    `json:"maxTextChars"`
	IdleTimeoutSec    int    `json:"idleTimeoutSec"`
	OverallTimeoutSec int    `json:"overallTimeoutSec"`
	AckText           string `json:"ackText"`
	BusyText          string `json:"busyText"`
	TruncationMarker  string `json:"truncationMarker"`
}

// IdleTimeout returns the idle deadline duration.
func (r RelayConfig) IdleTimeout() time.Duration {
	return time.Duration(r.IdleTimeoutSec) * time.Second
}

// OverallTimeout returns the hard deadline duration.
func (r RelayConfig) OverallTimeout() time.Duration {
	return time.Duration(r.OverallTimeoutSec) * time.Second
}

// FilterConfig is the noise-filter vocabulary for the aggregator.
// The Dify event vocabulary is informal and changes between releases,
// so the lists are data, not code. When File is set, the lists are
// loaded from that JSON5 file and reloaded when it changes on disk.
type FilterConfig struct {
	File string `json:"file"`

	// LifecycleEvents are ignorable workflow/node/tool markers.
	LifecycleEvents []string `json:"lifecycleEvents"`
	// TerminalEvents end the stream, carrying any trailing text.
	TerminalEvents []string `json:"terminalEvents"`
	// TextFields is the ordered list of record fields probed for payload text.
	TextFields []string `json:"textFields"`
	// MinThoughtLen is the minimum length for a thought to qualify as fallback.
	MinThoughtLen int `json:"minThoughtLen"`
	// MaxEventTokenLen bounds the snake_case event-name-shaped rejection:
	// longer candidates are always kept.
	MaxEventTokenLen int `json:"maxEventTokenLen"`
}

// DiagConfig sizes the diagnostic ring buffers.
type DiagConfig struct {
	RawCapacity   int `json:"rawCapacity"`
	EventCapacity int `json:"eventCapacity"`
}

// MonitorConfig configures the service-health / cost-projection sidecar.
type MonitorConfig struct {
	Enabled            bool    `json:"enabled"`
	Listen             string  `json:"listen"`
	UpstreamURL        string  `json:"upstreamUrl"`
	CacheTTLSec        int     `json:"cacheTtlSec"`
	BaselineMonthlyUSD float64 `json:"baselineMonthlyUsd"`
}

// CacheTTL returns the monitor cache entry lifetime.
func (m MonitorConfig) CacheTTL() time.Duration {
	return time.Duration(m.CacheTTLSec) * time.Second
}

// TelemetryConfig configures the OTLP trace exporter.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint"`
	Protocol    string `json:"protocol"` // "grpc" or "http"
	ServiceName string `json:"serviceName"`
	Insecure    bool   `json:"insecure"`
}
