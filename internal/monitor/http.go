package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/chatrelay/linedify/internal/config"
)

// SidecarServer exposes the monitor tools on their own listener, away from
// the webhook front door: plain POST endpoints plus an MCP endpoint at /mcp.
type SidecarServer struct {
	cfg        config.MonitorConfig
	service    *Service
	httpServer *http.Server
}

// NewSidecarServer builds the sidecar around a monitor service.
func NewSidecarServer(cfg config.MonitorConfig, service *Service) *SidecarServer {
	return &SidecarServer{cfg: cfg, service: service}
}

// BuildMux registers the tool endpoints and the MCP handler.
func (s *SidecarServer) BuildMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleHealth)
	mux.HandleFunc("POST /v1/monitor/service-health", s.handleServiceHealth)
	mux.HandleFunc("POST /v1/monitor/cost-projection", s.handleCostProjection)
	mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(s.buildMCPServer()))

	return mux
}

// Start begins listening and blocks until ctx is cancelled.
func (s *SidecarServer) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.BuildMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("monitor sidecar starting", "addr", s.cfg.Listen)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("monitor sidecar: %w", err)
	}
	return nil
}

func (s *SidecarServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "component": "monitor"})
}

func (s *SidecarServer) handleServiceHealth(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ServiceName string `json:"service_name"`
		Window      string `json:"window"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if payload.ServiceName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "service_name is required"})
		return
	}

	report, err := s.service.ServiceHealth(r.Context(), payload.ServiceName, payload.Window)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *SidecarServer) handleCostProjection(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Timeframe string `json:"timeframe"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}

	report, err := s.service.CostProjection(r.Context(), payload.Timeframe)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// buildMCPServer exposes the same two analyses as MCP tools.
func (s *SidecarServer) buildMCPServer() *mcpserver.MCPServer {
	srv := mcpserver.NewMCPServer("linedify-monitor", "0.1.0")

	srv.AddTool(
		mcp.NewTool("get_service_health",
			mcp.WithDescription("Analyze service health from recent request metrics."),
			mcp.WithString("service_name", mcp.Required(), mcp.Description("Name of the monitored service.")),
			mcp.WithString("window", mcp.Description("Lookback window, e.g. 1h. Defaults to 1h.")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			report, err := s.service.ServiceHealth(ctx, req.GetString("service_name", ""), req.GetString("window", ""))
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return toolResultJSON(report)
		},
	)

	srv.AddTool(
		mcp.NewTool("get_cost_projection",
			mcp.WithDescription("Project monthly spend from the recent daily cost series."),
			mcp.WithString("timeframe", mcp.Description("Cost lookback label, e.g. 7d. Defaults to 7d.")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			report, err := s.service.CostProjection(ctx, req.GetString("timeframe", ""))
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return toolResultJSON(report)
		},
	)

	return srv
}

func toolResultJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
