// Package server is the front door: the HTTP listener that receives LINE
// webhooks, gates them on signature, and hands text messages to the relay.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/chatrelay/linedify/internal/config"
	"github.com/chatrelay/linedify/internal/diag"
	"github.com/chatrelay/linedify/internal/dify"
	"github.com/chatrelay/linedify/internal/line"
	"github.com/chatrelay/linedify/internal/relay"
)

// maxWebhookBody bounds the inbound request body. LINE batches at most a few
// hundred events per delivery; 1 MiB is far above anything legitimate.
const maxWebhookBody = 1 << 20

// Dispatcher is the relay-side surface the server needs.
type Dispatcher interface {
	Dispatch(msg relay.Message)
}

// Server wires the webhook and diagnostic endpoints onto one listener.
type Server struct {
	cfg        config.ServerConfig
	secret     string
	dispatcher Dispatcher
	raw        *diag.Ring[dify.RawBlock]
	events     *diag.Ring[dify.StreamEvent]

	httpServer *http.Server
}

// New creates the front-door server. The rings may be shared with the decoder;
// snapshots are taken under their own locks.
func New(cfg config.ServerConfig, channelSecret string, d Dispatcher, raw *diag.Ring[dify.RawBlock], events *diag.Ring[dify.StreamEvent]) *Server {
	return &Server{
		cfg:        cfg,
		secret:     channelSecret,
		dispatcher: d,
		raw:        raw,
		events:     events,
	}
}

// BuildMux registers all routes and returns the mux.
func (s *Server) BuildMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleHealth)
	mux.HandleFunc("POST "+s.cfg.WebhookPath, s.handleWebhook)
	mux.HandleFunc("GET /v1/diag/raw", s.handleDiagRaw)
	mux.HandleFunc("GET /v1/diag/events", s.handleDiagEvents)

	return mux
}

// Start begins listening and blocks until ctx is cancelled or the listener
// fails. Shutdown drains in-flight requests for up to five seconds.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.BuildMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("server starting", "addr", addr, "webhook_path", s.cfg.WebhookPath)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleWebhook verifies the signature, acknowledges the delivery, and
// schedules one relay run per text message. The 200 goes back before any
// upstream work happens; LINE retries slow webhooks.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body: " + err.Error()})
		return
	}

	if !line.ValidateSignature(s.secret, body, r.Header.Get(line.SignatureHeader)) {
		slog.Warn("webhook signature rejected", "remote", r.RemoteAddr)
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "invalid signature"})
		return
	}

	env, err := line.ParseEnvelope(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	dispatched := 0
	for _, ev := range env.Events {
		if !ev.IsTextMessage() {
			continue
		}
		userText := strings.TrimSpace(ev.Message.Text)
		if userText == "" {
			continue
		}
		s.dispatcher.Dispatch(relay.Message{
			ConversationID: ev.Source.ConversationID(),
			UserText:       userText,
			ReplyToken:     ev.ReplyToken,
			PushTarget:     ev.Source.ConversationID(),
		})
		dispatched++
	}

	if dispatched > 0 {
		slog.Info("webhook accepted", "events", len(env.Events), "dispatched", dispatched)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDiagRaw(w http.ResponseWriter, r *http.Request) {
	blocks := s.raw.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(blocks),
		"blocks": blocks,
	})
}

func (s *Server) handleDiagEvents(w http.ResponseWriter, r *http.Request) {
	events := s.events.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(events),
		"events": events,
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
