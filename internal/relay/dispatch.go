package relay

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/chatrelay/linedify/internal/config"
	"github.com/chatrelay/linedify/internal/dify"
)

// Sender is the outbound side of the messaging platform.
type Sender interface {
	// Reply consumes the one-time reply token; never call twice per message.
	Reply(ctx context.Context, replyToken, text string) error
	// Push sends to a durable conversation id.
	Push(ctx context.Context, to, text string) error
}

// ChatStreamer opens a streaming chat call against the AI backend.
type ChatStreamer interface {
	StreamChat(ctx context.Context, query, user string) (io.ReadCloser, error)
}

// pipeline bundles the decode/filter stages that are rebuilt together when
// the filter vocabulary reloads.
type pipeline struct {
	decoder *dify.Decoder
	filter  *NoiseFilter
}

// Dispatcher runs one background unit of work per inbound message: stream
// from the backend, aggregate, send exactly one final answer. Messages are
// processed concurrently and independently; the rings inside the decoder are
// the only state shared between runs.
type Dispatcher struct {
	cfg    config.RelayConfig
	sender Sender
	chat   ChatStreamer
	pipe   atomic.Pointer[pipeline]
	tracer trace.Tracer
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher in the configured delivery mode.
func NewDispatcher(cfg config.RelayConfig, sender Sender, chat ChatStreamer, decoder *dify.Decoder, filter *NoiseFilter) *Dispatcher {
	d := &Dispatcher{
		cfg:    cfg,
		sender: sender,
		chat:   chat,
		tracer: otel.Tracer("linedify/relay"),
	}
	d.pipe.Store(&pipeline{decoder: decoder, filter: filter})
	return d
}

// ReloadPipeline swaps in a rebuilt decoder and filter. In-flight runs keep
// the pipeline they started with.
func (d *Dispatcher) ReloadPipeline(decoder *dify.Decoder, filter *NoiseFilter) {
	d.pipe.Store(&pipeline{decoder: decoder, filter: filter})
	slog.Info("relay pipeline reloaded")
}

// Dispatch schedules the background unit of work for one message and
// returns immediately. The caller's request handler never blocks on it.
func (d *Dispatcher) Dispatch(msg Message) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(msg)
	}()
}

// Wait blocks until every in-flight run has finished. Used on shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) run(msg Message) {
	ctx, span := d.tracer.Start(context.Background(), "relay.run",
		trace.WithAttributes(
			attribute.String("relay.mode", d.cfg.Mode),
			attribute.String("relay.conversation_id", msg.ConversationID),
		))
	defer span.End()

	// Ack first in ack_push mode: the reply token dies in seconds.
	if d.cfg.Mode == config.ModeAckPush && msg.ReplyToken != "" {
		if err := d.sender.Reply(ctx, msg.ReplyToken, d.cfg.AckText); err != nil {
			// At-most-once: never retried, delivery continues via push.
			slog.Warn("ack reply failed", "conversation_id", msg.ConversationID, "error", err)
			span.RecordError(err)
		}
	}

	res := d.aggregate(ctx, msg)
	span.SetAttributes(
		attribute.String("relay.reason", res.Reason),
		attribute.Bool("relay.saw_token", res.SawToken),
	)

	text := res.Text
	if text == "" {
		text = d.cfg.BusyText
	}
	text = Truncate(text, d.cfg.TruncationMarker, d.cfg.MaxTextChars)

	d.deliver(ctx, span, msg, text)
}

// aggregate drives one decode loop under the idle and hard deadlines.
// The watchdog timers close the local read side to unblock a stream whose
// backend went silent; the backend itself is never notified.
func (d *Dispatcher) aggregate(ctx context.Context, msg Message) Result {
	pipe := d.pipe.Load()

	stream, err := d.chat.StreamChat(ctx, msg.UserText, msg.ConversationID)
	if err != nil {
		slog.Error("backend stream open failed", "conversation_id", msg.ConversationID, "error", err)
		return Result{Reason: ReasonError}
	}
	defer stream.Close()

	agg := NewAggregation(pipe.filter, d.cfg.IdleTimeout(), d.cfg.OverallTimeout())

	hardTimer := time.AfterFunc(d.cfg.OverallTimeout(), func() { stream.Close() })
	defer hardTimer.Stop()
	idleTimer := time.AfterFunc(d.cfg.IdleTimeout(), func() {
		if !agg.TokenSeen() {
			stream.Close()
		}
	})
	defer idleTimer.Stop()

	streamErr := pipe.decoder.Decode(stream, agg.Feed)
	if streamErr != nil {
		slog.Debug("stream read ended with error", "conversation_id", msg.ConversationID, "error", streamErr)
	}

	res := agg.Finish(streamErr)
	slog.Info("aggregation finished",
		"conversation_id", msg.ConversationID,
		"reason", res.Reason,
		"saw_token", res.SawToken,
		"answer_len", len(res.Text),
	)
	return res
}

// deliver performs the single final outbound send for the message.
// Send failures are logged and dropped: no retry, and no channel remains
// to surface them on.
func (d *Dispatcher) deliver(ctx context.Context, span trace.Span, msg Message, text string) {
	var err error
	switch {
	case d.cfg.Mode == config.ModeReplyOnce && msg.ReplyToken != "":
		// The token may have expired during aggregation; the platform
		// rejects it then. Known trade-off of this mode, not corrected.
		err = d.sender.Reply(ctx, msg.ReplyToken, text)
	default:
		err = d.sender.Push(ctx, msg.PushTarget, text)
	}
	if err != nil {
		slog.Error("outbound send failed",
			"conversation_id", msg.ConversationID,
			"mode", d.cfg.Mode,
			"error", err,
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
	}
}
