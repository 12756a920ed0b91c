package relay

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/chatrelay/linedify/internal/dify"
)

// Termination reasons, recorded for logging and tracing.
const (
	ReasonTerminal    = "terminal"
	ReasonError       = "error"
	ReasonIdleTimeout = "idle_timeout"
	ReasonHardTimeout = "hard_timeout"
	ReasonEOF         = "eof"
)

// Result is the outcome of one aggregation. Text is empty when nothing
// usable was collected; the dispatcher substitutes the busy text.
type Result struct {
	Text     string
	SawToken bool
	Reason   string
}

// Aggregation folds one event stream into a single answer. Owned exclusively
// by the goroutine driving the decode loop; only TokenSeen may be called
// from outside (the idle watchdog reads it).
type Aggregation struct {
	filter       *NoiseFilter
	idleDeadline time.Time
	hardDeadline time.Time

	fragments strings.Builder
	collected bool
	thought   string
	sawToken  atomic.Bool
	reason    string
}

// NewAggregation starts an aggregation with deadlines measured from now.
// The idle deadline is satisfied by the first accepted token and is not
// reset by control events.
func NewAggregation(filter *NoiseFilter, idle, overall time.Duration) *Aggregation {
	now := time.Now()
	return &Aggregation{
		filter:       filter,
		idleDeadline: now.Add(idle),
		hardDeadline: now.Add(overall),
	}
}

// TokenSeen reports whether any answer fragment has been accepted.
// Safe to call concurrently with Feed.
func (g *Aggregation) TokenSeen() bool {
	return g.sawToken.Load()
}

// Feed consumes one decoded event and returns false once the aggregation has
// terminated. Deadlines are polled here, at event boundaries: a backend that
// goes silent without closing the stream is caught by the dispatcher's
// watchdog instead.
func (g *Aggregation) Feed(ev dify.StreamEvent) bool {
	if g.reason != "" {
		return false
	}

	switch ev.Kind {
	case dify.KindError:
		g.reason = ReasonError
		return false

	case dify.KindTerminal:
		// A terminal sometimes repeats the full answer in its trailing
		// text; use it only when nothing was streamed before it.
		if !g.collected && g.filter.AcceptToken(ev.Text) {
			g.appendToken(ev.Text)
		}
		g.reason = ReasonTerminal
		return false

	case dify.KindThought:
		if g.thought == "" && g.filter.AcceptThought(ev.Text, ev.Tool) {
			g.thought = strings.TrimSpace(ev.Text)
		}

	case dify.KindToken:
		if g.filter.AcceptToken(ev.Text) {
			g.appendToken(ev.Text)
		}

	case dify.KindControl:
		// Lifecycle markers neither collect nor reset the idle deadline.
	}

	now := time.Now()
	if now.After(g.hardDeadline) {
		g.reason = ReasonHardTimeout
		return false
	}
	if !g.sawToken.Load() && now.After(g.idleDeadline) {
		g.reason = ReasonIdleTimeout
		return false
	}
	return true
}

func (g *Aggregation) appendToken(text string) {
	g.fragments.WriteString(text)
	g.collected = true
	g.sawToken.Store(true)
}

// Finish resolves the final result. streamErr is any read error from the
// decode loop; a watchdog-closed stream surfaces here and is mapped onto
// the deadline that fired.
func (g *Aggregation) Finish(streamErr error) Result {
	reason := g.reason
	if reason == "" {
		// Natural end of input, or the watchdog closed the stream.
		now := time.Now()
		switch {
		case streamErr != nil && !g.sawToken.Load() && now.After(g.idleDeadline):
			reason = ReasonIdleTimeout
		case streamErr != nil && now.After(g.hardDeadline):
			reason = ReasonHardTimeout
		default:
			reason = ReasonEOF
		}
	}

	res := Result{SawToken: g.sawToken.Load(), Reason: reason}
	switch reason {
	case ReasonError, ReasonIdleTimeout:
		// No partial text on errors; no thought fallback when the backend
		// stalled before producing anything real.
		return res
	}

	if g.collected {
		res.Text = g.fragments.String()
	} else {
		res.Text = g.thought
	}
	return res
}
