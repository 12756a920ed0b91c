package dify

import (
	"strings"

	"github.com/chatrelay/linedify/internal/config"
)

// EventKind tags a decoded stream event.
type EventKind string

const (
	KindToken    EventKind = "token"    // answer fragment
	KindThought  EventKind = "thought"  // agent reasoning, fallback answer source
	KindControl  EventKind = "control"  // ignorable lifecycle marker
	KindTerminal EventKind = "terminal" // stream is complete
	KindError    EventKind = "error"    // backend reported failure
)

// StreamEvent is one decoded event from the Dify SSE stream. Events are
// consumed immediately by the aggregator and never persisted.
type StreamEvent struct {
	Kind EventKind `json:"kind"`
	Name string    `json:"name"`           // origin SSE event name
	Text string    `json:"text,omitempty"` // payload text, may be empty
	Tool string    `json:"tool,omitempty"` // tool name on thought events
}

// thoughtEventName is the Dify event carrying agent reasoning text.
const thoughtEventName = "agent_thought"

// Classifier maps raw event names and payload records onto StreamEvents.
// The vocabulary comes from config so it can track Dify releases without
// code changes.
type Classifier struct {
	lifecycle  map[string]struct{}
	terminal   map[string]struct{}
	textFields []string
}

// NewClassifier builds a classifier from the filter vocabulary.
func NewClassifier(cfg config.FilterConfig) *Classifier {
	c := &Classifier{
		lifecycle:  make(map[string]struct{}, len(cfg.LifecycleEvents)),
		terminal:   make(map[string]struct{}, len(cfg.TerminalEvents)),
		textFields: cfg.TextFields,
	}
	for _, name := range cfg.LifecycleEvents {
		c.lifecycle[name] = struct{}{}
	}
	for _, name := range cfg.TerminalEvents {
		c.terminal[name] = struct{}{}
	}
	return c
}

// Classify turns an event name plus decoded payload record into a StreamEvent.
// Rules are applied in a fixed order: lifecycle markers, errors, terminals,
// thoughts, then anything else as a token candidate.
func (c *Classifier) Classify(name string, record map[string]any) StreamEvent {
	if _, ok := c.lifecycle[name]; ok {
		return StreamEvent{Kind: KindControl, Name: name}
	}
	if name == "error" {
		return StreamEvent{Kind: KindError, Name: name, Text: c.probeText(record)}
	}
	if _, ok := c.terminal[name]; ok {
		// Terminals sometimes carry trailing answer text.
		return StreamEvent{Kind: KindTerminal, Name: name, Text: c.probeText(record)}
	}
	if name == thoughtEventName {
		text := stringField(record, "thought")
		if text == "" {
			text = c.probeText(record)
		}
		return StreamEvent{
			Kind: KindThought,
			Name: name,
			Text: text,
			Tool: stringField(record, "tool"),
		}
	}
	return StreamEvent{Kind: KindToken, Name: name, Text: c.probeText(record)}
}

// probeText searches the record, and a nested "data" sub-record if present,
// for the first non-empty string under the configured field names.
func (c *Classifier) probeText(record map[string]any) string {
	if record == nil {
		return ""
	}
	for _, field := range c.textFields {
		if v := stringField(record, field); v != "" {
			return v
		}
	}
	if nested, ok := record["data"].(map[string]any); ok {
		for _, field := range c.textFields {
			if v := stringField(nested, field); v != "" {
				return v
			}
		}
	}
	return ""
}

func stringField(record map[string]any, field string) string {
	if record == nil {
		return ""
	}
	if v, ok := record[field].(string); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return ""
}
