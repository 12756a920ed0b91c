package dify

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"strings"

	"github.com/chatrelay/linedify/internal/diag"
)

// doneSentinel is the literal data payload signalling stream end.
const doneSentinel = "[DONE]"

// RawBlock is the diagnostic record of one SSE block as received,
// kept in the raw ring for observability.
type RawBlock struct {
	Event string `json:"event"`
	Data  string `json:"data"`
	Err   string `json:"error,omitempty"`
}

// Decoder turns a raw SSE byte stream into typed StreamEvents. A Decoder is
// stateless between calls; it is shared by all in-flight aggregations. The
// stream itself is not restartable — retries must open a fresh call.
type Decoder struct {
	classifier *Classifier
	raw        *diag.Ring[RawBlock]
	events     *diag.Ring[StreamEvent]
}

// NewDecoder creates a decoder writing diagnostics to the given rings.
func NewDecoder(classifier *Classifier, raw *diag.Ring[RawBlock], events *diag.Ring[StreamEvent]) *Decoder {
	return &Decoder{classifier: classifier, raw: raw, events: events}
}

// Decode reads SSE blocks from r until EOF, a [DONE] sentinel, a terminal or
// error event, or until emit returns false. Malformed blocks are recorded and
// skipped, never aborting the stream. The final terminal/error event is
// emitted before Decode returns.
func (d *Decoder) Decode(r io.Reader, emit func(StreamEvent) bool) error {
	scanner := bufio.NewScanner(r)
	// Large answer fragments can exceed the default token size.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var blockEvent string   // event: value within the current block
	var carriedEvent string // event name carried over from the previous block
	var dataLines []string

	flush := func() (stop bool) {
		if len(dataLines) == 0 && blockEvent == "" {
			return false
		}
		explicit := blockEvent != ""
		name := blockEvent
		if name == "" {
			// Continuation blocks may omit event:, inheriting the previous name.
			name = carriedEvent
		}
		if explicit {
			carriedEvent = name
		}
		data := strings.Join(dataLines, "\n")
		blockEvent = ""
		dataLines = nil

		if data == doneSentinel {
			return true
		}
		if data == "" {
			return false
		}

		var record map[string]any
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			d.raw.Append(RawBlock{Event: name, Data: data, Err: err.Error()})
			slog.Debug("dify stream: undecodable block skipped", "event", name, "error", err)
			return false
		}
		d.raw.Append(RawBlock{Event: name, Data: data})

		// Streams without event: lines carry the name inside the record,
		// which then wins over any carried-over name.
		if !explicit {
			if v, ok := record["event"].(string); ok && v != "" {
				name = v
				carriedEvent = v
			}
		}

		ev := d.classifier.Classify(name, record)
		d.events.Append(ev)
		if !emit(ev) {
			return true
		}
		return ev.Kind == KindTerminal || ev.Kind == KindError
	}

	for scanner.Scan() {
		line := scanner.Text()

		if strings.TrimSpace(line) == "" {
			if flush() {
				return nil
			}
			continue
		}
		if strings.HasPrefix(line, "event:") {
			blockEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		}
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			continue
		}
		// Comment lines (": keepalive") and unknown fields are ignored.
	}

	// Trailing block without a closing blank line.
	flush()
	return scanner.Err()
}
