package relay

import (
	"errors"
	"testing"
	"time"

	"github.com/chatrelay/linedify/internal/dify"
)

func token(text string) dify.StreamEvent {
	return dify.StreamEvent{Kind: dify.KindToken, Name: "message", Text: text}
}

func newTestAggregation() *Aggregation {
	return NewAggregation(defaultFilter(), time.Hour, time.Hour)
}

func TestAggregation_CollectsTokensUntilTerminal(t *testing.T) {
	agg := newTestAggregation()

	if !agg.Feed(token("A")) {
		t.Fatal("Feed should continue after a token")
	}
	if !agg.Feed(token("B")) {
		t.Fatal("Feed should continue after a token")
	}
	if agg.Feed(dify.StreamEvent{Kind: dify.KindTerminal, Name: "message_end"}) {
		t.Fatal("Feed should stop on a terminal event")
	}

	res := agg.Finish(nil)
	if res.Text != "AB" {
		t.Errorf("Text = %q, want %q", res.Text, "AB")
	}
	if res.Reason != ReasonTerminal {
		t.Errorf("Reason = %q, want %q", res.Reason, ReasonTerminal)
	}
	if !res.SawToken {
		t.Error("SawToken should be true")
	}
}

func TestAggregation_TerminalTrailingTextOnlyWhenEmpty(t *testing.T) {
	t.Run("nothing collected", func(t *testing.T) {
		agg := newTestAggregation()
		agg.Feed(dify.StreamEvent{Kind: dify.KindTerminal, Name: "message_end", Text: "full answer"})
		res := agg.Finish(nil)
		if res.Text != "full answer" {
			t.Errorf("Text = %q, want the terminal's trailing text", res.Text)
		}
	})
	t.Run("already collected", func(t *testing.T) {
		agg := newTestAggregation()
		agg.Feed(token("streamed"))
		agg.Feed(dify.StreamEvent{Kind: dify.KindTerminal, Name: "message_end", Text: "streamed again"})
		res := agg.Finish(nil)
		if res.Text != "streamed" {
			t.Errorf("Text = %q, terminal text must not be appended to collected fragments", res.Text)
		}
	})
}

func TestAggregation_NoiseTokensRejected(t *testing.T) {
	agg := newTestAggregation()
	agg.Feed(token("workflow_started"))
	agg.Feed(token("123e4567-e89b-12d3-a456-426614174000"))
	agg.Feed(dify.StreamEvent{Kind: dify.KindTerminal, Name: "message_end"})

	res := agg.Finish(nil)
	if res.Text != "" {
		t.Errorf("Text = %q, want empty (all candidates were noise)", res.Text)
	}
	if res.SawToken {
		t.Error("SawToken should be false when every candidate was rejected")
	}
}

func TestAggregation_ThoughtFallback(t *testing.T) {
	agg := newTestAggregation()
	agg.Feed(dify.StreamEvent{Kind: dify.KindThought, Name: "agent_thought", Text: "The user wants shipping info."})
	agg.Feed(dify.StreamEvent{Kind: dify.KindThought, Name: "agent_thought", Text: "A later thought that should be ignored."})
	agg.Feed(dify.StreamEvent{Kind: dify.KindTerminal, Name: "message_end"})

	res := agg.Finish(nil)
	if res.Text != "The user wants shipping info." {
		t.Errorf("Text = %q, want the first accepted thought", res.Text)
	}
	if res.SawToken {
		t.Error("a thought is not an answer token")
	}
}

func TestAggregation_TokensBeatThought(t *testing.T) {
	agg := newTestAggregation()
	agg.Feed(dify.StreamEvent{Kind: dify.KindThought, Name: "agent_thought", Text: "Reasoning about the question."})
	agg.Feed(token("Real answer."))
	agg.Feed(dify.StreamEvent{Kind: dify.KindTerminal, Name: "message_end"})

	res := agg.Finish(nil)
	if res.Text != "Real answer." {
		t.Errorf("Text = %q, collected tokens must win over the thought", res.Text)
	}
}

func TestAggregation_ErrorDropsPartialText(t *testing.T) {
	agg := newTestAggregation()
	agg.Feed(token("partial "))
	if agg.Feed(dify.StreamEvent{Kind: dify.KindError, Name: "error"}) {
		t.Fatal("Feed should stop on an error event")
	}

	res := agg.Finish(nil)
	if res.Reason != ReasonError {
		t.Errorf("Reason = %q, want %q", res.Reason, ReasonError)
	}
	if res.Text != "" {
		t.Errorf("Text = %q, want empty after an error event", res.Text)
	}
	if !res.SawToken {
		t.Error("SawToken should still report the partial token")
	}
}

func TestAggregation_IdleDeadline(t *testing.T) {
	agg := NewAggregation(defaultFilter(), time.Millisecond, time.Hour)
	time.Sleep(5 * time.Millisecond)

	// Control events do not satisfy the idle deadline.
	if agg.Feed(dify.StreamEvent{Kind: dify.KindControl, Name: "ping"}) {
		t.Fatal("Feed should stop once the idle deadline has passed without a token")
	}

	res := agg.Finish(nil)
	if res.Reason != ReasonIdleTimeout {
		t.Errorf("Reason = %q, want %q", res.Reason, ReasonIdleTimeout)
	}
	if res.Text != "" {
		t.Errorf("Text = %q, want empty on idle timeout", res.Text)
	}
}

func TestAggregation_FirstTokenSatisfiesIdleDeadline(t *testing.T) {
	agg := NewAggregation(defaultFilter(), time.Millisecond, time.Hour)
	time.Sleep(5 * time.Millisecond)

	// A token arriving "late" still counts: the poll sees sawToken first.
	if !agg.Feed(token("made it")) {
		t.Fatal("an accepted token must disarm the idle deadline")
	}
	agg.Feed(dify.StreamEvent{Kind: dify.KindTerminal, Name: "message_end"})

	res := agg.Finish(nil)
	if res.Text != "made it" {
		t.Errorf("Text = %q", res.Text)
	}
}

func TestAggregation_HardDeadlineKeepsPartial(t *testing.T) {
	agg := NewAggregation(defaultFilter(), time.Hour, time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	if agg.Feed(token("partial answer")) {
		t.Fatal("Feed should stop once the hard deadline has passed")
	}

	res := agg.Finish(nil)
	if res.Reason != ReasonHardTimeout {
		t.Errorf("Reason = %q, want %q", res.Reason, ReasonHardTimeout)
	}
	if res.Text != "partial answer" {
		t.Errorf("Text = %q, hard timeout keeps what was collected", res.Text)
	}
}

func TestAggregation_FinishMapsWatchdogClose(t *testing.T) {
	readErr := errors.New("use of closed network connection")

	t.Run("idle watchdog", func(t *testing.T) {
		agg := NewAggregation(defaultFilter(), time.Millisecond, time.Hour)
		time.Sleep(5 * time.Millisecond)
		res := agg.Finish(readErr)
		if res.Reason != ReasonIdleTimeout {
			t.Errorf("Reason = %q, want %q", res.Reason, ReasonIdleTimeout)
		}
	})
	t.Run("hard watchdog", func(t *testing.T) {
		agg := NewAggregation(defaultFilter(), time.Hour, time.Millisecond)
		agg.Feed(token("kept"))
		time.Sleep(5 * time.Millisecond)
		res := agg.Finish(readErr)
		if res.Reason != ReasonHardTimeout {
			t.Errorf("Reason = %q, want %q", res.Reason, ReasonHardTimeout)
		}
		if res.Text != "kept" {
			t.Errorf("Text = %q", res.Text)
		}
	})
	t.Run("clean eof", func(t *testing.T) {
		agg := newTestAggregation()
		agg.Feed(token("done"))
		res := agg.Finish(nil)
		if res.Reason != ReasonEOF {
			t.Errorf("Reason = %q, want %q", res.Reason, ReasonEOF)
		}
		if res.Text != "done" {
			t.Errorf("Text = %q", res.Text)
		}
	})
}

func TestAggregation_FeedAfterTermination(t *testing.T) {
	agg := newTestAggregation()
	agg.Feed(dify.StreamEvent{Kind: dify.KindTerminal, Name: "message_end"})
	if agg.Feed(token("late")) {
		t.Fatal("Feed must keep returning false after termination")
	}
	if res := agg.Finish(nil); res.Text != "" {
		t.Errorf("late token must not be collected, got %q", res.Text)
	}
}
