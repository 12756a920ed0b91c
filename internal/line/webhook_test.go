package line

import "testing"

func TestParseEnvelope_TextEvent(t *testing.T) {
	body := []byte(`{
		"destination": "U_bot",
		"events": [{
			"type": "message",
			"replyToken": "rt-1",
			"message": {"id": "m1", "type": "text", "text": "hello"},
			"source": {"type": "user", "userId": "U_alice"}
		}]
	}`)

	env, err := ParseEnvelope(body)
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if len(env.Events) != 1 {
		t.Fatalf("events = %d, want 1", len(env.Events))
	}
	ev := env.Events[0]
	if !ev.IsTextMessage() {
		t.Error("expected text message event")
	}
	if ev.Message.Text != "hello" || ev.ReplyToken != "rt-1" {
		t.Errorf("event = %+v", ev)
	}
	if ev.Source.ConversationID() != "U_alice" {
		t.Errorf("conversation id = %q", ev.Source.ConversationID())
	}
}

func TestParseEnvelope_EmptyEvents(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"destination":"U_bot","events":[]}`))
	if err != nil {
		t.Fatalf("empty events envelope should parse: %v", err)
	}
	if len(env.Events) != 0 {
		t.Errorf("events = %d, want 0", len(env.Events))
	}
}

func TestParseEnvelope_Invalid(t *testing.T) {
	if _, err := ParseEnvelope([]byte("not json")); err == nil {
		t.Error("expected parse error")
	}
}

func TestIsTextMessage(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		want bool
	}{
		{"text message", Event{Type: "message", Message: &EventMessage{Type: "text", Text: "hi"}}, true},
		{"sticker message", Event{Type: "message", Message: &EventMessage{Type: "sticker"}}, false},
		{"follow event", Event{Type: "follow"}, false},
		{"message without payload", Event{Type: "message"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ev.IsTextMessage(); got != tt.want {
				t.Errorf("IsTextMessage = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConversationID_Fallbacks(t *testing.T) {
	tests := []struct {
		name string
		src  EventSource
		want string
	}{
		{"user preferred", EventSource{UserID: "U1", GroupID: "G1", RoomID: "R1"}, "U1"},
		{"group fallback", EventSource{GroupID: "G1", RoomID: "R1"}, "G1"},
		{"room fallback", EventSource{RoomID: "R1"}, "R1"},
		{"nothing", EventSource{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.src.ConversationID(); got != tt.want {
				t.Errorf("ConversationID = %q, want %q", got, tt.want)
			}
		})
	}
}
