// Package line covers the two sides of the LINE Messaging API the relay
// touches: decoding inbound webhook envelopes and sending reply/push messages.
package line

import (
	"encoding/json"
	"fmt"
)

// Envelope is the inbound webhook body. Only the fields the relay extracts
// are modeled; everything else passes through undecoded.
type Envelope struct {
	Destination string  `json:"destination"`
	Events      []Event `json:"events"`
}

// Event is one webhook event record.
type Event struct {
	Type       string        `json:"type"`
	ReplyToken string        `json:"replyToken"`
	Timestamp  int64         `json:"timestamp"`
	Message    *EventMessage `json:"message"`
	Source     EventSource   `json:"source"`
}

// EventMessage is the message payload of a message-type event.
type EventMessage struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Text string `json:"text"`
}

// EventSource describes where the event originated.
type EventSource struct {
	Type    string `json:"type"` // "user", "group", "room"
	UserID  string `json:"userId"`
	GroupID string `json:"groupId"`
	RoomID  string `json:"roomId"`
}

// ConversationID returns the durable push target for this source,
// preferring the user id and falling back to group then room.
func (s EventSource) ConversationID() string {
	if s.UserID != "" {
		return s.UserID
	}
	if s.GroupID != "" {
		return s.GroupID
	}
	return s.RoomID
}

// IsTextMessage reports whether the event is a text message the relay handles.
func (e Event) IsTextMessage() bool {
	return e.Type == "message" && e.Message != nil && e.Message.Type == "text"
}

// ParseEnvelope decodes a webhook body. An envelope with zero events is valid;
// the platform sends those as connectivity checks.
func ParseEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("parse webhook envelope: %w", err)
	}
	return env, nil
}
