// Package relay contains the streaming-response aggregator and the delivery
// dispatcher: the pipeline between an accepted inbound message and the one
// outbound send that answers it.
package relay

// Message is the normalized inbound message handed to the dispatcher.
// Immutable; discarded after dispatch.
type Message struct {
	// ConversationID identifies the end user toward the AI backend.
	ConversationID string
	// UserText is the question text, non-empty after trimming.
	UserText string
	// ReplyToken is the one-time synchronous reply handle, possibly empty.
	ReplyToken string
	// PushTarget is the durable id for asynchronous sends.
	PushTarget string
}
