// internal/types/models.go
package types

import (
	"encoding/json"
	"time"
)

// Job is one unit of work delivered by the broker. Immutable, scoped to a
// single worker execution, destroyed after ack/reject.
type Job struct {
	Message   string  `json:"message"`
	Channel   Channel `json:"channel"`
	MessageID string  `json:"message_id"`
}

// Session maps an external channel to a provider-side thread, with usage
// metadata kept alongside it in the cache.
type Session struct {
	Channel       Channel   `json:"channel"`
	ThreadID      ThreadID  `json:"thread_id"`
	CreatedAt     time.Time `json:"created_at"`
	MessageCount  int       `json:"message_count"`
	LastMessageAt time.Time `json:"last_message_at"`
}

// MessageStatus is the lifecycle status carried on every pub/sub payload.
type MessageStatus string

const (
	StatusStarted    MessageStatus = "started"
	StatusProcessing MessageStatus = "processing"
	StatusResponding MessageStatus = "responding"
	StatusInProgress MessageStatus = "in_progress"
	StatusCompleted  MessageStatus = "completed"
	StatusError      MessageStatus = "error"
)

// MessageType distinguishes status pings, response content, and errors.
type MessageType string

const (
	TypeStatus   MessageType = "status"
	TypeResponse MessageType = "response"
	TypeError    MessageType = "error"
)

// Message is the payload published to subscribers of a channel.
type Message struct {
	Message      string        `json:"message"`
	Timestamp    float64       `json:"timestamp"`
	Status       MessageStatus `json:"status"`
	Type         MessageType   `json:"type"`
	MessageID    string        `json:"message_id,omitempty"`
	ThreadID     ThreadID      `json:"thread_id,omitempty"`
	ErrorDetails string        `json:"error_details,omitempty"`
}

// NewMessage builds a payload stamped with the current time.
func NewMessage(text string, status MessageStatus, typ MessageType) Message {
	return Message{
		Message:   text,
		Timestamp: float64(time.Now().UnixMilli()) / 1000.0,
		Status:    status,
		Type:      typ,
	}
}

// Reply is the synchronous response published to a job's reply-to address.
type Reply struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Envelope is the wire frame for the relay server: a target channel plus an
// opaque payload. Subscription management uses the reserved channel
// "subscription" with a SubscriptionPayload.
type Envelope struct {
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

// SubscriptionChannel is the reserved envelope channel for subscribe and
// unsubscribe requests.
const SubscriptionChannel = "subscription"

// SubscriptionPayload is the payload of a subscribe/unsubscribe envelope.
type SubscriptionPayload struct {
	Action  string  `json:"action"`
	Channel Channel `json:"channel"`
}
