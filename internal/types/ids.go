// internal/types/ids.go
package types

import (
	"github.com/google/uuid"
)

// Channel is the externally supplied opaque identifier for one end-user
// conversation. Stable across turns.
type Channel string

// ThreadID is the provider-side conversation context identifier.
type ThreadID string

// RunID identifies one provider-side execution against a thread.
type RunID string

// NewChannel generates a fresh channel identifier, used by the operator
// CLI to create test conversations.
func NewChannel() Channel {
	return Channel(uuid.New().String())
}

// NewMessageID generates an identifier for an operator test message.
func NewMessageID() string {
	return uuid.New().String()
}

// NewConsumerTag generates a broker consumer tag unique to this worker
// instance.
func NewConsumerTag(prefix string) string {
	return prefix + "_" + uuid.New().String()[:8]
}
