package assistant

import (
	"context"
	"errors"
)

// ErrNotFound is returned when the provider reports that a thread,
// assistant, or run does not exist. Callers use it to invalidate stale
// channel mappings.
var ErrNotFound = errors.New("assistant: not found")

// Provider defines the interface for the conversation backend.
// Implementations handle protocol-specific details such as request
// formatting, authentication, and stream decoding.
type Provider interface {
	// CreateAssistant creates an assistant and returns its identifier.
	CreateAssistant(ctx context.Context, req AssistantRequest) (string, error)

	// DeleteAssistant removes an assistant.
	DeleteAssistant(ctx context.Context, assistantID string) error

	// CreateThread creates an empty conversation thread.
	CreateThread(ctx context.Context) (string, error)

	// ThreadExists probes whether a thread still exists.
	ThreadExists(ctx context.Context, threadID string) (bool, error)

	// CreateMessage appends a user message to a thread. Returns
	// ErrNotFound (wrapped) when the thread is gone.
	CreateMessage(ctx context.Context, threadID, text string) (string, error)

	// StreamRun starts a run against the thread and streams its events.
	StreamRun(ctx context.Context, threadID, assistantID string) (*Stream, error)

	// SubmitToolOutputs resumes a run paused on tool calls and streams
	// the continuation.
	SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (*Stream, error)
}

// Config holds common configuration for providers.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
}
