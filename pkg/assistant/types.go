package assistant

import "encoding/json"

// FunctionDefinition describes one callable capability exposed to the
// assistant, including its JSON-schema parameter description.
type FunctionDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// AssistantRequest carries everything needed to create an assistant.
type AssistantRequest struct {
	Name         string
	Model        string
	Instructions string
	Functions    []FunctionDefinition
}

// ToolCall is a structured request from the assistant to execute a named
// local capability.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolOutput is the result returned for one ToolCall.
type ToolOutput struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
}

// EventType identifies a streaming run event.
type EventType string

const (
	// EventRunStarted is emitted once when the provider accepts the run.
	EventRunStarted EventType = "run.started"
	// EventDelta carries an incremental text fragment.
	EventDelta EventType = "message.delta"
	// EventMessageCompleted signals the response message is final.
	EventMessageCompleted EventType = "message.completed"
	// EventRequiresAction asks the caller to execute tool calls and
	// resume the run.
	EventRequiresAction EventType = "run.requires_action"
	// EventRunCompleted is the run's terminal success signal.
	EventRunCompleted EventType = "run.completed"
	// EventError is a terminal stream failure; Err carries the cause.
	EventError EventType = "error"
)

// Event is one decoded streaming event. Fields beyond Type are populated
// according to the event kind.
type Event struct {
	Type      EventType
	ThreadID  string
	RunID     string
	Delta     string
	ToolCalls []ToolCall
	Err       error
}
