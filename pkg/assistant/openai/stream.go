package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/user/chatrelay/pkg/assistant"
)

// Assistants streaming emits SSE frames of the form
//
//	event: thread.message.delta
//	data: {...}
//
// terminated by "event: done" / "data: [DONE]".

// StreamRun starts a streaming run against the thread.
func (c *Client) StreamRun(ctx context.Context, threadID, assistantID string) (*assistant.Stream, error) {
	body := map[string]any{
		"assistant_id": assistantID,
		"stream":       true,
	}
	url := fmt.Sprintf("%s/threads/%s/runs", strings.TrimSuffix(c.config.BaseURL, "/"), threadID)
	return c.openStream(ctx, url, body)
}

// SubmitToolOutputs resumes a run paused on tool calls, streaming the
// continuation.
func (c *Client) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []assistant.ToolOutput) (*assistant.Stream, error) {
	body := map[string]any{
		"tool_outputs": outputs,
		"stream":       true,
	}
	url := fmt.Sprintf("%s/threads/%s/runs/%s/submit_tool_outputs",
		strings.TrimSuffix(c.config.BaseURL, "/"), threadID, runID)
	return c.openStream(ctx, url, body)
}

func (c *Client) openStream(ctx context.Context, url string, body map[string]any) (*assistant.Stream, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal stream request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create stream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("open stream (status %d): %w: %s", resp.StatusCode, assistant.ErrNotFound, data)
		}
		return nil, fmt.Errorf("open stream (status %d): %s", resp.StatusCode, data)
	}

	events := make(chan assistant.Event, 16)
	go readEvents(ctx, resp.Body, events)

	return assistant.NewStream(events, func() { resp.Body.Close() }), nil
}

// runObject is the subset of the run payload the relay needs.
type runObject struct {
	ID             string `json:"id"`
	ThreadID       string `json:"thread_id"`
	Status         string `json:"status"`
	RequiredAction *struct {
		SubmitToolOutputs struct {
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"submit_tool_outputs"`
	} `json:"required_action"`
	LastError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error"`
}

// messageDelta is the subset of the delta payload the relay needs.
type messageDelta struct {
	Delta struct {
		Content []struct {
			Type string `json:"type"`
			Text struct {
				Value string `json:"value"`
			} `json:"text"`
		} `json:"content"`
	} `json:"delta"`
}

type streamError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// readEvents decodes SSE frames into assistant events until the stream
// ends. It always closes the channel; a failure surfaces as one final
// EventError.
func readEvents(ctx context.Context, body io.ReadCloser, events chan<- assistant.Event) {
	defer close(events)
	defer body.Close()

	emit := func(ev assistant.Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var eventName string
	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, "event: ") {
			eventName = strings.TrimPrefix(line, "event: ")
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" || eventName == "done" {
			return
		}

		switch eventName {
		case "thread.run.created":
			var run runObject
			if err := json.Unmarshal([]byte(data), &run); err != nil {
				continue
			}
			if !emit(assistant.Event{Type: assistant.EventRunStarted, ThreadID: run.ThreadID, RunID: run.ID}) {
				return
			}

		case "thread.run.requires_action":
			var run runObject
			if err := json.Unmarshal([]byte(data), &run); err != nil {
				continue
			}
			ev := assistant.Event{
				Type:     assistant.EventRequiresAction,
				ThreadID: run.ThreadID,
				RunID:    run.ID,
			}
			if run.RequiredAction != nil {
				for _, tc := range run.RequiredAction.SubmitToolOutputs.ToolCalls {
					ev.ToolCalls = append(ev.ToolCalls, assistant.ToolCall{
						ID:        tc.ID,
						Name:      tc.Function.Name,
						Arguments: json.RawMessage(tc.Function.Arguments),
					})
				}
			}
			if !emit(ev) {
				return
			}

		case "thread.message.delta":
			var delta messageDelta
			if err := json.Unmarshal([]byte(data), &delta); err != nil {
				continue
			}
			var text strings.Builder
			for _, part := range delta.Delta.Content {
				if part.Type == "text" {
					text.WriteString(part.Text.Value)
				}
			}
			if text.Len() == 0 {
				continue
			}
			if !emit(assistant.Event{Type: assistant.EventDelta, Delta: text.String()}) {
				return
			}

		case "thread.message.completed":
			if !emit(assistant.Event{Type: assistant.EventMessageCompleted}) {
				return
			}

		case "thread.run.completed":
			var run runObject
			_ = json.Unmarshal([]byte(data), &run)
			emit(assistant.Event{Type: assistant.EventRunCompleted, ThreadID: run.ThreadID, RunID: run.ID})
			return

		case "thread.run.failed", "thread.run.cancelled", "thread.run.expired":
			var run runObject
			_ = json.Unmarshal([]byte(data), &run)
			msg := "run " + strings.TrimPrefix(eventName, "thread.run.")
			if run.LastError != nil {
				msg = run.LastError.Message
			}
			emit(assistant.Event{Type: assistant.EventError, ThreadID: run.ThreadID, RunID: run.ID, Err: fmt.Errorf("%s", msg)})
			return

		case "error":
			var se streamError
			_ = json.Unmarshal([]byte(data), &se)
			if se.Message == "" {
				se.Message = data
			}
			emit(assistant.Event{Type: assistant.EventError, Err: fmt.Errorf("%s", se.Message)})
			return
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		select {
		case events <- assistant.Event{Type: assistant.EventError, Err: fmt.Errorf("read stream: %w", err)}:
		case <-ctx.Done():
		}
	}
}
