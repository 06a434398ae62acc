// Package relay drives one provider run to completion, translating stream
// events into coalesced pub/sub payloads and executing tool calls inline.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/user/chatrelay/internal/errdefs"
	"github.com/user/chatrelay/internal/tools"
	"github.com/user/chatrelay/internal/types"
	"github.com/user/chatrelay/pkg/assistant"
)

// Publisher is the slice of the pub/sub transport the relay needs.
type Publisher interface {
	Publish(ctx context.Context, ch types.Channel, msg types.Message) error
}

// Options bounds the run's liveness and flushing behavior.
type Options struct {
	// StartTimeout fails the run when no event arrives after the stream
	// opens.
	StartTimeout time.Duration
	// StallTimeout fails the run when events stop arriving mid-stream.
	StallTimeout time.Duration
	// ToolTimeout bounds each individual tool invocation.
	ToolTimeout time.Duration
	// FlushMinChars is the minimum buffered content before an in_progress
	// flush is considered.
	FlushMinChars int
	// FlushInterval is the minimum spacing between in_progress flushes.
	FlushInterval time.Duration
}

// RunSession owns the state of one provider run from start to terminal
// state. A single instance survives tool-call round trips: submitting tool
// outputs swaps the underlying stream but keeps the accumulated content
// and identifiers in place.
type RunSession struct {
	provider assistant.Provider
	registry *tools.Registry
	pub      Publisher
	log      *slog.Logger
	opts     Options

	channel     types.Channel
	threadID    string
	assistantID string
	messageID   string

	content   strings.Builder
	unflushed int
	lastSend  time.Time
	runID     string
	complete  bool
	finalSent bool

	now func() time.Time
}

func NewRunSession(provider assistant.Provider, registry *tools.Registry, pub Publisher,
	channel types.Channel, threadID, assistantID, messageID string,
	opts Options, log *slog.Logger) *RunSession {
	return &RunSession{
		provider:    provider,
		registry:    registry,
		pub:         pub,
		log:         log,
		opts:        opts,
		channel:     channel,
		threadID:    threadID,
		assistantID: assistantID,
		messageID:   messageID,
		now:         time.Now,
	}
}

// Run drives the run until it completes, errors, or a watchdog fires. The
// returned error is kind-tagged; the caller owns the single user-facing
// error notification. A wrapped assistant.ErrNotFound means the thread is
// gone and the caller should invalidate the channel's session.
func (s *RunSession) Run(ctx context.Context) error {
	s.publish(ctx, types.NewMessage("Processing your message...", types.StatusProcessing, types.TypeStatus))

	stream, err := s.provider.StreamRun(ctx, s.threadID, s.assistantID)
	if err != nil {
		return errdefs.ClassifyProvider(fmt.Errorf("start run: %w", err))
	}
	defer func() { stream.Close() }()

	// The watchdog timer covers no-first-byte until the first event, then
	// switches to the stall bound.
	sawEvent := false
	watchdog := time.NewTimer(s.opts.StartTimeout)
	defer watchdog.Stop()

	for {
		select {
		case <-ctx.Done():
			return errdefs.Wrap(errdefs.KindTimeout, "run cancelled", ctx.Err())

		case <-watchdog.C:
			if !sawEvent {
				return errdefs.New(errdefs.KindTimeout, "no response from provider")
			}
			return errdefs.New(errdefs.KindTimeout, "stream interrupted")

		case ev, ok := <-stream.Events():
			if !ok {
				if s.complete {
					return nil
				}
				return errdefs.New(errdefs.KindTransport, "stream ended unexpectedly")
			}
			sawEvent = true
			resetTimer(watchdog, s.opts.StallTimeout)

			next, err := s.handle(ctx, ev)
			if err != nil {
				return err
			}
			if next != nil {
				// Tool outputs were submitted; the continuation stream
				// replaces the exhausted one.
				stream.Close()
				stream = next
				sawEvent = false
				resetTimer(watchdog, s.opts.StartTimeout)
			}
			if s.complete {
				return nil
			}
		}
	}
}

// handle processes one event. It returns a non-nil stream when the run was
// resumed after tool submission.
func (s *RunSession) handle(ctx context.Context, ev assistant.Event) (*assistant.Stream, error) {
	switch ev.Type {
	case assistant.EventRunStarted:
		s.runID = ev.RunID
		if ev.ThreadID != "" {
			s.threadID = ev.ThreadID
		}
		s.publish(ctx, types.NewMessage("Generating a response...", types.StatusResponding, types.TypeStatus))
		return nil, nil

	case assistant.EventDelta:
		s.content.WriteString(ev.Delta)
		s.unflushed += len(ev.Delta)
		s.maybeFlush(ctx)
		return nil, nil

	case assistant.EventRequiresAction:
		if ev.RunID != "" {
			s.runID = ev.RunID
		}
		s.publish(ctx, types.NewMessage("Looking that up for you...", types.StatusProcessing, types.TypeStatus))
		outputs := s.executeTools(ctx, ev.ToolCalls)
		next, err := s.provider.SubmitToolOutputs(ctx, s.threadID, s.runID, outputs)
		if err != nil {
			return nil, errdefs.ClassifyProvider(fmt.Errorf("submit tool outputs: %w", err))
		}
		return next, nil

	case assistant.EventMessageCompleted:
		// The final flush marks the run complete; a stream that ends here
		// without a run.completed frame still succeeded.
		s.sendFinal(ctx)
		s.complete = true
		return nil, nil

	case assistant.EventRunCompleted:
		// Secondary completion signal; the final flush normally went out
		// on message.completed already.
		if !s.finalSent && s.content.Len() > 0 {
			s.sendFinal(ctx)
		}
		s.complete = true
		return nil, nil

	case assistant.EventError:
		return nil, errdefs.ClassifyProvider(ev.Err)

	default:
		s.log.Debug("ignoring stream event", "type", ev.Type)
		return nil, nil
	}
}

// maybeFlush sends the accumulated content as an in_progress frame when
// enough new content has buffered and enough time has passed since the
// previous flush. Coalescing both ways keeps frame counts bounded without
// sitting on a large buffer.
func (s *RunSession) maybeFlush(ctx context.Context) {
	if s.unflushed < s.opts.FlushMinChars {
		return
	}
	if s.now().Sub(s.lastSend) < s.opts.FlushInterval {
		return
	}
	s.publish(ctx, types.NewMessage(s.content.String(), types.StatusInProgress, types.TypeResponse))
	s.unflushed = 0
	s.lastSend = s.now()
}

// sendFinal always publishes the full accumulated content, regardless of
// coalescing state.
func (s *RunSession) sendFinal(ctx context.Context) {
	if s.finalSent {
		return
	}
	msg := types.NewMessage(s.content.String(), types.StatusCompleted, types.TypeResponse)
	msg.MessageID = s.messageID
	msg.ThreadID = types.ThreadID(s.threadID)
	s.publish(ctx, msg)
	s.finalSent = true
	s.unflushed = 0
	s.lastSend = s.now()
}

func (s *RunSession) publish(ctx context.Context, msg types.Message) {
	if err := s.pub.Publish(ctx, s.channel, msg); err != nil {
		s.log.Warn("failed to publish to channel", "channel", s.channel,
			"status", msg.Status, "error", err)
	}
}

// executeTools runs every requested tool call under the per-tool bound. A
// failing or slow tool never fails the run: its output slot is filled with
// a safe fallback string so the provider can continue.
func (s *RunSession) executeTools(ctx context.Context, calls []assistant.ToolCall) []assistant.ToolOutput {
	outputs := make([]assistant.ToolOutput, 0, len(calls))
	for _, call := range calls {
		outputs = append(outputs, assistant.ToolOutput{
			ToolCallID: call.ID,
			Output:     s.executeTool(ctx, call),
		})
	}
	return outputs
}

func (s *RunSession) executeTool(ctx context.Context, call assistant.ToolCall) string {
	s.log.Info("executing tool", "tool", call.Name, "run_id", s.runID)

	toolCtx, cancel := context.WithTimeout(ctx, s.opts.ToolTimeout)
	defer cancel()

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := s.registry.Execute(toolCtx, call.Name, call.Arguments)
		done <- result{out, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			s.log.Error("tool execution failed", "tool", call.Name, "error", res.err)
			return safeToolOutput(res.err)
		}
		return res.out
	case <-toolCtx.Done():
		s.log.Error("tool execution timed out", "tool", call.Name, "timeout", s.opts.ToolTimeout)
		return "The operation took too long to complete. Please try again."
	}
}

// safeToolOutput converts a tool failure into a short user-safe string.
// Kind tags placed at the failure site win; the substring checks cover
// untyped errors bubbling out of drivers and HTTP clients.
func safeToolOutput(err error) string {
	switch errdefs.KindOf(err) {
	case errdefs.KindTimeout:
		return "The operation took too long to complete. Please try again."
	case errdefs.KindValidation:
		return "Some of the information provided was invalid. Please check and try again."
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "database"):
		return "I'm having trouble accessing the database. Please try again in a moment."
	case strings.Contains(msg, "not found"):
		return "I couldn't find the information you requested. Please check your query and try again."
	case strings.Contains(msg, "invalid"):
		return "Some of the information provided was invalid. Please check and try again."
	default:
		return "I had trouble retrieving the information you requested."
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
