package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/user/chatrelay/internal/errdefs"
	"github.com/user/chatrelay/internal/tools"
	"github.com/user/chatrelay/internal/types"
	"github.com/user/chatrelay/pkg/assistant"
)

// scriptProvider hands out pre-built streams: the first for StreamRun,
// the rest for successive SubmitToolOutputs calls.
type scriptProvider struct {
	streams   []*assistant.Stream
	streamErr error
	idx       int
	submitted [][]assistant.ToolOutput
}

func (p *scriptProvider) CreateAssistant(ctx context.Context, req assistant.AssistantRequest) (string, error) {
	return "asst_test", nil
}
func (p *scriptProvider) DeleteAssistant(ctx context.Context, id string) error { return nil }
func (p *scriptProvider) CreateThread(ctx context.Context) (string, error)     { return "th_test", nil }
func (p *scriptProvider) ThreadExists(ctx context.Context, threadID string) (bool, error) {
	return true, nil
}
func (p *scriptProvider) CreateMessage(ctx context.Context, threadID, text string) (string, error) {
	return "msg_test", nil
}

func (p *scriptProvider) next() (*assistant.Stream, error) {
	if p.idx >= len(p.streams) {
		return nil, errors.New("script exhausted")
	}
	s := p.streams[p.idx]
	p.idx++
	return s, nil
}

func (p *scriptProvider) StreamRun(ctx context.Context, threadID, assistantID string) (*assistant.Stream, error) {
	if p.streamErr != nil {
		return nil, p.streamErr
	}
	return p.next()
}

func (p *scriptProvider) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []assistant.ToolOutput) (*assistant.Stream, error) {
	p.submitted = append(p.submitted, outputs)
	return p.next()
}

func scriptedStream(events ...assistant.Event) *assistant.Stream {
	ch := make(chan assistant.Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return assistant.NewStream(ch, nil)
}

// silentStream never emits, for watchdog tests.
func silentStream(events ...assistant.Event) *assistant.Stream {
	ch := make(chan assistant.Event, len(events)+1)
	for _, ev := range events {
		ch <- ev
	}
	return assistant.NewStream(ch, nil)
}

type recordingPublisher struct {
	mu    sync.Mutex
	msgs  []types.Message
	times []time.Time
}

func (p *recordingPublisher) Publish(ctx context.Context, ch types.Channel, msg types.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	p.times = append(p.times, time.Now())
	return nil
}

func (p *recordingPublisher) byStatus(status types.MessageStatus) []types.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []types.Message
	for _, m := range p.msgs {
		if m.Status == status {
			out = append(out, m)
		}
	}
	return out
}

type fixedTool struct {
	name string
	out  string
	err  error
}

func (t fixedTool) Name() string                { return t.name }
func (t fixedTool) Description() string         { return "test tool" }
func (t fixedTool) Parameters() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (t fixedTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	return t.out, t.err
}

type hangingTool struct{}

func (hangingTool) Name() string                { return "hang" }
func (hangingTool) Description() string         { return "never returns in time" }
func (hangingTool) Parameters() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (hangingTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastOptions() Options {
	return Options{
		StartTimeout:  time.Second,
		StallTimeout:  time.Second,
		ToolTimeout:   time.Second,
		FlushMinChars: 1,
		FlushInterval: 0,
	}
}

func newSession(p *scriptProvider, pub Publisher, reg *tools.Registry, opts Options) *RunSession {
	if reg == nil {
		reg = tools.NewRegistry(testLogger())
	}
	return NewRunSession(p, reg, pub, types.Channel("chan-1"), "th_test", "asst_test", "msg-id-1", opts, testLogger())
}

func TestRunAccumulatesDeltas(t *testing.T) {
	provider := &scriptProvider{streams: []*assistant.Stream{scriptedStream(
		assistant.Event{Type: assistant.EventRunStarted, RunID: "run_1", ThreadID: "th_test"},
		assistant.Event{Type: assistant.EventDelta, Delta: "Hello"},
		assistant.Event{Type: assistant.EventDelta, Delta: " wor"},
		assistant.Event{Type: assistant.EventDelta, Delta: "ld!"},
		assistant.Event{Type: assistant.EventMessageCompleted},
		assistant.Event{Type: assistant.EventRunCompleted},
	)}}
	pub := &recordingPublisher{}

	sess := newSession(provider, pub, nil, fastOptions())
	if err := sess.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	finals := pub.byStatus(types.StatusCompleted)
	if len(finals) != 1 {
		t.Fatalf("expected exactly one completed message, got %d", len(finals))
	}
	final := finals[0]
	if final.Message != "Hello world!" {
		t.Errorf("expected full accumulated content, got %q", final.Message)
	}
	if final.MessageID != "msg-id-1" || final.ThreadID != "th_test" {
		t.Errorf("final message missing identifiers: %+v", final)
	}

	// Flushes carry the running accumulation in emission order.
	progress := pub.byStatus(types.StatusInProgress)
	want := []string{"Hello", "Hello wor", "Hello world!"}
	if len(progress) != len(want) {
		t.Fatalf("expected %d flushes, got %d", len(want), len(progress))
	}
	for i, m := range progress {
		if m.Message != want[i] {
			t.Errorf("flush %d: got %q, want %q", i, m.Message, want[i])
		}
	}
}

func TestFlushRequiresMinimumChars(t *testing.T) {
	provider := &scriptProvider{streams: []*assistant.Stream{scriptedStream(
		assistant.Event{Type: assistant.EventRunStarted, RunID: "run_1"},
		assistant.Event{Type: assistant.EventDelta, Delta: "Hel"},
		assistant.Event{Type: assistant.EventDelta, Delta: "lo "},
		assistant.Event{Type: assistant.EventDelta, Delta: "wo"},
		assistant.Event{Type: assistant.EventMessageCompleted},
		assistant.Event{Type: assistant.EventRunCompleted},
	)}}
	pub := &recordingPublisher{}

	opts := fastOptions()
	opts.FlushMinChars = 6
	sess := newSession(provider, pub, nil, opts)
	if err := sess.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	progress := pub.byStatus(types.StatusInProgress)
	if len(progress) != 1 {
		t.Fatalf("expected a single coalesced flush, got %d", len(progress))
	}
	if progress[0].Message != "Hello " {
		t.Errorf("unexpected flush content %q", progress[0].Message)
	}
	finals := pub.byStatus(types.StatusCompleted)
	if len(finals) != 1 || finals[0].Message != "Hello wo" {
		t.Errorf("final flush must carry everything, got %+v", finals)
	}
}

func TestFlushesRespectMinimumInterval(t *testing.T) {
	provider := &scriptProvider{streams: []*assistant.Stream{scriptedStream(
		assistant.Event{Type: assistant.EventRunStarted, RunID: "run_1"},
		assistant.Event{Type: assistant.EventDelta, Delta: "aaaa"},
		assistant.Event{Type: assistant.EventDelta, Delta: "bbbb"},
		assistant.Event{Type: assistant.EventDelta, Delta: "cccc"},
		assistant.Event{Type: assistant.EventMessageCompleted},
		assistant.Event{Type: assistant.EventRunCompleted},
	)}}
	pub := &recordingPublisher{}

	opts := fastOptions()
	opts.FlushInterval = time.Hour
	sess := newSession(provider, pub, nil, opts)
	if err := sess.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Only the first delta beats the interval gate; the rest ride along
	// until the final flush.
	progress := pub.byStatus(types.StatusInProgress)
	if len(progress) != 1 {
		t.Fatalf("expected one flush inside the interval, got %d", len(progress))
	}
	finals := pub.byStatus(types.StatusCompleted)
	if len(finals) != 1 || finals[0].Message != "aaaabbbbcccc" {
		t.Errorf("unexpected final: %+v", finals)
	}
}

func TestToolRoundTripResumesRun(t *testing.T) {
	args := json.RawMessage(`{"city":"Tokyo"}`)
	provider := &scriptProvider{streams: []*assistant.Stream{
		scriptedStream(
			assistant.Event{Type: assistant.EventRunStarted, RunID: "run_1", ThreadID: "th_test"},
			assistant.Event{Type: assistant.EventRequiresAction, RunID: "run_1", ToolCalls: []assistant.ToolCall{
				{ID: "call_ok", Name: "weather", Arguments: args},
				{ID: "call_bad", Name: "weather_broken", Arguments: args},
			}},
		),
		scriptedStream(
			assistant.Event{Type: assistant.EventDelta, Delta: "It is sunny."},
			assistant.Event{Type: assistant.EventMessageCompleted},
			assistant.Event{Type: assistant.EventRunCompleted},
		),
	}}
	pub := &recordingPublisher{}
	reg := tools.NewRegistry(testLogger())
	reg.Register(fixedTool{name: "weather", out: "sunny, 22C"})
	reg.Register(fixedTool{name: "weather_broken", err: errors.New("database connection lost")})

	sess := newSession(provider, pub, reg, fastOptions())
	if err := sess.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(provider.submitted) != 1 {
		t.Fatalf("expected one tool submission, got %d", len(provider.submitted))
	}
	outputs := provider.submitted[0]
	if len(outputs) != 2 {
		t.Fatalf("expected outputs for both calls, got %d", len(outputs))
	}
	if outputs[0].ToolCallID != "call_ok" || outputs[0].Output != "sunny, 22C" {
		t.Errorf("unexpected ok output: %+v", outputs[0])
	}
	if outputs[1].ToolCallID != "call_bad" {
		t.Errorf("failing call id lost: %+v", outputs[1])
	}
	if outputs[1].Output != "I'm having trouble accessing the database. Please try again in a moment." {
		t.Errorf("raw diagnostic leaked into tool output: %q", outputs[1].Output)
	}

	finals := pub.byStatus(types.StatusCompleted)
	if len(finals) != 1 || finals[0].Message != "It is sunny." {
		t.Errorf("run did not resume to completion: %+v", finals)
	}
}

func TestSlowToolGetsFallbackOutput(t *testing.T) {
	provider := &scriptProvider{streams: []*assistant.Stream{
		scriptedStream(
			assistant.Event{Type: assistant.EventRunStarted, RunID: "run_1"},
			assistant.Event{Type: assistant.EventRequiresAction, RunID: "run_1", ToolCalls: []assistant.ToolCall{
				{ID: "call_slow", Name: "hang", Arguments: json.RawMessage(`{}`)},
			}},
		),
		scriptedStream(
			assistant.Event{Type: assistant.EventMessageCompleted},
			assistant.Event{Type: assistant.EventRunCompleted},
		),
	}}
	pub := &recordingPublisher{}
	reg := tools.NewRegistry(testLogger())
	reg.Register(hangingTool{})

	opts := fastOptions()
	opts.ToolTimeout = 50 * time.Millisecond
	sess := newSession(provider, pub, reg, opts)

	start := time.Now()
	if err := sess.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("slow tool was not bounded, took %s", elapsed)
	}

	if len(provider.submitted) != 1 || len(provider.submitted[0]) != 1 {
		t.Fatalf("expected one submitted output, got %+v", provider.submitted)
	}
	out := provider.submitted[0][0]
	if out.ToolCallID != "call_slow" {
		t.Errorf("tool call id lost: %+v", out)
	}
	if out.Output != "The operation took too long to complete. Please try again." {
		t.Errorf("expected timeout fallback, got %q", out.Output)
	}
}

func TestStreamEndingAfterMessageCompletedSucceeds(t *testing.T) {
	// Some provider streams close right after message.completed without a
	// run.completed frame; the final flush already marks success.
	provider := &scriptProvider{streams: []*assistant.Stream{scriptedStream(
		assistant.Event{Type: assistant.EventRunStarted, RunID: "run_1", ThreadID: "th_test"},
		assistant.Event{Type: assistant.EventDelta, Delta: "Hello world!"},
		assistant.Event{Type: assistant.EventMessageCompleted},
	)}}
	pub := &recordingPublisher{}

	sess := newSession(provider, pub, nil, fastOptions())
	if err := sess.Run(context.Background()); err != nil {
		t.Fatalf("run failed despite final flush: %v", err)
	}

	finals := pub.byStatus(types.StatusCompleted)
	if len(finals) != 1 || finals[0].Message != "Hello world!" {
		t.Errorf("expected exactly one completed message, got %+v", finals)
	}
	if errs := pub.byStatus(types.StatusError); len(errs) != 0 {
		t.Errorf("no error message should follow a completed run: %+v", errs)
	}
}

func TestNoFirstByteWatchdog(t *testing.T) {
	provider := &scriptProvider{streams: []*assistant.Stream{silentStream()}}
	pub := &recordingPublisher{}

	opts := fastOptions()
	opts.StartTimeout = 50 * time.Millisecond
	sess := newSession(provider, pub, nil, opts)

	err := sess.Run(context.Background())
	if err == nil {
		t.Fatal("expected watchdog failure")
	}
	if !errdefs.Is(err, errdefs.KindTimeout) {
		t.Errorf("expected timeout kind, got %v", err)
	}
}

func TestStallWatchdog(t *testing.T) {
	provider := &scriptProvider{streams: []*assistant.Stream{silentStream(
		assistant.Event{Type: assistant.EventRunStarted, RunID: "run_1"},
		assistant.Event{Type: assistant.EventDelta, Delta: "partial"},
	)}}
	pub := &recordingPublisher{}

	opts := fastOptions()
	opts.StallTimeout = 50 * time.Millisecond
	sess := newSession(provider, pub, nil, opts)

	err := sess.Run(context.Background())
	if err == nil {
		t.Fatal("expected stall failure")
	}
	if !errdefs.Is(err, errdefs.KindTimeout) {
		t.Errorf("expected timeout kind, got %v", err)
	}
}

func TestProviderErrorIsClassified(t *testing.T) {
	provider := &scriptProvider{streams: []*assistant.Stream{scriptedStream(
		assistant.Event{Type: assistant.EventRunStarted, RunID: "run_1"},
		assistant.Event{Type: assistant.EventError, Err: errors.New("rate limit exceeded")},
	)}}
	pub := &recordingPublisher{}

	sess := newSession(provider, pub, nil, fastOptions())
	err := sess.Run(context.Background())
	if err == nil {
		t.Fatal("expected run failure")
	}
	if !errdefs.Is(err, errdefs.KindRateLimit) {
		t.Errorf("expected rate limit kind, got %v", err)
	}
}

func TestMissingThreadPropagates(t *testing.T) {
	provider := &scriptProvider{streamErr: assistant.ErrNotFound}
	pub := &recordingPublisher{}

	sess := newSession(provider, pub, nil, fastOptions())
	err := sess.Run(context.Background())
	if err == nil {
		t.Fatal("expected run failure")
	}
	if !errors.Is(err, assistant.ErrNotFound) {
		t.Errorf("caller cannot detect the missing thread: %v", err)
	}
	if !errdefs.Is(err, errdefs.KindProtocol) {
		t.Errorf("expected protocol kind, got %v", err)
	}
}
