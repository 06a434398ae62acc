package pubsub

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/chatrelay/internal/errdefs"
	"github.com/user/chatrelay/internal/types"
)

// relayServer is a minimal in-process relay that records every envelope
// it receives.
type relayServer struct {
	*httptest.Server
	mu        sync.Mutex
	envelopes []types.Envelope
	conns     []*websocket.Conn
}

func newRelayServer(t *testing.T) *relayServer {
	t.Helper()
	rs := &relayServer{}
	upgrader := websocket.Upgrader{}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		rs.mu.Lock()
		rs.conns = append(rs.conns, conn)
		rs.mu.Unlock()
		for {
			var env types.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			rs.mu.Lock()
			rs.envelopes = append(rs.envelopes, env)
			rs.mu.Unlock()
		}
	}))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *relayServer) wsURL() string {
	return "ws" + strings.TrimPrefix(rs.URL, "http")
}

func (rs *relayServer) received() []types.Envelope {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make([]types.Envelope, len(rs.envelopes))
	copy(out, rs.envelopes)
	return out
}

func (rs *relayServer) waitFor(t *testing.T, n int) []types.Envelope {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if envs := rs.received(); len(envs) >= n {
			return envs
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d envelopes, have %d", n, len(rs.received()))
	return nil
}

func (rs *relayServer) dropConnections() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for _, c := range rs.conns {
		c.Close()
	}
	rs.conns = nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSubscribeAndPublish(t *testing.T) {
	rs := newRelayServer(t)
	client := New(Options{URL: rs.wsURL()}, testLogger())
	ctx := context.Background()

	if err := client.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	defer client.Disconnect()

	ch := types.Channel("chan-1")
	if err := client.Subscribe(ctx, ch); err != nil {
		t.Fatal(err)
	}
	msg := types.NewMessage("hello", types.StatusCompleted, types.TypeResponse)
	if err := client.Publish(ctx, ch, msg); err != nil {
		t.Fatal(err)
	}

	envs := rs.waitFor(t, 2)
	if envs[0].Channel != types.SubscriptionChannel {
		t.Errorf("expected subscription envelope first, got %s", envs[0].Channel)
	}
	var sub types.SubscriptionPayload
	if err := json.Unmarshal(envs[0].Payload, &sub); err != nil {
		t.Fatal(err)
	}
	if sub.Action != "subscribe" || sub.Channel != ch {
		t.Errorf("unexpected subscription payload: %+v", sub)
	}
	if envs[1].Channel != string(ch) {
		t.Errorf("payload routed to %s, want %s", envs[1].Channel, ch)
	}
	var got types.Message
	if err := json.Unmarshal(envs[1].Payload, &got); err != nil {
		t.Fatal(err)
	}
	if got.Message != "hello" || got.Status != types.StatusCompleted {
		t.Errorf("unexpected payload: %+v", got)
	}
}

func TestPublishUnsubscribedFailsFast(t *testing.T) {
	rs := newRelayServer(t)
	client := New(Options{URL: rs.wsURL()}, testLogger())
	ctx := context.Background()

	if err := client.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	defer client.Disconnect()

	err := client.Publish(ctx, types.Channel("never-subscribed"), types.NewMessage("x", types.StatusStarted, types.TypeStatus))
	if err == nil {
		t.Fatal("expected error publishing to unsubscribed channel")
	}
	if !errdefs.Is(err, errdefs.KindValidation) {
		t.Errorf("expected validation kind, got %v", err)
	}
	if envs := rs.received(); len(envs) != 0 {
		t.Errorf("expected nothing on the wire, got %d envelopes", len(envs))
	}
}

func TestPublishReconnectsAndResubscribes(t *testing.T) {
	rs := newRelayServer(t)
	client := New(Options{URL: rs.wsURL(), RetryDelay: 10 * time.Millisecond}, testLogger())
	ctx := context.Background()

	if err := client.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	defer client.Disconnect()

	ch := types.Channel("chan-1")
	if err := client.Subscribe(ctx, ch); err != nil {
		t.Fatal(err)
	}
	rs.waitFor(t, 1)

	rs.dropConnections()
	// Give the read loop a beat to notice the close and mark the
	// connection dead.
	time.Sleep(100 * time.Millisecond)

	if err := client.Publish(ctx, ch, types.NewMessage("after drop", types.StatusInProgress, types.TypeResponse)); err != nil {
		t.Fatal(err)
	}

	// The reconnect replays the subscription before the payload goes out.
	envs := rs.waitFor(t, 3)
	last := envs[len(envs)-1]
	if last.Channel != string(ch) {
		t.Errorf("payload routed to %s, want %s", last.Channel, ch)
	}
	resub := envs[len(envs)-2]
	if resub.Channel != types.SubscriptionChannel {
		t.Errorf("expected resubscribe before payload, got %s", resub.Channel)
	}
}

func TestConnectRetriesThenFails(t *testing.T) {
	client := New(Options{
		URL:        "ws://127.0.0.1:1", // nothing listens here
		MaxRetries: 2,
		RetryDelay: 10 * time.Millisecond,
	}, testLogger())

	start := time.Now()
	err := client.Connect(context.Background())
	if err == nil {
		t.Fatal("expected connect to fail")
	}
	if !errdefs.Is(err, errdefs.KindTransport) {
		t.Errorf("expected transport kind, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("expected at least one retry delay, took %s", elapsed)
	}
}

func TestUnsubscribeStopsPublish(t *testing.T) {
	rs := newRelayServer(t)
	client := New(Options{URL: rs.wsURL()}, testLogger())
	ctx := context.Background()

	if err := client.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	defer client.Disconnect()

	ch := types.Channel("chan-1")
	if err := client.Subscribe(ctx, ch); err != nil {
		t.Fatal(err)
	}
	if err := client.Unsubscribe(ctx, ch); err != nil {
		t.Fatal(err)
	}
	if err := client.Publish(ctx, ch, types.NewMessage("x", types.StatusStarted, types.TypeStatus)); err == nil {
		t.Error("expected publish after unsubscribe to fail")
	}
}
