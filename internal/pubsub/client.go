// Package pubsub implements the websocket client that delivers status and
// response payloads to channel subscribers via the relay server.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/chatrelay/internal/errdefs"
	"github.com/user/chatrelay/internal/types"
)

// Options configures a Client. Zero values fall back to conservative
// defaults so tests can construct clients with just a URL.
type Options struct {
	URL          string
	MaxRetries   int
	RetryDelay   time.Duration
	PingInterval time.Duration
	SendTimeout  time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 20 * time.Second
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 5 * time.Second
	}
	return o
}

// Client is a publish-oriented websocket connection. It tracks its own
// subscriptions so it can restore them after a reconnect, and serializes
// writes because the underlying connection allows only one writer.
type Client struct {
	opts Options
	log  *slog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	subs     map[types.Channel]struct{}
	closed   bool
	stopPing chan struct{}
}

func New(opts Options, log *slog.Logger) *Client {
	return &Client{
		opts: opts.withDefaults(),
		log:  log,
		subs: make(map[types.Channel]struct{}),
	}
}

// Connect dials the relay server, retrying up to MaxRetries times with a
// fixed delay between attempts.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}
	if err := c.dialLocked(ctx); err != nil {
		return err
	}
	c.stopPing = make(chan struct{})
	go c.pingLoop(c.stopPing)
	return nil
}

func (c *Client) dialLocked(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxRetries; attempt++ {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.opts.URL, nil)
		if err == nil {
			c.conn = conn
			go c.readLoop(conn)
			return nil
		}
		lastErr = err
		c.log.Warn("relay dial failed", "attempt", attempt, "url", c.opts.URL, "error", err)
		if attempt < c.opts.MaxRetries {
			select {
			case <-time.After(c.opts.RetryDelay):
			case <-ctx.Done():
				return errdefs.Wrap(errdefs.KindTransport, "relay dial cancelled", ctx.Err())
			}
		}
	}
	return errdefs.Wrap(errdefs.KindTransport,
		fmt.Sprintf("relay unreachable after %d attempts", c.opts.MaxRetries), lastErr)
}

// readLoop consumes inbound frames so control messages are processed; the
// worker never acts on relay broadcasts. When the read side fails the
// connection is marked dead so the next write reconnects instead of
// pushing into a closed socket.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.conn.Close()
				c.conn = nil
			}
			c.mu.Unlock()
			return
		}
	}
}

func (c *Client) pingLoop(stop chan struct{}) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				return
			}
			var err error
			if c.conn == nil {
				err = errdefs.New(errdefs.KindTransport, "relay connection lost")
			} else {
				err = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.SendTimeout))
			}
			if err != nil {
				c.log.Warn("relay ping failed, reconnecting", "error", err)
				if rerr := c.reconnectLocked(context.Background()); rerr != nil {
					c.log.Error("relay reconnect failed", "error", rerr)
				}
			}
			c.mu.Unlock()
		}
	}
}

// reconnectLocked replaces the connection and replays subscriptions.
// Callers must hold c.mu.
func (c *Client) reconnectLocked(ctx context.Context) error {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	if err := c.dialLocked(ctx); err != nil {
		return err
	}
	for ch := range c.subs {
		if err := c.writeLocked(subscriptionEnvelope("subscribe", ch)); err != nil {
			return errdefs.Wrap(errdefs.KindTransport, "resubscribe failed", err)
		}
	}
	return nil
}

func subscriptionEnvelope(action string, ch types.Channel) types.Envelope {
	payload, _ := json.Marshal(types.SubscriptionPayload{Action: action, Channel: ch})
	return types.Envelope{Channel: types.SubscriptionChannel, Payload: payload}
}

func (c *Client) writeLocked(env types.Envelope) error {
	if c.conn == nil {
		return errdefs.New(errdefs.KindTransport, "relay not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.opts.SendTimeout))
	return c.conn.WriteJSON(env)
}

// Subscribe registers interest in a channel so Publish may target it. The
// relay requires a subscription before it will route broadcasts.
func (c *Client) Subscribe(ctx context.Context, ch types.Channel) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.sendLocked(ctx, subscriptionEnvelope("subscribe", ch)); err != nil {
		return err
	}
	c.subs[ch] = struct{}{}
	return nil
}

// Unsubscribe drops the channel. Best effort: the local bookkeeping is
// cleared even when the relay write fails, so Publish fails fast afterward.
func (c *Client) Unsubscribe(ctx context.Context, ch types.Channel) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, ch)
	return c.sendLocked(ctx, subscriptionEnvelope("unsubscribe", ch))
}

// Publish sends a payload to a channel's subscribers. Publishing to a
// channel that was never subscribed is a programming error and fails
// without touching the network.
func (c *Client) Publish(ctx context.Context, ch types.Channel, msg types.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[ch]; !ok {
		return errdefs.New(errdefs.KindValidation,
			fmt.Sprintf("publish to unsubscribed channel %s", ch))
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return c.sendLocked(ctx, types.Envelope{Channel: string(ch), Payload: payload})
}

// sendLocked writes an envelope, reconnecting and retrying on failure up
// to MaxRetries attempts. Callers must hold c.mu.
func (c *Client) sendLocked(ctx context.Context, env types.Envelope) error {
	if c.closed {
		return errdefs.New(errdefs.KindTransport, "relay client closed")
	}
	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxRetries; attempt++ {
		if c.conn == nil {
			if err := c.reconnectLocked(ctx); err != nil {
				lastErr = err
				continue
			}
		}
		if err := c.writeLocked(env); err != nil {
			lastErr = err
			c.log.Warn("relay write failed", "attempt", attempt, "error", err)
			c.conn.Close()
			c.conn = nil
			continue
		}
		return nil
	}
	return errdefs.Wrap(errdefs.KindTransport, "relay send failed", lastErr)
}

// Disconnect unsubscribes active channels, then closes the connection
// after a best-effort close handshake. The client cannot be reused
// afterward.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.stopPing != nil {
		close(c.stopPing)
	}
	if c.conn != nil {
		for ch := range c.subs {
			c.writeLocked(subscriptionEnvelope("unsubscribe", ch))
		}
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.conn.Close()
		c.conn = nil
	}
}
