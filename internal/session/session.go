// Package session maps external channels to provider-side threads and keeps
// usage metadata alongside the mapping. The mapping is durable across
// restarts and slides its expiry forward on every access.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/user/chatrelay/internal/cache"
	"github.com/user/chatrelay/internal/types"
	"github.com/user/chatrelay/pkg/assistant"
)

const assistantKey = "assistant_id"

// Resolver owns the channel-to-thread lifecycle: lookup, validation against
// the provider, creation, metadata bookkeeping, and expiry refresh.
type Resolver struct {
	store    cache.Store
	provider assistant.Provider
	prefix   string
	expiry   time.Duration
	log      *slog.Logger
}

func NewResolver(store cache.Store, provider assistant.Provider, prefix string, expiry time.Duration, log *slog.Logger) *Resolver {
	return &Resolver{
		store:    store,
		provider: provider,
		prefix:   prefix,
		expiry:   expiry,
		log:      log,
	}
}

func (r *Resolver) threadKey(ch types.Channel) string {
	return r.prefix + "thread:" + string(ch)
}

func (r *Resolver) metaKey(ch types.Channel) string {
	return r.prefix + "metadata:" + string(ch)
}

// Resolve returns the session for a channel, creating a provider thread and
// recording the mapping when none exists. A mapping that points at a thread
// the provider no longer knows is discarded and replaced. When the store is
// unreachable the channel itself is used as the thread id so a single
// exchange can still complete, at the cost of continuity.
func (r *Resolver) Resolve(ctx context.Context, ch types.Channel) (types.Session, error) {
	tid, ok, err := r.store.Get(ctx, r.threadKey(ch))
	if err != nil {
		r.log.Warn("session store unreachable, degrading to channel-keyed thread",
			"channel", ch, "error", err)
		return types.Session{Channel: ch, ThreadID: types.ThreadID(ch), CreatedAt: time.Now()}, nil
	}

	if ok {
		exists, err := r.provider.ThreadExists(ctx, tid)
		if err != nil {
			return types.Session{}, fmt.Errorf("validate thread %s: %w", tid, err)
		}
		if exists {
			sess := r.loadMeta(ctx, ch, types.ThreadID(tid))
			r.refresh(ctx, ch)
			return sess, nil
		}
		r.log.Info("stored thread gone from provider, recreating",
			"channel", ch, "thread_id", tid)
		if err := r.Invalidate(ctx, ch); err != nil {
			r.log.Warn("failed to drop stale mapping", "channel", ch, "error", err)
		}
	}

	return r.create(ctx, ch)
}

func (r *Resolver) create(ctx context.Context, ch types.Channel) (types.Session, error) {
	tid, err := r.provider.CreateThread(ctx)
	if err != nil {
		return types.Session{}, fmt.Errorf("create thread: %w", err)
	}
	sess := types.Session{Channel: ch, ThreadID: types.ThreadID(tid), CreatedAt: time.Now()}
	if err := r.store.PutEx(ctx, r.threadKey(ch), tid, r.expiry); err != nil {
		return types.Session{}, fmt.Errorf("store thread mapping: %w", err)
	}
	if err := r.saveMeta(ctx, sess); err != nil {
		r.log.Warn("failed to persist session metadata", "channel", ch, "error", err)
	}
	r.log.Info("created session", "channel", ch, "thread_id", tid)
	return sess, nil
}

// RecordMessage bumps the message counters for a session and slides both
// keys' expiry forward. Failures here are logged, not fatal: metadata is
// advisory and the thread mapping is what matters.
func (r *Resolver) RecordMessage(ctx context.Context, sess types.Session) {
	sess.MessageCount++
	sess.LastMessageAt = time.Now()
	if err := r.saveMeta(ctx, sess); err != nil {
		r.log.Warn("failed to update session metadata", "channel", sess.Channel, "error", err)
	}
	r.refresh(ctx, sess.Channel)
}

// Invalidate drops the channel's mapping and metadata. The next Resolve
// will create a fresh thread.
func (r *Resolver) Invalidate(ctx context.Context, ch types.Channel) error {
	return r.store.Delete(ctx, r.threadKey(ch), r.metaKey(ch))
}

func (r *Resolver) refresh(ctx context.Context, ch types.Channel) {
	for _, key := range []string{r.threadKey(ch), r.metaKey(ch)} {
		if err := r.store.Touch(ctx, key, r.expiry); err != nil {
			r.log.Warn("failed to refresh session expiry", "key", key, "error", err)
		}
	}
}

func (r *Resolver) loadMeta(ctx context.Context, ch types.Channel, tid types.ThreadID) types.Session {
	sess := types.Session{Channel: ch, ThreadID: tid}
	raw, ok, err := r.store.Get(ctx, r.metaKey(ch))
	if err != nil || !ok {
		return sess
	}
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		r.log.Warn("corrupt session metadata, resetting", "channel", ch, "error", err)
		return types.Session{Channel: ch, ThreadID: tid}
	}
	// The thread key is authoritative; metadata only carries counters.
	sess.Channel = ch
	sess.ThreadID = tid
	return sess
}

func (r *Resolver) saveMeta(ctx context.Context, sess types.Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return r.store.PutEx(ctx, r.metaKey(sess.Channel), string(raw), r.expiry)
}

// AssistantID returns the shared assistant id, creating the assistant on
// first use. The id is stored without expiry so every worker instance
// converges on the same assistant.
func (r *Resolver) AssistantID(ctx context.Context, req assistant.AssistantRequest) (string, error) {
	id, ok, err := r.store.Get(ctx, r.prefix+assistantKey)
	if err != nil {
		return "", fmt.Errorf("read assistant id: %w", err)
	}
	if ok {
		return id, nil
	}
	id, err = r.provider.CreateAssistant(ctx, req)
	if err != nil {
		return "", fmt.Errorf("create assistant: %w", err)
	}
	if err := r.store.Put(ctx, r.prefix+assistantKey, id); err != nil {
		return "", fmt.Errorf("store assistant id: %w", err)
	}
	r.log.Info("created assistant", "assistant_id", id, "name", req.Name)
	return id, nil
}

// DeleteAssistant removes the shared assistant at the provider and drops
// the stored id. A no-op when no assistant has been created.
func (r *Resolver) DeleteAssistant(ctx context.Context) error {
	id, ok, err := r.store.Get(ctx, r.prefix+assistantKey)
	if err != nil {
		return fmt.Errorf("read assistant id: %w", err)
	}
	if !ok {
		return nil
	}
	if err := r.provider.DeleteAssistant(ctx, id); err != nil {
		return fmt.Errorf("delete assistant %s: %w", id, err)
	}
	return r.store.Delete(ctx, r.prefix+assistantKey)
}

// List returns every known session, metadata included where present.
func (r *Resolver) List(ctx context.Context) ([]types.Session, error) {
	keys, err := r.store.Scan(ctx, r.prefix+"thread:*")
	if err != nil {
		return nil, fmt.Errorf("scan sessions: %w", err)
	}
	sessions := make([]types.Session, 0, len(keys))
	for _, key := range keys {
		ch := types.Channel(key[len(r.prefix+"thread:"):])
		tid, ok, err := r.store.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		sessions = append(sessions, r.loadMeta(ctx, ch, types.ThreadID(tid)))
	}
	return sessions, nil
}

// ClearIdle removes every session whose thread mapping has gone unread for
// at least minIdle, returning how many were cleared. minIdle of zero clears
// everything.
func (r *Resolver) ClearIdle(ctx context.Context, minIdle time.Duration) (int, error) {
	keys, err := r.store.Scan(ctx, r.prefix+"thread:*")
	if err != nil {
		return 0, fmt.Errorf("scan sessions: %w", err)
	}
	cleared := 0
	for _, key := range keys {
		ch := types.Channel(key[len(r.prefix+"thread:"):])
		if minIdle > 0 {
			idle, ok, err := r.store.IdleTime(ctx, key)
			if err != nil || !ok || idle < minIdle {
				continue
			}
		}
		if err := r.Invalidate(ctx, ch); err != nil {
			r.log.Warn("failed to clear session", "channel", ch, "error", err)
			continue
		}
		cleared++
	}
	return cleared, nil
}
