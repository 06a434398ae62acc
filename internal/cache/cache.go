// Package cache provides the key-value store used for channel-to-thread
// mappings and session metadata.
package cache

import (
	"context"
	"time"
)

// Store is the key-value contract the session layer depends on. Keys are
// TTL-bound unless set with Put; reads refresh nothing by themselves, so
// callers that want sliding expiry pair Get with Touch.
type Store interface {
	// Get returns the value for key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// PutEx stores value under key with an expiry.
	PutEx(ctx context.Context, key, value string, ttl time.Duration) error

	// Put stores value under key with no expiry.
	Put(ctx context.Context, key, value string) error

	// Touch refreshes the expiry of key. Missing keys are ignored.
	Touch(ctx context.Context, key string, ttl time.Duration) error

	// Delete removes the given keys.
	Delete(ctx context.Context, keys ...string) error

	// Scan returns every key matching the glob pattern.
	Scan(ctx context.Context, pattern string) ([]string, error)

	// IdleTime reports how long a key has gone unread, for age-based
	// session clearing. Returns false when the key is absent.
	IdleTime(ctx context.Context, key string) (time.Duration, bool, error)
}
