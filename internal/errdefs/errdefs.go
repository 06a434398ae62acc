// Package errdefs defines the closed set of failure kinds used across the
// worker. Errors are tagged at the point of failure so downstream code can
// branch on kind instead of matching message text.
package errdefs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is one of the worker's failure categories.
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation covers malformed jobs and missing fields. Never retried.
	KindValidation
	// KindCapacity means the single-flight gate was held. Safe to redeliver.
	KindCapacity
	// KindTransport covers broker, pub/sub, and provider connectivity.
	KindTransport
	// KindTimeout covers the watchdog tiers and the job ceiling.
	KindTimeout
	// KindTool covers failures inside tool execution.
	KindTool
	// KindProtocol covers provider protocol errors such as a missing thread.
	KindProtocol
	// KindRateLimit covers provider throttling.
	KindRateLimit
)

// Error is a kind-tagged error. The wrapped cause keeps the raw diagnostic
// for operators; UserMessage carries the text shown to subscribers.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a tagged error with no cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap tags an underlying error with a kind and context message.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the kind from an error chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether the error chain carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// UserMessage maps a failure to the single human-readable line published
// to the subscriber. The raw diagnostic travels separately.
func UserMessage(err error) string {
	switch KindOf(err) {
	case KindValidation:
		return "Some of the information provided was invalid. Please check and try again."
	case KindCapacity:
		return "I'm still working on your previous message. Please wait a moment."
	case KindTransport:
		return "I'm having trouble connecting to my services. Please try again in a moment."
	case KindTimeout:
		return "The request took too long to process. Please try again."
	case KindTool:
		return "I had trouble retrieving the information you requested."
	case KindProtocol:
		return "This conversation has expired. Please start a new one."
	case KindRateLimit:
		return "I'm receiving too many requests right now. Please try again in a moment."
	default:
		return "I encountered an issue while processing your request."
	}
}

// ClassifyProvider tags an error that arrived as raw text from the
// completion provider. Provider failures are the one boundary where the
// cause reaches us untyped, so substring inspection happens here, once,
// instead of being scattered through callers.
func ClassifyProvider(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"):
		return Wrap(KindRateLimit, "provider throttled", err)
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return Wrap(KindTimeout, "provider timed out", err)
	case strings.Contains(msg, "connection") || strings.Contains(msg, "connrefused"):
		return Wrap(KindTransport, "provider unreachable", err)
	case strings.Contains(msg, "not found"):
		return Wrap(KindProtocol, "provider object missing", err)
	case strings.Contains(msg, "invalid"):
		return Wrap(KindValidation, "provider rejected input", err)
	default:
		return Wrap(KindUnknown, "provider error", err)
	}
}
