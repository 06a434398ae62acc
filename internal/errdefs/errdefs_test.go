package errdefs

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindSurvivesWrapping(t *testing.T) {
	base := New(KindTimeout, "no response from assistant")
	wrapped := fmt.Errorf("run failed: %w", base)

	if KindOf(wrapped) != KindTimeout {
		t.Errorf("expected KindTimeout through wrap, got %v", KindOf(wrapped))
	}
	if !Is(wrapped, KindTimeout) {
		t.Error("Is should match the wrapped kind")
	}
}

func TestUserMessageDistinctFromDiagnostic(t *testing.T) {
	err := Wrap(KindTransport, "dial ws", errors.New("connection refused: 10.0.0.1:4000"))
	msg := UserMessage(err)
	if msg == err.Error() {
		t.Error("user message must not be the raw diagnostic")
	}
	if msg == "" {
		t.Error("expected non-empty user message")
	}
}

func TestClassifyProvider(t *testing.T) {
	cases := []struct {
		raw  string
		want Kind
	}{
		{"429 rate limit exceeded", KindRateLimit},
		{"context deadline exceeded", KindTimeout},
		{"connection reset by peer", KindTransport},
		{"thread not found", KindProtocol},
		{"invalid request payload", KindValidation},
		{"something else entirely", KindUnknown},
	}
	for _, tc := range cases {
		got := ClassifyProvider(errors.New(tc.raw))
		if got.Kind != tc.want {
			t.Errorf("ClassifyProvider(%q) = %v, want %v", tc.raw, got.Kind, tc.want)
		}
	}
}

func TestClassifyProviderKeepsExistingTag(t *testing.T) {
	tagged := New(KindTool, "weather lookup failed timeout")
	got := ClassifyProvider(fmt.Errorf("stream: %w", tagged))
	if got.Kind != KindTool {
		t.Errorf("expected existing tag to win over substrings, got %v", got.Kind)
	}
}
