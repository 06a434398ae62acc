// internal/types/ids_test.go
package types

import (
	"strings"
	"testing"
)

func TestNewChannel(t *testing.T) {
	ch := NewChannel()
	if ch == "" {
		t.Error("expected non-empty Channel")
	}
	if len(string(ch)) != 36 {
		t.Errorf("expected UUID format, got %s", ch)
	}
}

func TestNewConsumerTag(t *testing.T) {
	tag := NewConsumerTag("relay_worker")
	if !strings.HasPrefix(tag, "relay_worker_") {
		t.Errorf("expected prefix, got %s", tag)
	}
	if len(tag) != len("relay_worker_")+8 {
		t.Errorf("expected 8-char suffix, got %s", tag)
	}
}
