package tools

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
)

type stubTool struct {
	name   string
	result string
}

func (s stubTool) Name() string                { return s.name }
func (s stubTool) Description() string         { return "stub" }
func (s stubTool) Parameters() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (s stubTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	return s.result, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegistryLookupAndExecute(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Register(stubTool{name: "alpha", result: "a"})
	r.Register(stubTool{name: "beta", result: "b"})

	if _, ok := r.Get("alpha"); !ok {
		t.Error("expected alpha to be registered")
	}
	out, err := r.Execute(context.Background(), "beta", nil)
	if err != nil {
		t.Fatal(err)
	}
	if out != "b" {
		t.Errorf("expected b, got %s", out)
	}
}

func TestRegistryUnknownTool(t *testing.T) {
	r := NewRegistry(testLogger())
	if _, err := r.Execute(context.Background(), "missing", nil); err == nil {
		t.Error("expected error for unknown tool")
	}
}

func TestRegistryReplacesDuplicate(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Register(stubTool{name: "alpha", result: "old"})
	r.Register(stubTool{name: "alpha", result: "new"})

	out, err := r.Execute(context.Background(), "alpha", nil)
	if err != nil {
		t.Fatal(err)
	}
	if out != "new" {
		t.Errorf("expected replacement to win, got %s", out)
	}
	if len(r.Names()) != 1 {
		t.Errorf("expected 1 tool, got %d", len(r.Names()))
	}
}

func TestRegistryDefinitions(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Register(stubTool{name: "alpha"})

	defs := r.Definitions()
	if len(defs) != 1 {
		t.Fatalf("expected 1 definition, got %d", len(defs))
	}
	if defs[0].Name != "alpha" {
		t.Errorf("unexpected definition name %s", defs[0].Name)
	}
	if len(defs[0].Parameters) == 0 {
		t.Error("expected parameters to be carried through")
	}
}
