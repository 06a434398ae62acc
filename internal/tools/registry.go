// Package tools holds the function tools the assistant can call during a
// run, plus the registry that exposes them to the provider.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/user/chatrelay/pkg/assistant"
)

// Tool defines the interface for an executable tool.
type Tool interface {
	Name() string
	Description() string
	Parameters() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// Registry holds registered tools and provides lookup.
type Registry struct {
	tools map[string]Tool
	log   *slog.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{tools: make(map[string]Tool), log: log}
}

// Register adds a tool, replacing any tool already registered under the
// same name.
func (r *Registry) Register(t Tool) {
	if _, exists := r.tools[t.Name()]; exists {
		r.log.Warn("replacing registered tool", "tool", t.Name())
	}
	r.tools[t.Name()] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	return out
}

// Definitions converts registered tools to the provider's function format.
func (r *Registry) Definitions() []assistant.FunctionDefinition {
	out := make([]assistant.FunctionDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, assistant.FunctionDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return out
}

// Execute runs the named tool. An unknown name is an error rather than a
// silent no-op so the run surfaces a meaningful failure.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (string, error) {
	t, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("unknown tool %q", name)
	}
	return t.Execute(ctx, args)
}
