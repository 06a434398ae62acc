// Package openai implements the assistant.Provider interface against the
// OpenAI Assistants API. Thread, message, and assistant management go
// through the official SDK types; streaming runs are read directly off the
// SSE endpoint, which the SDK does not expose.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gopenai "github.com/sashabaranov/go-openai"

	"github.com/user/chatrelay/pkg/assistant"
)

// Client implements assistant.Provider for OpenAI-compatible APIs.
type Client struct {
	config     *assistant.Config
	api        *gopenai.Client
	httpClient *http.Client
}

var _ assistant.Provider = (*Client)(nil)

// New creates a client with the given configuration. The HTTP client used
// for streaming carries no overall timeout; run lifetimes are bounded by
// the caller's context.
func New(config *assistant.Config) *Client {
	apiCfg := gopenai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		apiCfg.BaseURL = config.BaseURL
	}
	return &Client{
		config: config,
		api:    gopenai.NewClientWithConfig(apiCfg),
		httpClient: &http.Client{
			Timeout: 0,
			Transport: &http.Transport{
				ResponseHeaderTimeout: 30 * time.Second,
			},
		},
	}
}

// CreateAssistant creates an assistant exposing the given functions.
func (c *Client) CreateAssistant(ctx context.Context, req assistant.AssistantRequest) (string, error) {
	tools := make([]gopenai.AssistantTool, 0, len(req.Functions))
	for _, fn := range req.Functions {
		tools = append(tools, gopenai.AssistantTool{
			Type: gopenai.AssistantToolTypeFunction,
			Function: &gopenai.FunctionDefinition{
				Name:        fn.Name,
				Description: fn.Description,
				Parameters:  fn.Parameters,
			},
		})
	}

	model := req.Model
	if model == "" {
		model = c.config.Model
	}
	name := req.Name
	instructions := req.Instructions
	created, err := c.api.CreateAssistant(ctx, gopenai.AssistantRequest{
		Model:        model,
		Name:         &name,
		Instructions: &instructions,
		Tools:        tools,
	})
	if err != nil {
		return "", fmt.Errorf("create assistant: %w", translateAPIError(err))
	}
	return created.ID, nil
}

// DeleteAssistant removes an assistant.
func (c *Client) DeleteAssistant(ctx context.Context, assistantID string) error {
	if _, err := c.api.DeleteAssistant(ctx, assistantID); err != nil {
		return fmt.Errorf("delete assistant %s: %w", assistantID, translateAPIError(err))
	}
	return nil
}

// CreateThread creates an empty conversation thread.
func (c *Client) CreateThread(ctx context.Context) (string, error) {
	thread, err := c.api.CreateThread(ctx, gopenai.ThreadRequest{})
	if err != nil {
		return "", fmt.Errorf("create thread: %w", translateAPIError(err))
	}
	return thread.ID, nil
}

// ThreadExists probes a thread with a retrieve call.
func (c *Client) ThreadExists(ctx context.Context, threadID string) (bool, error) {
	_, err := c.api.RetrieveThread(ctx, threadID)
	if err == nil {
		return true, nil
	}
	if errors.Is(translateAPIError(err), assistant.ErrNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("retrieve thread %s: %w", threadID, err)
}

// CreateMessage appends a user message to the thread.
func (c *Client) CreateMessage(ctx context.Context, threadID, text string) (string, error) {
	msg, err := c.api.CreateMessage(ctx, threadID, gopenai.MessageRequest{
		Role:    gopenai.ChatMessageRoleUser,
		Content: text,
	})
	if err != nil {
		return "", fmt.Errorf("create message in %s: %w", threadID, translateAPIError(err))
	}
	return msg.ID, nil
}

// translateAPIError maps a 404 from the API onto assistant.ErrNotFound so
// callers can invalidate stale thread mappings without matching text.
func translateAPIError(err error) error {
	var apiErr *gopenai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %v", assistant.ErrNotFound, err)
	}
	return err
}
