package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// UserRole looks up a user's role by email against the directory API.
type UserRole struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewUserRole(baseURL, apiKey string) *UserRole {
	return &UserRole{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (u *UserRole) Name() string { return "get_user_role" }
func (u *UserRole) Description() string {
	return "Retrieve role information for a specific user"
}
func (u *UserRole) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"email": {"type": "string", "description": "Email address of the user to get role information for"}
		},
		"required": ["email"]
	}`)
}

func (u *UserRole) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	if params.Email == "" {
		return "", fmt.Errorf("email is required")
	}

	endpoint := fmt.Sprintf("%s/%s/role", u.baseURL, url.PathEscape(params.Email))
	body, err := apiGet(ctx, u.client, endpoint, u.apiKey)
	if err != nil {
		return "", fmt.Errorf("fetch role for %s: %w", params.Email, err)
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", fmt.Errorf("parse role response: %w", err)
	}
	if len(envelope.Data) == 0 {
		return "", fmt.Errorf("role response missing data field")
	}

	out, err := json.Marshal(map[string]json.RawMessage{
		"user_role": envelope.Data,
		"email":     json.RawMessage(fmt.Sprintf("%q", params.Email)),
	})
	if err != nil {
		return "", fmt.Errorf("encode role report: %w", err)
	}
	return string(out), nil
}

// apiGet performs an authenticated GET against the internal APIs shared by
// the directory and audit tools.
func apiGet(ctx context.Context, client *http.Client, endpoint, apiKey string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
