package config

import (
	"os"
	"path/filepath"
	"testing"
)

func tempConfigPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "config.json")
}

func TestLoadWritesDefaults(t *testing.T) {
	path := tempConfigPath(t)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected defaults written to %s: %v", path, err)
	}
	if cfg.Worker.JobTimeoutSeconds != 90 {
		t.Errorf("expected 90s job ceiling default, got %d", cfg.Worker.JobTimeoutSeconds)
	}
	if cfg.Redis.ThreadExpiryDays != 90 {
		t.Errorf("expected 90 day thread expiry default, got %d", cfg.Redis.ThreadExpiryDays)
	}
	if cfg.Broker.Queue == "" || cfg.Broker.Exchange == "" {
		t.Error("expected broker defaults to be set")
	}
}

func TestSaveReloadRoundTrip(t *testing.T) {
	path := tempConfigPath(t)

	original := defaults()
	original.LogLevel = "debug"
	original.Relay.URI = "ws://relay.internal:4000"
	original.Worker.FlushMinChars = 120

	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.LogLevel != "debug" {
		t.Errorf("expected debug, got %s", loaded.LogLevel)
	}
	if loaded.Relay.URI != "ws://relay.internal:4000" {
		t.Errorf("expected relay uri to round-trip, got %s", loaded.Relay.URI)
	}
	if loaded.Worker.FlushMinChars != 120 {
		t.Errorf("expected flush threshold to round-trip, got %d", loaded.Worker.FlushMinChars)
	}
}

func TestEnvOverrides(t *testing.T) {
	path := tempConfigPath(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("WEBSOCKET_URI", "ws://override:4000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.OpenAI.APIKey != "sk-test" {
		t.Errorf("expected env api key, got %q", cfg.OpenAI.APIKey)
	}
	if cfg.Relay.URI != "ws://override:4000" {
		t.Errorf("expected env relay uri, got %q", cfg.Relay.URI)
	}
}

func TestSetValueRoundTrip(t *testing.T) {
	path := tempConfigPath(t)
	if _, err := Load(path); err != nil {
		t.Fatalf("load: %v", err)
	}

	if err := SetValue(path, "openai.model", "gpt-4o"); err != nil {
		t.Fatalf("set: %v", err)
	}
	val, err := GetValue(path, "openai.model")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != "gpt-4o" {
		t.Errorf("expected gpt-4o, got %v", val)
	}
}

func TestSetValueNumericCoercion(t *testing.T) {
	path := tempConfigPath(t)
	if _, err := Load(path); err != nil {
		t.Fatalf("load: %v", err)
	}

	if err := SetValue(path, "worker.tool_timeout_seconds", "45"); err != nil {
		t.Fatalf("set: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Worker.ToolTimeoutSeconds != 45 {
		t.Errorf("expected 45, got %d", cfg.Worker.ToolTimeoutSeconds)
	}
}

func TestSetValueUnknownKey(t *testing.T) {
	path := tempConfigPath(t)
	if _, err := Load(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := SetValue(path, "nope.missing", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
}
