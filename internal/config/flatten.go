package config

import (
	"strings"
)

// secretKeys lists the dot-separated keys whose values should be masked.
var secretKeys = map[string]bool{
	"openai.api_key":            true,
	"tools.openweather_api_key": true,
	"tools.x_api_key":           true,
	"tools.postgres_dsn":        true,
	"broker.url":                true,
	"redis.url":                 true,
}

// IsSecretKey returns true if the given dot-separated key is a secret.
func IsSecretKey(key string) bool {
	return secretKeys[key]
}

// Flatten converts a nested map into a flat map with dot-separated keys.
// For example, {"openai": {"model": "gpt-4o-mini"}} becomes
// {"openai.model": "gpt-4o-mini"}.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	flatten("", m, out)
	return out
}

func flatten(prefix string, m map[string]any, out map[string]any) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch child := v.(type) {
		case map[string]any:
			flatten(key, child, out)
		default:
			out[key] = v
		}
	}
}

// Unflatten converts a flat map with dot-separated keys back into a nested
// map.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range flat {
		parts := strings.Split(k, ".")
		current := out
		for i, part := range parts {
			if i == len(parts)-1 {
				current[part] = v
				continue
			}
			child, ok := current[part].(map[string]any)
			if !ok {
				child = make(map[string]any)
				current[part] = child
			}
			current = child
		}
	}
	return out
}

// MaskSecrets returns a copy of the flat map with secret values replaced
// by "***". Empty secrets stay empty so `config list` shows what is unset.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		if IsSecretKey(k) {
			if s, ok := v.(string); ok && s != "" {
				out[k] = "***"
				continue
			}
		}
		out[k] = v
	}
	return out
}
