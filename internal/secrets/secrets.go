// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads API keys and credentials from a directory of plain-text files.
// Each file in the directory represents one secret: the filename is the key name and the
// file contents (trimmed) are the value.
//
// Recognized key files: anthropic-api-key, openai-api-key.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Load reads all files in dir and returns a map of filename to trimmed contents.
// A missing directory or missing files are not errors; Load returns an empty map.
// Unreadable files produce a warning on stderr but do not abort.
func Load(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	secrets := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not read secret %s: %v\n", name, err)
			continue
		}

		value := strings.TrimSpace(string(data))
		if value != "" {
			secrets[name] = value
		}
	}

	return secrets, nil
}

// Key file names for the LLM providers.
const (
	AnthropicKey = "anthropic-api-key"
	OpenAIKey    = "openai-api-key"
)

// ProviderKey returns the key file name for an LLM provider, or "" when the
// provider needs no key.
func ProviderKey(provider string) string {
	switch provider {
	case "", "anthropic":
		return AnthropicKey
	case "openai":
		return OpenAIKey
	}
	return ""
}

// APIKey picks the key for provider: explicit wins, then the secrets map,
// then the provider's conventional environment variable.
func APIKey(provider, explicit string, loaded map[string]string) string {
	if explicit != "" {
		return explicit
	}
	name := ProviderKey(provider)
	if name == "" {
		return ""
	}
	if v, ok := loaded[name]; ok {
		return v
	}
	env := strings.ToUpper(strings.ReplaceAll(strings.TrimSuffix(name, "-api-key"), "-", "_")) + "_API_KEY"
	return strings.TrimSpace(os.Getenv(env))
}
