// Package provider builds an llm.Generator from configuration, resolving API
// keys through the credentials store.
package provider

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/papercomputeco/spool/pkg/credentials"
	"github.com/papercomputeco/spool/pkg/llm"
	"github.com/papercomputeco/spool/pkg/llm/provider/anthropic"
	"github.com/papercomputeco/spool/pkg/llm/provider/ollama"
	"github.com/papercomputeco/spool/pkg/llm/provider/openai"
)

// Supported provider type constants
const (
	Anthropic = anthropic.Name
	OpenAI    = openai.Name
	Ollama    = ollama.Name
)

// SupportedProviders returns the list of all supported provider type names.
func SupportedProviders() []string {
	return []string{Anthropic, OpenAI, Ollama}
}

// Config selects and configures a generation backend.
type Config struct {
	Provider string
	Model    string
	BaseURL  string
	Timeout  time.Duration

	// APIKey takes precedence over stored and environment keys.
	APIKey string

	// Credentials is consulted when APIKey is empty. May be nil.
	Credentials *credentials.Manager

	// FallbackToOllama switches to a local Ollama server when no API key
	// can be found for a hosted provider.
	FallbackToOllama bool
}

// New creates the configured generator. Key resolution order: explicit
// APIKey, the credentials file, then the provider's environment variable.
func New(c Config, logger *slog.Logger) (llm.Generator, error) {
	name := strings.ToLower(c.Provider)
	if name == "" {
		name = OpenAI
	}

	key := c.APIKey
	if key == "" && credentials.IsSupportedProvider(name) {
		var src credentials.Source
		key, src = c.Credentials.Resolve(name)
		if key != "" {
			logger.Debug("resolved API key", "provider", name, "source", src)
		}
	}

	if key == "" && name != Ollama && credentials.IsSupportedProvider(name) {
		if !c.FallbackToOllama {
			return nil, fmt.Errorf("no API key for %s: set %s or store one in credentials.toml",
				name, credentials.EnvVar(name))
		}
		logger.Warn("no API key found, falling back to ollama", "provider", name)
		name = Ollama
		c.Model = ""
		c.BaseURL = ""
	}

	switch name {
	case OpenAI:
		return openai.New(openai.Config{APIKey: key, Model: c.Model, BaseURL: c.BaseURL, Timeout: c.Timeout}), nil
	case Anthropic:
		return anthropic.New(anthropic.Config{APIKey: key, Model: c.Model, BaseURL: c.BaseURL, Timeout: c.Timeout}), nil
	case Ollama:
		return ollama.New(ollama.Config{Model: c.Model, BaseURL: c.BaseURL, Timeout: c.Timeout}), nil
	default:
		return nil, fmt.Errorf("unknown provider type: %q (supported: %v)", c.Provider, SupportedProviders())
	}
}
