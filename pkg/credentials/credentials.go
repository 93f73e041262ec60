// Package credentials stores generation and embedding API keys in
// .spool/credentials.toml and resolves them with environment fallbacks.
package credentials

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/BurntSushi/toml"

	"github.com/papercomputeco/spool/pkg/dotdir"
)

const (
	fileName = "credentials.toml"

	fileVersion = 0
)

var envVars = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
}

// Manager reads and writes the credentials file.
type Manager struct {
	path string
}

// NewManager resolves the .spool/ directory (override first) and returns a
// Manager for the credentials file inside it.
func NewManager(override string) (*Manager, error) {
	path, err := dotdir.NewManager().Path(override, fileName)
	if err != nil {
		return nil, err
	}
	return &Manager{path: path}, nil
}

// Path is the credentials file location.
func (m *Manager) Path() string {
	return m.path
}

// Load reads the credentials file. A missing file is an empty set.
func (m *Manager) Load() (*File, error) {
	f := &File{Version: fileVersion}

	data, err := os.ReadFile(m.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading credentials: %w", err)
	default:
		if err := toml.Unmarshal(data, f); err != nil {
			return nil, fmt.Errorf("parsing credentials: %w", err)
		}
	}

	if f.Providers == nil {
		f.Providers = make(map[string]APIKey)
	}
	return f, nil
}

// Save writes f with owner-only permissions.
func (m *Manager) Save(f *File) error {
	if f == nil {
		return errors.New("cannot save nil credentials")
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(f); err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("creating credentials dir: %w", err)
	}
	if err := os.WriteFile(m.path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing credentials: %w", err)
	}
	return nil
}

func (m *Manager) update(fn func(*File)) error {
	f, err := m.Load()
	if err != nil {
		return err
	}
	fn(f)
	return m.Save(f)
}

// SetKey stores key for provider.
func (m *Manager) SetKey(provider, key string) error {
	return m.update(func(f *File) { f.Providers[provider] = APIKey{Key: key} })
}

// RemoveKey deletes the stored key for provider.
func (m *Manager) RemoveKey(provider string) error {
	return m.update(func(f *File) { delete(f.Providers, provider) })
}

// GetKey returns the stored key for provider, or "" when none is stored.
func (m *Manager) GetKey(provider string) (string, error) {
	f, err := m.Load()
	if err != nil {
		return "", err
	}
	return f.Providers[provider].Key, nil
}

// ListProviders returns providers with stored keys, sorted.
func (m *Manager) ListProviders() ([]string, error) {
	f, err := m.Load()
	if err != nil {
		return nil, err
	}
	return slices.Sorted(maps.Keys(f.Providers)), nil
}

// Resolve finds the key for provider: the credentials file first, then the
// provider's environment variable. A nil Manager only consults the
// environment.
func (m *Manager) Resolve(provider string) (string, Source) {
	if m != nil {
		if key, err := m.GetKey(provider); err == nil && key != "" {
			return key, SourceFile
		}
	}
	if env := EnvVar(provider); env != "" {
		if key := os.Getenv(env); key != "" {
			return key, SourceEnv
		}
	}
	return "", SourceNone
}

// EnvVar is the environment variable consulted for provider, or "".
func EnvVar(provider string) string {
	return envVars[provider]
}

// SupportedProviders lists the providers that need an API key.
func SupportedProviders() []string {
	return slices.Sorted(maps.Keys(envVars))
}

// IsSupportedProvider reports whether provider needs an API key.
func IsSupportedProvider(provider string) bool {
	_, ok := envVars[provider]
	return ok
}
