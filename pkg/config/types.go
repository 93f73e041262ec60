package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Config represents the persistent spool configuration stored as config.toml
// in the .spool/ directory. The TOML layout uses sections for logical grouping.
type Config struct {
	Version     int               `toml:"version"`
	Storage     StorageConfig     `toml:"storage"`
	Window      WindowConfig      `toml:"window"`
	Generation  GenerationConfig  `toml:"generation"`
	Enrichment  EnrichmentConfig  `toml:"enrichment"`
	Embedding   EmbeddingConfig   `toml:"embedding"`
	VectorStore VectorStoreConfig `toml:"vector_store"`
	Retrieval   RetrievalConfig   `toml:"retrieval"`
	Pipeline    PipelineConfig    `toml:"pipeline"`
	EventStream EventStreamConfig `toml:"eventstream"`
	API         APIConfig         `toml:"api"`
}

// StorageConfig selects the durable store behind the cache, the ledger and
// the run history.
type StorageConfig struct {
	// Provider is one of sqlite, postgres or memory.
	Provider    string `toml:"provider,omitempty"`
	SQLitePath  string `toml:"sqlite_path,omitempty"`
	PostgresDSN string `toml:"postgres_dsn,omitempty"`
}

// WindowConfig holds the windowing policy.
type WindowConfig struct {
	// Mode is one of time, count or size.
	Mode     string  `toml:"mode,omitempty"`
	Step     int     `toml:"step,omitempty"`
	Unit     string  `toml:"unit,omitempty"`
	Count    int     `toml:"count,omitempty"`
	MaxBytes int     `toml:"max_bytes,omitempty"`
	Overlap  float64 `toml:"overlap"`

	// Tolerance accepts events this much earlier than their predecessor,
	// as a Go duration.
	Tolerance string `toml:"tolerance,omitempty"`
}

// GenerationConfig holds the generation backend settings.
type GenerationConfig struct {
	Provider     string   `toml:"provider,omitempty"`
	Model        string   `toml:"model,omitempty"`
	BaseURL      string   `toml:"base_url,omitempty"`
	MaxTokens    int      `toml:"max_tokens,omitempty"`
	Temperature  *float64 `toml:"temperature,omitempty"`
	Seed         *int     `toml:"seed,omitempty"`
	Timeout      string   `toml:"timeout,omitempty"`
	SystemPrompt string   `toml:"system_prompt,omitempty"`
}

// EnrichmentConfig controls URL and attachment lookups.
type EnrichmentConfig struct {
	Enabled bool `toml:"enabled"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `toml:"provider,omitempty"`
	Target     string `toml:"target,omitempty"`
	Model      string `toml:"model,omitempty"`
	Dimensions uint   `toml:"dimensions,omitempty"`
}

// VectorStoreConfig holds vector store settings.
type VectorStoreConfig struct {
	Provider   string `toml:"provider,omitempty"`
	Target     string `toml:"target,omitempty"`
	Collection string `toml:"collection,omitempty"`
}

// RetrievalConfig controls historical context.
type RetrievalConfig struct {
	Enabled         bool `toml:"enabled"`
	ContextK        int  `toml:"context_k"`
	PruneSuperseded bool `toml:"prune_superseded"`
}

// PipelineConfig holds execution limits.
type PipelineConfig struct {
	Workers     uint   `toml:"workers,omitempty"`
	MaxAttempts int    `toml:"max_attempts,omitempty"`
	Backoff     string `toml:"backoff,omitempty"`
	MaxBackoff  string `toml:"max_backoff,omitempty"`

	// RateLimit caps generation calls per second. Zero is unlimited.
	RateLimit float64 `toml:"rate_limit,omitempty"`
	Burst     int     `toml:"burst,omitempty"`
}

// EventStreamConfig selects where finalized artifacts are published.
type EventStreamConfig struct {
	// Provider is one of none, jsonl or kafka.
	Provider string   `toml:"provider,omitempty"`
	Path     string   `toml:"path,omitempty"`
	Brokers  []string `toml:"brokers,omitempty"`
	Topic    string   `toml:"topic,omitempty"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func stringKey(field func(c *Config) *string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error { *field(c) = v; return nil },
	}
}

func intKey(name string, field func(c *Config) *int) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if *field(c) == 0 {
				return ""
			}
			return strconv.Itoa(*field(c))
		},
		set: func(c *Config, v string) error {
			if v == "" {
				*field(c) = 0
				return nil
			}
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = n
			return nil
		},
	}
}

func uintKey(name string, field func(c *Config) *uint) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if *field(c) == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(*field(c)), 10)
		},
		set: func(c *Config, v string) error {
			if v == "" {
				*field(c) = 0
				return nil
			}
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = uint(n)
			return nil
		},
	}
}

func floatKey(name string, field func(c *Config) *float64) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return strconv.FormatFloat(*field(c), 'g', -1, 64) },
		set: func(c *Config, v string) error {
			if v == "" {
				*field(c) = 0
				return nil
			}
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = f
			return nil
		},
	}
}

func boolKey(name string, field func(c *Config) *bool) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return strconv.FormatBool(*field(c)) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = b
			return nil
		},
	}
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"storage.provider":     stringKey(func(c *Config) *string { return &c.Storage.Provider }),
	"storage.sqlite_path":  stringKey(func(c *Config) *string { return &c.Storage.SQLitePath }),
	"storage.postgres_dsn": stringKey(func(c *Config) *string { return &c.Storage.PostgresDSN }),

	"window.mode":      stringKey(func(c *Config) *string { return &c.Window.Mode }),
	"window.step":      intKey("window.step", func(c *Config) *int { return &c.Window.Step }),
	"window.unit":      stringKey(func(c *Config) *string { return &c.Window.Unit }),
	"window.count":     intKey("window.count", func(c *Config) *int { return &c.Window.Count }),
	"window.max_bytes": intKey("window.max_bytes", func(c *Config) *int { return &c.Window.MaxBytes }),
	"window.overlap":   floatKey("window.overlap", func(c *Config) *float64 { return &c.Window.Overlap }),
	"window.tolerance": stringKey(func(c *Config) *string { return &c.Window.Tolerance }),

	"generation.provider":      stringKey(func(c *Config) *string { return &c.Generation.Provider }),
	"generation.model":         stringKey(func(c *Config) *string { return &c.Generation.Model }),
	"generation.base_url":      stringKey(func(c *Config) *string { return &c.Generation.BaseURL }),
	"generation.max_tokens":    intKey("generation.max_tokens", func(c *Config) *int { return &c.Generation.MaxTokens }),
	"generation.timeout":       stringKey(func(c *Config) *string { return &c.Generation.Timeout }),
	"generation.system_prompt": stringKey(func(c *Config) *string { return &c.Generation.SystemPrompt }),
	"generation.temperature": {
		get: func(c *Config) string {
			if c.Generation.Temperature == nil {
				return ""
			}
			return strconv.FormatFloat(*c.Generation.Temperature, 'g', -1, 64)
		},
		set: func(c *Config, v string) error {
			if v == "" {
				c.Generation.Temperature = nil
				return nil
			}
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid value for generation.temperature: %w", err)
			}
			c.Generation.Temperature = &f
			return nil
		},
	},
	"generation.seed": {
		get: func(c *Config) string {
			if c.Generation.Seed == nil {
				return ""
			}
			return strconv.Itoa(*c.Generation.Seed)
		},
		set: func(c *Config, v string) error {
			if v == "" {
				c.Generation.Seed = nil
				return nil
			}
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for generation.seed: %w", err)
			}
			c.Generation.Seed = &n
			return nil
		},
	},

	"enrichment.enabled": boolKey("enrichment.enabled", func(c *Config) *bool { return &c.Enrichment.Enabled }),

	"embedding.provider":   stringKey(func(c *Config) *string { return &c.Embedding.Provider }),
	"embedding.target":     stringKey(func(c *Config) *string { return &c.Embedding.Target }),
	"embedding.model":      stringKey(func(c *Config) *string { return &c.Embedding.Model }),
	"embedding.dimensions": uintKey("embedding.dimensions", func(c *Config) *uint { return &c.Embedding.Dimensions }),

	"vector_store.provider":   stringKey(func(c *Config) *string { return &c.VectorStore.Provider }),
	"vector_store.target":     stringKey(func(c *Config) *string { return &c.VectorStore.Target }),
	"vector_store.collection": stringKey(func(c *Config) *string { return &c.VectorStore.Collection }),

	"retrieval.enabled":          boolKey("retrieval.enabled", func(c *Config) *bool { return &c.Retrieval.Enabled }),
	"retrieval.context_k":        intKey("retrieval.context_k", func(c *Config) *int { return &c.Retrieval.ContextK }),
	"retrieval.prune_superseded": boolKey("retrieval.prune_superseded", func(c *Config) *bool { return &c.Retrieval.PruneSuperseded }),

	"pipeline.workers":      uintKey("pipeline.workers", func(c *Config) *uint { return &c.Pipeline.Workers }),
	"pipeline.max_attempts": intKey("pipeline.max_attempts", func(c *Config) *int { return &c.Pipeline.MaxAttempts }),
	"pipeline.backoff":      stringKey(func(c *Config) *string { return &c.Pipeline.Backoff }),
	"pipeline.max_backoff":  stringKey(func(c *Config) *string { return &c.Pipeline.MaxBackoff }),
	"pipeline.rate_limit":   floatKey("pipeline.rate_limit", func(c *Config) *float64 { return &c.Pipeline.RateLimit }),
	"pipeline.burst":        intKey("pipeline.burst", func(c *Config) *int { return &c.Pipeline.Burst }),

	"eventstream.provider": stringKey(func(c *Config) *string { return &c.EventStream.Provider }),
	"eventstream.path":     stringKey(func(c *Config) *string { return &c.EventStream.Path }),
	"eventstream.topic":    stringKey(func(c *Config) *string { return &c.EventStream.Topic }),
	"eventstream.brokers": {
		get: func(c *Config) string { return strings.Join(c.EventStream.Brokers, ",") },
		set: func(c *Config, v string) error {
			c.EventStream.Brokers = nil
			for b := range strings.SplitSeq(v, ",") {
				if b = strings.TrimSpace(b); b != "" {
					c.EventStream.Brokers = append(c.EventStream.Brokers, b)
				}
			}
			return nil
		},
	},

	"api.listen": stringKey(func(c *Config) *string { return &c.API.Listen }),
}

// orderedKeys lists config keys in TOML section order.
var orderedKeys = []string{
	"storage.provider",
	"storage.sqlite_path",
	"storage.postgres_dsn",
	"window.mode",
	"window.step",
	"window.unit",
	"window.count",
	"window.max_bytes",
	"window.overlap",
	"window.tolerance",
	"generation.provider",
	"generation.model",
	"generation.base_url",
	"generation.max_tokens",
	"generation.temperature",
	"generation.seed",
	"generation.timeout",
	"generation.system_prompt",
	"enrichment.enabled",
	"embedding.provider",
	"embedding.target",
	"embedding.model",
	"embedding.dimensions",
	"vector_store.provider",
	"vector_store.target",
	"vector_store.collection",
	"retrieval.enabled",
	"retrieval.context_k",
	"retrieval.prune_superseded",
	"pipeline.workers",
	"pipeline.max_attempts",
	"pipeline.backoff",
	"pipeline.max_backoff",
	"pipeline.rate_limit",
	"pipeline.burst",
	"eventstream.provider",
	"eventstream.path",
	"eventstream.brokers",
	"eventstream.topic",
	"api.listen",
}
