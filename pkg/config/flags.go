package config

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flag is the single source of truth for a CLI flag.
// Commands reference flags by registry key rather than hard-coding names,
// shorthands, defaults, and descriptions inline. This prevents flag drift
// when the same logical flag appears on multiple commands (e.g., --sqlite
// on "spool run", "spool status" and "spool serve").
type Flag struct {
	// Name is the long flag name (e.g. "window-mode").
	Name string

	// Shorthand is the one-letter short flag (e.g. "w"). Empty for no shorthand.
	Shorthand string

	// ViperKey is the dotted config key this flag maps to (e.g. "window.mode").
	ViperKey string

	// Description is the help text shown in --help output.
	Description string
}

// FlagSet is a mapping of flag names to Flag structs that hold their name,
// shorthand, viper key, etc.
type FlagSet map[string]Flag

// Flag registry keys.
// Use these constants when calling the Add*Flag helpers and
// BindRegisteredFlags to avoid typos or drift from one command to another.
const (
	FlagStorageProvider = "storage-provider"
	FlagSQLite          = "sqlite"
	FlagPostgres        = "postgres"

	FlagWindowMode     = "window-mode"
	FlagWindowStep     = "window-step"
	FlagWindowUnit     = "window-unit"
	FlagWindowCount    = "window-count"
	FlagWindowMaxBytes = "window-max-bytes"
	FlagOverlap        = "overlap"
	FlagTolerance      = "tolerance"

	FlagProvider = "provider"
	FlagModel    = "model"
	FlagBaseURL  = "base-url"

	FlagEnrich = "enrich"

	FlagEmbeddingProv  = "embedding-provider"
	FlagEmbeddingTgt   = "embedding-target"
	FlagEmbeddingModel = "embedding-model"
	FlagEmbeddingDims  = "embedding-dimensions"

	FlagVectorStoreProv = "vector-store-provider"
	FlagVectorStoreTgt  = "vector-store-target"

	FlagContextK = "context-k"

	FlagWorkers   = "workers"
	FlagRateLimit = "rate-limit"

	FlagEventStream     = "eventstream"
	FlagEventStreamPath = "eventstream-path"
	FlagKafkaBrokers    = "kafka-brokers"
	FlagKafkaTopic      = "kafka-topic"

	FlagAPIListen = "api-listen"
)

// Flags is the registry shared by every spool command.
var Flags = FlagSet{
	FlagStorageProvider: {Name: "storage", ViperKey: "storage.provider", Description: "State store (sqlite, postgres, memory)"},
	FlagSQLite:          {Name: "sqlite", Shorthand: "s", ViperKey: "storage.sqlite_path", Description: "Path to SQLite database (default: .spool/spool.db)"},
	FlagPostgres:        {Name: "postgres", ViperKey: "storage.postgres_dsn", Description: "PostgreSQL connection string"},

	FlagWindowMode:     {Name: "window-mode", Shorthand: "w", ViperKey: "window.mode", Description: "Window boundary (time, count, size)"},
	FlagWindowStep:     {Name: "window-step", ViperKey: "window.step", Description: "Time window length in units"},
	FlagWindowUnit:     {Name: "window-unit", ViperKey: "window.unit", Description: "Time window unit (hours, days)"},
	FlagWindowCount:    {Name: "window-count", ViperKey: "window.count", Description: "Events per count window"},
	FlagWindowMaxBytes: {Name: "window-max-bytes", ViperKey: "window.max_bytes", Description: "Payload bytes per size window"},
	FlagOverlap:        {Name: "overlap", ViperKey: "window.overlap", Description: "Fraction of each window repeated in the next, in [0, 1)"},
	FlagTolerance:      {Name: "tolerance", ViperKey: "window.tolerance", Description: "Accept events this much earlier than their predecessor"},

	FlagProvider: {Name: "provider", Shorthand: "p", ViperKey: "generation.provider", Description: "Generation provider (openai, anthropic, ollama)"},
	FlagModel:    {Name: "model", Shorthand: "m", ViperKey: "generation.model", Description: "Generation model"},
	FlagBaseURL:  {Name: "base-url", ViperKey: "generation.base_url", Description: "Generation provider base URL"},

	FlagEnrich: {Name: "enrich", ViperKey: "enrichment.enabled", Description: "Describe referenced URLs and attachments"},

	FlagEmbeddingProv:  {Name: "embedding-provider", ViperKey: "embedding.provider", Description: "Embedding provider (ollama, openai)"},
	FlagEmbeddingTgt:   {Name: "embedding-target", ViperKey: "embedding.target", Description: "Embedding provider URL"},
	FlagEmbeddingModel: {Name: "embedding-model", ViperKey: "embedding.model", Description: "Embedding model"},
	FlagEmbeddingDims:  {Name: "embedding-dimensions", ViperKey: "embedding.dimensions", Description: "Embedding dimensionality"},

	FlagVectorStoreProv: {Name: "vector-store-provider", ViperKey: "vector_store.provider", Description: "Vector store (sqlite, memory, chroma, qdrant)"},
	FlagVectorStoreTgt:  {Name: "vector-store-target", ViperKey: "vector_store.target", Description: "Vector store URL or path"},

	FlagContextK: {Name: "context-k", Shorthand: "k", ViperKey: "retrieval.context_k", Description: "Earlier artifacts offered as context per window"},

	FlagWorkers:   {Name: "workers", ViperKey: "pipeline.workers", Description: "Concurrent lookup workers"},
	FlagRateLimit: {Name: "rate-limit", ViperKey: "pipeline.rate_limit", Description: "Generation calls per second (0 is unlimited)"},

	FlagEventStream:     {Name: "eventstream", ViperKey: "eventstream.provider", Description: "Artifact sink (none, jsonl, kafka)"},
	FlagEventStreamPath: {Name: "eventstream-path", ViperKey: "eventstream.path", Description: "JSONL artifact sink path"},
	FlagKafkaBrokers:    {Name: "kafka-brokers", ViperKey: "eventstream.brokers", Description: "Comma separated Kafka brokers"},
	FlagKafkaTopic:      {Name: "kafka-topic", ViperKey: "eventstream.topic", Description: "Kafka topic for finalized artifacts"},

	FlagAPIListen: {Name: "listen", Shorthand: "l", ViperKey: "api.listen", Description: "Address for the API server to listen on"},
}

// AddStringFlag registers a string flag on cmd from the given FlagSet.
// The flag's name, shorthand, default, and description all come from the
// FlagSet entry so they cannot drift across commands.
func AddStringFlag(cmd *cobra.Command, fs FlagSet, key string, target *string) {
	def, ok := fs[key]
	if !ok {
		return
	}

	defaultVal := defaults().GetString(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().StringVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().StringVar(target, def.Name, defaultVal, def.Description)
	}
}

// AddUintFlag registers a uint flag on cmd from the given FlagSet.
func AddUintFlag(cmd *cobra.Command, fs FlagSet, registryKey string, target *uint) {
	def, ok := fs[registryKey]
	if !ok {
		return
	}

	defaultVal := defaults().GetUint(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().UintVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().UintVar(target, def.Name, defaultVal, def.Description)
	}
}

// AddIntFlag registers an int flag on cmd from the given FlagSet.
func AddIntFlag(cmd *cobra.Command, fs FlagSet, registryKey string, target *int) {
	def, ok := fs[registryKey]
	if !ok {
		return
	}

	defaultVal := defaults().GetInt(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().IntVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().IntVar(target, def.Name, defaultVal, def.Description)
	}
}

// AddFloatFlag registers a float64 flag on cmd from the given FlagSet.
func AddFloatFlag(cmd *cobra.Command, fs FlagSet, registryKey string, target *float64) {
	def, ok := fs[registryKey]
	if !ok {
		return
	}

	defaultVal := defaults().GetFloat64(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().Float64VarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().Float64Var(target, def.Name, defaultVal, def.Description)
	}
}

// AddBoolFlag registers a bool flag on cmd from the given FlagSet.
func AddBoolFlag(cmd *cobra.Command, fs FlagSet, registryKey string, target *bool) {
	def, ok := fs[registryKey]
	if !ok {
		return
	}

	defaultVal := defaults().GetBool(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().BoolVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().BoolVar(target, def.Name, defaultVal, def.Description)
	}
}

// BindRegisteredFlags binds already-registered flags to viper using definitions
// from the given FlagSet. Call this in PreRunE after InitViper to connect flags
// to the viper precedence chain (flag > env > config file > default).
func BindRegisteredFlags(v *viper.Viper, cmd *cobra.Command, fs FlagSet, registryKeys []string) {
	for _, registryKey := range registryKeys {
		def, ok := fs[registryKey]
		if !ok {
			continue
		}

		f := cmd.Flags().Lookup(def.Name)
		if f == nil {
			continue
		}

		_ = v.BindPFlag(def.ViperKey, f)
	}
}

// defaults returns a viper holding only the values from NewDefaultConfig.
func defaults() *viper.Viper {
	v := viper.New()
	setViperDefaults(v)
	return v
}
