package config

const (
	defaultStorageProvider = "sqlite"

	defaultWindowMode  = "count"
	defaultWindowStep  = 6
	defaultWindowUnit  = "hours"
	defaultWindowCount = 100
	defaultWindowBytes = 64 << 10

	defaultProvider          = "ollama"
	defaultUpstream          = "http://localhost:11434"
	defaultMaxTokens         = 1024
	defaultGenerationTimeout = "2m"

	defaultEmbeddingModel      = "nomic-embed-text"
	defaultEmbeddingDimensions = 768

	defaultVectorProvider   = "sqlite"
	defaultVectorCollection = "spool"

	defaultContextK = 5

	defaultWorkers     = 4
	defaultMaxAttempts = 3
	defaultBackoff     = "1s"
	defaultMaxBackoff  = "30s"
	defaultBurst       = 1

	defaultEventStreamProvider = "jsonl"
	defaultEventStreamTopic    = "spool.artifacts"

	defaultAPIListen = ":8081"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Storage: StorageConfig{
			Provider: defaultStorageProvider,
		},
		Window: WindowConfig{
			Mode:     defaultWindowMode,
			Step:     defaultWindowStep,
			Unit:     defaultWindowUnit,
			Count:    defaultWindowCount,
			MaxBytes: defaultWindowBytes,
		},
		Generation: GenerationConfig{
			Provider:  defaultProvider,
			MaxTokens: defaultMaxTokens,
			Timeout:   defaultGenerationTimeout,
		},
		Embedding: EmbeddingConfig{
			Provider:   defaultProvider,
			Target:     defaultUpstream,
			Model:      defaultEmbeddingModel,
			Dimensions: defaultEmbeddingDimensions,
		},
		VectorStore: VectorStoreConfig{
			Provider:   defaultVectorProvider,
			Collection: defaultVectorCollection,
		},
		Retrieval: RetrievalConfig{
			Enabled:  true,
			ContextK: defaultContextK,
		},
		Pipeline: PipelineConfig{
			Workers:     defaultWorkers,
			MaxAttempts: defaultMaxAttempts,
			Backoff:     defaultBackoff,
			MaxBackoff:  defaultMaxBackoff,
			Burst:       defaultBurst,
		},
		EventStream: EventStreamConfig{
			Provider: defaultEventStreamProvider,
			Topic:    defaultEventStreamTopic,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
	}
}
