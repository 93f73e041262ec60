package stack

import (
	"github.com/spf13/cobra"

	"github.com/papercomputeco/spool/pkg/config"
)

// Flags holds flag targets. Commands read resolved values through Resolve,
// never from these fields, so file and env settings are honored.
type Flags struct {
	storage, sqlite, postgres string

	windowMode, windowUnit, tolerance string
	windowStep, windowCount, maxBytes int
	overlap                           float64

	provider, model, baseURL string
	enrich                   bool

	embeddingProvider, embeddingTarget, embeddingModel string
	embeddingDims                                      uint
	vectorProvider, vectorTarget                       string
	contextK                                           int

	workers   uint
	rateLimit float64

	eventstream, eventstreamPath, kafkaBrokers, kafkaTopic string

	listen string
}

// AddStorageFlags registers the state store flags.
func AddStorageFlags(cmd *cobra.Command, f *Flags) []string {
	config.AddStringFlag(cmd, config.Flags, config.FlagStorageProvider, &f.storage)
	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &f.sqlite)
	config.AddStringFlag(cmd, config.Flags, config.FlagPostgres, &f.postgres)
	return []string{config.FlagStorageProvider, config.FlagSQLite, config.FlagPostgres}
}

// AddRetrievalFlags registers the embedding and vector store flags.
func AddRetrievalFlags(cmd *cobra.Command, f *Flags) []string {
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingProv, &f.embeddingProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingTgt, &f.embeddingTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingModel, &f.embeddingModel)
	config.AddUintFlag(cmd, config.Flags, config.FlagEmbeddingDims, &f.embeddingDims)
	config.AddStringFlag(cmd, config.Flags, config.FlagVectorStoreProv, &f.vectorProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagVectorStoreTgt, &f.vectorTarget)
	return []string{
		config.FlagEmbeddingProv, config.FlagEmbeddingTgt, config.FlagEmbeddingModel, config.FlagEmbeddingDims,
		config.FlagVectorStoreProv, config.FlagVectorStoreTgt,
	}
}

// AddPipelineFlags registers windowing, generation and publishing flags.
func AddPipelineFlags(cmd *cobra.Command, f *Flags) []string {
	config.AddStringFlag(cmd, config.Flags, config.FlagWindowMode, &f.windowMode)
	config.AddIntFlag(cmd, config.Flags, config.FlagWindowStep, &f.windowStep)
	config.AddStringFlag(cmd, config.Flags, config.FlagWindowUnit, &f.windowUnit)
	config.AddIntFlag(cmd, config.Flags, config.FlagWindowCount, &f.windowCount)
	config.AddIntFlag(cmd, config.Flags, config.FlagWindowMaxBytes, &f.maxBytes)
	config.AddFloatFlag(cmd, config.Flags, config.FlagOverlap, &f.overlap)
	config.AddStringFlag(cmd, config.Flags, config.FlagTolerance, &f.tolerance)

	config.AddStringFlag(cmd, config.Flags, config.FlagProvider, &f.provider)
	config.AddStringFlag(cmd, config.Flags, config.FlagModel, &f.model)
	config.AddStringFlag(cmd, config.Flags, config.FlagBaseURL, &f.baseURL)
	config.AddBoolFlag(cmd, config.Flags, config.FlagEnrich, &f.enrich)
	config.AddIntFlag(cmd, config.Flags, config.FlagContextK, &f.contextK)

	config.AddUintFlag(cmd, config.Flags, config.FlagWorkers, &f.workers)
	config.AddFloatFlag(cmd, config.Flags, config.FlagRateLimit, &f.rateLimit)

	config.AddStringFlag(cmd, config.Flags, config.FlagEventStream, &f.eventstream)
	config.AddStringFlag(cmd, config.Flags, config.FlagEventStreamPath, &f.eventstreamPath)
	config.AddStringFlag(cmd, config.Flags, config.FlagKafkaBrokers, &f.kafkaBrokers)
	config.AddStringFlag(cmd, config.Flags, config.FlagKafkaTopic, &f.kafkaTopic)

	return []string{
		config.FlagWindowMode, config.FlagWindowStep, config.FlagWindowUnit, config.FlagWindowCount,
		config.FlagWindowMaxBytes, config.FlagOverlap, config.FlagTolerance,
		config.FlagProvider, config.FlagModel, config.FlagBaseURL, config.FlagEnrich, config.FlagContextK,
		config.FlagWorkers, config.FlagRateLimit,
		config.FlagEventStream, config.FlagEventStreamPath, config.FlagKafkaBrokers, config.FlagKafkaTopic,
	}
}

// AddAPIFlags registers the API server flags.
func AddAPIFlags(cmd *cobra.Command, f *Flags) []string {
	config.AddStringFlag(cmd, config.Flags, config.FlagAPIListen, &f.listen)
	return []string{config.FlagAPIListen}
}
