// Package stack assembles the stores, backends and pipeline described by a
// resolved configuration. Every spool command opens what it needs through
// here so flag, env and file settings mean the same thing everywhere.
package stack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/papercomputeco/spool/pkg/cache"
	"github.com/papercomputeco/spool/pkg/config"
	"github.com/papercomputeco/spool/pkg/credentials"
	"github.com/papercomputeco/spool/pkg/dotdir"
	embeddingutils "github.com/papercomputeco/spool/pkg/embeddings/utils"
	"github.com/papercomputeco/spool/pkg/eventstream"
	eventstreamutils "github.com/papercomputeco/spool/pkg/eventstream/utils"
	"github.com/papercomputeco/spool/pkg/llm"
	"github.com/papercomputeco/spool/pkg/llm/provider"
	"github.com/papercomputeco/spool/pkg/pipeline"
	"github.com/papercomputeco/spool/pkg/retrieval"
	"github.com/papercomputeco/spool/pkg/retry"
	"github.com/papercomputeco/spool/pkg/storage"
	storageutils "github.com/papercomputeco/spool/pkg/storage/utils"
	vectorutils "github.com/papercomputeco/spool/pkg/vector/utils"
)

// describeMaxTokens bounds lookup descriptions.
const describeMaxTokens = 256

// Stack holds opened components. Fields a command did not ask for are nil.
type Stack struct {
	Config *config.Config

	Store storage.Driver
	Cache *cache.Cache

	// Index is nil when retrieval is disabled.
	Index *retrieval.Index

	Publisher eventstream.Publisher
	Pipeline  *pipeline.Orchestrator

	configDir string
	logger    *slog.Logger
	closers   []func() error
}

// OpenState opens the durable store and the cache over it.
func OpenState(ctx context.Context, cfg *config.Config, configDir string, logger *slog.Logger) (*Stack, error) {
	s := &Stack{Config: cfg, configDir: configDir, logger: logger}

	sqlitePath := cfg.Storage.SQLitePath
	if sqlitePath == "" && (cfg.Storage.Provider == "sqlite" || cfg.Storage.Provider == "") {
		var err error
		sqlitePath, err = dotdir.NewManager().Path(configDir, dotdir.DatabaseFile)
		if err != nil {
			return nil, err
		}
	}

	store, err := storageutils.NewDriver(ctx, &storageutils.NewDriverOpts{
		ProviderType: cfg.Storage.Provider,
		SQLitePath:   sqlitePath,
		PostgresDSN:  cfg.Storage.PostgresDSN,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	s.Store = store
	s.closers = append(s.closers, store.Close)
	s.Cache = cache.New(store, logger)

	return s, nil
}

// OpenIndex adds the retrieval index when retrieval is enabled.
func (s *Stack) OpenIndex(ctx context.Context) error {
	cfg := s.Config
	if !cfg.Retrieval.Enabled {
		s.logger.Debug("retrieval disabled")
		return nil
	}

	creds, err := credentials.NewManager(s.configDir)
	if err != nil {
		return err
	}

	embedder, err := embeddingutils.NewEmbedder(&embeddingutils.NewEmbedderOpts{
		ProviderType: cfg.Embedding.Provider,
		TargetURL:    cfg.Embedding.Target,
		Model:        cfg.Embedding.Model,
		Dimensions:   int(cfg.Embedding.Dimensions),
		Credentials:  creds,
	})
	if err != nil {
		return fmt.Errorf("creating embedder: %w", err)
	}
	s.closers = append(s.closers, embedder.Close)

	target := cfg.VectorStore.Target
	if target == "" && cfg.VectorStore.Provider == "sqlite" {
		target, err = dotdir.NewManager().Path(s.configDir, dotdir.VectorFile)
		if err != nil {
			return err
		}
	}

	vectors, err := vectorutils.NewVectorDriver(ctx, &vectorutils.NewVectorDriverOpts{
		ProviderType: cfg.VectorStore.Provider,
		TargetURL:    target,
		Collection:   cfg.VectorStore.Collection,
		Dimensions:   cfg.Embedding.Dimensions,
		Logger:       s.logger,
	})
	if err != nil {
		return fmt.Errorf("creating vector store: %w", err)
	}
	s.closers = append(s.closers, vectors.Close)

	s.Index, err = retrieval.New(retrieval.Config{
		Vectors:  vectors,
		Embedder: embedder,
		Cache:    s.Cache,
		Retry:    retry.Policy{MaxAttempts: 2, Retryable: llm.IsTransient},
		Logger:   s.logger,
	})
	return err
}

// OpenPipeline adds the generator, the publisher and the orchestrator.
func (s *Stack) OpenPipeline() error {
	cfg := s.Config

	policy, err := cfg.Window.Policy()
	if err != nil {
		return err
	}
	tolerance, err := cfg.Window.ToleranceDuration()
	if err != nil {
		return err
	}
	timeout, err := cfg.Generation.TimeoutDuration()
	if err != nil {
		return err
	}
	base, limit, err := cfg.Pipeline.BackoffDurations()
	if err != nil {
		return err
	}

	creds, err := credentials.NewManager(s.configDir)
	if err != nil {
		return err
	}

	gen, err := provider.New(provider.Config{
		Provider:    cfg.Generation.Provider,
		Model:       cfg.Generation.Model,
		BaseURL:     cfg.Generation.BaseURL,
		Timeout:     timeout,
		Credentials: creds,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("creating generator: %w", err)
	}

	artifactsPath := cfg.EventStream.Path
	if artifactsPath == "" && cfg.EventStream.Provider == "jsonl" {
		artifactsPath, err = dotdir.NewManager().Path(s.configDir, dotdir.ArtifactsFile)
		if err != nil {
			return err
		}
	}
	s.Publisher, err = eventstreamutils.NewPublisher(&eventstreamutils.NewPublisherOpts{
		ProviderType: cfg.EventStream.Provider,
		Path:         artifactsPath,
		Brokers:      cfg.EventStream.Brokers,
		Topic:        cfg.EventStream.Topic,
		Logger:       s.logger,
	})
	if err != nil {
		return fmt.Errorf("creating publisher: %w", err)
	}
	s.closers = append(s.closers, s.Publisher.Close)

	var describer pipeline.Describer
	if cfg.Enrichment.Enabled {
		describer = pipeline.GeneratorDescriber{
			Generator: gen,
			Params:    llm.Params{MaxTokens: describeMaxTokens},
		}
	}

	var limiter *rate.Limiter
	if cfg.Pipeline.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Pipeline.RateLimit), max(cfg.Pipeline.Burst, 1))
	}

	contextK := cfg.Retrieval.ContextK
	if contextK == 0 {
		contextK = -1
	}

	s.Pipeline, err = pipeline.New(pipeline.Config{
		Policy:          policy,
		Tolerance:       tolerance,
		Cache:           s.Cache,
		Ledger:          s.Store,
		Runs:            s.Store,
		Generator:       gen,
		Params:          cfg.Generation.Params(),
		Prompter:        pipeline.DefaultPrompter{System: cfg.Generation.SystemPrompt},
		Describer:       describer,
		Index:           s.Index,
		ContextK:        contextK,
		PruneSuperseded: cfg.Retrieval.PruneSuperseded,
		Publisher:       s.Publisher,
		Retry: retry.Policy{
			MaxAttempts: cfg.Pipeline.MaxAttempts,
			Backoff:     retry.Exponential(base, limit),
			Retryable:   llm.IsTransient,
			OnRetry: func(attempt int, wait time.Duration, err error) {
				s.logger.Warn("retrying backend call", "attempt", attempt, "wait", wait, "error", err)
			},
		},
		Limiter: limiter,
		Workers: cfg.Pipeline.Workers,
		Logger:  s.logger,
	})
	if err != nil {
		return err
	}
	s.closers = append(s.closers, func() error { s.Pipeline.Close(); return nil })
	return nil
}

// Close releases everything in reverse opening order.
func (s *Stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
