// Package pipeline is the incremental engine that turns an event stream
// into artifacts.
//
// A run windows the stream and walks every window through four stages:
// enrich, generate, index and emit. Before each stage the ledger decides,
// from the stage's input hash alone, whether the stage already ran with the
// same inputs. Before each expensive call the cache is consulted. A second
// run over unchanged input therefore makes no backend calls and writes
// nothing to the ledger.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/papercomputeco/spool/pkg/cache"
	"github.com/papercomputeco/spool/pkg/event"
	"github.com/papercomputeco/spool/pkg/eventstream"
	"github.com/papercomputeco/spool/pkg/eventstream/nop"
	"github.com/papercomputeco/spool/pkg/identity"
	"github.com/papercomputeco/spool/pkg/ledger"
	"github.com/papercomputeco/spool/pkg/llm"
	"github.com/papercomputeco/spool/pkg/logger"
	"github.com/papercomputeco/spool/pkg/retrieval"
	"github.com/papercomputeco/spool/pkg/retry"
	"github.com/papercomputeco/spool/pkg/storage"
	"github.com/papercomputeco/spool/pkg/window"
	"github.com/papercomputeco/spool/pkg/worker"
)

// DefaultContextK is the number of earlier artifacts offered as context.
const DefaultContextK = 5

// Config wires an Orchestrator.
type Config struct {
	Policy    window.Policy
	Tolerance time.Duration

	Cache  *cache.Cache
	Ledger ledger.Ledger

	// Runs keeps run history. Nil disables it.
	Runs ledger.RunStore

	Generator llm.Generator

	// Model overrides the generator's default model.
	Model  string
	Params llm.Params

	// Prompter defaults to DefaultPrompter.
	Prompter Prompter

	// Describer resolves window references. Nil disables enrichment.
	Describer Describer

	// Index supplies context and receives artifacts. Nil disables
	// retrieval.
	Index *retrieval.Index

	// ContextK is the number of context artifacts per window. Zero uses
	// DefaultContextK; a negative value disables context queries while
	// still indexing.
	ContextK int

	// PruneSuperseded removes an artifact from the index once its window
	// produced a newer one.
	PruneSuperseded bool

	// Publisher receives finalized artifacts. Nil discards them.
	Publisher eventstream.Publisher

	// Retry governs generation, lookup and emission calls. A nil Retryable
	// retries llm.IsTransient errors.
	Retry retry.Policy

	// Limiter throttles generation calls, including the lookups of a
	// GeneratorDescriber.
	Limiter *rate.Limiter

	// Pool runs lookups. When nil the Orchestrator owns a pool of Workers
	// goroutines.
	Pool    *worker.Pool
	Workers uint

	Logger *slog.Logger
}

// RunOptions adjust one run.
type RunOptions struct {
	// Refresh invalidates cache tiers, and the ledger stages that depend on
	// them, before processing.
	Refresh cache.RefreshScope
}

// Orchestrator runs the pipeline. Runs must not overlap.
type Orchestrator struct {
	builder   *window.Builder
	cache     *cache.Cache
	ledger    ledger.Ledger
	runs      ledger.RunStore
	generator llm.Generator
	model     string
	params    llm.Params
	prompter  Prompter
	enricher  *enricher
	index     *retrieval.Index
	contextK  int
	prune     bool
	publisher eventstream.Publisher
	retry     retry.Policy
	pool      *worker.Pool
	ownPool   bool
	logger    *slog.Logger

	rejected atomic.Int64
	genCalls atomic.Int64
	emits    atomic.Int64
}

// New validates c and returns an Orchestrator.
func New(c Config) (*Orchestrator, error) {
	if c.Cache == nil {
		return nil, errors.New("cache is required")
	}
	if c.Ledger == nil {
		return nil, errors.New("ledger is required")
	}
	if c.Generator == nil {
		return nil, errors.New("generator is required")
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}
	if c.Prompter == nil {
		c.Prompter = DefaultPrompter{}
	}
	if c.Publisher == nil {
		c.Publisher = nop.NewPublisher()
	}
	if c.Retry.Retryable == nil {
		c.Retry.Retryable = llm.IsTransient
	}
	if c.ContextK == 0 {
		c.ContextK = DefaultContextK
	}
	if gd, ok := c.Describer.(GeneratorDescriber); ok && gd.Generator != nil {
		gd.Generator = llm.WithRateLimit(gd.Generator, c.Limiter)
		c.Describer = gd
	}

	o := &Orchestrator{
		cache:     c.Cache,
		ledger:    c.Ledger,
		runs:      c.Runs,
		generator: llm.WithRateLimit(c.Generator, c.Limiter),
		model:     c.Model,
		params:    c.Params,
		prompter:  c.Prompter,
		index:     c.Index,
		contextK:  max(c.ContextK, 0),
		prune:     c.PruneSuperseded,
		publisher: c.Publisher,
		retry:     c.Retry,
		pool:      c.Pool,
		logger:    c.Logger,
	}
	if o.model == "" {
		o.model = c.Generator.Model()
	}

	builder, err := window.NewBuilder(c.Policy,
		window.WithTolerance(c.Tolerance),
		window.WithRejectHandler(o.onReject),
	)
	if err != nil {
		return nil, fmt.Errorf("window policy: %w", err)
	}
	o.builder = builder

	if o.pool == nil {
		pool, err := worker.NewPool(worker.Config{NumWorkers: c.Workers, Logger: c.Logger})
		if err != nil {
			return nil, err
		}
		o.pool = pool
		o.ownPool = true
	}

	if c.Describer != nil {
		o.enricher = &enricher{
			describer: c.Describer,
			cache:     c.Cache,
			pool:      o.pool,
			retry:     c.Retry,
		}
	}
	return o, nil
}

// Close stops the worker pool if the Orchestrator created it.
func (o *Orchestrator) Close() {
	if o.ownPool {
		o.pool.Close()
	}
}

// Policy is the windowing policy of every run.
func (o *Orchestrator) Policy() window.Policy {
	return o.builder.Policy()
}

func (o *Orchestrator) onReject(r window.Rejection) {
	o.rejected.Add(1)
	o.logger.Warn("rejected input", "position", r.Position, "event", r.Event.ID, "error", r.Err)
}

func (o *Orchestrator) backendCalls() int64 {
	n := o.genCalls.Load() + o.emits.Load()
	if o.enricher != nil {
		n += o.enricher.calls.Load()
	}
	if o.index != nil {
		s := o.index.Stats()
		n += s.Embeds + s.Inserts + s.Queries
	}
	return n
}

// Run processes every window of src in order. Window failures are
// reported in the summary; the returned error is reserved for conditions
// that abort the run, a *StoreError or the context's error.
func (o *Orchestrator) Run(ctx context.Context, src event.Source, opts RunOptions) (*Summary, error) {
	summary := &Summary{
		RunID:     uuid.New(),
		StartedAt: time.Now().UTC(),
		Refresh:   opts.Refresh,
	}
	record := ledger.RunRecord{
		ID:        summary.RunID,
		StartedAt: summary.StartedAt,
		Status:    ledger.RunRunning,
		Refresh:   opts.Refresh.String(),
	}
	if err := o.saveRun(ctx, record); err != nil {
		return summary, err
	}

	log := o.logger.With("run", summary.RunID)
	log.Info("run started", "policy", o.Policy().String(), "refresh", opts.Refresh.String())

	rejected := o.rejected.Load()
	calls := o.backendCalls()
	stats := o.cache.Stats()

	runErr := o.run(ctx, src, opts, summary, log)

	summary.FinishedAt = time.Now().UTC()
	summary.Counts.Rejected = int(o.rejected.Load() - rejected)
	summary.Counts.BackendCalls = int(o.backendCalls() - calls)
	for tier, after := range o.cache.Stats() {
		summary.Counts.CacheHits += after.Hits - stats[tier].Hits
		summary.Counts.CacheMisses += after.Misses - stats[tier].Misses
	}

	record.FinishedAt = summary.FinishedAt
	record.Counts = summary.Counts
	record.Status = ledger.RunCompleted
	if runErr != nil {
		record.Status = ledger.RunAborted
		record.Error = runErr.Error()
	}
	if err := o.saveRun(context.WithoutCancel(ctx), record); err != nil && runErr == nil {
		runErr = err
	}

	if runErr != nil {
		log.Error("run aborted", "error", runErr, "windows", summary.Counts.Windows)
	} else {
		log.Info("run completed",
			"windows", summary.Counts.Windows,
			"done", summary.Counts.Done,
			"skipped", summary.Counts.Skipped,
			"failed", summary.Counts.Failed,
			"provisional", summary.Counts.Provisional,
			"degraded", summary.Counts.Degraded,
			"backend_calls", summary.Counts.BackendCalls,
			"duration", summary.FinishedAt.Sub(summary.StartedAt),
		)
	}
	return summary, runErr
}

func (o *Orchestrator) run(ctx context.Context, src event.Source, opts RunOptions, summary *Summary, log *slog.Logger) error {
	superseded, err := o.refresh(ctx, opts.Refresh, log)
	if err != nil {
		return err
	}

	// A source error aborts the run before the window it cut short.
	var srcErr error
	events := func(yield func(event.Event, error) bool) {
		for e, err := range src.Events(ctx) {
			if event.IsSourceError(err) {
				srcErr = err
				return
			}
			if !yield(e, err) {
				return
			}
		}
	}

	st := &runState{
		superseded: superseded,
		current:    make(map[identity.ID]identity.ID),
		windows:    make(map[identity.ID]int),
	}
	for w := range o.builder.Windows(events) {
		if srcErr != nil {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		st.windows[w.ID] = w.Index
		res, err := o.processWindow(ctx, w, summary.RunID, st)
		if err != nil {
			return err
		}
		// The window's index record may have moved on.
		delete(st.current, w.ID)
		summary.add(res)
	}
	if srcErr != nil {
		return srcErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return o.retireSuperseded(ctx, st, log)
}

// runState is shared by the windows of one run.
type runState struct {
	// superseded maps a window to the artifact it had indexed before a
	// refresh reset its ledger rows.
	superseded map[identity.ID]string

	// current memoizes the artifact each window has indexed.
	current map[identity.ID]identity.ID

	// windows maps the windows built so far to their index. Windows run in
	// order, so every window before the current one is present, and an
	// earlier window missing from it was replaced by a rebuilt window.
	windows map[identity.ID]int
}

// replaced reports whether an earlier window is no longer part of the
// stream, as when a trailing partial window grew into a new one.
func (st *runState) replaced(windowID identity.ID) bool {
	_, ok := st.windows[windowID]
	return !ok
}

// SupersededBy is the index record output of a window whose artifact was
// retired after another window took its place.
func SupersededBy(windowID identity.ID) string {
	return supersededPrefix + windowID.String()
}

const supersededPrefix = "superseded-by:"

// retireSuperseded prunes the indexed artifacts of windows that a window of
// this run replaced at the same index. Their index records are rewritten to
// name the replacement, so later runs leave them alone.
func (o *Orchestrator) retireSuperseded(ctx context.Context, st *runState, log *slog.Logger) error {
	if !o.prune || o.index == nil {
		return nil
	}

	recs, err := o.ledger.List(ctx, ledger.Filter{Stage: ledger.StageIndex, Status: ledger.StatusDone})
	if err != nil {
		return storeErr("listing index records", err)
	}

	byIndex := make(map[int]identity.ID, len(st.windows))
	for id, index := range st.windows {
		byIndex[index] = id
	}

	for _, rec := range recs {
		if !st.replaced(rec.Window) {
			continue
		}
		artifactID, err := identity.Parse(rec.Output)
		if err != nil {
			continue
		}
		art, err := LoadArtifact(ctx, o.cache, o.ledger, rec.Window)
		if err != nil {
			var nf *storage.NotFoundError
			if errors.As(err, &nf) {
				continue
			}
			return storeErr("loading artifact", err)
		}
		next, ok := byIndex[art.WindowIndex]
		if !ok {
			continue
		}

		if err := o.index.Prune(ctx, []identity.ID{artifactID}); err != nil {
			if errors.Is(err, retrieval.ErrCache) {
				return storeErr("pruning artifact", err)
			}
			log.Warn("pruning superseded artifact", "artifact", artifactID, "error", err)
			continue
		}
		if err := o.ledger.MarkDone(ctx, rec.Key, rec.InputHash, SupersededBy(next)); err != nil {
			return storeErr("marking superseded", err)
		}
		log.Info("retired superseded window",
			"window", rec.Window,
			"index", art.WindowIndex,
			"replaced_by", next,
			"artifact", artifactID,
		)
	}
	return nil
}

// currentArtifact returns the artifact a window has indexed, or identity.Nil
// when it has none.
func (o *Orchestrator) currentArtifact(ctx context.Context, st *runState, windowID identity.ID) (identity.ID, error) {
	if id, ok := st.current[windowID]; ok {
		return id, nil
	}
	rec, err := o.ledger.Status(ctx, ledger.Key{Window: windowID, Stage: ledger.StageIndex})
	if err != nil {
		return identity.Nil, storeErr("reading ledger", err)
	}
	id := identity.Nil
	if rec.Status == ledger.StatusDone || rec.Status == ledger.StatusProvisional {
		if parsed, err := identity.Parse(rec.Output); err == nil {
			id = parsed
		}
	}
	st.current[windowID] = id
	return id, nil
}

func (o *Orchestrator) saveRun(ctx context.Context, r ledger.RunRecord) error {
	if o.runs == nil {
		return nil
	}
	return storeErr("saving run", o.runs.SaveRun(ctx, r))
}

// RefreshStages lists the ledger stages reset by scope.
func RefreshStages(scope cache.RefreshScope) []ledger.Stage {
	switch scope {
	case cache.RefreshGeneration, cache.RefreshRetrieval:
		return []ledger.Stage{ledger.StageGenerate, ledger.StageIndex, ledger.StageEmit}
	case cache.RefreshAll:
		return ledger.Stages()
	default:
		return nil
	}
}

// refresh invalidates the tiers of scope and resets the dependent stages.
// It returns the artifact last indexed for each window so superseded
// artifacts can still be pruned after their ledger rows are gone.
func (o *Orchestrator) refresh(ctx context.Context, scope cache.RefreshScope, log *slog.Logger) (map[identity.ID]string, error) {
	if scope == cache.RefreshNone {
		return nil, nil
	}

	var superseded map[identity.ID]string
	if o.prune && o.index != nil {
		recs, err := o.ledger.List(ctx, ledger.Filter{Stage: ledger.StageIndex})
		if err != nil {
			return nil, storeErr("listing index records", err)
		}
		superseded = make(map[identity.ID]string, len(recs))
		for _, r := range recs {
			if r.Output != "" {
				superseded[r.Window] = r.Output
			}
		}
	}

	removed, err := o.cache.Refresh(ctx, scope)
	if err != nil {
		return nil, storeErr("refreshing cache", err)
	}
	reset, err := o.ledger.Reset(ctx, RefreshStages(scope)...)
	if err != nil {
		return nil, storeErr("resetting ledger", err)
	}

	log.Info("refreshed", "scope", scope.String(), "cache_entries", removed, "ledger_records", reset)
	return superseded, nil
}

// genParams are the run parameters that affect a generation's result.
type genParams struct {
	Provider string     `json:"provider"`
	Model    string     `json:"model"`
	Params   llm.Params `json:"params"`
	Prompt   string     `json:"prompt"`
	ContextK int        `json:"context_k"`
}

func (o *Orchestrator) genParams() genParams {
	p := genParams{
		Provider: o.generator.Name(),
		Model:    o.model,
		Params:   o.params,
		Prompt:   o.prompter.Version(),
	}
	if o.index != nil {
		p.ContextK = o.contextK
	}
	return p
}

func (o *Orchestrator) indexModel() string {
	if o.index == nil {
		return "disabled"
	}
	return o.index.Model()
}
