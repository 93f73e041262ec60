package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/spool/pkg/cache"
	"github.com/papercomputeco/spool/pkg/eventstream"
	"github.com/papercomputeco/spool/pkg/identity"
	"github.com/papercomputeco/spool/pkg/ledger"
	"github.com/papercomputeco/spool/pkg/llm"
	"github.com/papercomputeco/spool/pkg/retrieval"
	"github.com/papercomputeco/spool/pkg/retry"
	"github.com/papercomputeco/spool/pkg/window"
)

// EventID is the emission ID of an artifact. Re-emitting an artifact
// reuses it.
func EventID(artifactID identity.ID) string {
	return identity.Identify(identity.KindInput, "artifact-finalized", artifactID).String()
}

// windowRun carries the state of one window through its stages.
type windowRun struct {
	o      *Orchestrator
	w      window.Window
	runID  uuid.UUID
	recs   map[ledger.Stage]ledger.Record
	res    WindowResult
	ran    bool
	log    *slog.Logger
	params genParams
	st     *runState
}

func (o *Orchestrator) processWindow(ctx context.Context, w window.Window, runID uuid.UUID, st *runState) (WindowResult, error) {
	r := &windowRun{
		o:      o,
		w:      w,
		runID:  runID,
		recs:   make(map[ledger.Stage]ledger.Record, 4),
		res:    WindowResult{WindowID: w.ID, Index: w.Index, Partial: w.Partial},
		log:    o.logger.With("window", w.ID, "index", w.Index),
		params: o.genParams(),
		st:     st,
	}

	for _, stage := range ledger.Stages() {
		rec, err := o.ledger.Status(ctx, r.key(stage))
		if err != nil {
			return r.res, storeErr("reading ledger", err)
		}
		r.recs[stage] = rec
	}

	if err := r.process(ctx); err != nil {
		return r.res, err
	}

	if r.res.Status == "" {
		r.res.Status = WindowSkipped
		if r.ran {
			r.res.Status = WindowDone
		}
	}
	r.log.Info("window processed",
		"status", r.res.Status,
		"artifact", r.res.ArtifactID,
		"degraded", r.res.ContextDegraded,
	)
	return r.res, nil
}

func (r *windowRun) key(stage ledger.Stage) ledger.Key {
	return ledger.Key{Window: r.w.ID, Stage: stage}
}

func (r *windowRun) process(ctx context.Context) error {
	o, w := r.o, r.w
	content := w.ContentHash()

	enrichHash := identity.Identify(identity.KindInput, string(ledger.StageEnrich),
		w.ID, content, o.enricher.version())
	generateHash := identity.Identify(identity.KindInput, string(ledger.StageGenerate),
		w.ID, content, o.enricher.version(), r.params)

	dEnrich := ledger.Decide(r.recs[ledger.StageEnrich], enrichHash)
	dGen := ledger.Decide(r.recs[ledger.StageGenerate], generateHash)

	if dEnrich == ledger.SkipFailed {
		return r.terminal(ledger.StageEnrich)
	}
	if dGen == ledger.SkipFailed {
		return r.terminal(ledger.StageGenerate)
	}

	var (
		enrichments []Enrichment
		resolved    bool
	)
	if dEnrich == ledger.Run {
		if err := r.pending(ctx, ledger.StageEnrich, enrichHash); err != nil {
			return err
		}
		es, err := o.enricher.resolve(ctx, w)
		if err != nil {
			return r.fail(ctx, ledger.StageEnrich, enrichHash, lookupFingerprint(err), err)
		}
		enrichments, resolved = es, true
		if err := r.finish(ctx, ledger.StageEnrich, enrichHash, enrichmentDigest(es).String()); err != nil {
			return err
		}
	}

	var art Artifact
	if dGen == ledger.Skip || dGen == ledger.Finalize {
		cached, ok, err := r.cachedArtifact(ctx)
		if err != nil {
			return err
		}
		stale := false
		if ok {
			if stale, err = r.staleContext(ctx, cached); err != nil {
				return err
			}
		}
		switch {
		case !ok:
			r.log.Debug("cached artifact missing, regenerating")
			dGen = ledger.Run
		case stale:
			r.log.Debug("context superseded, regenerating")
			dGen = ledger.Run
		default:
			art = cached
		}
	}

	if dGen == ledger.Run {
		if !resolved {
			es, err := o.enricher.resolve(ctx, w)
			if err != nil {
				return r.fail(ctx, ledger.StageGenerate, generateHash, lookupFingerprint(err), err)
			}
			enrichments = es
		}
		if err := r.pending(ctx, ledger.StageGenerate, generateHash); err != nil {
			return err
		}
		generated, fp, err := r.generate(ctx, enrichments)
		if err != nil {
			return r.fail(ctx, ledger.StageGenerate, generateHash, fp, err)
		}
		art = generated
		r.res.ArtifactID = art.ID
		if err := r.finish(ctx, ledger.StageGenerate, generateHash, fp.String()); err != nil {
			return err
		}
		if w.Partial {
			r.res.Status = WindowProvisional
			return nil
		}
	}
	r.res.ArtifactID = art.ID

	// A provisional window seen again unchanged is confirmed complete.
	if dEnrich == ledger.Finalize {
		if err := r.confirm(ctx, ledger.StageEnrich, enrichHash); err != nil {
			return err
		}
	}
	if dGen == ledger.Finalize {
		if err := r.confirm(ctx, ledger.StageGenerate, generateHash); err != nil {
			return err
		}
	}

	indexHash := identity.Identify(identity.KindInput, string(ledger.StageIndex), art.ID, o.indexModel())
	switch ledger.Decide(r.recs[ledger.StageIndex], indexHash) {
	case ledger.SkipFailed:
		return r.terminal(ledger.StageIndex)
	case ledger.Run, ledger.Finalize:
		if err := r.indexArtifact(ctx, art, indexHash); err != nil || r.res.Status == WindowFailed {
			return err
		}
	}

	emitHash := identity.Identify(identity.KindInput, string(ledger.StageEmit), art.ID)
	switch ledger.Decide(r.recs[ledger.StageEmit], emitHash) {
	case ledger.SkipFailed:
		return r.terminal(ledger.StageEmit)
	case ledger.Run, ledger.Finalize:
		return r.emit(ctx, art, emitHash)
	}
	return nil
}

func (r *windowRun) cachedArtifact(ctx context.Context) (Artifact, bool, error) {
	fp, err := identity.Parse(r.recs[ledger.StageGenerate].Output)
	if err != nil {
		return Artifact{}, false, nil
	}
	art, ok, err := cache.GetJSON[Artifact](ctx, r.o.cache, cache.TierGeneration, fp)
	if err != nil {
		return Artifact{}, false, storeErr("reading generation cache", err)
	}
	return art, ok, nil
}

// staleContext reports whether an artifact was generated from a context
// artifact its window has since replaced, or from a window the stream no
// longer builds.
func (r *windowRun) staleContext(ctx context.Context, art Artifact) (bool, error) {
	if len(art.ContextWindows) != len(art.ContextIDs) {
		return len(art.ContextIDs) > 0, nil
	}
	for i, wid := range art.ContextWindows {
		if wid == identity.Nil {
			continue
		}
		if r.st.replaced(wid) {
			return true, nil
		}
		cur, err := r.o.currentArtifact(ctx, r.st, wid)
		if err != nil {
			return false, err
		}
		if cur != identity.Nil && cur != art.ContextIDs[i] {
			return true, nil
		}
	}
	return false, nil
}

// generate produces the window's artifact, from the generation tier when
// the same window was already generated with the same context and
// parameters.
func (r *windowRun) generate(ctx context.Context, enrichments []Enrichment) (Artifact, identity.ID, error) {
	o, w := r.o, r.w

	var contexts []retrieval.Result
	if o.index != nil && o.contextK > 0 {
		var keepErr error
		scope := retrieval.Earlier(w.ID, w.Index)
		// Only the artifact a window of the current stream has indexed may
		// serve as context; a superseded one may linger in the vector store.
		scope.Keep = func(res retrieval.Result) bool {
			if keepErr != nil {
				return false
			}
			if res.WindowID == identity.Nil {
				return true
			}
			if r.st.replaced(res.WindowID) {
				return false
			}
			cur, err := o.currentArtifact(ctx, r.st, res.WindowID)
			if err != nil {
				keepErr = err
				return false
			}
			return cur == identity.Nil || cur == res.ArtifactID
		}
		results, degraded, err := o.index.Query(ctx, queryText(w), o.contextK, scope)
		if keepErr != nil {
			return Artifact{}, identity.Nil, keepErr
		}
		if err != nil {
			if ctx.Err() != nil {
				return Artifact{}, identity.Nil, ctx.Err()
			}
			return Artifact{}, identity.Nil, storeErr("querying retrieval index", err)
		}
		contexts = results
		if degraded {
			r.res.ContextDegraded = true
			r.log.Warn("retrieval unavailable, generating without context")
		}
	}

	contextIDs := make([]identity.ID, len(contexts))
	for i, c := range contexts {
		contextIDs[i] = c.ArtifactID
	}

	fp := identity.Identify(identity.KindGeneration,
		w.ID, w.ContentHash(), enrichmentDigest(enrichments), contextIDs, r.params)

	cached, ok, err := cache.GetJSON[Artifact](ctx, o.cache, cache.TierGeneration, fp)
	if err != nil {
		return Artifact{}, fp, storeErr("reading generation cache", err)
	}
	if ok {
		return cached, fp, nil
	}

	req, err := o.prompter.Build(w, enrichments, contexts)
	if err != nil {
		return Artifact{}, fp, llm.Fatal(fmt.Errorf("building prompt: %w", err))
	}
	req.Model = o.model
	req.Params = o.params

	resp, err := retry.Value(ctx, o.retry, func(ctx context.Context) (llm.Response, error) {
		o.genCalls.Add(1)
		return o.generator.Generate(ctx, req)
	})
	if err != nil {
		return Artifact{}, fp, err
	}
	if strings.TrimSpace(resp.Text) == "" {
		return Artifact{}, fp, errors.New("backend returned an empty completion")
	}

	art := newArtifact(w, resp.Text, contexts, fp, o.generator.Name(), o.model)
	if err := cache.PutJSON(ctx, o.cache, cache.TierGeneration, fp, art); err != nil {
		return Artifact{}, fp, storeErr("writing generation cache", err)
	}
	return art, fp, nil
}

func (r *windowRun) indexArtifact(ctx context.Context, art Artifact, hash identity.ID) error {
	o := r.o
	if err := r.pending(ctx, ledger.StageIndex, hash); err != nil {
		return err
	}

	if o.index != nil {
		_, err := o.index.Insert(ctx, retrieval.Item{
			ArtifactID:  art.ID,
			WindowID:    art.WindowID,
			WindowIndex: art.WindowIndex,
			Content:     art.Content,
			CreatedAt:   art.WindowEnd,
		})
		if err != nil {
			if errors.Is(err, retrieval.ErrCache) {
				return storeErr("indexing artifact", err)
			}
			return r.fail(ctx, ledger.StageIndex, hash, art.Fingerprint, err)
		}

		prior := r.recs[ledger.StageIndex].Output
		if prior == "" {
			prior = r.st.superseded[r.w.ID]
		}
		if o.prune && prior != "" && prior != art.ID.String() {
			if old, err := identity.Parse(prior); err == nil {
				if err := o.index.Prune(ctx, []identity.ID{old}); err != nil {
					r.log.Warn("pruning superseded artifact", "artifact", old, "error", err)
				}
			}
		}
	}

	return r.done(ctx, ledger.StageIndex, hash, art.ID.String())
}

func (r *windowRun) emit(ctx context.Context, art Artifact, hash identity.ID) error {
	o, w := r.o, r.w
	if err := r.pending(ctx, ledger.StageEmit, hash); err != nil {
		return err
	}

	contextIDs := make([]string, len(art.ContextIDs))
	for i, id := range art.ContextIDs {
		contextIDs[i] = id.String()
	}
	evt := &eventstream.ArtifactFinalizedEvent{
		SchemaVersion: eventstream.SchemaVersionV1,
		EventType:     eventstream.EventTypeArtifactFinalized,
		EventID:       EventID(art.ID),
		EmittedAt:     time.Now().UTC(),
		Source: eventstream.EventSource{
			RunID:    r.runID.String(),
			Provider: art.Provider,
			Model:    art.Model,
		},
		Window: eventstream.WindowMeta{
			ID:      w.ID.String(),
			Index:   w.Index,
			Start:   art.WindowStart,
			End:     art.WindowEnd,
			Events:  len(w.Events),
			Overlap: w.Overlap,
		},
		Artifact: eventstream.ArtifactBody{
			ID:              art.ID.String(),
			Content:         art.Content,
			ContextIDs:      contextIDs,
			Fingerprint:     art.Fingerprint.String(),
			ContextDegraded: r.res.ContextDegraded,
		},
	}

	err := o.retry.Do(ctx, func(ctx context.Context) error {
		o.emits.Add(1)
		return o.publisher.PublishArtifact(ctx, evt)
	})
	if err != nil {
		return r.fail(ctx, ledger.StageEmit, hash, art.Fingerprint, err)
	}
	return r.done(ctx, ledger.StageEmit, hash, evt.EventID)
}

func (r *windowRun) pending(ctx context.Context, stage ledger.Stage, hash identity.ID) error {
	r.ran = true
	return storeErr("marking pending", r.o.ledger.MarkPending(ctx, r.key(stage), hash))
}

func (r *windowRun) done(ctx context.Context, stage ledger.Stage, hash identity.ID, output string) error {
	return storeErr("marking done", r.o.ledger.MarkDone(ctx, r.key(stage), hash, output))
}

// finish records a completed stage, provisionally for a partial window.
func (r *windowRun) finish(ctx context.Context, stage ledger.Stage, hash identity.ID, output string) error {
	if r.w.Partial {
		return storeErr("marking provisional", r.o.ledger.MarkProvisional(ctx, r.key(stage), hash, output))
	}
	return r.done(ctx, stage, hash, output)
}

func (r *windowRun) confirm(ctx context.Context, stage ledger.Stage, hash identity.ID) error {
	r.ran = true
	return r.done(ctx, stage, hash, r.recs[stage].Output)
}

// terminal reports a stage that failed terminally with the same inputs in
// an earlier run. Nothing is written.
func (r *windowRun) terminal(stage ledger.Stage) error {
	rec := r.recs[stage]
	r.res.Status = WindowFailed
	r.res.Err = &StageError{
		Window:   r.w.ID,
		Index:    r.w.Index,
		Stage:    stage,
		Terminal: true,
		Err:      errors.New(rec.Reason),
	}
	r.log.Debug("skipping terminally failed stage", "stage", stage, "reason", rec.Reason)
	return nil
}

// fail records a failed stage and isolates it to this window. Store
// failures and cancellation are returned to abort the run.
func (r *windowRun) fail(ctx context.Context, stage ledger.Stage, hash, fp identity.ID, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}

	terminal := llm.IsFatal(err)
	failure := ledger.Failure{Reason: err.Error(), Terminal: terminal}
	if mErr := r.o.ledger.MarkFailed(ctx, r.key(stage), hash, failure); mErr != nil {
		return storeErr("marking failed", mErr)
	}

	r.res.Status = WindowFailed
	r.res.Err = &StageError{
		Window:      r.w.ID,
		Index:       r.w.Index,
		Stage:       stage,
		Fingerprint: fp,
		Terminal:    terminal,
		Err:         err,
	}
	r.log.Warn("stage failed", "stage", stage, "terminal", terminal, "error", err)
	return nil
}

func lookupFingerprint(err error) identity.ID {
	var le *lookupError
	if errors.As(err, &le) {
		return le.fp
	}
	return identity.Nil
}
