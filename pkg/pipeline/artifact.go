package pipeline

import (
	"context"
	"time"

	"github.com/papercomputeco/spool/pkg/cache"
	"github.com/papercomputeco/spool/pkg/identity"
	"github.com/papercomputeco/spool/pkg/ledger"
	"github.com/papercomputeco/spool/pkg/retrieval"
	"github.com/papercomputeco/spool/pkg/storage"
	"github.com/papercomputeco/spool/pkg/window"
)

// Artifact is the generated document of one window. It is stored in the
// generation cache tier under its fingerprint and never mutated: a
// regenerated document is a new artifact with a new ID.
type Artifact struct {
	ID          identity.ID   `json:"id"`
	WindowID    identity.ID   `json:"window_id"`
	WindowIndex int           `json:"window_index"`
	Content     string        `json:"content"`
	ContextIDs  []identity.ID `json:"context_ids"`

	// ContextWindows holds the source window of each context artifact, in
	// ContextIDs order.
	ContextWindows []identity.ID `json:"context_windows"`

	Fingerprint identity.ID `json:"fingerprint"`
	Provider    string      `json:"provider"`
	Model       string      `json:"model"`
	WindowStart time.Time   `json:"window_start"`
	WindowEnd   time.Time   `json:"window_end"`
}

// ArtifactID identifies the content generated for a window.
func ArtifactID(windowID identity.ID, content string) identity.ID {
	return identity.Identify(identity.KindArtifact, windowID, content)
}

func newArtifact(w window.Window, content string, contexts []retrieval.Result, fp identity.ID, provider, model string) Artifact {
	ids := make([]identity.ID, len(contexts))
	windows := make([]identity.ID, len(contexts))
	for i, c := range contexts {
		ids[i] = c.ArtifactID
		windows[i] = c.WindowID
	}
	return Artifact{
		ID:             ArtifactID(w.ID, content),
		WindowID:       w.ID,
		WindowIndex:    w.Index,
		Content:        content,
		ContextIDs:     ids,
		ContextWindows: windows,
		Fingerprint:    fp,
		Provider:       provider,
		Model:          model,
		WindowStart:    w.Start.UTC(),
		WindowEnd:      w.End.UTC(),
	}
}

// LoadArtifact returns the latest artifact generated for a window. It
// returns a *storage.NotFoundError when the window has none cached.
func LoadArtifact(ctx context.Context, c *cache.Cache, l ledger.Ledger, windowID identity.ID) (Artifact, error) {
	rec, err := l.Status(ctx, ledger.Key{Window: windowID, Stage: ledger.StageGenerate})
	if err != nil {
		return Artifact{}, err
	}

	notFound := &storage.NotFoundError{Kind: "artifact", ID: windowID.String()}
	fp, err := identity.Parse(rec.Output)
	if err != nil {
		return Artifact{}, notFound
	}

	art, ok, err := cache.GetJSON[Artifact](ctx, c, cache.TierGeneration, fp)
	if err != nil {
		return Artifact{}, err
	}
	if !ok {
		return Artifact{}, notFound
	}
	return art, nil
}
