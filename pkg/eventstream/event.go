package eventstream

import (
	"time"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeArtifactFinalized is emitted once a window's artifact has been
	// generated, indexed and is about to be marked done.
	EventTypeArtifactFinalized = "spool.artifact.finalized"
)

// ArtifactFinalizedEvent is a transport-neutral event payload for a
// finalized artifact. Re-emitting the same artifact carries the same
// EventID, so consumers can deduplicate.
type ArtifactFinalizedEvent struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	EventID       string       `json:"event_id"`
	EmittedAt     time.Time    `json:"emitted_at"`
	Source        EventSource  `json:"source"`
	Window        WindowMeta   `json:"window"`
	Artifact      ArtifactBody `json:"artifact"`
}

// EventSource identifies the run that produced the artifact.
type EventSource struct {
	RunID    string `json:"run_id,omitempty"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// WindowMeta describes the window the artifact was generated from.
type WindowMeta struct {
	ID      string    `json:"id"`
	Index   int       `json:"index"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Events  int       `json:"events"`
	Overlap int       `json:"overlap"`
}

// ArtifactBody is the generated document.
type ArtifactBody struct {
	ID          string   `json:"id"`
	Content     string   `json:"content"`
	ContextIDs  []string `json:"context_ids"`
	Fingerprint string   `json:"fingerprint"`

	// ContextDegraded is set when retrieval was unavailable and the
	// artifact was generated without historical context.
	ContextDegraded bool `json:"context_degraded,omitempty"`
}
