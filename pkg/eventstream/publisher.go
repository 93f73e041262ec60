// Package eventstream publishes finalized artifacts to document sinks.
package eventstream

import "context"

// Publisher publishes artifact events to an event stream backend.
type Publisher interface {
	PublishArtifact(ctx context.Context, event *ArtifactFinalizedEvent) error
	Close() error
}
