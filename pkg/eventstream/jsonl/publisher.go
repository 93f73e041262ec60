// Package jsonl appends artifact events to a newline-delimited JSON file.
package jsonl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/papercomputeco/spool/pkg/eventstream"
)

// Publisher writes one JSON object per line and syncs after every event so
// a crash never leaves an emitted artifact unrecorded.
type Publisher struct {
	mu   sync.Mutex
	file *os.File
}

var _ eventstream.Publisher = (*Publisher)(nil)

// NewPublisher opens path for appending, creating it and its directory.
func NewPublisher(path string) (*Publisher, error) {
	if path == "" {
		return nil, errors.New("jsonl path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening artifact log: %w", err)
	}
	return &Publisher{file: f}, nil
}

// PublishArtifact implements eventstream.Publisher.
func (p *Publisher) PublishArtifact(ctx context.Context, event *eventstream.ArtifactFinalizedEvent) error {
	if event == nil {
		return eventstream.ErrNilArtifactEvent
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding artifact event: %w", err)
	}
	line = append(line, '\n')

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.file == nil {
		return os.ErrClosed
	}
	if _, err := p.file.Write(line); err != nil {
		return fmt.Errorf("writing artifact event: %w", err)
	}
	if err := p.file.Sync(); err != nil {
		return fmt.Errorf("syncing artifact log: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.file == nil {
		return nil
	}
	err := p.file.Close()
	p.file = nil
	return err
}
