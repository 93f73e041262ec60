// Package runcmder provides the run command, which processes an event
// stream into per-window artifacts.
package runcmder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/spool/cmd/spool/stack"
	"github.com/papercomputeco/spool/pkg/cache"
	"github.com/papercomputeco/spool/pkg/cliui"
	"github.com/papercomputeco/spool/pkg/event"
	"github.com/papercomputeco/spool/pkg/pipeline"
)

const runLongDesc string = `Process an event stream into per-window artifacts.

Events are read as JSON lines from --input ("-" reads stdin). Windows whose
inputs are unchanged since an earlier run are skipped without calling any
backend. --refresh discards cached results before processing:

  none        reuse everything (default)
  generation  regenerate window output
  retrieval   also re-embed and re-index artifacts
  all         also repeat every lookup

With --watch the input file is processed again whenever it changes.

Examples:
  spool run -i events.jsonl
  spool run -i events.jsonl --window-mode time --window-step 1 --window-unit days
  spool run -i events.jsonl --refresh generation
  tail -n 500 events.jsonl | spool run -i -`

const runShortDesc string = "Process an event stream"

// watchDebounce coalesces bursts of writes into one run.
const watchDebounce = 500 * time.Millisecond

type runCommander struct {
	input   string
	refresh string
	watch   bool
	json    bool

	flags  stack.Flags
	keys   []string
	out    io.Writer
	logger *slog.Logger
}

func NewRunCmd() *cobra.Command {
	cmder := &runCommander{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: runShortDesc,
		Long:  runLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmder.out = cmd.OutOrStdout()
			cmder.logger = stack.NewLogger(cmd)
			return cmder.run(cmd)
		},
	}

	cmd.Flags().StringVarP(&cmder.input, "input", "i", "", "JSONL event file, or - for stdin")
	cmd.Flags().StringVarP(&cmder.refresh, "refresh", "r", cache.RefreshNone.String(), "Cached tiers to discard (none, generation, retrieval, all)")
	cmd.Flags().BoolVar(&cmder.watch, "watch", false, "Process the input again whenever it changes")
	cmd.Flags().BoolVar(&cmder.json, "json", false, "Print the run summary as JSON")
	_ = cmd.MarkFlagRequired("input")

	cmder.keys = append(cmder.keys, stack.AddStorageFlags(cmd, &cmder.flags)...)
	cmder.keys = append(cmder.keys, stack.AddRetrievalFlags(cmd, &cmder.flags)...)
	cmder.keys = append(cmder.keys, stack.AddPipelineFlags(cmd, &cmder.flags)...)

	return cmd
}

func (c *runCommander) run(cmd *cobra.Command) error {
	scope, err := cache.ParseRefreshScope(c.refresh)
	if err != nil {
		return err
	}
	if c.watch && c.input == "-" {
		return errors.New("--watch needs a file input, not stdin")
	}
	if c.input != "-" {
		if _, err := os.Stat(c.input); err != nil {
			return fmt.Errorf("reading input: %w", err)
		}
	}

	cfg, configDir, err := stack.Resolve(cmd, c.keys)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := stack.OpenState(ctx, cfg, configDir, c.logger)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.OpenIndex(ctx); err != nil {
		return err
	}
	if err := s.OpenPipeline(); err != nil {
		return err
	}

	var src event.Source = event.NewJSONLSource(c.input)
	if c.input == "-" {
		src = readerSource{r: cmd.InOrStdin()}
	}

	summary, err := c.process(ctx, s.Pipeline, src, scope)
	if err != nil {
		return err
	}
	if err := c.report(summary); err != nil {
		return err
	}

	if !c.watch {
		return failedError(summary)
	}

	// Later runs reuse cached results; the refresh scope applies once.
	return c.watchInput(ctx, func() error {
		summary, err := c.process(ctx, s.Pipeline, src, cache.RefreshNone)
		if err != nil {
			return err
		}
		return c.report(summary)
	})
}

// process runs the pipeline once. Readable output gets a step line; JSON
// output stays machine-parseable.
func (c *runCommander) process(ctx context.Context, o *pipeline.Orchestrator, src event.Source, scope cache.RefreshScope) (*pipeline.Summary, error) {
	var summary *pipeline.Summary
	fn := func() error {
		var err error
		summary, err = o.Run(ctx, src, pipeline.RunOptions{Refresh: scope})
		return err
	}
	if c.json {
		return summary, fn()
	}
	return summary, cliui.Step(c.out, "processing "+c.label(), fn)
}

func (c *runCommander) label() string {
	if c.input == "-" {
		return "stdin"
	}
	return c.input
}

func (c *runCommander) report(summary *pipeline.Summary) error {
	if c.json {
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
	printSummary(c.out, summary)
	return nil
}

// watchInput calls fn after each change to the input file until ctx ends.
// The parent directory is watched so editors that replace the file on save
// are still seen.
func (c *runCommander) watchInput(ctx context.Context, fn func() error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(c.input)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watching %s: %w", c.input, err)
	}
	c.logger.Info("watching for changes", "input", abs)

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			fire = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("watcher error", "error", err)

		case <-fire:
			fire = nil
			if err := fn(); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				c.logger.Error("run failed", "error", err)
			}
		}
	}
}

func failedError(summary *pipeline.Summary) error {
	if n := len(summary.Failed()); n > 0 {
		return fmt.Errorf("%d of %d windows failed", n, summary.Counts.Windows)
	}
	return nil
}

// readerSource reads events once from a stream such as stdin.
type readerSource struct {
	r io.Reader
}

func (s readerSource) Events(ctx context.Context) iter.Seq2[event.Event, error] {
	return event.Decode(ctx, s.r)
}

var _ event.Source = readerSource{}
