// Package servecmder provides the serve command, which runs the status API
// and optionally keeps processing an event file in the background.
package servecmder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/spool/api"
	"github.com/papercomputeco/spool/cmd/spool/stack"
	"github.com/papercomputeco/spool/pkg/event"
	"github.com/papercomputeco/spool/pkg/pipeline"
)

const serveLongDesc string = `Run the spool status API.

The API serves run history, ledger records, cached artifacts, retrieval
search and an MCP endpoint over the same state store 'spool run' writes to.

With --input the event file is also processed in the background: once at
startup and then every --interval.

Examples:
  spool serve
  spool serve --listen :9090
  spool serve -i events.jsonl --interval 10m`

const serveShortDesc string = "Run the status API"

type serveCommander struct {
	input    string
	interval time.Duration

	flags  stack.Flags
	keys   []string
	logger *slog.Logger
}

func NewServeCmd() *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmder.logger = stack.NewLogger(cmd)
			return cmder.run(cmd)
		},
	}

	cmd.Flags().StringVarP(&cmder.input, "input", "i", "", "JSONL event file to process in the background")
	cmd.Flags().DurationVar(&cmder.interval, "interval", 0, "Reprocess --input this often (0 processes it once)")

	cmder.keys = append(cmder.keys, stack.AddAPIFlags(cmd, &cmder.flags)...)
	cmder.keys = append(cmder.keys, stack.AddStorageFlags(cmd, &cmder.flags)...)
	cmder.keys = append(cmder.keys, stack.AddRetrievalFlags(cmd, &cmder.flags)...)
	cmder.keys = append(cmder.keys, stack.AddPipelineFlags(cmd, &cmder.flags)...)

	return cmd
}

func (c *serveCommander) run(cmd *cobra.Command) error {
	if c.interval < 0 {
		return errors.New("--interval must not be negative")
	}

	cfg, configDir, err := stack.Resolve(cmd, c.keys)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	s, err := stack.OpenState(ctx, cfg, configDir, c.logger)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.OpenIndex(ctx); err != nil {
		return err
	}
	if c.input != "" {
		if err := s.OpenPipeline(); err != nil {
			return err
		}
	}

	server, err := api.NewServer(api.Config{
		ListenAddr: cfg.API.Listen,
		Cache:      s.Cache,
		Index:      s.Index,
	}, s.Store, c.logger)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	c.logger.Debug("opened state", "storage", cfg.Storage.Provider, "retrieval", s.Index != nil)

	// Channel to capture errors from goroutines
	errChan := make(chan error, 2)

	go func() {
		if err := server.Run(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	if c.input != "" {
		go func() {
			if err := c.process(ctx, s.Pipeline); err != nil {
				errChan <- err
			}
		}()
	}

	select {
	case err := <-errChan:
		_ = server.Shutdown()
		return err
	case <-ctx.Done():
		c.logger.Info("shutting down")
		return server.Shutdown()
	}
}

// process runs the pipeline over the input until ctx ends. Window failures
// are logged and retried on the next tick; store failures stop the server.
func (c *serveCommander) process(ctx context.Context, orch *pipeline.Orchestrator) error {
	src := event.NewJSONLSource(c.input)

	var ticker <-chan time.Time
	if c.interval > 0 {
		t := time.NewTicker(c.interval)
		defer t.Stop()
		ticker = t.C
	}

	for {
		summary, err := orch.Run(ctx, src, pipeline.RunOptions{})
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			var se *pipeline.StoreError
			if errors.As(err, &se) {
				return fmt.Errorf("background run: %w", err)
			}
			c.logger.Error("background run failed", "error", err)
		case len(summary.Failed()) > 0:
			c.logger.Warn("background run had failed windows", "failed", len(summary.Failed()))
		}

		if ticker == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker:
		}
	}
}
