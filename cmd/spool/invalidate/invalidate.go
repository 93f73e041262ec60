// Package invalidatecmder provides the invalidate command, which drops cached
// results and ledger records.
package invalidatecmder

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/spool/cmd/spool/stack"
	"github.com/papercomputeco/spool/pkg/cache"
	"github.com/papercomputeco/spool/pkg/cliui"
	"github.com/papercomputeco/spool/pkg/ledger"
)

const invalidateLongDesc string = `Drop cached results and ledger records.

--tier removes entries from one or more cache tiers (lookup, retrieval,
generation). With --older-than only entries created before that age are
removed, which keeps the cache from growing without bound.

Dropping cache entries alone does not make the next run repeat the work: the
ledger still records those stages as done. Use --stage to reset ledger stages
as well, or 'spool run --refresh' to do both for a single run.

Examples:
  spool invalidate --tier lookup --older-than 720h
  spool invalidate --tier generation --stage generate
  spool invalidate --tier lookup --tier retrieval --tier generation`

const invalidateShortDesc string = "Drop cached results and ledger records"

type invalidateCommander struct {
	tiers     []string
	stages    []string
	olderThan time.Duration

	flags stack.Flags
	keys  []string
}

func NewInvalidateCmd() *cobra.Command {
	cmder := &invalidateCommander{}

	cmd := &cobra.Command{
		Use:   "invalidate",
		Short: invalidateShortDesc,
		Long:  invalidateLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd)
		},
	}

	cmd.Flags().StringSliceVarP(&cmder.tiers, "tier", "t", nil, "Cache tier to invalidate (lookup, retrieval, generation)")
	cmd.Flags().StringSliceVar(&cmder.stages, "stage", nil, "Ledger stage to reset (enrich, generate, index, emit)")
	cmd.Flags().DurationVar(&cmder.olderThan, "older-than", 0, "Only drop entries older than this age")
	cmder.keys = stack.AddStorageFlags(cmd, &cmder.flags)

	return cmd
}

func (c *invalidateCommander) run(cmd *cobra.Command) error {
	if len(c.tiers) == 0 && len(c.stages) == 0 {
		return errors.New("nothing to invalidate: pass --tier or --stage")
	}
	if c.olderThan < 0 {
		return errors.New("--older-than must not be negative")
	}

	tiers := make([]cache.Tier, 0, len(c.tiers))
	for _, t := range c.tiers {
		tier, err := cache.ParseTier(t)
		if err != nil {
			return err
		}
		tiers = append(tiers, tier)
	}
	stages := make([]ledger.Stage, 0, len(c.stages))
	for _, s := range c.stages {
		stage, err := ledger.ParseStage(s)
		if err != nil {
			return err
		}
		stages = append(stages, stage)
	}

	cfg, configDir, err := stack.Resolve(cmd, c.keys)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	s, err := stack.OpenState(ctx, cfg, configDir, stack.NewLogger(cmd))
	if err != nil {
		return err
	}
	defer s.Close()

	pred := cache.All()
	if c.olderThan > 0 {
		pred = cache.OlderThan(time.Now().Add(-c.olderThan))
	}

	out := cmd.OutOrStdout()
	for _, tier := range tiers {
		n, err := s.Cache.Invalidate(ctx, tier, pred)
		if err != nil {
			return fmt.Errorf("invalidating %s: %w", tier, err)
		}
		fmt.Fprintf(out, "  %s Dropped %s %s entries\n",
			cliui.SuccessMark, cliui.ValueStyle.Render(fmt.Sprint(n)), cliui.KeyStyle.Render(string(tier)))
	}

	if len(stages) > 0 {
		n, err := s.Store.Reset(ctx, stages...)
		if err != nil {
			return fmt.Errorf("resetting ledger: %w", err)
		}
		fmt.Fprintf(out, "  %s Reset %s ledger records\n",
			cliui.SuccessMark, cliui.ValueStyle.Render(fmt.Sprint(n)))
	}

	return nil
}
