// Package statuscmder provides the status command for displaying recent runs
// and per-stage ledger counts.
package statuscmder

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/spool/cmd/spool/stack"
	"github.com/papercomputeco/spool/pkg/cliui"
	"github.com/papercomputeco/spool/pkg/ledger"
)

const statusLongDesc string = `Show recent runs and ledger counts.

Reads the state store to list the most recent runs with their window counts,
followed by how many windows are done, pending, provisional or failed at each
stage.

Examples:
  spool status
  spool status --limit 20
  spool status --json`

const statusShortDesc string = "Show recent runs and ledger counts"

// Report is the machine readable form of the status output.
type Report struct {
	Runs   []ledger.RunRecord                     `json:"runs"`
	Stages map[ledger.Stage]map[ledger.Status]int `json:"stages"`
}

type statusCommander struct {
	limit int
	json  bool

	flags stack.Flags
	keys  []string
}

func NewStatusCmd() *cobra.Command {
	cmder := &statusCommander{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: statusShortDesc,
		Long:  statusLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd)
		},
	}

	cmd.Flags().IntVarP(&cmder.limit, "limit", "n", 5, "Number of runs to show")
	cmd.Flags().BoolVar(&cmder.json, "json", false, "Print the status as JSON")
	cmder.keys = stack.AddStorageFlags(cmd, &cmder.flags)

	return cmd
}

func (c *statusCommander) run(cmd *cobra.Command) error {
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

	runs, err := s.Store.ListRuns(ctx, c.limit)
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}
	records, err := s.Store.List(ctx, ledger.Filter{})
	if err != nil {
		return fmt.Errorf("listing ledger: %w", err)
	}

	report := Report{Runs: runs, Stages: countStages(records)}
	if report.Runs == nil {
		report.Runs = []ledger.RunRecord{}
	}

	out := cmd.OutOrStdout()
	if c.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printReport(out, report)
	return nil
}

func countStages(records []ledger.Record) map[ledger.Stage]map[ledger.Status]int {
	counts := make(map[ledger.Stage]map[ledger.Status]int, len(ledger.Stages()))
	for _, st := range ledger.Stages() {
		counts[st] = map[ledger.Status]int{}
	}
	for _, r := range records {
		if counts[r.Stage] == nil {
			counts[r.Stage] = map[ledger.Status]int{}
		}
		counts[r.Stage][r.Status]++
	}
	return counts
}

func printReport(w io.Writer, r Report) {
	if len(r.Runs) == 0 {
		fmt.Fprintf(w, "  %s No runs yet. Use 'spool run -i <events.jsonl>' to start one.\n", cliui.DimStyle.Render("●"))
		return
	}

	fmt.Fprintf(w, "\n  %s\n\n", cliui.KeyStyle.Render("Recent runs"))
	for _, run := range r.Runs {
		mark := cliui.SuccessMark
		switch {
		case run.Status == ledger.RunAborted || run.Counts.Failed > 0:
			mark = cliui.FailMark
		case run.Status == ledger.RunRunning:
			mark = cliui.WarnMark
		}
		fmt.Fprintf(w, "  %s %s %s %s\n",
			mark,
			cliui.IDStyle.Render(run.ID.String()[:8]),
			cliui.DimStyle.Render(run.StartedAt.Local().Format("2006-01-02 15:04:05")),
			runDetail(run),
		)
	}

	fmt.Fprintf(w, "\n  %s\n\n", cliui.KeyStyle.Render("Ledger"))
	statuses := []ledger.Status{ledger.StatusDone, ledger.StatusProvisional, ledger.StatusPending, ledger.StatusFailed}
	for _, st := range ledger.Stages() {
		fmt.Fprintf(w, "  %s", cliui.PadRight(string(st), 10))
		for _, status := range statuses {
			fmt.Fprintf(w, " %s %s",
				cliui.DimStyle.Render(string(status)),
				cliui.PadRight(cliui.ValueStyle.Render(strconv.Itoa(r.Stages[st][status])), 4),
			)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)
}

func runDetail(run ledger.RunRecord) string {
	if run.Error != "" {
		return cliui.Truncate(run.Error, 60)
	}
	c := run.Counts
	return fmt.Sprintf("%d windows, %d done, %d skipped, %d failed %s",
		c.Windows, c.Done, c.Skipped, c.Failed,
		cliui.StepStyle.Render("("+cliui.FormatDuration(run.Duration())+")"),
	)
}
