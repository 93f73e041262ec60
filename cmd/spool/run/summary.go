package runcmder

import (
	"fmt"
	"io"

	"github.com/papercomputeco/spool/pkg/cliui"
	"github.com/papercomputeco/spool/pkg/pipeline"
)

func printSummary(w io.Writer, s *pipeline.Summary) {
	fmt.Fprintf(w, "\n  %s %s %s\n\n",
		cliui.KeyStyle.Render("Run"),
		cliui.IDStyle.Render(s.RunID.String()),
		cliui.StepStyle.Render(fmt.Sprintf("(%s)", cliui.FormatDuration(s.FinishedAt.Sub(s.StartedAt)))),
	)

	for _, r := range s.Windows {
		fmt.Fprintf(w, "  %s %s %s %s\n",
			windowMark(r),
			cliui.PadRight(cliui.DimStyle.Render(fmt.Sprintf("#%d", r.Index)), 6),
			cliui.PadRight(string(r.Status), 15),
			detail(r),
		)
	}

	c := s.Counts
	fmt.Fprintf(w, "\n  %s %d windows: %d done, %d skipped, %d provisional, %d failed\n",
		cliui.KeyStyle.Render("Total"), c.Windows, c.Done, c.Skipped, c.Provisional, c.Failed)
	fmt.Fprintf(w, "  %s %d backend calls, %d cache hits, %d cache misses\n",
		cliui.KeyStyle.Render("Calls"), c.BackendCalls, c.CacheHits, c.CacheMisses)
	if c.Rejected > 0 || c.Degraded > 0 {
		fmt.Fprintf(w, "  %s %d events rejected, %d windows without context\n",
			cliui.WarnMark, c.Rejected, c.Degraded)
	}
	fmt.Fprintln(w)
}

func windowMark(r pipeline.WindowResult) string {
	switch {
	case r.Status == pipeline.WindowFailed:
		return cliui.FailMark
	case r.ContextDegraded || r.Status == pipeline.WindowProvisional:
		return cliui.WarnMark
	default:
		return cliui.SuccessMark
	}
}

func detail(r pipeline.WindowResult) string {
	switch {
	case r.Err != nil:
		return cliui.Truncate(r.Err.Error(), 80)
	case r.ContextDegraded:
		return cliui.DimStyle.Render(r.WindowID.String() + " (no context)")
	default:
		return cliui.DimStyle.Render(r.WindowID.String())
	}
}
