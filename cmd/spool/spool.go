// Package spoolcmder
package spoolcmder

import (
	"os"

	"github.com/spf13/cobra"

	authcmder "github.com/papercomputeco/spool/cmd/spool/auth"
	configcmder "github.com/papercomputeco/spool/cmd/spool/config"
	invalidatecmder "github.com/papercomputeco/spool/cmd/spool/invalidate"
	runcmder "github.com/papercomputeco/spool/cmd/spool/run"
	servecmder "github.com/papercomputeco/spool/cmd/spool/serve"
	showcmder "github.com/papercomputeco/spool/cmd/spool/show"
	statuscmder "github.com/papercomputeco/spool/cmd/spool/status"
	versioncmder "github.com/papercomputeco/spool/cmd/version"
	"github.com/papercomputeco/spool/pkg/cliui"
)

const spoolLongDesc string = `Spool summarizes an event stream window by window.

Events are grouped into time, count or size windows. Each window is enriched,
given context from earlier windows and sent to a generation backend. Every
expensive call is cached by fingerprint and every stage is recorded in a
ledger, so an interrupted run resumes where it stopped.

  spool run -i events.jsonl   Process new and changed windows
  spool status                Show recent runs and ledger counts
  spool show <window-id>      Render a window's artifact
  spool invalidate            Drop cached results
  spool serve                 Run the status API`

const spoolShortDesc string = "Spool - incremental windowed summaries"

func NewSpoolCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "spool",
		Short:         spoolShortDesc,
		Long:          spoolLongDesc,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			cliui.Configure(os.Stdout)
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override the .spool directory")
	cmd.PersistentFlags().String("log-file", "", "Also append JSON log records to this file")

	// Add subcommands
	cmd.AddCommand(runcmder.NewRunCmd())
	cmd.AddCommand(statuscmder.NewStatusCmd())
	cmd.AddCommand(showcmder.NewShowCmd())
	cmd.AddCommand(invalidatecmder.NewInvalidateCmd())
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(authcmder.NewAuthCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
