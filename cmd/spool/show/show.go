// Package showcmder provides the show command, which renders the artifact
// generated for a window.
package showcmder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/spool/cmd/spool/stack"
	"github.com/papercomputeco/spool/pkg/cliui"
	"github.com/papercomputeco/spool/pkg/identity"
	"github.com/papercomputeco/spool/pkg/ledger"
	"github.com/papercomputeco/spool/pkg/pipeline"
	"github.com/papercomputeco/spool/pkg/storage"
)

const showLongDesc string = `Render the artifact generated for a window.

The window is named by its identifier, as printed by 'spool run', or by any
unique prefix of it. The cached artifact is rendered as markdown; --raw prints
the content unchanged and --json prints the whole artifact record.

Examples:
  spool show 6f1c2a9e-...
  spool show 6f1c2a9e
  spool show 6f1c2a9e --raw`

const showShortDesc string = "Render a window's artifact"

type showCommander struct {
	raw  bool
	json bool

	flags stack.Flags
	keys  []string
}

func NewShowCmd() *cobra.Command {
	cmder := &showCommander{}

	cmd := &cobra.Command{
		Use:   "show <window-id>",
		Short: showShortDesc,
		Long:  showLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd, args[0])
		},
	}

	cmd.Flags().BoolVar(&cmder.raw, "raw", false, "Print the artifact content without rendering")
	cmd.Flags().BoolVar(&cmder.json, "json", false, "Print the artifact record as JSON")
	cmder.keys = stack.AddStorageFlags(cmd, &cmder.flags)

	return cmd
}

func (c *showCommander) run(cmd *cobra.Command, ref string) error {
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

	windowID, err := resolveWindow(ctx, s.Store, ref)
	if err != nil {
		return err
	}

	art, err := pipeline.LoadArtifact(ctx, s.Cache, s.Store, windowID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch {
	case c.json:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(art)
	case c.raw:
		_, err := fmt.Fprintln(out, art.Content)
		return err
	default:
		return render(out, art)
	}
}

// resolveWindow accepts a full identifier or a unique prefix of one.
func resolveWindow(ctx context.Context, l ledger.Ledger, ref string) (identity.ID, error) {
	ref = strings.ToLower(strings.TrimSpace(ref))
	if id, err := identity.Parse(ref); err == nil {
		return id, nil
	}
	if len(ref) < minPrefix {
		return identity.Nil, fmt.Errorf("window prefix %q is too short: use at least %d characters", ref, minPrefix)
	}

	records, err := l.List(ctx, ledger.Filter{Stage: ledger.StageGenerate})
	if err != nil {
		return identity.Nil, fmt.Errorf("listing windows: %w", err)
	}

	var matches []identity.ID
	for _, r := range records {
		if strings.HasPrefix(r.Window.String(), ref) {
			matches = append(matches, r.Window)
		}
	}
	switch len(matches) {
	case 0:
		return identity.Nil, &storage.NotFoundError{Kind: "window", ID: ref}
	case 1:
		return matches[0], nil
	default:
		return identity.Nil, fmt.Errorf("%w %q: %d windows match", errAmbiguous, ref, len(matches))
	}
}

func render(w io.Writer, art pipeline.Artifact) error {
	fmt.Fprintf(w, "\n  %s %s %s\n",
		cliui.KeyStyle.Render(fmt.Sprintf("Window #%d", art.WindowIndex)),
		cliui.IDStyle.Render(art.WindowID.String()),
		cliui.DimStyle.Render(fmt.Sprintf("%s to %s",
			art.WindowStart.Local().Format("2006-01-02 15:04"),
			art.WindowEnd.Local().Format("2006-01-02 15:04"))),
	)
	fmt.Fprintf(w, "  %s\n", cliui.DimStyle.Render(fmt.Sprintf("%s/%s, %d context artifacts", art.Provider, art.Model, len(art.ContextIDs))))

	rendered, err := cliui.RenderMarkdown(art.Content, min(cliui.Width(w, 80), 100))
	if err != nil {
		rendered = art.Content
	}
	_, err = fmt.Fprint(w, strings.TrimRight(rendered, "\n")+"\n\n")
	return err
}

var errAmbiguous = errors.New("ambiguous window prefix")

// minPrefix is the shortest accepted window prefix.
const minPrefix = 4
