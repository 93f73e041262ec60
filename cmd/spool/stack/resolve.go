package stack

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/spool/pkg/cliui"
	"github.com/papercomputeco/spool/pkg/config"
	"github.com/papercomputeco/spool/pkg/logger"
)

// Resolve reads config.toml, SPOOL_* variables and the command's registered
// flags into a Config.
func Resolve(cmd *cobra.Command, registryKeys []string) (*config.Config, string, error) {
	configDir, _ := cmd.Flags().GetString("config-dir")

	v, err := config.InitViper(configDir)
	if err != nil {
		return nil, "", err
	}
	config.BindRegisteredFlags(v, cmd, config.Flags, registryKeys)

	cfg, err := config.FromViper(v)
	if err != nil {
		return nil, "", fmt.Errorf("resolving config: %w", err)
	}
	return cfg, configDir, nil
}

// NewLogger builds the command logger. Records go to stderr so command
// output on stdout stays machine readable. With --log-file every record is
// also appended to that file as JSON with source locations. The file stays
// open for the life of the process.
func NewLogger(cmd *cobra.Command) *slog.Logger {
	debug, _ := cmd.Flags().GetBool("debug")
	console := logger.New(
		logger.WithDebug(debug),
		logger.WithPretty(cliui.IsTerminal(os.Stderr)),
		logger.WithWriter(os.Stderr),
	)

	path, _ := cmd.Flags().GetString("log-file")
	if path == "" {
		return console
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		console.Warn("log file unavailable", "path", path, "error", err)
		return console
	}
	return logger.Multi(console, logger.New(
		logger.WithDebug(true),
		logger.WithJSON(true),
		logger.WithSource(true),
		logger.WithWriter(f),
	))
}
