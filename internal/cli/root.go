// Package cli provides the command-line interface for shareingest.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/shareingest/internal/config"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose    bool
	configPath string

	// Loaded once per invocation
	cfg           config.Config
	logger        *slog.Logger
	closeLogger   func() error
	consoleWriter io.Writer = os.Stderr
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "shareingest",
	Short: "Incrementally copy documents off SMB shares",
	Long: `Shareingest walks an SMB/CIFS share, records every file in a per-share
ledger and copies unprocessed files into a local staging area in small,
checkpointed batches. Re-running picks up where the last run stopped.

Shares can also be mounted through the OS CIFS facility for tools that
prefer a local view.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}
		return setup(cmd)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if closeLogger != nil {
			if err := closeLogger(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
			}
		}
	},
}

func setup(cmd *cobra.Command) error {
	loaded, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}
	if verbose {
		loaded.LogLevel = slog.LevelDebug
	}
	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cfg = loaded

	console := consoleWriter
	if quietConsole(cmd) {
		console = nil
	}
	logger, closeLogger = config.SetupLogger(console, cfg.LogFile, cfg.LogLevel)
	slog.SetDefault(logger)
	return nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
}
