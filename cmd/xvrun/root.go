// Package main provides the CLI entrypoint for xvrun.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/xvrun/internal/adapter/output"
	"github.com/jmylchreest/xvrun/internal/config"
	"github.com/jmylchreest/xvrun/internal/store"
)

// Build-time variables (set via ldflags)
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

// Global configuration and state
var (
	cfg        *config.Config
	globalOpts struct {
		verbose     bool
		historyFile string
		configPath  string
		format      string
	}
	logger *slog.Logger

	// historyStore is the global store instance
	historyStore *store.Store
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "xvrun [flags] [-- command...]",
	Short: "Run a headless front-end on a virtual X display",
	Long: `xvrun starts a virtual framebuffer X server, waits until the display
accepts connections, exports DISPLAY and runs a front-end against it.

Running xvrun without a subcommand is the same as "xvrun run".`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime),
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Setup logging
		setupLogger()

		// Load configuration
		var err error
		cfg, err = config.LoadConfig(globalOpts.configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if _, err := output.ParseFormat(globalOpts.format); err != nil {
			return err
		}

		if err := config.EnsureDataDir(); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}

		historyStore, err = store.OpenHistory(historyPath(), logger)
		return err
	},
	// Default to run when no subcommand is provided
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRun(cmd, args)
	},
}

// exitError carries a process exit status out of a command. A nil err
// means the status was already reported by whatever produced it.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// ExitCode returns the status the process should exit with.
func (e *exitError) ExitCode() int { return e.code }

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	err := rootCmd.Execute()

	// Cleanup store
	if historyStore != nil {
		if closeErr := historyStore.Close(); closeErr != nil && logger != nil {
			logger.Warn("failed to close history store", "error", closeErr)
		}
	}

	if err == nil {
		return
	}

	code := 1
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		code = exitErr.code
		if exitErr.err == nil {
			os.Exit(code)
		}
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(code)
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&globalOpts.verbose, "verbose", "v", false,
		"Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&globalOpts.historyFile, "history-file", "",
		"Path to history file (default: ~/.local/share/xvrun/history.jsonl)")
	rootCmd.PersistentFlags().StringVar(&globalOpts.configPath, "config", "",
		"Path to config file (default: ~/.config/xvrun/config.toml)")
	rootCmd.PersistentFlags().StringVarP(&globalOpts.format, "format", "f", string(output.FormatPlain),
		"Output format (plain, json, yaml, ids)")

	addRunFlags(rootCmd)
}

// setupLogger configures the global slog logger.
func setupLogger() {
	level := slog.LevelWarn
	if globalOpts.verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	// Log to stderr so stdout is clean for output
	handler := slog.NewTextHandler(os.Stderr, opts)
	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// historyPath returns the history file in use.
func historyPath() string {
	if globalOpts.historyFile != "" {
		return globalOpts.historyFile
	}
	return config.HistoryPath()
}

// newFormatter creates the output formatter selected by --format.
func newFormatter(color bool) output.Formatter {
	format, _ := output.ParseFormat(globalOpts.format)
	opts := output.DefaultFormatterOptions()
	opts.Color = color
	return output.NewFormatter(format, opts)
}
