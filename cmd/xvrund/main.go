// Package main is the entry point for the xvrund display daemon.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/jmylchreest/xvrun/internal/config"
	"github.com/jmylchreest/xvrun/internal/daemon"
	"github.com/jmylchreest/xvrun/internal/display"
	"github.com/jmylchreest/xvrun/internal/store"
)

var (
	// Build-time variables
	version = "dev"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "xvrund: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flagSet := pflag.NewFlagSet("xvrund", pflag.ContinueOnError)
	configPath := flagSet.String("config", "", "Path to config file (default: ~/.config/xvrun/config.toml)")
	displayNum := flagSet.IntP("display", "d", 0, "Display number to keep running (default from config)")
	geometry := flagSet.StringP("geometry", "g", "", "Screen geometry WxHxD (default from config)")
	policy := flagSet.String("policy", "", "What to do when the display is in use (fail, next, reuse)")
	noHistory := flagSet.Bool("no-history", false, "Do not record the display in the run history")
	verbose := flagSet.BoolP("verbose", "v", false, "Enable debug logging")
	showVersion := flagSet.Bool("version", false, "Show version and exit")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if *showVersion {
		fmt.Println("xvrund version", version)
		return nil
	}

	// Set up structured logging
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if flagSet.Changed("display") {
		cfg.Display.Number = *displayNum
	}
	if flagSet.Changed("geometry") {
		cfg.Display.Geometry = *geometry
	}
	if flagSet.Changed("policy") {
		cfg.Display.Policy = *policy
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	opts, err := daemon.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(config.RuntimePath(), 0700); err != nil {
		return fmt.Errorf("failed to create runtime directory: %w", err)
	}

	var historyStore *store.Store
	if !*noHistory {
		historyStore, err = openHistory(logger)
		if err != nil {
			logger.Warn("history disabled", "error", err)
		} else {
			defer historyStore.Close()
		}
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting xvrund",
		"version", version,
		"display", opts.Display.String(),
		"geometry", opts.Geometry.String(),
		"policy", string(opts.Policy),
	)

	err = daemon.New(opts, historyStore, logger).Run(ctx)
	if errors.Is(err, display.ErrDisplayInUse) {
		return fmt.Errorf("%w (use --policy next or reuse)", err)
	}
	if err != nil {
		return err
	}

	logger.Info("xvrund stopped")
	return nil
}

// openHistory opens the shared run history.
func openHistory(logger *slog.Logger) (*store.Store, error) {
	if err := config.EnsureDataDir(); err != nil {
		return nil, err
	}

	return store.OpenHistory(config.HistoryPath(), logger)
}
