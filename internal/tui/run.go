package tui

import (
	"fmt"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jmylchreest/xvrun/internal/monitor"
	"github.com/jmylchreest/xvrun/internal/store"
)

// RunOptions configures the TUI.
type RunOptions struct {
	Monitor     *monitor.Monitor // nil shows run history only
	Store       *store.Store
	PersistPath string // History file to watch for changes (empty = no watching)
	Logger      *slog.Logger
}

// Run starts the TUI and blocks until it exits. A monitored job that is
// still running on exit is stopped. The returned result is zero when no
// monitor was given.
func Run(opts RunOptions) (monitor.Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := opts.Store
	if s == nil {
		s = store.NewStore(nil)
	}

	// Start file watcher if persistence path provided
	if opts.PersistPath != "" {
		watcher, err := store.NewFileWatcher(s, opts.PersistPath, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to create file watcher: %v\n", err)
		} else if err := watcher.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to start file watcher: %v\n", err)
		} else {
			defer watcher.Stop()
		}
	}

	var changes <-chan struct{}
	if mon := opts.Monitor; mon != nil {
		cfg := mon.Config()
		lw, err := monitor.NewLogWatcher(cfg.LogsDir, cfg.Pattern, logger)
		if err != nil {
			logger.Debug("log watcher unavailable, polling only", "error", err)
		} else if err := lw.Start(); err != nil {
			logger.Debug("log watcher unavailable, polling only", "error", err)
			_ = lw.Stop()
		} else {
			defer lw.Stop()
			changes = lw.Changes()
		}

		if err := mon.Start(); err != nil {
			return monitor.Result{}, err
		}
	}

	m := New(opts.Monitor, changes, s)
	p := tea.NewProgram(m, tea.WithAltScreen())

	_, err := p.Run()

	if opts.Monitor == nil {
		return monitor.Result{}, err
	}
	if opts.Monitor.Job().Running() {
		if stopErr := opts.Monitor.Stop(monitor.ReasonManual); stopErr != nil {
			logger.Warn("failed to stop job", "error", stopErr)
		}
	}
	<-opts.Monitor.Job().Done()
	return opts.Monitor.Result(), err
}
