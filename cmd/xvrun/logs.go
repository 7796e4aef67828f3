package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jmylchreest/xvrun/internal/adapter/output"
	"github.com/jmylchreest/xvrun/internal/monitor"
)

var logsOpts struct {
	file    string
	noColor bool
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Print the tail of the newest job log",
	Long: `Print the last lines of the newest log file in the monitor logs
directory, coloured by level when stdout is a terminal.

Exits 1 when the file contains a line reporting ERROR.

Examples:
  # Last 50 lines of the newest log
  xvrun logs -n 50

  # Classified lines as JSON
  xvrun logs --format json`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().StringVar(&watchOpts.logsDir, "logs-dir", "",
		"Directory holding the job's log files")
	logsCmd.Flags().StringVar(&watchOpts.pattern, "pattern", "",
		"Glob selecting log files in --logs-dir")
	logsCmd.Flags().IntVarP(&watchOpts.lines, "lines", "n", 0,
		"Number of lines to print")
	logsCmd.Flags().StringVar(&logsOpts.file, "file", "",
		"Read this file instead of the newest log")
	logsCmd.Flags().BoolVar(&logsOpts.noColor, "no-color", false,
		"Disable colour output")
}

func runLogs(cmd *cobra.Command, args []string) error {
	applyMonitorFlags(cmd)
	if err := cfg.Validate(); err != nil {
		return err
	}

	path := logsOpts.file
	if path == "" {
		var err error
		path, err = monitor.NewestLog(cfg.Monitor.LogsDir, cfg.Monitor.Pattern)
		if errors.Is(err, monitor.ErrNoLogs) {
			return fmt.Errorf("no log files matching %s in %s", cfg.Monitor.Pattern, cfg.Monitor.LogsDir)
		}
		if err != nil {
			return err
		}
	}

	tail, err := monitor.ScanLog(path, cfg.Monitor.MaxLines)
	if err != nil {
		return err
	}

	color := !logsOpts.noColor && term.IsTerminal(int(os.Stdout.Fd()))
	if err := newFormatter(color).FormatLog(os.Stdout, output.NewLogView(tail)); err != nil {
		return err
	}

	if tail.ErrorFound {
		return &exitError{code: 1}
	}
	return nil
}
