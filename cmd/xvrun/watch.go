package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jmylchreest/xvrun/internal/config"
	"github.com/jmylchreest/xvrun/internal/display"
	"github.com/jmylchreest/xvrun/internal/model"
	"github.com/jmylchreest/xvrun/internal/monitor"
	"github.com/jmylchreest/xvrun/internal/tui"
)

var watchOpts struct {
	logsDir     string
	pattern     string
	duration    time.Duration
	lines       int
	keepOnError bool
	noTUI       bool
}

var watchCmd = &cobra.Command{
	Use:   "watch [flags] [-- command...]",
	Short: "Run a job and watch its progress and logs",
	Long: `Run a job against the current display and show a dashboard with a
progress bar over the configured duration and a colour-coded tail of the
newest log file.

The job is stopped when the duration is reached, when a log line reports
ERROR (unless --keep-on-error), or on request. Without a command the
configured front-end is run.

The display comes from the current session, then $DISPLAY, then the
configured display number. When stdout is not a terminal, progress is
printed as plain lines instead of the dashboard.

Key bindings:
  s           Stop the job
  f           Toggle following the log tail
  tab         Switch to run history
  ?           Show help
  q           Stop the job and quit`,
	Args: cobra.ArbitraryArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().SetInterspersed(false)

	watchCmd.Flags().StringVar(&watchOpts.logsDir, "logs-dir", "",
		"Directory the job writes its log files to (default from config, ./logs)")
	watchCmd.Flags().StringVar(&watchOpts.pattern, "pattern", "",
		"Glob selecting log files in --logs-dir (default *.txt)")
	watchCmd.Flags().DurationVar(&watchOpts.duration, "duration", 0,
		"Run time after which the job is stopped (default 1h)")
	watchCmd.Flags().IntVarP(&watchOpts.lines, "lines", "n", 0,
		"Number of log lines to display (default 500)")
	watchCmd.Flags().BoolVar(&watchOpts.keepOnError, "keep-on-error", false,
		"Do not stop the job when a log line reports ERROR")
	watchCmd.Flags().BoolVar(&watchOpts.noTUI, "no-tui", false,
		"Print progress lines instead of the dashboard")
}

// applyMonitorFlags overlays explicitly set monitor flags onto the config.
func applyMonitorFlags(cmd *cobra.Command) {
	fs := cmd.Flags()
	if fs.Changed("logs-dir") {
		cfg.Monitor.LogsDir = watchOpts.logsDir
	}
	if fs.Changed("pattern") {
		cfg.Monitor.Pattern = watchOpts.pattern
	}
	if fs.Changed("duration") {
		cfg.Monitor.Duration = config.Duration(watchOpts.duration)
	}
	if fs.Changed("lines") {
		cfg.Monitor.MaxLines = watchOpts.lines
	}
	if fs.Changed("keep-on-error") {
		cfg.Monitor.StopOnError = !watchOpts.keepOnError
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	applyMonitorFlags(cmd)
	if err := cfg.Validate(); err != nil {
		return err
	}

	argv := cfg.FrontendArgv()
	if len(args) > 0 {
		argv = args
	}

	d, err := currentDisplay()
	if err != nil {
		return err
	}

	interactive := !watchOpts.noTUI && term.IsTerminal(int(os.Stdout.Fd()))

	jobCfg := monitor.JobConfig{
		Argv:    argv,
		Dir:     cfg.Frontend.Dir,
		Display: d,
	}
	if !interactive {
		jobCfg.Output = os.Stderr
	}

	mon := monitor.New(monitor.NewJob(jobCfg, logger), monitor.Config{
		LogsDir:     cfg.Monitor.LogsDir,
		Pattern:     cfg.Monitor.Pattern,
		Duration:    cfg.Monitor.Duration.Duration(),
		MaxLines:    cfg.Monitor.MaxLines,
		StopOnError: cfg.Monitor.StopOnError,
		StopTimeout: cfg.Launch.StopTimeout.Duration(),
	}, logger)

	run := recordWatch(d, argv)

	var result monitor.Result
	if interactive {
		result, err = tui.Run(tui.RunOptions{
			Monitor:     mon,
			Store:       historyStore,
			PersistPath: historyPath(),
			Logger:      logger,
		})
	} else {
		result, err = watchPlain(cmd.Context(), mon)
	}

	finishWatch(run, result, err)
	if err != nil {
		return err
	}

	fmt.Println(result.Reason.Message())
	if result.Reason.IsError() && result.ErrorLine != "" {
		fmt.Fprintln(os.Stderr, result.ErrorLine)
	}
	return watchExit(result)
}

// watchExit maps a finished watch to the command's exit status: 1 for a
// log error, the job's own status when it exited by itself, 0 otherwise.
func watchExit(result monitor.Result) error {
	switch {
	case result.Reason.IsError():
		return &exitError{code: 1}
	case result.Reason == monitor.ReasonExited && result.ExitCode != 0:
		return &exitError{code: result.ExitCode}
	}
	return nil
}

// plainProgressEvery is how often watchPlain repeats the progress line.
const plainProgressEvery = 10 * time.Second

// progressPrinter writes the plain-text rendition of monitor updates.
type progressPrinter struct {
	w          io.Writer
	every      time.Duration
	lastPath   string
	lastReason monitor.StopReason
	lastAt     time.Time
}

func (p *progressPrinter) update(u monitor.Update) {
	if u.LogPath != p.lastPath {
		p.lastPath = u.LogPath
		fmt.Fprintf(p.w, "Watching log file: %s\n", u.LogPath)
	}

	changed := u.Reason != p.lastReason
	p.lastReason = u.Reason
	if !changed && !p.lastAt.IsZero() && u.At.Sub(p.lastAt) < p.every {
		return
	}
	p.lastAt = u.At

	line := fmt.Sprintf("Time elapsed: %s   Remaining: %s   %3.0f%%",
		u.Progress.Elapsed.Truncate(time.Second),
		u.Progress.Remaining.Truncate(time.Second),
		u.Progress.Ratio*100)
	if u.Reason != monitor.ReasonNone {
		line += "   Stopping: " + u.Reason.String()
	}
	fmt.Fprintln(p.w, line)
}

// watchPlain runs the monitor without a terminal UI, printing a progress
// line every plainProgressEvery and whenever the newest log file or the
// stop reason changes.
func watchPlain(ctx context.Context, mon *monitor.Monitor) (monitor.Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := &progressPrinter{w: os.Stdout, every: plainProgressEvery}
	return mon.Run(ctx, p.update)
}

// currentDisplay picks the display a watched job renders to.
func currentDisplay() (display.Display, error) {
	if d, ok := sessionDisplay(); ok {
		return d, nil
	}
	if v := os.Getenv(display.EnvVar); v != "" {
		return display.Parse(v)
	}
	return display.New(cfg.Display.Number), nil
}

func recordWatch(d display.Display, argv []string) *model.Run {
	run, err := model.NewRun(d.String(), argv)
	if err != nil {
		logger.Warn("failed to create run record", "error", err)
		return nil
	}
	run.Mode = "watch"
	run.Phase = "running"
	if err := historyStore.Add(*run); err != nil {
		logger.Warn("failed to record run", "error", err)
	}
	return run
}

func finishWatch(run *model.Run, result monitor.Result, err error) {
	if run == nil {
		return
	}
	code := result.ExitCode
	if result.Reason == monitor.ReasonDuration {
		// Stopped on schedule.
		code = 0
	}
	if err == nil && result.Reason.IsError() {
		msg := result.ErrorLine
		if msg == "" {
			msg = result.Reason.Message()
		}
		err = errors.New(msg)
		code = 1
	}
	run.Phase = result.Reason.String()
	run.Finish(code, err)
	if updErr := historyStore.Update(*run); updErr != nil {
		logger.Warn("failed to update run", "id", run.ID, "error", updErr)
	}
	logger.Debug("watch finished",
		"reason", result.Reason.String(),
		"elapsed", result.Elapsed.Truncate(time.Second),
	)
}
