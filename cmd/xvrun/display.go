package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/xvrun/internal/adapter/output"
	"github.com/jmylchreest/xvrun/internal/config"
	"github.com/jmylchreest/xvrun/internal/daemon"
	"github.com/jmylchreest/xvrun/internal/display"
	"github.com/jmylchreest/xvrun/internal/session"
	"github.com/jmylchreest/xvrun/internal/store"
)

var displayCmd = &cobra.Command{
	Use:   "display",
	Short: "Manage the virtual display without a front-end",
	Long: `Start, stop and inspect the virtual display on its own.

A display started here keeps running after xvrun exits, so several
front-ends can be launched against it with "xvrun run --policy reuse".`,
}

var displayStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the display server and wait until it is ready",
	Args:  cobra.NoArgs,
	RunE:  runDisplayStart,
}

var displayStopOpts struct {
	display int
	all     bool
}

var displayStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a display server started by xvrun",
	Long: `Stop a display server started by xvrun or xvrund and clear its session.

Each managed display has its own session. With a single one no flag is
needed; otherwise name the display with --display or pass --all.`,
	Args: cobra.NoArgs,
	RunE: runDisplayStop,
}

var displayStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check whether a display accepts connections",
	Long: `Check whether a display accepts connections. The display is taken from
--display, the only current session or $DISPLAY, in that order.

Exits 0 when the display is ready and 1 otherwise.`,
	Args: cobra.NoArgs,
	RunE: runDisplayStatus,
}

func init() {
	rootCmd.AddCommand(displayCmd)
	displayCmd.AddCommand(displayStartCmd, displayStopCmd, displayStatusCmd)

	fs := displayStartCmd.Flags()
	fs.IntVarP(&runOpts.display, "display", "d", 0,
		"Display number to start the server on")
	fs.StringVarP(&runOpts.geometry, "geometry", "g", "",
		"Screen geometry WxHxD")
	fs.StringVar(&runOpts.policy, "policy", "",
		"What to do when the display is in use (fail, next, reuse)")
	fs.StringVar(&runOpts.server, "server", "",
		"Display server binary")
	fs.DurationVar(&runOpts.timeout, "timeout", 0,
		"Maximum wait for the display to accept connections")

	displayStopCmd.Flags().IntVarP(&displayStopOpts.display, "display", "d", 0,
		"Display number whose server to stop")
	displayStopCmd.Flags().BoolVar(&displayStopOpts.all, "all", false,
		"Stop every display server started by xvrun")

	displayStatusCmd.Flags().IntVarP(&runOpts.display, "display", "d", 0,
		"Display number to check")
}

func runDisplayStart(cmd *cobra.Command, args []string) error {
	applyRunFlags(cmd.Flags(), nil)
	if err := cfg.Validate(); err != nil {
		return err
	}

	opts, err := daemon.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	opts.Owner = session.OwnerLauncher

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	m, err := daemon.StartDisplay(ctx, opts, historyStore, logger)
	if err != nil {
		return err
	}

	return newFormatter(false).FormatSession(os.Stdout, output.NewSessionView(m.Session))
}

func runDisplayStop(cmd *cobra.Command, args []string) error {
	if displayStopOpts.all {
		return stopAllDisplays()
	}

	_, path, err := pickSession(cmd.Flags().Changed("display"), displayStopOpts.display)
	if errors.Is(err, session.ErrNoSession) {
		return errors.New("no active session")
	}
	if err != nil {
		return err
	}
	return stopDisplay(path)
}

func stopAllDisplays() error {
	sessions, err := session.List(config.SessionDir())
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		return errors.New("no active session")
	}

	var errs []error
	for _, s := range sessions {
		d, err := s.ParsedDisplay()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := stopDisplay(sessionPath(d.Number)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Display, err))
		}
	}
	return errors.Join(errs...)
}

func stopDisplay(path string) error {
	s, err := daemon.StopDisplay(path, cfg.DisplayPaths(), cfg.Launch.StopTimeout.Duration(), logger)
	if err != nil {
		return err
	}

	if s.RunID != "" {
		if err := historyStore.Finish(s.RunID, 0, nil); err != nil && !errors.Is(err, store.ErrRunNotFound) {
			logger.Warn("failed to record run outcome", "id", s.RunID, "error", err)
		}
	}

	fmt.Printf("Stopped display %s (pid %d)\n", s.Display, s.ServerPID)
	return nil
}

func runDisplayStatus(cmd *cobra.Command, args []string) error {
	d, err := statusDisplay(cmd)
	if err != nil {
		return err
	}

	paths := cfg.DisplayPaths()
	ready := paths.Accepting(d)
	state := "not ready"
	if ready {
		state = "ready"
	}

	fmt.Printf("%-10s %s\n", "display", d)
	fmt.Printf("%-10s %s\n", "socket", paths.Socket(d))
	fmt.Printf("%-10s %s\n", "state", state)
	if pid := paths.LockPID(d); pid > 0 {
		fmt.Printf("%-10s %d\n", "lock pid", pid)
	}

	if !ready {
		return &exitError{code: 1}
	}
	return nil
}

// statusDisplay picks the display to inspect.
func statusDisplay(cmd *cobra.Command) (display.Display, error) {
	if cmd.Flags().Changed("display") {
		return display.New(runOpts.display), nil
	}
	if d, ok := sessionDisplay(); ok {
		return d, nil
	}
	if v := os.Getenv(display.EnvVar); v != "" {
		return display.Parse(v)
	}
	return display.New(cfg.Display.Number), nil
}
