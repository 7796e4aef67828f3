package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jmylchreest/xvrun/internal/config"
	"github.com/jmylchreest/xvrun/internal/launcher"
)

var runOpts struct {
	display     int
	geometry    string
	policy      string
	server      string
	mode        string
	strategy    string
	timeout     time.Duration
	delay       time.Duration
	keepDisplay bool
	headless    bool
	dir         string
}

var runCmd = &cobra.Command{
	Use:   "run [flags] [-- command...]",
	Short: "Start a virtual display and run a front-end on it",
	Long: `Start a virtual framebuffer X server, wait until it is ready, export
DISPLAY and run the front-end.

Without a command the front-end from the config file is used, with its
headless switches appended. An explicit command is run as given unless
--headless is passed.

In supervise mode (default) xvrun stays resident, forwards signals to the
front-end, exits with its status and stops the display server afterwards.
In exec mode xvrun replaces itself with the front-end; the server keeps
running and can be stopped with "xvrun display stop".

Examples:
  # Default front-end on :99
  xvrun

  # Custom command on the next free display, probing for up to 30s
  xvrun run --policy next --timeout 30s -- python -m http.server

  # Hand off to the front-end like a shell "exec"
  xvrun run --mode exec -- streamlit run app.py --server.headless true`,
	Args: cobra.ArbitraryArgs,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	addRunFlags(runCmd)
}

// addRunFlags registers the launch flags on cmd. Both the root command and
// "run" accept them.
func addRunFlags(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.SetInterspersed(false)

	fs.IntVarP(&runOpts.display, "display", "d", 0,
		"Display number to start the server on (default from config, 99)")
	fs.StringVarP(&runOpts.geometry, "geometry", "g", "",
		"Screen geometry WxHxD (default 1920x1080x24)")
	fs.StringVar(&runOpts.policy, "policy", "",
		"What to do when the display is in use (fail, next, reuse)")
	fs.StringVar(&runOpts.server, "server", "",
		"Display server binary (default Xvfb)")
	fs.StringVarP(&runOpts.mode, "mode", "m", "",
		"Front-end handling (supervise, exec)")
	fs.StringVar(&runOpts.strategy, "strategy", "",
		"Readiness strategy (probe, delay)")
	fs.DurationVar(&runOpts.timeout, "timeout", 0,
		"Maximum wait for the display to accept connections (probe)")
	fs.DurationVar(&runOpts.delay, "delay", 0,
		"Fixed wait before starting the front-end (delay)")
	fs.BoolVar(&runOpts.keepDisplay, "keep-display", false,
		"Leave the display server running after the front-end exits")
	fs.BoolVar(&runOpts.headless, "headless", false,
		"Append the configured headless switches to an explicit command")
	fs.StringVar(&runOpts.dir, "dir", "",
		"Working directory for the front-end")
}

// applyRunFlags overlays explicitly set launch flags onto the config.
func applyRunFlags(fs *pflag.FlagSet, args []string) {
	if fs.Changed("display") {
		cfg.Display.Number = runOpts.display
	}
	if fs.Changed("geometry") {
		cfg.Display.Geometry = runOpts.geometry
	}
	if fs.Changed("policy") {
		cfg.Display.Policy = runOpts.policy
	}
	if fs.Changed("server") {
		cfg.Display.Server = runOpts.server
	}
	if fs.Changed("mode") {
		cfg.Launch.Mode = runOpts.mode
	}
	if fs.Changed("strategy") {
		cfg.Readiness.Strategy = runOpts.strategy
	}
	if fs.Changed("timeout") {
		cfg.Readiness.Timeout = config.Duration(runOpts.timeout)
	}
	if fs.Changed("delay") {
		cfg.Readiness.Delay = config.Duration(runOpts.delay)
	}
	if fs.Changed("keep-display") {
		cfg.Launch.KeepDisplay = runOpts.keepDisplay
	}
	if fs.Changed("dir") {
		cfg.Frontend.Dir = runOpts.dir
	}

	if len(args) > 0 {
		cfg.Frontend.Command = args
		cfg.Frontend.Headless = runOpts.headless
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	applyRunFlags(cmd.Flags(), args)
	if err := cfg.Validate(); err != nil {
		return err
	}

	opts, err := launcher.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	opts.Stdin = os.Stdin
	opts.Stdout = os.Stdout
	opts.Stderr = os.Stderr
	opts.OnPhase = func(p launcher.Phase) {
		logger.Debug("launch phase", "phase", p.String())
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	l := launcher.New(opts, historyStore, logger)
	code, err := l.Run(ctx)
	if err != nil {
		return &exitError{code: code, err: err}
	}
	if code != 0 {
		return &exitError{code: code}
	}
	return nil
}
