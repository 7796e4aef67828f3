package launcher

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jmylchreest/xvrun/internal/config"
	"github.com/jmylchreest/xvrun/internal/display"
)

// Options configures a Launcher.
type Options struct {
	Display      display.Display
	Geometry     display.Geometry
	Paths        display.Paths
	ServerBinary string
	ServerArgs   []string
	NoListenTCP  bool
	Policy       display.Policy
	Scan         int

	Strategy config.Strategy
	Timeout  time.Duration // probe: total wait
	Interval time.Duration // probe: poll interval
	Delay    time.Duration // delay: fixed sleep

	Mode        config.Mode
	StopTimeout time.Duration
	KeepDisplay bool

	Argv []string          // Front-end command line, headless switches included
	Dir  string            // Front-end working directory
	Env  map[string]string // Extra front-end environment

	Stdin        io.Reader
	Stdout       io.Writer
	Stderr       io.Writer
	ServerOutput io.Writer // Display server stdout/stderr, null device when nil

	SessionDir string // Holds one record per display, empty disables them

	// OnPhase, if set, is called synchronously on every phase change.
	OnPhase func(Phase)
}

// OptionsFromConfig builds Options from a validated configuration.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	geometry, err := display.ParseGeometry(cfg.Display.Geometry)
	if err != nil {
		return Options{}, err
	}
	policy, err := display.ParsePolicy(cfg.Display.Policy)
	if err != nil {
		return Options{}, err
	}
	strategy, err := config.ParseStrategy(cfg.Readiness.Strategy)
	if err != nil {
		return Options{}, err
	}
	mode, err := config.ParseMode(cfg.Launch.Mode)
	if err != nil {
		return Options{}, err
	}

	return Options{
		Display:      display.New(cfg.Display.Number),
		Geometry:     geometry,
		Paths:        cfg.DisplayPaths(),
		ServerBinary: cfg.Display.Server,
		ServerArgs:   cfg.Display.ExtraArgs,
		NoListenTCP:  cfg.Display.NoListenTCP,
		Policy:       policy,
		Scan:         cfg.Display.Scan,
		Strategy:     strategy,
		Timeout:      cfg.Readiness.Timeout.Duration(),
		Interval:     cfg.Readiness.Interval.Duration(),
		Delay:        cfg.Readiness.Delay.Duration(),
		Mode:         mode,
		StopTimeout:  cfg.Launch.StopTimeout.Duration(),
		KeepDisplay:  cfg.Launch.KeepDisplay,
		Argv:         cfg.FrontendArgv(),
		Dir:          cfg.Frontend.Dir,
		Env:          cfg.Frontend.Env,
		SessionDir:   config.SessionDir(),
	}, nil
}

// Validate checks that the options describe a launch that can be attempted.
func (o Options) Validate() error {
	if len(o.Argv) == 0 || o.Argv[0] == "" {
		return errors.New("front-end command is empty")
	}
	if err := o.Display.Validate(); err != nil {
		return err
	}
	if err := o.Geometry.Validate(); err != nil {
		return err
	}
	if o.Strategy != config.StrategyProbe && o.Strategy != config.StrategyDelay {
		return fmt.Errorf("invalid readiness strategy %q", o.Strategy)
	}
	if o.Mode != config.ModeSupervise && o.Mode != config.ModeExec {
		return fmt.Errorf("invalid launch mode %q", o.Mode)
	}
	return nil
}
