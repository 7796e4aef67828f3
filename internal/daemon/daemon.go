package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmylchreest/xvrun/internal/config"
	"github.com/jmylchreest/xvrun/internal/display"
	"github.com/jmylchreest/xvrun/internal/model"
	"github.com/jmylchreest/xvrun/internal/process"
	"github.com/jmylchreest/xvrun/internal/session"
	"github.com/jmylchreest/xvrun/internal/store"
)

// ErrNotOwned is returned by StopDisplay for a display xvrun did not start.
var ErrNotOwned = errors.New("display server was not started by xvrun")

// Options configures a managed display.
type Options struct {
	Display      display.Display
	Geometry     display.Geometry
	Paths        display.Paths
	ServerBinary string
	ServerArgs   []string
	NoListenTCP  bool
	Policy       display.Policy
	Scan         int

	Timeout  time.Duration // Readiness wait
	Interval time.Duration // Readiness poll interval

	StopTimeout    time.Duration
	HealthInterval time.Duration

	ServerOutput io.Writer // Display server stdout/stderr, null device when nil
	SessionDir   string    // Holds one record per display, empty disables them
	Owner        string    // Session owner, session.OwnerDaemon by default
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
	return Options{
		Display:        display.New(cfg.Display.Number),
		Geometry:       geometry,
		Paths:          cfg.DisplayPaths(),
		ServerBinary:   cfg.Display.Server,
		ServerArgs:     cfg.Display.ExtraArgs,
		NoListenTCP:    cfg.Display.NoListenTCP,
		Policy:         policy,
		Scan:           cfg.Display.Scan,
		Timeout:        cfg.Readiness.Timeout.Duration(),
		Interval:       cfg.Readiness.Interval.Duration(),
		StopTimeout:    cfg.Launch.StopTimeout.Duration(),
		HealthInterval: cfg.Daemon.HealthInterval.Duration(),
		SessionDir:     config.SessionDir(),
		Owner:          session.OwnerDaemon,
	}, nil
}

// Managed is a display brought up by StartDisplay.
type Managed struct {
	Display display.Display
	Session *session.Session
	// Server is nil when an existing display was reused.
	Server *display.Server
	Run    *model.Run
}

// StartDisplay allocates a display, starts its server and waits until it
// accepts connections. On success the session record is written and, when
// st is not nil, a run is recorded. A reused display is recorded with the
// external owner and is never stopped by xvrun.
func StartDisplay(ctx context.Context, opts Options, st *store.Store, logger *slog.Logger) (*Managed, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Owner == "" {
		opts.Owner = session.OwnerDaemon
	}
	if err := opts.Geometry.Validate(); err != nil {
		return nil, err
	}

	alloc, err := opts.Paths.Allocate(opts.Display, opts.Policy, opts.Scan)
	if err != nil {
		return nil, err
	}
	d := alloc.Display

	cfg := display.ServerConfig{
		Binary:      opts.ServerBinary,
		Display:     d,
		Geometry:    opts.Geometry,
		NoListenTCP: opts.NoListenTCP,
		ExtraArgs:   opts.ServerArgs,
		Output:      opts.ServerOutput,
	}

	m := &Managed{
		Display: d,
		Session: &session.Session{
			Display:   d.String(),
			Geometry:  opts.Geometry.String(),
			Owner:     opts.Owner,
			Mode:      "display",
			StartedAt: time.Now(),
		},
	}

	if alloc.Reused {
		logger.Info("reusing running display", "display", d.String())
		m.Session.Owner = session.OwnerExternal
		m.Session.ServerPID = opts.Paths.LockPID(d)
	} else {
		m.Server = display.NewServer(cfg, logger)
		if err := m.Server.Start(); err != nil {
			return nil, err
		}
		m.Session.ServerPID = m.Server.PID()

		prober := display.NewProber(opts.Paths, opts.Interval, logger)
		if err := prober.Wait(ctx, d, opts.Timeout, m.Server.Done()); err != nil {
			if stopErr := m.Server.Stop(opts.StopTimeout); stopErr != nil {
				logger.Warn("failed to stop display server", "error", stopErr)
			}
			return nil, err
		}
	}
	m.Session.Phase = "ready"

	binary := cfg.Binary
	if binary == "" {
		binary = display.DefaultServerBinary
	}
	run, err := model.NewRun(d.String(), append([]string{binary}, cfg.Args()...))
	if err != nil {
		logger.Warn("failed to create run record", "error", err)
	} else {
		run.Geometry = opts.Geometry.String()
		run.Mode = "display"
		run.Phase = "ready"
		run.ServerPID = m.Session.ServerPID
		run.Reused = alloc.Reused
		m.Run = run
		m.Session.RunID = run.ID
		m.Session.Argv = run.Argv
		if st != nil {
			if err := st.Add(*run); err != nil {
				logger.Warn("failed to record run", "error", err)
			}
		}
	}

	if opts.SessionDir != "" {
		path := session.Path(opts.SessionDir, d)
		if err := session.Save(path, m.Session); err != nil {
			logger.Warn("failed to write session", "path", path, "error", err)
		}
	}

	logger.Info("display ready", "display", d.String(), "pid", m.Session.ServerPID, "owner", m.Session.Owner)
	return m, nil
}

// StopDisplay stops the display server recorded in the session file at
// path and clears the record. Displays xvrun reused but did not start are
// left running and ErrNotOwned is returned.
//
// The recorded PID is only signalled while paths still tie it to the
// display: the display's lock file names it, or the display accepts
// connections. A PID that has since been reused by another program is
// left alone and the stale record is cleared.
func StopDisplay(path string, paths display.Paths, grace time.Duration, logger *slog.Logger) (*session.Session, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := session.Load(path)
	if err != nil {
		return nil, err
	}
	if !s.OwnsServer() {
		return s, fmt.Errorf("%w: %s", ErrNotOwned, s.Display)
	}

	switch {
	case !s.ServerAlive():
		logger.Info("display server already gone", "display", s.Display, "pid", s.ServerPID)
	case !serverOwnsDisplay(s, paths):
		logger.Warn("recorded pid no longer serves the display, leaving it running",
			"display", s.Display, "pid", s.ServerPID)
	default:
		logger.Info("stopping display server", "display", s.Display, "pid", s.ServerPID)
		if err := process.Terminate(s.ServerPID, grace); err != nil {
			return s, fmt.Errorf("stop display server %d: %w", s.ServerPID, err)
		}
	}

	if err := session.Clear(path); err != nil {
		return s, err
	}
	return s, nil
}

// serverOwnsDisplay reports whether the session's server PID still belongs
// to its display.
func serverOwnsDisplay(s *session.Session, paths display.Paths) bool {
	d, err := s.ParsedDisplay()
	if err != nil {
		return false
	}
	if pid := paths.LockPID(d); pid > 0 {
		return pid == s.ServerPID
	}
	return paths.Accepting(d)
}

// Daemon keeps one display running until its context ends or the server
// dies.
type Daemon struct {
	opts   Options
	store  *store.Store
	logger *slog.Logger
}

// New creates a Daemon. st may be nil, in which case no history is kept.
func New(opts Options, st *store.Store, logger *slog.Logger) *Daemon {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = DefaultHealthInterval
	}
	if opts.Owner == "" {
		opts.Owner = session.OwnerDaemon
	}
	return &Daemon{
		opts:   opts,
		store:  st,
		logger: logger,
	}
}

// Run starts the display and blocks. It returns nil after a clean shutdown
// via ctx, or an error wrapping ErrServerDied or ErrSocketRefused when the
// display fails while being watched.
func (d *Daemon) Run(ctx context.Context) error {
	m, err := StartDisplay(ctx, d.opts, d.store, d.logger)
	if err != nil {
		return err
	}
	pid := m.Session.ServerPID
	watcher := NewHealthWatcher(d.opts.Paths, m.Display, pid, d.logger)
	watcher.SetPollInterval(d.opts.HealthInterval)

	unhealthy := make(chan error, 1)
	watcher.SetUnhealthyCallback(func(err error) {
		unhealthy <- err
	})
	_ = watcher.Start(ctx)
	defer watcher.Stop()

	var serverDone <-chan struct{}
	if m.Server != nil {
		serverDone = m.Server.Done()
	}

	var runErr error
	select {
	case <-ctx.Done():
		d.logger.Info("shutting down", "display", m.Session.Display)
	case <-serverDone:
		runErr = fmt.Errorf("%w: pid %d (%s)", ErrServerDied, pid, m.Session.Display)
		if err := m.Server.Err(); err != nil {
			runErr = fmt.Errorf("%w: %v", runErr, err)
		}
	case err := <-unhealthy:
		runErr = err
	}

	if m.Server != nil {
		if err := m.Server.Stop(d.opts.StopTimeout); err != nil {
			d.logger.Warn("failed to stop display server", "error", err)
		}
	}
	if d.opts.SessionDir != "" {
		if err := session.ClearIf(session.Path(d.opts.SessionDir, m.Display), m.Session.RunID); err != nil {
			d.logger.Warn("failed to clear session", "error", err)
		}
	}

	if m.Run != nil && d.store != nil {
		code := 0
		if runErr != nil {
			code = 1
		}
		if err := d.store.Finish(m.Run.ID, code, runErr); err != nil {
			d.logger.Warn("failed to record run outcome", "error", err)
		}
	}
	return runErr
}
