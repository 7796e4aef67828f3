package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/jmylchreest/xvrun/internal/config"
	"github.com/jmylchreest/xvrun/internal/display"
	"github.com/jmylchreest/xvrun/internal/model"
	"github.com/jmylchreest/xvrun/internal/process"
	"github.com/jmylchreest/xvrun/internal/session"
	"github.com/jmylchreest/xvrun/internal/store"
)

// ErrInterrupted is returned when a signal arrives before the front-end
// has started.
var ErrInterrupted = errors.New("launch interrupted")

// execFunc replaces the process image. Tests swap it for a recorder.
var execFunc = unix.Exec

// notifySignals subscribes to the signals forwarded to a supervised
// front-end. Tests swap it to inject signals.
var notifySignals = func() (<-chan os.Signal, func()) {
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, unix.SIGINT, unix.SIGTERM, unix.SIGHUP)
	return ch, func() { signal.Stop(ch) }
}

// Launcher runs one display + front-end launch.
type Launcher struct {
	opts   Options
	store  *store.Store
	logger *slog.Logger

	mu    sync.Mutex
	phase Phase

	run    *model.Run
	server *display.Server
	alloc  display.Allocation
}

// New creates a Launcher. st may be nil, in which case no history is kept.
func New(opts Options, st *store.Store, logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Interval <= 0 {
		opts.Interval = display.DefaultProbeInterval
	}
	if opts.Paths.SocketDir == "" || opts.Paths.LockDir == "" {
		defaults := display.DefaultPaths()
		if opts.Paths.SocketDir == "" {
			opts.Paths.SocketDir = defaults.SocketDir
		}
		if opts.Paths.LockDir == "" {
			opts.Paths.LockDir = defaults.LockDir
		}
	}
	return &Launcher{
		opts:   opts,
		store:  st,
		logger: logger,
	}
}

// Phase returns the current phase.
func (l *Launcher) Phase() Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phase
}

func (l *Launcher) setPhase(p Phase) {
	l.mu.Lock()
	l.phase = p
	l.mu.Unlock()

	l.logger.Debug("launcher phase", "phase", p.String())
	if l.run != nil {
		l.run.Phase = p.String()
	}
	if l.opts.OnPhase != nil {
		l.opts.OnPhase(p)
	}
}

// Run performs the launch and returns the front-end's exit code.
//
// Launcher failures (display in use, server failed to start, display not
// ready, front-end failed to start) return exit code 1 and an error. In
// exec mode Run only returns on failure.
func (l *Launcher) Run(ctx context.Context) (int, error) {
	if err := l.opts.Validate(); err != nil {
		return 1, err
	}

	// Subscribe before anything is started: a signal during startup must
	// reach fail so the display server is stopped.
	signals, stopSignals := notifySignals()
	defer stopSignals()
	setupCtx, endSetup := watchInterrupts(ctx, signals)
	defer endSetup()

	l.setPhase(PhaseDisplayStarting)
	l.recordStart()

	alloc, err := l.opts.Paths.Allocate(l.opts.Display, l.opts.Policy, l.opts.Scan)
	if err != nil {
		return l.fail(err)
	}
	l.alloc = alloc
	d := alloc.Display
	if d != l.opts.Display {
		l.logger.Info("display in use, using next free display", "wanted", l.opts.Display.String(), "display", d.String())
	}
	if l.run != nil {
		l.run.Display = d.String()
		l.run.Reused = alloc.Reused
	}

	if alloc.Reused {
		l.logger.Info("reusing running display", "display", d.String())
	} else if err := l.startServer(d); err != nil {
		if l.opts.Strategy != config.StrategyDelay {
			return l.fail(err)
		}
		// The fixed-delay launch never checked the server; keep going and
		// let the front-end report the missing display.
		l.logger.Warn("display server did not start, continuing after delay", "display", d.String(), "error", err)
	}

	// The value exported here and the value the server was started with
	// both come from d.
	if err := display.SetEnv(d); err != nil {
		return l.fail(fmt.Errorf("set %s: %w", display.EnvVar, err))
	}

	l.setPhase(PhaseDelayWait)
	err = l.waitReady(setupCtx, d)
	if sigErr := endSetup(); sigErr != nil {
		return l.fail(sigErr)
	}
	if err != nil {
		return l.fail(err)
	}

	env := l.frontendEnv(d)

	if l.opts.Mode == config.ModeExec {
		return l.execFrontend(env)
	}
	return l.superviseFrontend(ctx, env, signals)
}

// watchInterrupts returns a context that is cancelled when a signal
// arrives on signals. The returned function ends the watch, leaving later
// signals on the channel, and reports the interruption if there was one.
// It may be called more than once.
func watchInterrupts(ctx context.Context, signals <-chan os.Signal) (context.Context, func() error) {
	ctx, cancel := context.WithCancel(ctx)
	quit := make(chan struct{})
	done := make(chan struct{})
	var interrupted error

	go func() {
		defer close(done)
		select {
		case sig := <-signals:
			interrupted = fmt.Errorf("%w (%s)", ErrInterrupted, sig)
			cancel()
		case <-quit:
		case <-ctx.Done():
		}
	}()

	var once sync.Once
	return ctx, func() error {
		once.Do(func() {
			close(quit)
			<-done
			cancel()
		})
		return interrupted
	}
}

func (l *Launcher) startServer(d display.Display) error {
	l.server = display.NewServer(display.ServerConfig{
		Binary:      l.opts.ServerBinary,
		Display:     d,
		Geometry:    l.opts.Geometry,
		NoListenTCP: l.opts.NoListenTCP,
		ExtraArgs:   l.opts.ServerArgs,
		Output:      l.opts.ServerOutput,
	}, l.logger)

	if err := l.server.Start(); err != nil {
		l.server = nil
		return err
	}
	if l.run != nil {
		l.run.ServerPID = l.server.PID()
	}
	return nil
}

func (l *Launcher) waitReady(ctx context.Context, d display.Display) error {
	switch l.opts.Strategy {
	case config.StrategyDelay:
		if l.opts.Delay <= 0 {
			return nil
		}
		l.logger.Debug("waiting fixed delay", "display", d.String(), "delay", l.opts.Delay)
		timer := time.NewTimer(l.opts.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}

	default:
		var exited <-chan struct{}
		if l.server != nil {
			exited = l.server.Done()
		}
		prober := display.NewProber(l.opts.Paths, l.opts.Interval, l.logger)
		return prober.Wait(ctx, d, l.opts.Timeout, exited)
	}
}

// frontendEnv returns the front-end's environment: ours, plus configured
// extras, with DISPLAY forced to d.
func (l *Launcher) frontendEnv(d display.Display) []string {
	env := os.Environ()
	keys := make([]string, 0, len(l.opts.Env))
	for k := range l.opts.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = setEnv(env, k, l.opts.Env[k])
	}
	return display.WithEnv(env, d)
}

func setEnv(env []string, key, value string) []string {
	prefix := key + "="
	out := make([]string, 0, len(env)+1)
	for _, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			continue
		}
		out = append(out, kv)
	}
	return append(out, prefix+value)
}

func (l *Launcher) execFrontend(env []string) (int, error) {
	path, err := exec.LookPath(l.opts.Argv[0])
	if err != nil {
		return l.fail(fmt.Errorf("front-end %q: %w", l.opts.Argv[0], err))
	}

	l.setPhase(PhaseFrontendRunning)
	if l.run != nil {
		l.run.Status = model.StatusExecuted
		l.updateRun()
	}
	// After exec the front-end keeps our PID.
	l.saveSession(os.Getpid())

	l.logger.Info("exec front-end", "path", path, "argv", l.opts.Argv, "display", l.alloc.Display.String())
	if err := execFunc(path, l.opts.Argv, env); err != nil {
		l.clearSession()
		if l.run != nil {
			l.run.Status = model.StatusRunning
		}
		return l.fail(fmt.Errorf("exec front-end %s: %w", path, err))
	}

	// Only reachable when execFunc has been replaced.
	return 0, nil
}

func (l *Launcher) superviseFrontend(ctx context.Context, env []string, signals <-chan os.Signal) (int, error) {
	cmd := exec.Command(l.opts.Argv[0], l.opts.Argv[1:]...)
	cmd.Env = env
	cmd.Dir = l.opts.Dir
	cmd.Stdin = l.opts.Stdin
	cmd.Stdout = l.opts.Stdout
	cmd.Stderr = l.opts.Stderr

	// Own group so the whole front-end can be signalled. On a terminal the
	// group is also made the foreground one, otherwise reading stdin would
	// stop it with SIGTTIN.
	tty := terminalFD(l.opts.Stdin)
	if tty >= 0 {
		cmd.SysProcAttr = process.ForegroundAttr(tty)
	} else {
		cmd.SysProcAttr = process.GroupAttr()
	}

	if err := cmd.Start(); err != nil {
		return l.fail(fmt.Errorf("start front-end %q: %w", l.opts.Argv[0], err))
	}
	pid := cmd.Process.Pid
	if tty >= 0 {
		defer func() {
			if err := process.ReclaimForeground(tty); err != nil {
				l.logger.Warn("failed to reclaim terminal", "error", err)
			}
		}()
	}

	done := make(chan struct{})
	var waitErr error
	go func() {
		waitErr = cmd.Wait()
		close(done)
	}()

	l.setPhase(PhaseFrontendRunning)
	l.updateRun()
	l.saveSession(pid)
	l.logger.Info("front-end started", "argv", l.opts.Argv, "pid", pid, "display", l.alloc.Display.String())

	var serverDone <-chan struct{}
	if l.server != nil {
		serverDone = l.server.Done()
	}

	var ctxErr error
	ctxDone := ctx.Done()
wait:
	for {
		select {
		case <-done:
			break wait

		case sig := <-signals:
			s, ok := sig.(syscall.Signal)
			if !ok {
				continue
			}
			l.logger.Info("forwarding signal to front-end", "signal", s.String(), "pid", pid)
			if err := process.SignalGroup(pid, s); err != nil {
				l.logger.Warn("failed to forward signal", "signal", s.String(), "error", err)
			}

		case <-ctxDone:
			ctxErr = ctx.Err()
			ctxDone = nil
			l.logger.Info("stopping front-end", "pid", pid, "reason", ctxErr)
			if err := process.StopChild(cmd, done, l.opts.StopTimeout); err != nil {
				l.logger.Warn("failed to stop front-end", "pid", pid, "error", err)
			}

		case <-serverDone:
			serverDone = nil
			l.logger.Warn("display server exited while front-end is running",
				"display", l.alloc.Display.String(), "error", l.server.Err())
		}
	}

	code := process.ExitCode(waitErr)
	l.logger.Info("front-end exited", "pid", pid, "code", code)

	l.setPhase(PhaseExited)
	l.teardown()
	l.finishRun(code, ctxErr)
	return code, ctxErr
}

// terminalFD returns the descriptor of r when it is a terminal, or -1.
func terminalFD(r io.Reader) int {
	f, ok := r.(*os.File)
	if !ok || f == nil {
		return -1
	}
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return -1
	}
	return fd
}

// teardown stops the display server we started, unless configured to
// keep it, and updates the session record to match.
func (l *Launcher) teardown() {
	if l.server == nil {
		l.clearSession()
		return
	}
	if l.opts.KeepDisplay {
		l.logger.Info("leaving display server running", "display", l.alloc.Display.String(), "pid", l.server.PID())
		l.saveSession(0)
		return
	}
	if err := l.server.Stop(l.opts.StopTimeout); err != nil && !errors.Is(err, display.ErrServerNotStarted) {
		l.logger.Warn("failed to stop display server", "error", err)
	}
	l.clearSession()
}

// fail stops anything started so far, records the failure and returns
// the launcher's error exit.
func (l *Launcher) fail(err error) (int, error) {
	if l.server != nil {
		if stopErr := l.server.Stop(l.opts.StopTimeout); stopErr != nil {
			l.logger.Warn("failed to stop display server", "error", stopErr)
		}
	}
	l.setPhase(PhaseFailed)
	l.finishRun(1, err)
	return 1, err
}

func (l *Launcher) recordStart() {
	run, err := model.NewRun(l.opts.Display.String(), l.opts.Argv)
	if err != nil {
		l.logger.Warn("failed to create run record", "error", err)
		return
	}
	run.Geometry = l.opts.Geometry.String()
	run.Mode = string(l.opts.Mode)
	run.Strategy = string(l.opts.Strategy)
	run.Phase = l.Phase().String()
	l.run = run

	if l.store != nil {
		if err := l.store.Add(*run); err != nil {
			l.logger.Warn("failed to record run", "error", err)
		}
	}
}

func (l *Launcher) updateRun() {
	if l.run == nil || l.store == nil {
		return
	}
	if err := l.store.Update(*l.run); err != nil {
		l.logger.Warn("failed to update run", "id", l.run.ID, "error", err)
	}
}

func (l *Launcher) finishRun(code int, err error) {
	if l.run == nil {
		return
	}
	l.run.Finish(code, err)
	l.updateRun()
}

// RunID returns the history ID of the current run, or "" before Run.
func (l *Launcher) RunID() string {
	if l.run == nil {
		return ""
	}
	return l.run.ID
}

// sessionPath returns the record path for the allocated display, or ""
// when session records are disabled.
func (l *Launcher) sessionPath() string {
	if l.opts.SessionDir == "" {
		return ""
	}
	return session.Path(l.opts.SessionDir, l.alloc.Display)
}

func (l *Launcher) saveSession(frontendPID int) {
	path := l.sessionPath()
	if path == "" {
		return
	}

	s := &session.Session{
		RunID:       l.RunID(),
		Display:     l.alloc.Display.String(),
		Geometry:    l.opts.Geometry.String(),
		Owner:       session.OwnerLauncher,
		FrontendPID: frontendPID,
		Argv:        l.opts.Argv,
		Mode:        string(l.opts.Mode),
		Phase:       l.Phase().String(),
		StartedAt:   time.Now(),
	}
	switch {
	case l.server != nil:
		s.ServerPID = l.server.PID()
	case l.alloc.Reused:
		s.Owner = session.OwnerExternal
		s.ServerPID = l.opts.Paths.LockPID(l.alloc.Display)
	}
	if l.run != nil {
		s.StartedAt = l.run.StartedTime()
	}

	if err := session.Save(path, s); err != nil {
		l.logger.Warn("failed to write session", "path", path, "error", err)
	}
}

func (l *Launcher) clearSession() {
	path := l.sessionPath()
	if path == "" {
		return
	}
	if err := session.ClearIf(path, l.RunID()); err != nil {
		l.logger.Warn("failed to clear session", "path", path, "error", err)
	}
}
