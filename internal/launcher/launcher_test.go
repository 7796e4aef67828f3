package launcher

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/jmylchreest/xvrun/internal/config"
	"github.com/jmylchreest/xvrun/internal/display"
	"github.com/jmylchreest/xvrun/internal/model"
	"github.com/jmylchreest/xvrun/internal/process"
	"github.com/jmylchreest/xvrun/internal/session"
	"github.com/jmylchreest/xvrun/internal/store"
)

type harness struct {
	t          *testing.T
	dir        string
	paths      display.Paths
	serverBin  string
	serverArgs string // file the fake server writes its argv to
	envFile    string // file the fake front-end writes $DISPLAY to
	frontend   string
	sessionDir string
	sessionTo  string // record for :99
	store      *store.Store

	mu        sync.Mutex
	listeners []net.Listener
	phases    []Phase
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	// Run exports DISPLAY into this process; restore it afterwards.
	t.Setenv(display.EnvVar, "")

	dir := t.TempDir()
	h := &harness{
		t:          t,
		dir:        dir,
		paths:      display.Paths{SocketDir: filepath.Join(dir, "x11"), LockDir: dir},
		serverArgs: filepath.Join(dir, "server-args"),
		envFile:    filepath.Join(dir, "frontend-display"),
		sessionDir: filepath.Join(dir, "run"),
		store:      store.NewStore(nil),
	}
	h.sessionTo = session.Path(h.sessionDir, display.New(99))
	require.NoError(t, os.MkdirAll(h.paths.SocketDir, 0755))
	h.serverBin = h.script("fake-xvfb", "echo \"$@\" > "+h.serverArgs+"\nexec sleep 30")
	h.frontend = h.script("fake-frontend", "echo \"$DISPLAY\" > "+h.envFile+"\nexit 0")

	t.Cleanup(func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for _, l := range h.listeners {
			_ = l.Close()
		}
		_ = h.store.Close()
	})
	return h
}

func (h *harness) script(name, body string) string {
	h.t.Helper()
	path := filepath.Join(h.dir, name)
	require.NoError(h.t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

// listen makes display d accept connections, standing in for a real server.
func (h *harness) listen(d display.Display) {
	l, err := net.Listen("unix", h.paths.Socket(d))
	if err != nil {
		h.t.Errorf("listen %s: %v", d, err)
		return
	}
	h.mu.Lock()
	h.listeners = append(h.listeners, l)
	h.mu.Unlock()
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()
}

func (h *harness) options(mode config.Mode, strategy config.Strategy) Options {
	return Options{
		Display:      display.New(99),
		Geometry:     display.DefaultGeometry,
		Paths:        h.paths,
		ServerBinary: h.serverBin,
		Policy:       display.PolicyFail,
		Scan:         display.DefaultScan,
		Strategy:     strategy,
		Timeout:      3 * time.Second,
		Interval:     10 * time.Millisecond,
		Delay:        50 * time.Millisecond,
		Mode:         mode,
		StopTimeout:  time.Second,
		Argv:         []string{h.frontend, "--server.headless", "true"},
		SessionDir:   h.sessionDir,
	}
}

// serveWhenWaiting makes the display ready as soon as the launcher starts
// waiting for it, and records every phase.
func (h *harness) serveWhenWaiting(d display.Display) func(Phase) {
	return func(p Phase) {
		h.mu.Lock()
		h.phases = append(h.phases, p)
		h.mu.Unlock()
		if p == PhaseDelayWait {
			h.listen(d)
		}
	}
}

func (h *harness) recordPhases(p Phase) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.phases = append(h.phases, p)
}

func (h *harness) readFile(path string) string {
	h.t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(h.t, err)
	return strings.TrimSpace(string(data))
}

func (h *harness) onlyRun() model.Run {
	h.t.Helper()
	runs := h.store.List()
	require.Len(h.t, runs, 1)
	return runs[0]
}

func TestRun_SuperviseScenario(t *testing.T) {
	h := newHarness(t)
	opts := h.options(config.ModeSupervise, config.StrategyProbe)
	opts.OnPhase = h.serveWhenWaiting(display.New(99))

	code, err := New(opts, h.store, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	// Server bound :99 at 1920x1080x24, and the front-end saw DISPLAY=:99.
	assert.Equal(t, ":99 -screen 0 1920x1080x24", h.readFile(h.serverArgs))
	assert.Equal(t, ":99", h.readFile(h.envFile))
	assert.Equal(t, ":99", os.Getenv(display.EnvVar))

	assert.Equal(t, []Phase{PhaseDisplayStarting, PhaseDelayWait, PhaseFrontendRunning, PhaseExited}, h.phases)

	run := h.onlyRun()
	assert.Equal(t, model.StatusExited, run.Status)
	assert.Equal(t, "exited", run.Phase)
	assert.Equal(t, ":99", run.Display)
	assert.Greater(t, run.ServerPID, 0)

	// The display server we started is stopped and the session cleared.
	assert.Eventually(t, func() bool { return !process.Alive(run.ServerPID) }, 5*time.Second, 20*time.Millisecond)
	_, err = session.Load(h.sessionTo)
	assert.ErrorIs(t, err, session.ErrNoSession)
}

func TestRun_DisplayConsistentAcrossNumbers(t *testing.T) {
	for _, n := range []int{1, 42, 99} {
		h := newHarness(t)
		opts := h.options(config.ModeSupervise, config.StrategyProbe)
		opts.Display = display.New(n)
		opts.OnPhase = h.serveWhenWaiting(display.New(n))

		_, err := New(opts, nil, nil).Run(context.Background())
		require.NoError(t, err)

		serverDisplay := strings.Fields(h.readFile(h.serverArgs))[0]
		assert.Equal(t, serverDisplay, h.readFile(h.envFile))
		assert.Equal(t, display.New(n).String(), serverDisplay)
	}
}

func TestRun_FrontendExitCode(t *testing.T) {
	h := newHarness(t)
	opts := h.options(config.ModeSupervise, config.StrategyProbe)
	opts.Argv = []string{h.script("failing-frontend", "echo boom >&2\nexit 4")}
	opts.OnPhase = h.serveWhenWaiting(display.New(99))
	var stderr bytes.Buffer
	opts.Stderr = &stderr

	code, err := New(opts, h.store, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, code)
	assert.Equal(t, "boom\n", stderr.String())
	assert.Equal(t, 4, h.onlyRun().ExitCode)
}

func TestRun_FrontendEnvAndDir(t *testing.T) {
	h := newHarness(t)
	out := filepath.Join(h.dir, "env-out")
	workDir := t.TempDir()

	opts := h.options(config.ModeSupervise, config.StrategyProbe)
	opts.Argv = []string{h.script("env-frontend", "echo \"$DISPLAY $APP_PORT $(pwd)\" > "+out)}
	opts.Env = map[string]string{"APP_PORT": "8501"}
	opts.Dir = workDir
	opts.OnPhase = h.serveWhenWaiting(display.New(99))

	_, err := New(opts, nil, nil).Run(context.Background())
	require.NoError(t, err)

	resolved, err := filepath.EvalSymlinks(workDir)
	require.NoError(t, err)
	fields := strings.Fields(h.readFile(out))
	require.Len(t, fields, 3)
	assert.Equal(t, ":99", fields[0])
	assert.Equal(t, "8501", fields[1])
	got, err := filepath.EvalSymlinks(fields[2])
	require.NoError(t, err)
	assert.Equal(t, resolved, got)
}

func TestRun_DisplayInUse(t *testing.T) {
	t.Run("fail", func(t *testing.T) {
		h := newHarness(t)
		h.listen(display.New(99))

		opts := h.options(config.ModeSupervise, config.StrategyProbe)
		opts.OnPhase = h.recordPhases
		code, err := New(opts, h.store, nil).Run(context.Background())

		assert.Equal(t, 1, code)
		assert.ErrorIs(t, err, display.ErrDisplayInUse)
		assert.NoFileExists(t, h.serverArgs, "no server may be started")
		assert.NoFileExists(t, h.envFile, "no front-end may be started")
		assert.Equal(t, []Phase{PhaseDisplayStarting, PhaseFailed}, h.phases)
		assert.Equal(t, model.StatusFailed, h.onlyRun().Status)
	})

	t.Run("next", func(t *testing.T) {
		h := newHarness(t)
		h.listen(display.New(99))

		opts := h.options(config.ModeSupervise, config.StrategyProbe)
		opts.Policy = display.PolicyNext
		opts.OnPhase = h.serveWhenWaiting(display.New(100))

		code, err := New(opts, h.store, nil).Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, code)
		assert.Equal(t, ":100 -screen 0 1920x1080x24", h.readFile(h.serverArgs))
		assert.Equal(t, ":100", h.readFile(h.envFile))
		assert.Equal(t, ":100", h.onlyRun().Display)
	})

	t.Run("reuse", func(t *testing.T) {
		h := newHarness(t)
		h.listen(display.New(99))

		opts := h.options(config.ModeSupervise, config.StrategyProbe)
		opts.Policy = display.PolicyReuse

		code, err := New(opts, h.store, nil).Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, code)
		assert.NoFileExists(t, h.serverArgs, "reuse must not start a second server")
		assert.Equal(t, ":99", h.readFile(h.envFile))
		assert.True(t, h.onlyRun().Reused)
	})
}

func TestRun_ZeroTimeoutNotReady(t *testing.T) {
	h := newHarness(t)
	opts := h.options(config.ModeSupervise, config.StrategyProbe)
	opts.Timeout = 0

	code, err := New(opts, h.store, nil).Run(context.Background())
	assert.Equal(t, 1, code)
	assert.ErrorIs(t, err, display.ErrDisplayNotReady)
	assert.Contains(t, err.Error(), ":99")
	assert.NoFileExists(t, h.envFile, "front-end must not start on an unready display")

	run := h.onlyRun()
	assert.Equal(t, model.StatusFailed, run.Status)
	assert.Contains(t, run.Error, "display not ready")
	assert.Eventually(t, func() bool { return !process.Alive(run.ServerPID) }, 5*time.Second, 20*time.Millisecond)
}

func TestRun_ZeroTimeoutAlreadyReady(t *testing.T) {
	h := newHarness(t)
	opts := h.options(config.ModeSupervise, config.StrategyProbe)
	opts.Timeout = 0
	opts.OnPhase = h.serveWhenWaiting(display.New(99))

	code, err := New(opts, nil, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}

func TestRun_ProbeTimeout(t *testing.T) {
	h := newHarness(t)
	opts := h.options(config.ModeSupervise, config.StrategyProbe)
	opts.Timeout = 100 * time.Millisecond

	start := time.Now()
	_, err := New(opts, nil, nil).Run(context.Background())
	assert.ErrorIs(t, err, display.ErrDisplayNotReady)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestRun_ServerExitsBeforeReady(t *testing.T) {
	h := newHarness(t)
	opts := h.options(config.ModeSupervise, config.StrategyProbe)
	opts.ServerBinary = h.script("crashing-xvfb", "echo 'Fatal server error' >&2\nexit 1")

	code, err := New(opts, nil, nil).Run(context.Background())
	assert.Equal(t, 1, code)
	assert.ErrorIs(t, err, display.ErrServerExited)
	assert.NoFileExists(t, h.envFile)
}

func TestRun_MissingServerBinary(t *testing.T) {
	t.Run("delay strategy still starts the front-end", func(t *testing.T) {
		h := newHarness(t)
		opts := h.options(config.ModeSupervise, config.StrategyDelay)
		opts.ServerBinary = filepath.Join(h.dir, "no-such-xvfb")
		opts.Argv = []string{h.script("needs-display",
			"echo \"$DISPLAY\" > "+h.envFile+"\necho \"cannot open display: $DISPLAY\" >&2\nexit 1")}
		var stderr bytes.Buffer
		opts.Stderr = &stderr

		code, err := New(opts, h.store, nil).Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, code)
		assert.Equal(t, ":99", h.readFile(h.envFile))
		assert.Contains(t, stderr.String(), ":99")
		assert.Equal(t, 0, h.onlyRun().ServerPID)
	})

	t.Run("probe strategy fails fast", func(t *testing.T) {
		h := newHarness(t)
		opts := h.options(config.ModeSupervise, config.StrategyProbe)
		opts.ServerBinary = filepath.Join(h.dir, "no-such-xvfb")

		code, err := New(opts, nil, nil).Run(context.Background())
		assert.Equal(t, 1, code)
		var startErr *display.StartError
		require.True(t, errors.As(err, &startErr))
		assert.NoFileExists(t, h.envFile)
	})
}

func TestRun_DelayStrategyWaits(t *testing.T) {
	h := newHarness(t)
	opts := h.options(config.ModeSupervise, config.StrategyDelay)
	opts.Delay = 200 * time.Millisecond

	start := time.Now()
	code, err := New(opts, nil, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
	assert.Equal(t, ":99", h.readFile(h.envFile))
}

func TestRun_DelayCancelled(t *testing.T) {
	h := newHarness(t)
	opts := h.options(config.ModeSupervise, config.StrategyDelay)
	opts.Delay = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	opts.OnPhase = func(p Phase) {
		if p == PhaseDelayWait {
			cancel()
		}
	}

	code, err := New(opts, nil, nil).Run(ctx)
	assert.Equal(t, 1, code)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, h.envFile)
}

func TestRun_ExecMode(t *testing.T) {
	h := newHarness(t)

	var (
		gotPath string
		gotArgv []string
		gotEnv  []string
	)
	prev := execFunc
	execFunc = func(argv0 string, argv []string, envv []string) error {
		gotPath, gotArgv, gotEnv = argv0, argv, envv
		return nil
	}
	t.Cleanup(func() { execFunc = prev })

	opts := h.options(config.ModeExec, config.StrategyProbe)
	opts.OnPhase = h.serveWhenWaiting(display.New(99))

	code, err := New(opts, h.store, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	assert.Equal(t, h.frontend, gotPath)
	assert.Equal(t, []string{h.frontend, "--server.headless", "true"}, gotArgv)
	assert.Contains(t, gotEnv, "DISPLAY=:99")
	assert.Equal(t, []Phase{PhaseDisplayStarting, PhaseDelayWait, PhaseFrontendRunning}, h.phases)

	// The server outlives the hand-off and is recorded for later cleanup.
	s, err := session.Load(h.sessionTo)
	require.NoError(t, err)
	assert.Equal(t, ":99", s.Display)
	assert.Equal(t, session.OwnerLauncher, s.Owner)
	assert.Equal(t, os.Getpid(), s.FrontendPID)
	assert.True(t, s.ServerAlive())
	require.NoError(t, process.Terminate(s.ServerPID, time.Second))

	run := h.onlyRun()
	assert.Equal(t, model.StatusExecuted, run.Status)
	assert.Equal(t, "frontend-running", run.Phase)
}

func TestRun_ExecFailure(t *testing.T) {
	h := newHarness(t)

	prev := execFunc
	execFunc = func(string, []string, []string) error { return unix.ENOEXEC }
	t.Cleanup(func() { execFunc = prev })

	opts := h.options(config.ModeExec, config.StrategyProbe)
	opts.OnPhase = h.serveWhenWaiting(display.New(99))

	code, err := New(opts, h.store, nil).Run(context.Background())
	assert.Equal(t, 1, code)
	assert.ErrorIs(t, err, unix.ENOEXEC)

	_, err = session.Load(h.sessionTo)
	assert.ErrorIs(t, err, session.ErrNoSession)

	run := h.onlyRun()
	assert.Equal(t, model.StatusFailed, run.Status)
	assert.Eventually(t, func() bool { return !process.Alive(run.ServerPID) }, 5*time.Second, 20*time.Millisecond)
}

func TestRun_ForwardsSignals(t *testing.T) {
	h := newHarness(t)

	signals := make(chan os.Signal, 1)
	prev := notifySignals
	notifySignals = func() (<-chan os.Signal, func()) { return signals, func() {} }
	t.Cleanup(func() { notifySignals = prev })

	opts := h.options(config.ModeSupervise, config.StrategyProbe)
	opts.Argv = []string{h.script("long-frontend", "exec sleep 30")}
	opts.OnPhase = func(p Phase) {
		if p == PhaseDelayWait {
			h.listen(display.New(99))
		}
		if p == PhaseFrontendRunning {
			signals <- unix.SIGTERM
		}
	}

	l := New(opts, h.store, nil)
	code, err := l.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 128+int(unix.SIGTERM), code)
	assert.Equal(t, PhaseExited, l.Phase())
}

func TestRun_ContextCancelStopsFrontend(t *testing.T) {
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := h.options(config.ModeSupervise, config.StrategyProbe)
	opts.Argv = []string{h.script("long-frontend", "exec sleep 30")}
	opts.OnPhase = func(p Phase) {
		if p == PhaseDelayWait {
			h.listen(display.New(99))
		}
		if p == PhaseFrontendRunning {
			cancel()
		}
	}

	start := time.Now()
	code, err := New(opts, nil, nil).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 128+int(unix.SIGTERM), code)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestRun_KeepDisplay(t *testing.T) {
	h := newHarness(t)
	opts := h.options(config.ModeSupervise, config.StrategyProbe)
	opts.KeepDisplay = true
	opts.OnPhase = h.serveWhenWaiting(display.New(99))

	_, err := New(opts, h.store, nil).Run(context.Background())
	require.NoError(t, err)

	s, err := session.Load(h.sessionTo)
	require.NoError(t, err)
	assert.True(t, s.ServerAlive())
	assert.Equal(t, 0, s.FrontendPID)
	assert.Equal(t, "exited", s.Phase)
	require.NoError(t, process.Terminate(s.ServerPID, time.Second))
}

func TestRun_KeepDisplayOnTwoDisplays(t *testing.T) {
	h := newHarness(t)
	h.listen(display.New(99))

	// :99 is busy and each kept display stays busy, so every launch gets a
	// display and a record of its own.
	var pids []int
	for _, n := range []int{100, 101} {
		opts := h.options(config.ModeSupervise, config.StrategyProbe)
		opts.Policy = display.PolicyNext
		opts.KeepDisplay = true
		opts.OnPhase = h.serveWhenWaiting(display.New(n))
		_, err := New(opts, nil, nil).Run(context.Background())
		require.NoError(t, err)

		s, err := session.Load(session.Path(h.sessionDir, display.New(n)))
		require.NoError(t, err)
		assert.Equal(t, display.New(n).String(), s.Display)
		assert.True(t, s.ServerAlive())
		pids = append(pids, s.ServerPID)
	}
	assert.NotEqual(t, pids[0], pids[1])

	sessions, err := session.List(h.sessionDir)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, pids[0], sessions[0].ServerPID)
	assert.Equal(t, pids[1], sessions[1].ServerPID)

	for _, pid := range pids {
		require.NoError(t, process.Terminate(pid, time.Second))
	}
}

func TestRun_SignalBeforeFrontendStopsServer(t *testing.T) {
	for _, strategy := range []config.Strategy{config.StrategyProbe, config.StrategyDelay} {
		t.Run(string(strategy), func(t *testing.T) {
			h := newHarness(t)

			signals := make(chan os.Signal, 1)
			prev := notifySignals
			notifySignals = func() (<-chan os.Signal, func()) { return signals, func() {} }
			t.Cleanup(func() { notifySignals = prev })

			opts := h.options(config.ModeSupervise, strategy)
			opts.Timeout = time.Minute
			opts.Delay = time.Minute
			opts.OnPhase = func(p Phase) {
				h.recordPhases(p)
				if p == PhaseDelayWait {
					signals <- unix.SIGINT
				}
			}

			start := time.Now()
			code, err := New(opts, h.store, nil).Run(context.Background())
			assert.Equal(t, 1, code)
			assert.ErrorIs(t, err, ErrInterrupted)
			assert.Less(t, time.Since(start), 10*time.Second)
			assert.NoFileExists(t, h.envFile, "front-end must not start after an interrupt")
			assert.Equal(t, []Phase{PhaseDisplayStarting, PhaseDelayWait, PhaseFailed}, h.phases)

			run := h.onlyRun()
			assert.Equal(t, model.StatusFailed, run.Status)
			assert.Greater(t, run.ServerPID, 0)
			assert.Eventually(t, func() bool { return !process.Alive(run.ServerPID) }, 5*time.Second, 20*time.Millisecond)
		})
	}
}

func TestTerminalFD(t *testing.T) {
	assert.Equal(t, -1, terminalFD(nil))
	assert.Equal(t, -1, terminalFD(&bytes.Buffer{}))

	f, err := os.CreateTemp(t.TempDir(), "stdin")
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, -1, terminalFD(f))
}

func TestRun_InvalidOptions(t *testing.T) {
	h := newHarness(t)

	opts := h.options(config.ModeSupervise, config.StrategyProbe)
	opts.Argv = nil
	_, err := New(opts, nil, nil).Run(context.Background())
	assert.Error(t, err)

	opts = h.options("fork", config.StrategyProbe)
	_, err = New(opts, nil, nil).Run(context.Background())
	assert.Error(t, err)

	opts = h.options(config.ModeSupervise, config.StrategyProbe)
	opts.Display = display.New(-1)
	_, err = New(opts, nil, nil).Run(context.Background())
	assert.ErrorIs(t, err, display.ErrInvalidDisplay)
}

func TestOptionsFromConfig(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")

	cfg := config.DefaultConfig()
	cfg.Display.Number = 7
	cfg.Display.ExtraArgs = []string{"-ac"}

	opts, err := OptionsFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, display.New(7), opts.Display)
	assert.Equal(t, display.DefaultGeometry, opts.Geometry)
	assert.Equal(t, config.StrategyProbe, opts.Strategy)
	assert.Equal(t, config.ModeSupervise, opts.Mode)
	assert.Equal(t, display.PolicyFail, opts.Policy)
	assert.Equal(t, []string{"-ac"}, opts.ServerArgs)
	assert.Equal(t, []string{"streamlit", "run", "app.py", "--server.headless", "true"}, opts.Argv)
	assert.Equal(t, "/run/user/1000/xvrun/sessions", opts.SessionDir)
	assert.NoError(t, opts.Validate())

	cfg.Launch.Mode = "bogus"
	_, err = OptionsFromConfig(cfg)
	assert.Error(t, err)
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "display-starting", PhaseDisplayStarting.String())
	assert.Equal(t, "delay-wait", PhaseDelayWait.String())
	assert.Equal(t, "frontend-running", PhaseFrontendRunning.String())
	assert.Equal(t, "unknown", Phase(42).String())
}
