package display

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/jmylchreest/xvrun/internal/process"
)

// DefaultServerBinary is the virtual framebuffer server started by default.
const DefaultServerBinary = "Xvfb"

// ServerConfig describes how to start a virtual display server.
type ServerConfig struct {
	Binary      string   // Server executable, resolved via PATH
	Display     Display  // Display the server binds
	Geometry    Geometry // Screen 0 resolution and depth
	NoListenTCP bool     // Pass "-nolisten tcp"
	ExtraArgs   []string // Appended verbatim
	// Output receives the server's stdout and stderr. Nil connects them to
	// the null device, so the server survives the exit of its parent.
	Output io.Writer
}

// Args returns the server's argument list (without argv[0]).
func (c ServerConfig) Args() []string {
	args := []string{c.Display.String(), "-screen", "0", c.Geometry.String()}
	if c.NoListenTCP {
		args = append(args, "-nolisten", "tcp")
	}
	return append(args, c.ExtraArgs...)
}

// StartError reports that the server process could not be started.
type StartError struct {
	Binary string
	Err    error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("failed to start display server %q: %v", e.Binary, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}

// ErrServerNotStarted is returned by Server methods called before Start.
var ErrServerNotStarted = errors.New("display server not started")

// Server is a running virtual display server.
//
// The server is placed in its own process group so that it outlives a
// hang-up of the launching terminal and can be torn down as a unit.
type Server struct {
	cfg    ServerConfig
	logger *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	done    chan struct{}
	waitErr error
}

// NewServer creates a Server that is not yet running.
func NewServer(cfg ServerConfig, logger *slog.Logger) *Server {
	if cfg.Binary == "" {
		cfg.Binary = DefaultServerBinary
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Config returns the configuration the server was created with.
func (s *Server) Config() ServerConfig {
	return s.cfg
}

// Start launches the server in the background. It returns as soon as the
// process exists; use a Prober to wait for readiness.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil {
		return nil
	}

	path, err := exec.LookPath(s.cfg.Binary)
	if err != nil {
		return &StartError{Binary: s.cfg.Binary, Err: err}
	}

	cmd := exec.Command(path, s.cfg.Args()...)
	cmd.SysProcAttr = process.GroupAttr()
	cmd.Stdout = s.cfg.Output
	cmd.Stderr = s.cfg.Output

	if err := cmd.Start(); err != nil {
		return &StartError{Binary: s.cfg.Binary, Err: err}
	}
	s.cmd = cmd

	s.logger.Info("display server started",
		"binary", path,
		"display", s.cfg.Display.String(),
		"geometry", s.cfg.Geometry.String(),
		"pid", cmd.Process.Pid,
	)

	go s.reap()
	return nil
}

// reap waits for the server to exit and records the result.
func (s *Server) reap() {
	err := s.cmd.Wait()

	s.mu.Lock()
	s.waitErr = err
	s.mu.Unlock()

	s.logger.Debug("display server exited",
		"display", s.cfg.Display.String(),
		"code", process.ExitCode(err),
	)
	close(s.done)
}

// PID returns the server's process ID, or 0 before Start.
func (s *Server) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Done is closed when the server process exits.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Err returns the server's wait error once Done is closed.
func (s *Server) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waitErr
}

// Stop terminates the server, escalating to SIGKILL after grace.
func (s *Server) Stop(grace time.Duration) error {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()

	if cmd == nil {
		return ErrServerNotStarted
	}

	s.logger.Info("stopping display server", "display", s.cfg.Display.String(), "pid", cmd.Process.Pid)
	return process.StopChild(cmd, s.done, grace)
}

