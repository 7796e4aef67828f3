package monitor

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/jmylchreest/xvrun/internal/display"
	"github.com/jmylchreest/xvrun/internal/process"
)

// ErrJobNotStarted is returned by Job methods called before Start.
var ErrJobNotStarted = errors.New("job not started")

// JobConfig describes the command a Job runs.
type JobConfig struct {
	Argv    []string
	Dir     string
	Env     []string        // Full environment; nil inherits ours
	Display display.Display // Exported as DISPLAY
	Output  io.Writer       // Job stdout/stderr, discarded when nil
}

// Job is a command running in its own process group.
type Job struct {
	cfg    JobConfig
	logger *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	started time.Time
	done    chan struct{}
	waitErr error
}

// NewJob creates a Job that is not yet running.
func NewJob(cfg JobConfig, logger *slog.Logger) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start launches the job.
func (j *Job) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cmd != nil {
		return nil
	}
	if len(j.cfg.Argv) == 0 || j.cfg.Argv[0] == "" {
		return errors.New("job command is empty")
	}

	cmd := exec.Command(j.cfg.Argv[0], j.cfg.Argv[1:]...)
	cmd.Dir = j.cfg.Dir
	env := j.cfg.Env
	if env == nil {
		env = os.Environ()
	}
	cmd.Env = display.WithEnv(env, j.cfg.Display)
	cmd.SysProcAttr = process.GroupAttr()
	if j.cfg.Output != nil {
		cmd.Stdout = j.cfg.Output
		cmd.Stderr = j.cfg.Output
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start job %q: %w", j.cfg.Argv[0], err)
	}
	j.cmd = cmd
	j.started = time.Now()

	j.logger.Info("job started", "argv", j.cfg.Argv, "pid", cmd.Process.Pid, "display", j.cfg.Display.String())

	go j.reap()
	return nil
}

func (j *Job) reap() {
	err := j.cmd.Wait()

	j.mu.Lock()
	j.waitErr = err
	j.mu.Unlock()

	j.logger.Debug("job exited", "code", process.ExitCode(err))
	close(j.done)
}

// PID returns the job's process ID, or 0 before Start.
func (j *Job) PID() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cmd == nil {
		return 0
	}
	return j.cmd.Process.Pid
}

// Argv returns the job's command line.
func (j *Job) Argv() []string {
	return j.cfg.Argv
}

// StartedAt returns when the job was started.
func (j *Job) StartedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.started
}

// Done is closed when the job exits.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Running reports whether the job has started and not yet exited.
func (j *Job) Running() bool {
	if j.PID() == 0 {
		return false
	}
	select {
	case <-j.done:
		return false
	default:
		return true
	}
}

// ExitCode returns the job's exit code once Done is closed.
func (j *Job) ExitCode() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return process.ExitCode(j.waitErr)
}

// Stop sends SIGTERM to the job's process group and SIGKILL after grace.
func (j *Job) Stop(grace time.Duration) error {
	j.mu.Lock()
	cmd := j.cmd
	j.mu.Unlock()

	if cmd == nil {
		return ErrJobNotStarted
	}
	j.logger.Info("stopping job", "pid", cmd.Process.Pid)
	return process.StopChild(cmd, j.done, grace)
}
