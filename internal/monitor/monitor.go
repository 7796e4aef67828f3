package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DefaultPollInterval is how often Run refreshes without log events.
const DefaultPollInterval = time.Second

// Config controls a Monitor.
type Config struct {
	LogsDir      string
	Pattern      string
	Duration     time.Duration
	MaxLines     int
	StopOnError  bool
	StopTimeout  time.Duration
	PollInterval time.Duration
}

// Update is the state of a monitored job at one point in time.
type Update struct {
	Progress  Snapshot
	LogPath   string   // Newest log file, empty if none yet
	Lines     []string // Tail of LogPath
	Running   bool
	Reason    StopReason
	ErrorLine string // Set when Reason is ReasonLogError
	ExitCode  int    // Valid once Running is false
	At        time.Time
}

// Result is the final outcome of a monitored job.
type Result struct {
	Reason    StopReason
	ErrorLine string
	ExitCode  int
	Elapsed   time.Duration
}

// Monitor applies the stop rules to a Job.
type Monitor struct {
	job    *Job
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	reason    StopReason
	errorLine string
	stopped   time.Time
}

// New creates a Monitor for job.
func New(job *Job, cfg Config, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxLines <= 0 {
		cfg.MaxLines = DefaultMaxLines
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Monitor{
		job:    job,
		cfg:    cfg,
		logger: logger,
	}
}

// Job returns the monitored job.
func (m *Monitor) Job() *Job {
	return m.job
}

// Config returns the monitor configuration.
func (m *Monitor) Config() Config {
	return m.cfg
}

// Start starts the job.
func (m *Monitor) Start() error {
	return m.job.Start()
}

// Reason returns why the job stopped, or ReasonNone while it runs.
func (m *Monitor) Reason() StopReason {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason
}

// Stop stops the job for the given reason. Only the first reason sticks.
func (m *Monitor) Stop(reason StopReason) error {
	m.mu.Lock()
	if m.reason == ReasonNone {
		m.reason = reason
		m.stopped = time.Now()
	}
	m.mu.Unlock()

	m.logger.Info("stopping monitored job", "reason", reason.String())
	err := m.job.Stop(m.cfg.StopTimeout)
	if errors.Is(err, ErrJobNotStarted) {
		return nil
	}
	return err
}

// Poll reads the newest log, computes progress at now and stops the job
// if a stop rule fires.
func (m *Monitor) Poll(now time.Time) Update {
	u := Update{At: now, Running: m.job.Running()}

	end := now
	m.mu.Lock()
	if !m.stopped.IsZero() {
		end = m.stopped
	}
	m.mu.Unlock()
	u.Progress = Progress(m.job.StartedAt(), end, m.cfg.Duration)

	if path, err := NewestLog(m.cfg.LogsDir, m.cfg.Pattern); err == nil {
		tail, err := ScanLog(path, m.cfg.MaxLines)
		if err != nil {
			m.logger.Debug("failed to read log", "path", path, "error", err)
		}
		u.LogPath = path
		u.Lines = tail.Lines
		if tail.ErrorFound && m.cfg.StopOnError {
			m.mu.Lock()
			if m.errorLine == "" {
				m.errorLine = tail.ErrorLine
			}
			m.mu.Unlock()
			if u.Running {
				m.logger.Warn("error in job log", "path", path, "line", tail.ErrorLine)
				if err := m.Stop(ReasonLogError); err != nil {
					m.logger.Warn("failed to stop job", "error", err)
				}
			}
		}
	}

	if u.Running && u.Progress.Complete {
		if err := m.Stop(ReasonDuration); err != nil {
			m.logger.Warn("failed to stop job", "error", err)
		}
	}

	u.Running = m.job.Running()
	if !u.Running {
		m.markExited()
		u.ExitCode = m.job.ExitCode()
	}

	m.mu.Lock()
	u.Reason = m.reason
	if m.reason == ReasonLogError {
		u.ErrorLine = m.errorLine
	}
	m.mu.Unlock()
	return u
}

// markExited records a job that ended on its own.
func (m *Monitor) markExited() {
	select {
	case <-m.job.Done():
	default:
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reason == ReasonNone {
		m.reason = ReasonExited
		m.stopped = time.Now()
	}
}

// Run starts the job and polls it until it exits or ctx is done, calling
// onUpdate after every poll. Cancelling ctx stops the job manually.
func (m *Monitor) Run(ctx context.Context, onUpdate func(Update)) (Result, error) {
	if err := m.Start(); err != nil {
		return Result{}, err
	}

	var changes <-chan struct{}
	if lw, err := NewLogWatcher(m.cfg.LogsDir, m.cfg.Pattern, m.logger); err != nil {
		m.logger.Debug("log watcher unavailable, polling only", "error", err)
	} else if err := lw.Start(); err != nil {
		m.logger.Debug("log watcher unavailable, polling only", "error", err)
		_ = lw.Stop()
	} else {
		defer lw.Stop()
		changes = lw.Changes()
	}

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	poll := func() {
		u := m.Poll(time.Now())
		if onUpdate != nil {
			onUpdate(u)
		}
	}
	poll()

	ctxDone := ctx.Done()
	for {
		select {
		case <-m.job.Done():
			poll()
			return m.Result(), nil
		case <-ctxDone:
			ctxDone = nil
			if err := m.Stop(ReasonManual); err != nil {
				m.logger.Warn("failed to stop job", "error", err)
			}
		case <-changes:
			poll()
		case <-ticker.C:
			poll()
		}
	}
}

// Result returns the outcome so far.
func (m *Monitor) Result() Result {
	m.markExited()

	m.mu.Lock()
	defer m.mu.Unlock()

	end := m.stopped
	if end.IsZero() {
		end = time.Now()
	}
	r := Result{
		Reason:  m.reason,
		Elapsed: end.Sub(m.job.StartedAt()),
	}
	if m.reason == ReasonLogError {
		r.ErrorLine = m.errorLine
	}
	select {
	case <-m.job.Done():
		r.ExitCode = m.job.ExitCode()
	default:
	}
	return r
}
