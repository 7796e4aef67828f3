package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/xvrun/internal/display"
	"github.com/jmylchreest/xvrun/internal/process"
)

// Health errors.
var (
	ErrServerDied    = errors.New("display server process exited")
	ErrSocketRefused = errors.New("display socket stopped accepting connections")
)

// DefaultHealthInterval is how often a HealthWatcher checks the server.
const DefaultHealthInterval = 2 * time.Second

// DefaultMaxFailures is how many consecutive socket failures are tolerated
// before the display is reported unhealthy.
const DefaultMaxFailures = 3

// HealthWatcher periodically checks that a display server is alive and
// accepting connections.
type HealthWatcher struct {
	mu     sync.RWMutex
	logger *slog.Logger

	// What to watch
	paths   display.Paths
	display display.Display
	pid     int

	// Polling interval
	pollInterval time.Duration

	// Consecutive socket failures before reporting
	maxFailures int
	failures    int

	// Callback for an unhealthy server
	onUnhealthyCallback func(err error)

	// Control channels
	stopCh chan struct{}
	doneCh chan struct{}

	running bool
}

// NewHealthWatcher creates a HealthWatcher for the server pid serving d.
// A pid of 0 skips the process check and relies on the socket alone.
func NewHealthWatcher(paths display.Paths, d display.Display, pid int, logger *slog.Logger) *HealthWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthWatcher{
		logger:       logger,
		paths:        paths,
		display:      d,
		pid:          pid,
		pollInterval: DefaultHealthInterval,
		maxFailures:  DefaultMaxFailures,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// SetPollInterval sets the interval between checks.
func (w *HealthWatcher) SetPollInterval(interval time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if interval > 0 {
		w.pollInterval = interval
	}
}

// SetMaxFailures sets how many consecutive socket failures are tolerated.
func (w *HealthWatcher) SetMaxFailures(n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if n > 0 {
		w.maxFailures = n
	}
}

// SetUnhealthyCallback sets the callback invoked once when the server is
// found unhealthy. The watcher stops checking afterwards.
func (w *HealthWatcher) SetUnhealthyCallback(callback func(err error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onUnhealthyCallback = callback
}

// Start begins watching the server.
func (w *HealthWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.failures = 0
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	interval := w.pollInterval
	w.mu.Unlock()

	go w.watchLoop(ctx, interval)

	w.logger.Debug("health watcher started", "display", w.display.String(), "pid", w.pid, "interval", interval)
	return nil
}

// Stop stops watching.
func (w *HealthWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	// Wait for goroutine to finish
	<-w.doneCh
	w.logger.Debug("health watcher stopped")
}

// Done is closed when the watch loop exits.
func (w *HealthWatcher) Done() <-chan struct{} {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.doneCh
}

// watchLoop is the main polling loop.
func (w *HealthWatcher) watchLoop(ctx context.Context, interval time.Duration) {
	defer close(w.doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if err := w.Check(); err != nil {
				w.mu.RLock()
				callback := w.onUnhealthyCallback
				w.mu.RUnlock()

				w.logger.Warn("display unhealthy", "display", w.display.String(), "error", err)
				if callback != nil {
					callback(err)
				}
				return
			}
		}
	}
}

// Check performs one health check. A dead process fails immediately; a
// refused socket fails only after maxFailures consecutive checks.
func (w *HealthWatcher) Check() error {
	if w.pid > 0 && !process.Alive(w.pid) {
		return fmt.Errorf("%w: pid %d (%s)", ErrServerDied, w.pid, w.display)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.paths.Accepting(w.display) {
		w.failures = 0
		return nil
	}
	w.failures++
	w.logger.Debug("display socket check failed", "display", w.display.String(), "failures", w.failures)
	if w.failures >= w.maxFailures {
		return fmt.Errorf("%w: %s after %d checks", ErrSocketRefused, w.display, w.failures)
	}
	return nil
}
