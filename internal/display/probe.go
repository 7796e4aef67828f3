package display

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Readiness errors.
var (
	ErrDisplayNotReady = errors.New("display not ready")
	ErrServerExited    = errors.New("display server exited before becoming ready")
)

// DefaultProbeInterval is the fallback polling interval of a Prober.
const DefaultProbeInterval = 100 * time.Millisecond

// Prober waits for a display server to accept connections.
//
// It polls the display socket on a fixed interval and additionally wakes
// up whenever the socket directory changes, so a server that comes up
// quickly is noticed without waiting for the next tick.
type Prober struct {
	paths    Paths
	interval time.Duration
	logger   *slog.Logger
}

// NewProber creates a Prober for displays under paths.
func NewProber(paths Paths, interval time.Duration, logger *slog.Logger) *Prober {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{
		paths:    paths,
		interval: interval,
		logger:   logger,
	}
}

// Ready performs a single readiness check.
func (p *Prober) Ready(d Display) bool {
	return p.paths.Accepting(d)
}

// Wait blocks until d accepts connections, timeout elapses, ctx is done
// or exited is closed. exited may be nil when the server is not ours.
//
// A zero timeout performs exactly one check. On timeout the returned error
// wraps ErrDisplayNotReady; if the server dies first it wraps
// ErrServerExited.
func (p *Prober) Wait(ctx context.Context, d Display, timeout time.Duration, exited <-chan struct{}) error {
	start := time.Now()
	if p.Ready(d) {
		p.logger.Debug("display ready", "display", d.String(), "waited", time.Duration(0))
		return nil
	}
	if timeout <= 0 {
		return fmt.Errorf("%w: %s (no wait configured)", ErrDisplayNotReady, d)
	}

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	if watcher, err := fsnotify.NewWatcher(); err == nil {
		defer watcher.Close()
		// The socket directory may not exist until the server creates
		// it; polling alone covers that case.
		if err := watcher.Add(p.paths.SocketDir); err == nil {
			events = watcher.Events
			errs = watcher.Errors
		} else {
			p.logger.Debug("socket dir not watchable, polling only", "dir", p.paths.SocketDir, "error", err)
		}
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	socketName := filepath.Base(p.paths.Socket(d))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-exited:
			return fmt.Errorf("%w: %s", ErrServerExited, d)

		case <-deadline.C:
			// One last look so a server that came up on the boundary
			// is not reported as a failure.
			if p.Ready(d) {
				return nil
			}
			return fmt.Errorf("%w: %s after %s", ErrDisplayNotReady, d, timeout)

		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Base(event.Name) != socketName {
				continue
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			p.logger.Debug("socket dir watcher error", "error", err)
			continue

		case <-ticker.C:
		}

		if p.Ready(d) {
			p.logger.Debug("display ready", "display", d.String(), "waited", time.Since(start))
			return nil
		}
	}
}
