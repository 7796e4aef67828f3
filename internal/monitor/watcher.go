package monitor

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// LogWatcher signals when files matching a pattern change in a logs
// directory. Bursts of writes collapse into a single pending signal.
type LogWatcher struct {
	watcher *fsnotify.Watcher
	dir     string
	pattern string
	logger  *slog.Logger

	changes chan struct{}
	done    chan struct{}
	mu      sync.Mutex
	running bool
}

// NewLogWatcher creates a watcher for dir. The directory is created if
// missing so a job that has not logged yet can still be watched.
func NewLogWatcher(dir, pattern string, logger *slog.Logger) (*LogWatcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if pattern == "" {
		pattern = "*"
	}

	return &LogWatcher{
		watcher: watcher,
		dir:     dir,
		pattern: pattern,
		logger:  logger,
		changes: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}, nil
}

// Changes delivers a value after matching files change.
func (lw *LogWatcher) Changes() <-chan struct{} {
	return lw.changes
}

// Start begins watching.
func (lw *LogWatcher) Start() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if lw.running {
		return nil
	}
	if err := lw.watcher.Add(lw.dir); err != nil {
		return err
	}

	lw.running = true
	go lw.watch()
	return nil
}

func (lw *LogWatcher) watch() {
	for {
		select {
		case event, ok := <-lw.watcher.Events:
			if !ok {
				return
			}
			if match, _ := filepath.Match(lw.pattern, filepath.Base(event.Name)); !match {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				select {
				case lw.changes <- struct{}{}:
				default:
				}
			}

		case err, ok := <-lw.watcher.Errors:
			if !ok {
				return
			}
			lw.logger.Warn("log watcher error", "error", err)

		case <-lw.done:
			return
		}
	}
}

// Stop stops the watcher.
func (lw *LogWatcher) Stop() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if !lw.running {
		return lw.watcher.Close()
	}

	lw.running = false
	close(lw.done)
	return lw.watcher.Close()
}
