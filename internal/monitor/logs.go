package monitor

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultMaxLines is how many trailing log lines are kept for display.
const DefaultMaxLines = 500

// ErrNoLogs is returned when the logs directory holds no matching file.
var ErrNoLogs = errors.New("no log files found")

// maxLineSize bounds a single log line; longer lines are split.
const maxLineSize = 1 << 20

// Level is the severity of a log line.
type Level int

const (
	LevelOther Level = iota
	LevelInfo
	LevelWarning
	LevelError
)

// String returns the level marker as it appears in log lines.
func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	default:
		return "OTHER"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// ClassifyLine returns the level of a line written by a Python-style
// logger ("2024-01-02 10:00:00 - INFO - message").
func ClassifyLine(line string) Level {
	switch {
	case strings.Contains(line, " - INFO - "):
		return LevelInfo
	case strings.Contains(line, " - WARNING - "):
		return LevelWarning
	case strings.Contains(line, " - ERROR - "):
		return LevelError
	default:
		return LevelOther
	}
}

// HasError reports whether any line is an ERROR line.
func HasError(lines []string) bool {
	_, ok := FirstError(lines)
	return ok
}

// FirstError returns the first ERROR line.
func FirstError(lines []string) (string, bool) {
	for _, line := range lines {
		if ClassifyLine(line) == LevelError {
			return line, true
		}
	}
	return "", false
}

// NewestLog returns the most recently modified file in dir matching the
// glob pattern. It returns ErrNoLogs when dir is missing or empty.
func NewestLog(dir, pattern string) (string, error) {
	if pattern == "" {
		pattern = "*"
	}
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return "", fmt.Errorf("log pattern %q: %w", pattern, err)
	}

	var (
		newest  string
		newestT time.Time
	)
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		// Ties go to the lexically later name, which for timestamped log
		// names is the later log.
		if newest == "" || info.ModTime().After(newestT) ||
			(info.ModTime().Equal(newestT) && path > newest) {
			newest, newestT = path, info.ModTime()
		}
	}
	if newest == "" {
		return "", fmt.Errorf("%w in %s matching %q", ErrNoLogs, dir, pattern)
	}
	return newest, nil
}

// Tail is the end of a log file plus what a scan of the whole file found.
type Tail struct {
	Path       string
	Lines      []string // Last lines, oldest first, without newlines
	Total      int      // Lines in the whole file
	ErrorLine  string   // First ERROR line anywhere in the file
	ErrorFound bool
}

// ReadTail returns the last max lines of path. max <= 0 means
// DefaultMaxLines.
func ReadTail(path string, max int) ([]string, error) {
	tail, err := ScanLog(path, max)
	if err != nil {
		return nil, err
	}
	return tail.Lines, nil
}

// ScanLog reads path once, keeping the last max lines and noting the
// first ERROR line. A missing file is an empty tail.
func ScanLog(path string, max int) (Tail, error) {
	if max <= 0 {
		max = DefaultMaxLines
	}
	tail := Tail{Path: path}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return tail, nil
		}
		return tail, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	ring := make([]string, 0, max)
	next := 0

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		tail.Total++

		if !tail.ErrorFound && ClassifyLine(line) == LevelError {
			tail.ErrorLine = line
			tail.ErrorFound = true
		}

		if len(ring) < max {
			ring = append(ring, line)
			continue
		}
		ring[next] = line
		next = (next + 1) % max
	}
	if err := scanner.Err(); err != nil {
		return tail, fmt.Errorf("read log: %w", err)
	}

	tail.Lines = append(ring[next:len(ring):len(ring)], ring[:next]...)
	return tail, nil
}
