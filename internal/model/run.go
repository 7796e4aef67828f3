// Package model defines the core data structures for xvrun.
package model

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/oklog/ulid/v2"
)

// Run status values.
const (
	StatusRunning  = "running"
	StatusExited   = "exited"
	StatusFailed   = "failed"
	StatusExecuted = "exec" // Process image handed to the front-end, outcome unknown
)

// Run is one launcher invocation, as stored in the history file.
type Run struct {
	ID        string   `json:"id"`
	Display   string   `json:"display"`
	Geometry  string   `json:"geometry"`
	Mode      string   `json:"mode"`
	Strategy  string   `json:"strategy"`
	Argv      []string `json:"argv"`
	ServerPID int      `json:"server_pid,omitempty"`
	Reused    bool     `json:"reused,omitempty"` // Attached to an already running display

	StartedAt int64  `json:"started_at"`
	EndedAt   int64  `json:"ended_at,omitempty"`
	Phase     string `json:"phase"`
	Status    string `json:"status"`
	ExitCode  int    `json:"exit_code"`
	Error     string `json:"error,omitempty"`
}

// Validation errors.
var (
	ErrEmptyID        = errors.New("id cannot be empty")
	ErrEmptyDisplay   = errors.New("display cannot be empty")
	ErrEmptyArgv      = errors.New("argv cannot be empty")
	ErrInvalidStarted = errors.New("started_at must be greater than 0")
	ErrInvalidStatus  = errors.New("status must be running, exited, failed or exec")
)

// NewRun creates a Run with a generated ULID, started now.
func NewRun(display string, argv []string) (*Run, error) {
	now := time.Now()
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ULID: %w", err)
	}

	return &Run{
		ID:        id.String(),
		Display:   display,
		Argv:      append([]string(nil), argv...),
		StartedAt: now.Unix(),
		Status:    StatusRunning,
	}, nil
}

// Validate checks that the run has all required fields.
func (r *Run) Validate() error {
	if r.ID == "" {
		return ErrEmptyID
	}
	if r.Display == "" {
		return ErrEmptyDisplay
	}
	if len(r.Argv) == 0 {
		return ErrEmptyArgv
	}
	if r.StartedAt <= 0 {
		return ErrInvalidStarted
	}
	switch r.Status {
	case StatusRunning, StatusExited, StatusFailed, StatusExecuted:
	default:
		return ErrInvalidStatus
	}
	return nil
}

// Finish records the outcome of the run. A non-nil err marks it failed.
func (r *Run) Finish(exitCode int, err error) {
	r.EndedAt = time.Now().Unix()
	r.ExitCode = exitCode
	if err != nil {
		r.Status = StatusFailed
		r.Error = err.Error()
		return
	}
	r.Status = StatusExited
}

// IsFinished reports whether the run has an outcome.
func (r *Run) IsFinished() bool {
	return r.Status != StatusRunning
}

// StartedTime returns the start timestamp as a time.Time.
func (r *Run) StartedTime() time.Time {
	return time.Unix(r.StartedAt, 0)
}

// Elapsed returns how long the run lasted, or has lasted so far.
func (r *Run) Elapsed() time.Duration {
	end := r.EndedAt
	if end == 0 {
		end = time.Now().Unix()
	}
	if end < r.StartedAt {
		return 0
	}
	return time.Duration(end-r.StartedAt) * time.Second
}

// RelativeTime returns a human-readable time since the run started,
// e.g. "3 minutes ago".
func (r *Run) RelativeTime() string {
	return humanize.Time(r.StartedTime())
}

// Command returns the argv joined for display, truncated to maxLen.
func (r *Run) Command(maxLen int) string {
	cmd := strings.Join(r.Argv, " ")
	if maxLen <= 0 || len(cmd) <= maxLen {
		return cmd
	}
	if maxLen <= 3 {
		return cmd[:maxLen]
	}
	return cmd[:maxLen-3] + "..."
}

// Clone creates a deep copy of the run.
func (r *Run) Clone() *Run {
	clone := *r
	clone.Argv = append([]string(nil), r.Argv...)
	return &clone
}
