// Package output provides output formatters for run history, the current
// session and job logs.
package output

import (
	"fmt"
	"io"
	"time"

	"github.com/jmylchreest/xvrun/internal/model"
	"github.com/jmylchreest/xvrun/internal/monitor"
	"github.com/jmylchreest/xvrun/internal/session"
)

// Formatter formats xvrun state for output.
type Formatter interface {
	// FormatRuns writes run history records.
	FormatRuns(w io.Writer, runs []model.Run) error
	// FormatSession writes the current session.
	FormatSession(w io.Writer, s SessionView) error
	// FormatLog writes a log tail.
	FormatLog(w io.Writer, l LogView) error
}

// FormatType represents an output format type.
type FormatType string

const (
	FormatPlain FormatType = "plain"
	FormatJSON  FormatType = "json"
	FormatYAML  FormatType = "yaml"
	FormatIDs   FormatType = "ids"
)

// ValidFormats returns all valid format names.
func ValidFormats() []FormatType {
	return []FormatType{FormatPlain, FormatJSON, FormatYAML, FormatIDs}
}

// ParseFormat validates a format name.
func ParseFormat(s string) (FormatType, error) {
	for _, f := range ValidFormats() {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("invalid format %q, must be one of: %v", s, ValidFormats())
}

// NewFormatter creates a formatter for the specified format type.
func NewFormatter(format FormatType, opts FormatterOptions) Formatter {
	switch format {
	case FormatJSON:
		return NewJSONFormatter(opts)
	case FormatYAML:
		return NewYAMLFormatter(opts)
	case FormatIDs:
		return NewIDsFormatter()
	case FormatPlain:
		fallthrough
	default:
		return NewPlainFormatter(opts)
	}
}

// FormatterOptions configures formatter behavior.
type FormatterOptions struct {
	Template      string // Custom template for plain run lines
	ShowIndex     bool   // Show 1-based index prefix
	ShowTime      bool   // Show relative start time
	CommandMaxLen int    // Maximum command length (0 = unlimited)
	Color         bool   // Colour log lines by level
}

// DefaultFormatterOptions returns sensible defaults for plain output.
func DefaultFormatterOptions() FormatterOptions {
	return FormatterOptions{
		ShowIndex:     true,
		ShowTime:      true,
		CommandMaxLen: 60,
	}
}

// SessionView is the printable state of a session, with liveness checked
// at the time it was built.
type SessionView struct {
	Active        bool      `json:"active" yaml:"active"`
	RunID         string    `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Display       string    `json:"display,omitempty" yaml:"display,omitempty"`
	Geometry      string    `json:"geometry,omitempty" yaml:"geometry,omitempty"`
	Owner         string    `json:"owner,omitempty" yaml:"owner,omitempty"`
	Mode          string    `json:"mode,omitempty" yaml:"mode,omitempty"`
	Phase         string    `json:"phase,omitempty" yaml:"phase,omitempty"`
	ServerPID     int       `json:"server_pid,omitempty" yaml:"server_pid,omitempty"`
	ServerAlive   bool      `json:"server_alive" yaml:"server_alive"`
	FrontendPID   int       `json:"frontend_pid,omitempty" yaml:"frontend_pid,omitempty"`
	FrontendAlive bool      `json:"frontend_alive" yaml:"frontend_alive"`
	Argv          []string  `json:"argv,omitempty" yaml:"argv,omitempty"`
	StartedAt     time.Time `json:"started_at,omitempty" yaml:"started_at,omitempty"`
}

// NewSessionView builds a view of s. A nil session is inactive.
func NewSessionView(s *session.Session) SessionView {
	if s == nil {
		return SessionView{}
	}
	return SessionView{
		Active:        true,
		RunID:         s.RunID,
		Display:       s.Display,
		Geometry:      s.Geometry,
		Owner:         s.Owner,
		Mode:          s.Mode,
		Phase:         s.Phase,
		ServerPID:     s.ServerPID,
		ServerAlive:   s.ServerAlive(),
		FrontendPID:   s.FrontendPID,
		FrontendAlive: s.FrontendAlive(),
		Argv:          s.Argv,
		StartedAt:     s.StartedAt,
	}
}

// LogLine is one classified log line.
type LogLine struct {
	Level string `json:"level" yaml:"level"`
	Text  string `json:"text" yaml:"text"`
}

// LogView is the printable tail of a log file.
type LogView struct {
	Path       string    `json:"path" yaml:"path"`
	Total      int       `json:"total_lines" yaml:"total_lines"`
	ErrorFound bool      `json:"error_found" yaml:"error_found"`
	Lines      []LogLine `json:"lines" yaml:"lines"`
}

// NewLogView classifies the lines of a log tail.
func NewLogView(tail monitor.Tail) LogView {
	v := LogView{
		Path:       tail.Path,
		Total:      tail.Total,
		ErrorFound: tail.ErrorFound,
		Lines:      make([]LogLine, 0, len(tail.Lines)),
	}
	for _, line := range tail.Lines {
		v.Lines = append(v.Lines, LogLine{
			Level: monitor.ClassifyLine(line).String(),
			Text:  line,
		})
	}
	return v
}
