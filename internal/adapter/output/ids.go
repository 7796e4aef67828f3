package output

import (
	"fmt"
	"io"

	"github.com/jmylchreest/xvrun/internal/model"
)

// IDsFormatter outputs just identifiers, one per line.
// Useful for piping to other commands (e.g., xargs xvrun history show).
type IDsFormatter struct{}

// NewIDsFormatter creates a new IDs formatter.
func NewIDsFormatter() *IDsFormatter {
	return &IDsFormatter{}
}

// FormatRuns writes run IDs, one per line.
func (f *IDsFormatter) FormatRuns(w io.Writer, runs []model.Run) error {
	for _, r := range runs {
		if _, err := fmt.Fprintln(w, r.ID); err != nil {
			return err
		}
	}
	return nil
}

// FormatSession writes the session's run ID, or nothing when inactive.
func (f *IDsFormatter) FormatSession(w io.Writer, s SessionView) error {
	if !s.Active || s.RunID == "" {
		return nil
	}
	_, err := fmt.Fprintln(w, s.RunID)
	return err
}

// FormatLog writes the log file path.
func (f *IDsFormatter) FormatLog(w io.Writer, l LogView) error {
	if l.Path == "" {
		return nil
	}
	_, err := fmt.Fprintln(w, l.Path)
	return err
}
