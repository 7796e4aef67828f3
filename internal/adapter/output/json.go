package output

import (
	"encoding/json"
	"io"

	"github.com/jmylchreest/xvrun/internal/model"
)

// JSONFormatter formats output as indented JSON.
type JSONFormatter struct {
	opts FormatterOptions
}

// NewJSONFormatter creates a new JSON formatter.
func NewJSONFormatter(opts FormatterOptions) *JSONFormatter {
	return &JSONFormatter{opts: opts}
}

// FormatRuns writes runs as a JSON array.
func (f *JSONFormatter) FormatRuns(w io.Writer, runs []model.Run) error {
	if runs == nil {
		runs = []model.Run{}
	}
	return f.encode(w, runs)
}

// FormatSession writes the session as a JSON object.
func (f *JSONFormatter) FormatSession(w io.Writer, s SessionView) error {
	return f.encode(w, s)
}

// FormatLog writes the log tail as a JSON object.
func (f *JSONFormatter) FormatLog(w io.Writer, l LogView) error {
	return f.encode(w, l)
}

func (f *JSONFormatter) encode(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
