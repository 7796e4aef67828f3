package output

import (
	"io"

	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/xvrun/internal/model"
)

// YAMLFormatter formats output as YAML documents.
type YAMLFormatter struct {
	opts FormatterOptions
}

// NewYAMLFormatter creates a new YAML formatter.
func NewYAMLFormatter(opts FormatterOptions) *YAMLFormatter {
	return &YAMLFormatter{opts: opts}
}

// FormatRuns writes runs as a YAML sequence.
func (f *YAMLFormatter) FormatRuns(w io.Writer, runs []model.Run) error {
	if runs == nil {
		runs = []model.Run{}
	}
	return f.encode(w, runs)
}

// FormatSession writes the session as a YAML mapping.
func (f *YAMLFormatter) FormatSession(w io.Writer, s SessionView) error {
	return f.encode(w, s)
}

// FormatLog writes the log tail as a YAML mapping.
func (f *YAMLFormatter) FormatLog(w io.Writer, l LogView) error {
	return f.encode(w, l)
}

func (f *YAMLFormatter) encode(w io.Writer, v any) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(v); err != nil {
		return err
	}
	return encoder.Close()
}
