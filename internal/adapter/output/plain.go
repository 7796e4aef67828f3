package output

import (
	"fmt"
	"io"
	"strings"
	"text/template"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/jmylchreest/xvrun/internal/model"
)

// Log level colours.
var levelStyles = map[string]lipgloss.Style{
	"INFO":    lipgloss.NewStyle().Foreground(lipgloss.Color("#0066cc")),
	"WARNING": lipgloss.NewStyle().Foreground(lipgloss.Color("#ff9900")),
	"ERROR":   lipgloss.NewStyle().Foreground(lipgloss.Color("#cc0000")),
	"OTHER":   lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")),
}

// PlainFormatter formats output as plain text.
type PlainFormatter struct {
	opts     FormatterOptions
	template *template.Template
}

// NewPlainFormatter creates a new plain text formatter.
func NewPlainFormatter(opts FormatterOptions) *PlainFormatter {
	f := &PlainFormatter{opts: opts}

	// Parse custom template if provided
	if opts.Template != "" {
		tmpl, err := template.New("plain").Funcs(templateFuncs()).Parse(opts.Template)
		if err == nil {
			f.template = tmpl
		}
	}

	return f
}

// FormatRuns writes one line per run.
func (f *PlainFormatter) FormatRuns(w io.Writer, runs []model.Run) error {
	for i := range runs {
		if err := f.formatRun(w, i+1, &runs[i]); err != nil {
			return err
		}
	}
	return nil
}

// templateData provides data for custom templates.
type templateData struct {
	Index        int
	Run          *model.Run
	RelativeTime string
}

func (f *PlainFormatter) formatRun(w io.Writer, index int, r *model.Run) error {
	if f.template != nil {
		data := templateData{
			Index:        index,
			Run:          r,
			RelativeTime: relativeTime(r.StartedAt),
		}
		if err := f.template.Execute(w, data); err != nil {
			return err
		}
		_, err := io.WriteString(w, "\n")
		return err
	}

	// Default format: [index] id display status age command
	var sb strings.Builder

	if f.opts.ShowIndex {
		sb.WriteString(fmt.Sprintf("[%d] ", index))
	}

	sb.WriteString(r.ID)
	sb.WriteString(" ")
	sb.WriteString(r.Display)
	sb.WriteString(" ")
	sb.WriteString(runStatus(r))

	if f.opts.ShowTime {
		sb.WriteString(" ")
		sb.WriteString(relativeTime(r.StartedAt))
	}

	sb.WriteString("  ")
	sb.WriteString(r.Command(f.opts.CommandMaxLen))
	sb.WriteString("\n")

	if r.Error != "" {
		sb.WriteString("    " + r.Error + "\n")
	}

	_, err := w.Write([]byte(sb.String()))
	return err
}

// FormatSession writes the session as aligned key/value lines.
func (f *PlainFormatter) FormatSession(w io.Writer, s SessionView) error {
	if !s.Active {
		_, err := fmt.Fprintln(w, "no active session")
		return err
	}

	var sb strings.Builder
	field := func(k, v string) {
		sb.WriteString(fmt.Sprintf("%-10s %s\n", k+":", v))
	}

	field("display", s.Display)
	if s.Geometry != "" {
		field("geometry", s.Geometry)
	}
	field("server", pidState(s.ServerPID, s.ServerAlive)+" ("+s.Owner+")")
	if s.FrontendPID > 0 || len(s.Argv) > 0 {
		field("frontend", pidState(s.FrontendPID, s.FrontendAlive))
	}
	if len(s.Argv) > 0 {
		field("command", strings.Join(s.Argv, " "))
	}
	if s.Mode != "" {
		field("mode", s.Mode)
	}
	if s.Phase != "" {
		field("phase", s.Phase)
	}
	if !s.StartedAt.IsZero() {
		field("started", humanize.Time(s.StartedAt))
	}
	if s.RunID != "" {
		field("run", s.RunID)
	}

	_, err := w.Write([]byte(sb.String()))
	return err
}

// FormatLog writes the log lines, coloured by level when enabled.
func (f *PlainFormatter) FormatLog(w io.Writer, l LogView) error {
	for _, line := range l.Lines {
		text := line.Text
		if f.opts.Color {
			if style, ok := levelStyles[line.Level]; ok {
				text = style.Render(text)
			}
		}
		if _, err := fmt.Fprintln(w, text); err != nil {
			return err
		}
	}
	return nil
}

func pidState(pid int, alive bool) string {
	switch {
	case pid <= 0:
		return "none"
	case alive:
		return fmt.Sprintf("pid %d running", pid)
	default:
		return fmt.Sprintf("pid %d gone", pid)
	}
}

// runStatus renders status with the exit code once known.
func runStatus(r *model.Run) string {
	switch r.Status {
	case model.StatusExited, model.StatusFailed:
		return fmt.Sprintf("%s(%d)", r.Status, r.ExitCode)
	default:
		return r.Status
	}
}

// templateFuncs returns template helper functions.
func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"truncate": func(s string, maxLen int) string {
			if maxLen <= 0 || len(s) <= maxLen {
				return s
			}
			if maxLen <= 3 {
				return s[:maxLen]
			}
			return s[:maxLen-3] + "..."
		},
		"reltime": func(ts int64) string {
			return relativeTime(ts)
		},
		"join": strings.Join,
	}
}

// relativeTime returns a compact relative time string.
func relativeTime(timestamp int64) string {
	if timestamp == 0 {
		return "unknown"
	}

	t := time.Unix(timestamp, 0)
	d := time.Since(t)

	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		mins := int(d.Minutes())
		return fmt.Sprintf("%dm", mins)
	case d < 24*time.Hour:
		hours := int(d.Hours())
		return fmt.Sprintf("%dh", hours)
	case d < 7*24*time.Hour:
		days := int(d.Hours() / 24)
		return fmt.Sprintf("%dd", days)
	default:
		weeks := int(d.Hours() / 24 / 7)
		return fmt.Sprintf("%dw", weeks)
	}
}
