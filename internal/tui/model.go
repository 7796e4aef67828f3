// Package tui provides the BubbleTea-based terminal user interface: a
// dashboard for a monitored job and a browser for run history.
package tui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jmylchreest/xvrun/internal/model"
	"github.com/jmylchreest/xvrun/internal/monitor"
	"github.com/jmylchreest/xvrun/internal/store"
)

// Mode represents the current UI mode.
type Mode int

const (
	ModeDashboard Mode = iota
	ModeHistory
	ModeDetail
	ModeHelp
)

// Log level colours.
var levelColors = map[monitor.Level]lipgloss.Color{
	monitor.LevelInfo:    lipgloss.Color("#0066cc"),
	monitor.LevelWarning: lipgloss.Color("#ff9900"),
	monitor.LevelError:   lipgloss.Color("#cc0000"),
	monitor.LevelOther:   lipgloss.Color("#666666"),
}

// Model is the main TUI model.
type Model struct {
	// Sources
	mon     *monitor.Monitor
	changes <-chan struct{}
	store   *store.Store
	title   string

	// Current mode
	mode     Mode
	prevMode Mode

	// Components
	progress progress.Model
	logView  viewport.Model
	list     list.Model
	detail   viewport.Model

	// State
	last     monitor.Update
	polled   bool
	follow   bool
	stopping bool
	quitting bool
	width    int
	height   int
	ready    bool

	// Key bindings
	keys KeyMap

	// Status message
	statusMsg string
	statusErr bool

	// Refresh channel subscription
	refreshCh <-chan store.ChangeEvent
}

// runItem wraps a run for the list component.
type runItem struct {
	run model.Run
}

func (i runItem) Title() string {
	return i.run.Command(0)
}

func (i runItem) Description() string {
	status := i.run.Status
	if i.run.IsFinished() && i.run.Status != model.StatusExecuted {
		status = fmt.Sprintf("%s(%d)", i.run.Status, i.run.ExitCode)
	}
	return fmt.Sprintf("[%s] %s - %s", i.run.Display, status, i.run.RelativeTime())
}

func (i runItem) FilterValue() string {
	return i.run.Command(0) + " " + i.run.Display + " " + i.run.Status
}

// runDelegate dims runs that failed.
type runDelegate struct {
	list.DefaultDelegate
}

func newRunDelegate() runDelegate {
	return runDelegate{DefaultDelegate: list.NewDefaultDelegate()}
}

// Render renders a list item, dimming failed runs.
func (d runDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	ri, ok := item.(runItem)
	if !ok {
		d.DefaultDelegate.Render(w, m, index, item)
		return
	}

	isSelected := index == m.Index()
	isFailed := ri.run.Status == model.StatusFailed

	itemWidth := m.Width() - d.DefaultDelegate.Styles.NormalTitle.GetHorizontalPadding()

	titleStyle := d.DefaultDelegate.Styles.NormalTitle
	descStyle := d.DefaultDelegate.Styles.NormalDesc
	if isSelected {
		titleStyle = d.DefaultDelegate.Styles.SelectedTitle
		descStyle = d.DefaultDelegate.Styles.SelectedDesc
	}
	if isFailed {
		descStyle = descStyle.Foreground(lipgloss.Color("9"))
	}

	title := ri.Title()
	if itemWidth > 0 && len(title) > itemWidth {
		title = title[:itemWidth-1] + "…"
	}
	desc := ri.Description()
	if itemWidth > 0 && len(desc) > itemWidth {
		desc = desc[:itemWidth-1] + "…"
	}

	fmt.Fprint(w, titleStyle.Render(title))
	fmt.Fprint(w, "\n")
	fmt.Fprint(w, descStyle.Render(desc))
}

// New creates a new TUI model. mon may be nil for a history-only view;
// changes, if set, signals log file updates.
func New(mon *monitor.Monitor, changes <-chan struct{}, s *store.Store) Model {
	l := list.New(nil, newRunDelegate(), 0, 0)
	l.Title = "Run History"
	l.SetShowStatusBar(true)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(true)
	l.DisableQuitKeybindings()

	m := Model{
		mon:      mon,
		changes:  changes,
		store:    s,
		title:    "xvrun watch",
		mode:     ModeDashboard,
		progress: progress.New(progress.WithDefaultGradient()),
		list:     l,
		follow:   true,
		keys:     DefaultKeyMap(),
	}
	if mon == nil {
		m.mode = ModeHistory
	} else if argv := mon.Job().Argv(); len(argv) > 0 {
		m.title = "xvrun watch: " + strings.Join(argv, " ")
	}

	if s != nil {
		m.refreshCh = s.Subscribe()
	}

	return m
}

type (
	tickMsg       time.Time
	updateMsg     monitor.Update
	logChangedMsg struct{}
	jobDoneMsg    struct{}
	stoppedMsg    struct{ err error }
	refreshMsg    struct{}
	loadRunsMsg   struct{}
)

type statusMsg struct {
	text  string
	isErr bool
}

type clearStatusMsg struct{}

// Init initializes the TUI.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.loadRuns, m.watchForChanges}
	if m.mon != nil {
		cmds = append(cmds, m.poll, m.tick(), m.waitForLogChange, m.waitForJobDone)
	}
	return tea.Batch(cmds...)
}

func (m Model) loadRuns() tea.Msg {
	return loadRunsMsg{}
}

// watchForChanges waits for a history store change.
func (m Model) watchForChanges() tea.Msg {
	if m.refreshCh == nil {
		return nil
	}
	if _, ok := <-m.refreshCh; !ok {
		return nil
	}
	return refreshMsg{}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.mon.Config().PollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// poll refreshes the monitor state. It may stop the job, so it runs as a
// command rather than inside Update.
func (m Model) poll() tea.Msg {
	return updateMsg(m.mon.Poll(time.Now()))
}

func (m Model) waitForLogChange() tea.Msg {
	if m.changes == nil {
		return nil
	}
	if _, ok := <-m.changes; !ok {
		return nil
	}
	return logChangedMsg{}
}

func (m Model) waitForJobDone() tea.Msg {
	<-m.mon.Job().Done()
	return jobDoneMsg{}
}

func (m Model) stopJob(reason monitor.StopReason) tea.Cmd {
	return func() tea.Msg {
		return stoppedMsg{err: m.mon.Stop(reason)}
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true

		m.progress.Width = max(msg.Width-4, 10)
		m.logView = viewport.New(msg.Width, max(msg.Height-6, 1))
		m.logView.SetContent(m.renderLog())
		if m.follow {
			m.logView.GotoBottom()
		}
		m.list.SetSize(msg.Width, msg.Height-2)
		m.detail = viewport.New(msg.Width, max(msg.Height-4, 1))
		return m, nil

	case tickMsg:
		if m.finished() {
			return m, nil
		}
		return m, tea.Batch(m.poll, m.tick())

	case logChangedMsg:
		return m, tea.Batch(m.poll, m.waitForLogChange)

	case jobDoneMsg:
		return m, m.poll

	case updateMsg:
		m.applyUpdate(monitor.Update(msg))
		if m.quitting && !m.last.Running {
			return m, tea.Quit
		}
		return m, nil

	case stoppedMsg:
		m.stopping = false
		if msg.err != nil {
			return m, m.setStatus("Stop failed: "+msg.err.Error(), true)
		}
		if m.quitting {
			return m, tea.Quit
		}
		return m, m.poll

	case loadRunsMsg:
		m.list.SetItems(m.buildListItems())
		return m, nil

	case refreshMsg:
		m.list.SetItems(m.buildListItems())
		return m, m.watchForChanges

	case statusMsg:
		m.statusMsg = msg.text
		m.statusErr = msg.isErr
		return m, tea.Tick(3*time.Second, func(t time.Time) tea.Msg {
			return clearStatusMsg{}
		})

	case clearStatusMsg:
		m.statusMsg = ""
		m.statusErr = false
		return m, nil

	case progress.FrameMsg:
		pm, cmd := m.progress.Update(msg)
		if p, ok := pm.(progress.Model); ok {
			m.progress = p
		}
		return m, cmd
	}

	var cmd tea.Cmd
	switch m.mode {
	case ModeDashboard:
		m.logView, cmd = m.logView.Update(msg)
	case ModeHistory:
		m.list, cmd = m.list.Update(msg)
	case ModeDetail:
		m.detail, cmd = m.detail.Update(msg)
	}
	return m, cmd
}

func (m Model) setStatus(text string, isErr bool) tea.Cmd {
	return func() tea.Msg {
		return statusMsg{text: text, isErr: isErr}
	}
}

// finished reports whether the job has exited and been polled since.
func (m Model) finished() bool {
	return m.polled && !m.last.Running
}

func (m *Model) applyUpdate(u monitor.Update) {
	m.last = u
	m.polled = true
	if m.ready {
		m.logView.SetContent(m.renderLog())
		if m.follow {
			m.logView.GotoBottom()
		}
	}
}

// handleKey handles key presses.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Let the list's filter input take keys while it is active.
	if m.mode == ModeHistory && m.list.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		if m.mon != nil && m.mon.Job().Running() {
			m.quitting = true
			m.stopping = true
			return m, m.stopJob(monitor.ReasonManual)
		}
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		if m.mode == ModeHelp {
			m.mode = m.prevMode
		} else {
			m.prevMode = m.mode
			m.mode = ModeHelp
		}
		return m, nil
	}

	switch m.mode {
	case ModeDashboard:
		return m.handleDashboardKey(msg)
	case ModeHistory:
		return m.handleHistoryKey(msg)
	case ModeDetail:
		if key.Matches(msg, m.keys.Back) {
			m.mode = ModeHistory
			return m, nil
		}
		var cmd tea.Cmd
		m.detail, cmd = m.detail.Update(msg)
		return m, cmd
	case ModeHelp:
		if key.Matches(msg, m.keys.Back) {
			m.mode = m.prevMode
		}
		return m, nil
	}

	return m, nil
}

func (m Model) handleDashboardKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Stop):
		if m.stopping || !m.mon.Job().Running() {
			return m, m.setStatus("Job is not running", false)
		}
		m.stopping = true
		return m, m.stopJob(monitor.ReasonManual)

	case key.Matches(msg, m.keys.Refresh):
		return m, m.poll

	case key.Matches(msg, m.keys.Follow):
		m.follow = !m.follow
		if m.follow {
			m.logView.GotoBottom()
			return m, m.setStatus("Following log", false)
		}
		return m, m.setStatus("Stopped following log", false)

	case key.Matches(msg, m.keys.Home):
		m.follow = false
		m.logView.GotoTop()
		return m, nil

	case key.Matches(msg, m.keys.End):
		m.logView.GotoBottom()
		return m, nil

	case key.Matches(msg, m.keys.History):
		if m.store != nil {
			m.mode = ModeHistory
			m.list.SetItems(m.buildListItems())
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.logView, cmd = m.logView.Update(msg)
	if !m.logView.AtBottom() {
		m.follow = false
	}
	return m, cmd
}

func (m Model) handleHistoryKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Enter):
		if item, ok := m.list.SelectedItem().(runItem); ok {
			m.mode = ModeDetail
			m.detail.SetContent(renderRunDetail(item.run))
			m.detail.GotoTop()
		}
		return m, nil

	case key.Matches(msg, m.keys.History), key.Matches(msg, m.keys.Back):
		if m.mon != nil {
			m.mode = ModeDashboard
			return m, nil
		}

	case key.Matches(msg, m.keys.Refresh):
		if m.store != nil {
			if err := m.store.Hydrate(); err != nil {
				return m, m.setStatus("Refresh failed: "+err.Error(), true)
			}
		}
		return m, m.loadRuns
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// buildListItems creates list items from the store, newest first.
func (m Model) buildListItems() []list.Item {
	if m.store == nil {
		return nil
	}
	runs := m.store.List()
	items := make([]list.Item, len(runs))
	for i, r := range runs {
		items[i] = runItem{run: r}
	}
	return items
}

// renderLog colours the current log tail by level.
func (m Model) renderLog() string {
	if m.last.LogPath == "" {
		return lipgloss.NewStyle().Foreground(lipgloss.Color("8")).
			Render("No log files found yet. Please wait.")
	}
	if len(m.last.Lines) == 0 {
		return lipgloss.NewStyle().Foreground(lipgloss.Color("8")).
			Render("Log file exists but is empty. Please wait.")
	}
	return colorLines(m.last.Lines)
}

func colorLines(lines []string) string {
	var sb strings.Builder
	for i, line := range lines {
		if i > 0 {
			sb.WriteString("\n")
		}
		level := monitor.ClassifyLine(line)
		sb.WriteString(lipgloss.NewStyle().Foreground(levelColors[level]).Render(line))
	}
	return sb.String()
}

// renderRunDetail renders the detail view for a run.
func renderRunDetail(r model.Run) string {
	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("8"))

	var s strings.Builder
	s.WriteString(headerStyle.Render(r.Command(0)) + "\n\n")

	field := func(label, value string) {
		if value == "" {
			return
		}
		s.WriteString(labelStyle.Render(label+": ") + value + "\n")
	}
	field("ID", r.ID)
	field("Display", r.Display)
	field("Geometry", r.Geometry)
	field("Mode", r.Mode)
	field("Strategy", r.Strategy)
	field("Started", r.RelativeTime())
	field("Duration", r.Elapsed().String())
	field("Phase", r.Phase)
	field("Status", r.Status)
	if r.IsFinished() && r.Status != model.StatusExecuted {
		field("Exit code", fmt.Sprintf("%d", r.ExitCode))
	}
	if r.ServerPID > 0 {
		field("Server PID", fmt.Sprintf("%d", r.ServerPID))
	}
	if r.Reused {
		field("Display", "reused existing server")
	}
	if r.Error != "" {
		s.WriteString("\n" + labelStyle.Render("Error:") + "\n" + r.Error + "\n")
	}

	return s.String()
}

// View renders the TUI.
func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}

	switch m.mode {
	case ModeDashboard:
		return m.viewDashboard()
	case ModeHistory:
		return m.viewHistory()
	case ModeDetail:
		return m.viewDetail()
	case ModeHelp:
		return m.viewHelp()
	default:
		return ""
	}
}

func (m Model) viewDashboard() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	var s strings.Builder
	s.WriteString(titleStyle.Render(m.title) + "  " + m.jobState() + "\n")

	p := m.last.Progress
	s.WriteString(m.progress.ViewAs(p.Ratio) + "\n")
	s.WriteString(fmt.Sprintf("Time elapsed: %s   Time left: %s\n",
		p.Elapsed.Truncate(time.Second), p.Remaining.Truncate(time.Second)))

	if m.last.LogPath != "" {
		s.WriteString(dimStyle.Render(fmt.Sprintf("Displayed %d lines from file: %s", len(m.last.Lines), m.last.LogPath)) + "\n")
	} else {
		s.WriteString("\n")
	}

	s.WriteString(m.logView.View() + "\n")
	s.WriteString(m.statusLine("dashboard"))
	return s.String()
}

// jobState renders the job's run state and stop reason.
func (m Model) jobState() string {
	running := lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warn := lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	fail := lipgloss.NewStyle().Foreground(lipgloss.Color("9"))

	switch {
	case !m.polled:
		return "starting"
	case m.stopping:
		return warn.Render("stopping...")
	case m.last.Running:
		return running.Render(fmt.Sprintf("running (pid %d)", m.mon.Job().PID()))
	case m.last.Reason.IsError():
		return fail.Render(m.last.Reason.Message()) + "\n" + fail.Render(m.last.ErrorLine)
	default:
		return warn.Render(fmt.Sprintf("%s (exit %d)", m.last.Reason.Message(), m.last.ExitCode))
	}
}

func (m Model) viewHistory() string {
	return m.list.View() + "\n" + m.statusLine("history")
}

func (m Model) viewDetail() string {
	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Padding(0, 1)

	header := headerStyle.Render("Run Detail")

	return header + "\n" + m.detail.View() + "\n" + m.buildKeybindBar(m.width, "detail")
}

func (m Model) statusLine(mode string) string {
	if m.statusMsg != "" {
		statusStyle := lipgloss.NewStyle().
			Foreground(lipgloss.Color("7"))
		if m.statusErr {
			statusStyle = statusStyle.Foreground(lipgloss.Color("9"))
		}
		return statusStyle.Render(m.statusMsg)
	}
	return m.buildKeybindBar(m.width, mode)
}

func (m Model) viewHelp() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		MarginBottom(1)

	sectionStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("8"))

	keyStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	s := titleStyle.Render("Keyboard Shortcuts") + "\n\n"

	s += sectionStyle.Render("Dashboard") + "\n"
	s += keyStyle.Render("  s") + "            Stop the job\n"
	s += keyStyle.Render("  r") + "            Refresh now\n"
	s += keyStyle.Render("  f") + "            Toggle following the log\n"
	s += keyStyle.Render("  j/k, ↑/↓") + "     Scroll the log\n"
	s += keyStyle.Render("  g/G") + "          Go to top/bottom\n"
	s += keyStyle.Render("  tab") + "          Run history\n"
	s += "\n"

	s += sectionStyle.Render("History") + "\n"
	s += keyStyle.Render("  enter") + "        View run details\n"
	s += keyStyle.Render("  /") + "            Filter\n"
	s += keyStyle.Render("  r") + "            Reload from disk\n"
	s += "\n"

	s += sectionStyle.Render("General") + "\n"
	s += keyStyle.Render("  ?") + "            Toggle this help\n"
	s += keyStyle.Render("  esc") + "          Back\n"
	s += keyStyle.Render("  q") + "            Quit (stops a running job)\n"

	s += "\n" + lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(
		"Press ? or esc to return")

	return s
}

// keybind represents a single keybind with priority for the status bar.
type keybind struct {
	key      string
	desc     string
	priority int // lower = more important (shown first)
}

// buildKeybindBar builds a keybind bar that fits within the given width.
// mode determines which keybinds are shown: "dashboard", "history", "detail"
func (m Model) buildKeybindBar(width int, mode string) string {
	style := lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	keyStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10"))

	var binds []keybind

	switch mode {
	case "dashboard":
		binds = []keybind{
			{"q", "quit", 1},
			{"s", "stop", 2},
			{"?", "help", 3},
			{"f", "follow", 4},
			{"r", "refresh", 5},
			{"tab", "history", 6},
		}
	case "history":
		binds = []keybind{
			{"q", "quit", 1},
			{"enter", "view", 2},
			{"?", "help", 3},
			{"/", "filter", 4},
			{"r", "reload", 5},
		}
		if m.mon != nil {
			binds = append(binds, keybind{"tab", "dashboard", 6})
		}
	case "detail":
		binds = []keybind{
			{"q", "quit", 1},
			{"esc", "back", 2},
			{"j/k", "scroll", 3},
		}
	}

	// Build the bar, adding keybinds until we run out of space
	const separator = "  "
	result := ""
	plainLen := 0
	for _, b := range binds {
		item := keyStyle.Render(b.key) + " " + b.desc
		plainItem := b.key + " " + b.desc
		testLen := plainLen + len(plainItem)
		if result != "" {
			testLen += len(separator)
		}

		if width > 0 && testLen > width {
			break
		}
		if result != "" {
			result += separator
		}
		result += item
		plainLen = testLen
	}

	return style.Render(result)
}
