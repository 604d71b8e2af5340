package tui

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/pithecene-io/arfor/session"
	"github.com/pithecene-io/arfor/types"
)

type keyMap struct {
	Quit   key.Binding
	Cancel key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Cancel: key.NewBinding(
		key.WithKeys("c"),
		key.WithHelp("c", "cancel analysis"),
	),
}

// tickInterval refreshes elapsed times between snapshots.
const tickInterval = time.Second

type (
	stateMsg  session.State
	closedMsg struct{}
	tickMsg   time.Time
)

// WatchModel follows one analysis session. It ends when the run reaches a
// terminal phase, returns to idle, or the user quits.
type WatchModel struct {
	updates <-chan session.State
	cancel  func()
	now     func() time.Time

	state    session.State
	spinner  spinner.Model
	width    int
	quitting bool
	canceled bool
}

// NewWatchModel creates a model showing initial and then every snapshot
// from updates. cancel is called when the user presses c.
func NewWatchModel(initial session.State, updates <-chan session.State, cancel func()) WatchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = WarningStyle
	return WatchModel{
		updates: updates,
		cancel:  cancel,
		now:     time.Now,
		state:   initial,
		spinner: s,
	}
}

// State returns the last snapshot the model saw.
func (m WatchModel) State() session.State {
	return m.state
}

// Canceled reports whether the user cancelled the run.
func (m WatchModel) Canceled() bool {
	return m.canceled
}

// Init implements tea.Model.
func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForState(m.updates), tick())
}

func waitForState(updates <-chan session.State) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-updates
		if !ok {
			return closedMsg{}
		}
		return stateMsg(s)
	}
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update implements tea.Model.
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Cancel):
			if m.state.Phase == types.PhaseRunning && !m.canceled {
				m.canceled = true
				if m.cancel != nil {
					m.cancel()
				}
			}
			return m, nil
		}

	case stateMsg:
		m.state = session.State(msg)
		if m.finished() {
			return m, tea.Quit
		}
		return m, waitForState(m.updates)

	case closedMsg:
		return m, tea.Quit

	case tickMsg:
		if m.finished() {
			return m, nil
		}
		return m, tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m WatchModel) finished() bool {
	return m.state.Phase.IsTerminal() || m.state.Phase == types.PhaseIdle
}

// View implements tea.Model.
func (m WatchModel) View() string {
	if m.quitting {
		return ""
	}
	return RenderState(m.state, m.now(), m.spinner.View()) + "\n" +
		HelpStyle.Render("c cancel • q quit")
}

// RenderState draws one snapshot. indicator is shown next to a running
// phase; pass "" for a static render.
func RenderState(s session.State, now time.Time, indicator string) string {
	var b strings.Builder

	title := "arfor"
	if s.Ticker != "" {
		title += " · " + s.Ticker
	}
	if s.Demo {
		title += " (demo)"
	}
	b.WriteString(TitleStyle.Render(title))
	b.WriteString("\n")

	phase := PhaseStyle(s.Phase).Render(string(s.Phase))
	if s.Phase == types.PhaseRunning && indicator != "" {
		phase = indicator + " " + phase
	}
	b.WriteString(field("Phase", phase))
	if d := s.Duration(now); d > 0 {
		b.WriteString(field("Elapsed", formatElapsed(d)))
	}
	if s.CreditsRemaining != nil {
		b.WriteString(field("Credits", fmt.Sprintf("%d", *s.CreditsRemaining)))
	}
	if s.JobID != "" {
		b.WriteString(field("Job", MutedStyle.Render(s.JobID)))
	}

	b.WriteString("\n")
	for _, stage := range s.Stages {
		b.WriteString(renderStage(stage, now))
	}

	if sections := renderSections(s.Partial); sections != "" {
		b.WriteString("\n")
		b.WriteString(LabelStyle.Render("Sections"))
		b.WriteString("\n")
		b.WriteString(sections)
	}

	if s.Phase == types.PhaseError && s.Error != "" {
		b.WriteString("\n")
		b.WriteString(ErrorStyle.Render(s.Error))
		b.WriteString("\n")
	}
	if s.Phase == types.PhaseComplete && s.Result != nil {
		b.WriteString("\n")
		b.WriteString(SuccessStyle.Render(fmt.Sprintf("Report ready: %d sections, %d verdicts",
			len(s.Result.Sections), len(s.Result.Verdicts))))
		b.WriteString("\n")
	}
	return b.String()
}

func field(label, value string) string {
	return LabelStyle.Render(label) + value + "\n"
}

func renderStage(stage types.Stage, now time.Time) string {
	style := StageStyle(stage.Status)
	line := fmt.Sprintf("%s %-8s %-22s", style.Render(StageMarker(stage.Status)), stage.ID, stage.Label)
	if d := stage.Elapsed(now); d > 0 {
		line += " " + MutedStyle.Render(formatElapsed(d))
	}
	if stage.Detail != "" {
		line += "  " + MutedStyle.Render(stage.Detail)
	}
	return line + "\n"
}

func renderSections(partial types.PartialSections) string {
	if len(partial) == 0 {
		return ""
	}
	names := make([]string, 0, len(partial))
	for name := range partial {
		names = append(names, string(name))
	}
	slices.Sort(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "  %-12s %s\n", name, MutedStyle.Render(formatSize(len(partial[types.SectionName(name)]))))
	}
	return b.String()
}

func formatElapsed(d time.Duration) string {
	if d < time.Second {
		return d.Round(100 * time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}

func formatSize(n int) string {
	if n < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	return fmt.Sprintf("%.1f KB", float64(n)/1024)
}

// RunWatch shows the session until it ends and returns the final model.
func RunWatch(initial session.State, updates <-chan session.State, cancel func()) (WatchModel, error) {
	final, err := tea.NewProgram(NewWatchModel(initial, updates, cancel)).Run()
	if err != nil {
		return WatchModel{}, err
	}
	return final.(WatchModel), nil
}
