package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/gantryci/gantry/internal/pipeline"
)

// EventMsg wraps one pipeline progress event. It is exported so that tests
// can inject events directly into Model.Update.
type EventMsg struct {
	Event pipeline.Event
}

// DoneMsg is sent when the run goroutine has finished.
type DoneMsg struct {
	Outcome  pipeline.Outcome
	Duration time.Duration
	Degraded bool
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#22c55e"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#eab308"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#ef4444"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#5a5a70"))
)

type stageLine struct {
	name     string
	outcome  pipeline.Outcome
	duration time.Duration
	command  string
	running  bool
	finished bool
	skipped  bool
}

// Model renders a single pipeline run: one line per stage, a spinner on the
// one that is executing, and a final outcome banner.
type Model struct {
	job     string
	number  int
	spinner spinner.Model
	events  <-chan tea.Msg
	stages  []stageLine

	done     bool
	aborted  bool
	outcome  pipeline.Outcome
	duration time.Duration
	degraded bool
	width    int
}

// NewModel creates the run view. stages is the configured stage order;
// events delivers EventMsg and DoneMsg from the run goroutine.
func NewModel(job string, number int, stages []string, events <-chan tea.Msg) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#eab308"))

	lines := make([]stageLine, len(stages))
	for i, name := range stages {
		lines[i] = stageLine{name: name}
	}

	return Model{
		job:     job,
		number:  number,
		spinner: sp,
		events:  events,
		stages:  lines,
		width:   80,
	}
}

// Aborted reports whether the user quit before the run finished.
func (m Model) Aborted() bool {
	return m.aborted
}

func waitForEvent(events <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-events
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEvent(m.events))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case EventMsg:
		m.apply(msg.Event)
		return m, waitForEvent(m.events)

	case DoneMsg:
		m.done = true
		m.outcome = msg.Outcome
		m.duration = msg.Duration
		m.degraded = msg.Degraded
		return m, tea.Quit

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.aborted = true
			return m, tea.Quit
		}
	}
	return m, nil
}

// apply folds one run event into the stage lines.
func (m *Model) apply(e pipeline.Event) {
	idx := -1
	for i := range m.stages {
		if m.stages[i].name == e.Stage {
			idx = i
			break
		}
	}

	switch e.Kind {
	case pipeline.EventStageStarted:
		if idx >= 0 {
			m.stages[idx].running = true
		}
	case pipeline.EventCommandStarted:
		if idx >= 0 {
			m.stages[idx].command = e.Command
		}
	case pipeline.EventStageFinished:
		if idx >= 0 {
			st := &m.stages[idx]
			st.running = false
			st.finished = true
			st.outcome = e.Outcome
			st.duration = e.Duration
			st.skipped = e.Skipped
			st.command = ""
		}
	}
}

func (m Model) View() string {
	var b strings.Builder

	fmt.Fprintf(&b, "\n  %s\n\n", titleStyle.Render(fmt.Sprintf("gantry · %s #%d", m.job, m.number)))

	for _, st := range m.stages {
		b.WriteString("  " + m.stageLine(st) + "\n")
	}

	b.WriteString("\n")
	if m.done {
		b.WriteString("  " + m.banner() + "\n")
	} else {
		b.WriteString(dimStyle.Render("  q: abort") + "\n")
	}
	return b.String()
}

func (m Model) stageLine(st stageLine) string {
	name := fmt.Sprintf("%-24s", st.name)

	switch {
	case st.skipped:
		return dimStyle.Render("- " + name + "skipped")
	case st.running:
		line := m.spinner.View() + name
		if st.command != "" {
			line += dimStyle.Render(truncate(st.command, m.width-30))
		}
		return line
	case !st.finished:
		return dimStyle.Render("· " + name)
	}

	switch st.outcome {
	case pipeline.OutcomeSuccess:
		return successStyle.Render("✓ ") + name + dimStyle.Render(st.duration.Round(time.Millisecond).String())
	case pipeline.OutcomeUnstable:
		return warnStyle.Render("! ") + name + dimStyle.Render(st.duration.Round(time.Millisecond).String())
	default:
		return errorStyle.Render("✗ ") + name + dimStyle.Render(st.duration.Round(time.Millisecond).String())
	}
}

func (m Model) banner() string {
	elapsed := m.duration.Round(time.Second)
	switch m.outcome {
	case pipeline.OutcomeSuccess:
		return successStyle.Render(fmt.Sprintf("SUCCESS in %s", elapsed))
	case pipeline.OutcomeUnstable:
		text := fmt.Sprintf("UNSTABLE in %s", elapsed)
		if m.degraded {
			text += " (status reporting failed)"
		}
		return warnStyle.Render(text)
	default:
		return errorStyle.Render(fmt.Sprintf("FAILURE in %s", elapsed))
	}
}

func truncate(s string, max int) string {
	if max < 8 {
		max = 8
	}
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}

// Run drives the view until the run completes or the user aborts. It
// returns true if the user quit early.
func Run(job string, number int, stages []string, events <-chan tea.Msg) (bool, error) {
	p := tea.NewProgram(NewModel(job, number, stages, events))
	final, err := p.Run()
	if err != nil {
		return false, fmt.Errorf("running terminal ui: %w", err)
	}
	if m, ok := final.(Model); ok {
		return m.Aborted(), nil
	}
	return false, nil
}
