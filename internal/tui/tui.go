// Package tui renders live job progress in the terminal with Bubble Tea.
package tui

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/JakeFAU/chapterforge/internal/book"
	jobprogress "github.com/JakeFAU/chapterforge/internal/progress"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF6B6B"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ECDC4"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#95E1A3"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6C757D"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#4ECDC4")).
			Padding(1, 2)
)

type (
	// snapshotMsg carries one update from the job stream.
	snapshotMsg jobprogress.Snapshot

	// streamClosedMsg is sent when the stream ends without a terminal snapshot.
	streamClosedMsg struct{}
)

// Model follows a single job until it reaches a terminal state.
type Model struct {
	jobID    string
	updates  <-chan jobprogress.Snapshot
	cancel   context.CancelFunc
	spinner  spinner.Model
	progress progress.Model
	last     jobprogress.Snapshot
	seen     bool
	done     bool
	aborted  bool
	width    int
}

// NewModel builds a model that reads from updates. cancel, when non-nil, is
// called if the user interrupts.
func NewModel(jobID string, updates <-chan jobprogress.Snapshot, cancel context.CancelFunc) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 50

	return Model{
		jobID:    jobID,
		updates:  updates,
		cancel:   cancel,
		spinner:  sp,
		progress: prog,
	}
}

// Init starts the spinner and the first read from the stream.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, wait(m.updates))
}

func wait(updates <-chan jobprogress.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-updates
		if !ok {
			return streamClosedMsg{}
		}
		return snapshotMsg(snap)
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = min(max(msg.Width-20, 20), 80)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc", "q":
			if m.cancel != nil {
				m.cancel()
			}
			m.aborted = true
			m.done = true
			return m, tea.Quit
		}
		return m, nil

	case snapshotMsg:
		m.last = jobprogress.Snapshot(msg)
		m.seen = true
		if m.last.Err != nil || m.last.Status.Terminal() {
			m.done = true
			return m, tea.Quit
		}
		return m, wait(m.updates)

	case streamClosedMsg:
		m.done = true
		return m, tea.Quit

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View renders the current state.
func (m Model) View() string {
	var b strings.Builder

	title := m.last.Title
	if title == "" {
		title = "Job " + m.jobID
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n\n")

	b.WriteString(m.progress.ViewAs(float64(m.last.Progress) / 100))
	b.WriteString("\n\n")

	switch {
	case m.last.Err != nil:
		b.WriteString(errorStyle.Render("✗ " + m.last.Err.Error()))
	case m.last.Status == book.JobStatusCompleted:
		b.WriteString(successStyle.Render("✓ completed"))
	case m.last.Status == book.JobStatusFailed:
		b.WriteString(errorStyle.Render("✗ failed: " + m.last.Error))
	case m.aborted:
		b.WriteString(dimStyle.Render("interrupted"))
	case !m.seen:
		b.WriteString(m.spinner.View() + " " + statusStyle.Render("waiting"))
	default:
		b.WriteString(m.spinner.View() + " " + statusStyle.Render(fmt.Sprintf("%s %d%%", m.last.Status, m.last.Progress)))
	}

	if !m.done {
		b.WriteString("\n\n")
		b.WriteString(dimStyle.Render("esc to cancel"))
	}
	return boxStyle.Render(b.String()) + "\n"
}

// Result is the last snapshot received and whether the user interrupted.
func (m Model) Result() (jobprogress.Snapshot, bool) {
	return m.last, m.aborted
}

// Run drives the program until the job finishes or the user quits.
func Run(ctx context.Context, jobID string, updates <-chan jobprogress.Snapshot, cancel context.CancelFunc, out io.Writer) (jobprogress.Snapshot, error) {
	p := tea.NewProgram(NewModel(jobID, updates, cancel), tea.WithContext(ctx), tea.WithOutput(out))
	final, err := p.Run()
	if err != nil {
		return jobprogress.Snapshot{}, fmt.Errorf("tui: %w", err)
	}
	snap, aborted := final.(Model).Result()
	if aborted {
		return snap, context.Canceled
	}
	return snap, nil
}
