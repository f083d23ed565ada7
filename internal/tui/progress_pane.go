package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/pkgbuild/internal/events"
)

// ProgressPaneModel shows how far the current category has got.
type ProgressPaneModel struct {
	category  string
	buildID   uint64
	total     int
	finished  int
	running   int
	rebuilt   int
	failed    int
	blocked   int
	link      string
	started   map[string]bool
	done      bool
	succeeded bool
	spinner   spinner.Model
	bar       progress.Model
	width     int
	height    int
	focused   bool
}

// NewProgressPaneModel creates an idle progress pane.
func NewProgressPaneModel() ProgressPaneModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = StyleStatusRunning
	return ProgressPaneModel{
		spinner: s,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
	}
}

// Init starts the spinner.
func (m ProgressPaneModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles messages for the progress pane.
func (m ProgressPaneModel) Update(msg tea.Msg) (ProgressPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case events.RunStartedEvent:
		m.done = false
		m.link = ""

	case events.CategoryStartedEvent:
		m.category = msg.Category
		m.buildID = msg.BuildID
		m.total = msg.Total
		m.finished, m.running, m.rebuilt, m.failed, m.blocked = 0, 0, 0, 0, 0
		m.started = make(map[string]bool)

	case events.PackageStartedEvent:
		if m.started == nil {
			m.started = make(map[string]bool)
		}
		m.started[msg.Name] = true
		m.running++

	case events.PackageFinishedEvent:
		m.finished++
		switch statusOf(msg) {
		case StatusRebuilt:
			m.rebuilt++
		case StatusFailed:
			m.failed++
		case StatusBlocked:
			m.blocked++
		}
		// Blocked packages finish without starting
		if m.started[msg.Name] {
			delete(m.started, msg.Name)
			m.running--
		}

	case events.LinkDecidedEvent:
		m.link = msg.Reason

	case events.RunFinishedEvent:
		m.done = true
		m.succeeded = msg.Succeeded
		m.running = 0
	}

	return m, nil
}

// Percent is the finished fraction of the current category.
func (m ProgressPaneModel) Percent() float64 {
	if m.total == 0 {
		return 0
	}
	return float64(m.finished) / float64(m.total)
}

// View renders the progress pane.
func (m ProgressPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	title := StyleTitle.Render("Build Progress")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	switch {
	case m.done && m.succeeded:
		b.WriteString(StyleStatusRebuilt.Render("Build succeeded"))
	case m.done:
		b.WriteString(StyleStatusFailed.Render("Build failed"))
	case m.category == "":
		b.WriteString(StyleStatusPending.Render("Scanning packages..."))
	default:
		b.WriteString(fmt.Sprintf("%s %s (build %d)", m.spinner.View(), m.category, m.buildID))
	}
	b.WriteString("\n\n")

	b.WriteString(fmt.Sprintf("Total:    %d\n", m.total))
	b.WriteString(fmt.Sprintf("Rebuilt:  %s\n", StyleStatusRebuilt.Render(fmt.Sprintf("%d", m.rebuilt))))
	b.WriteString(fmt.Sprintf("Running:  %s\n", StyleStatusRunning.Render(fmt.Sprintf("%d", m.running))))
	b.WriteString(fmt.Sprintf("Failed:   %s\n", StyleStatusFailed.Render(fmt.Sprintf("%d", m.failed))))
	b.WriteString(fmt.Sprintf("Blocked:  %s\n", StyleStatusBlocked.Render(fmt.Sprintf("%d", m.blocked))))
	if m.link != "" {
		b.WriteString(fmt.Sprintf("Link:     %s\n", m.link))
	}
	b.WriteString("\n")

	if m.total > 0 {
		m.bar.Width = min(m.width-16, 40)
		b.WriteString(fmt.Sprintf("%s  %d/%d\n", m.bar.ViewAs(m.Percent()), m.finished, m.total))
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

// SetSize updates the pane dimensions.
func (m *ProgressPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *ProgressPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
