package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/pkgbuild/internal/events"
)

// Package statuses shown in the list.
const (
	StatusRunning = "running"
	StatusRebuilt = "rebuilt"
	StatusReused  = "reused"
	StatusFailed  = "failed"
	StatusBlocked = "blocked"
)

// PackageState is the latest known state of one package in one category.
type PackageState struct {
	Name     string
	Category string
	Status   string
	Started  time.Time
	Duration time.Duration
}

// PackagesPaneModel lists packages on the left and an activity log on the right.
type PackagesPaneModel struct {
	packages    map[string]*PackageState // category/name -> state
	order       []string                 // insertion order for display
	log         []string
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
}

// NewPackagesPaneModel creates an empty packages pane.
func NewPackagesPaneModel() PackagesPaneModel {
	return PackagesPaneModel{
		packages: make(map[string]*PackageState),
		viewport: viewport.New(0, 0),
	}
}

func packageKey(category, name string) string {
	return category + "/" + name
}

// statusOf maps a finished event to a list status.
func statusOf(e events.PackageFinishedEvent) string {
	switch e.Outcome {
	case "node-fail":
		return StatusFailed
	case "subnode-fail":
		return StatusBlocked
	}
	if e.Rebuilt {
		return StatusRebuilt
	}
	return StatusReused
}

// Update handles messages for the packages pane.
func (m PackagesPaneModel) Update(msg tea.Msg) (PackagesPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.order)-1 {
				m.selectedIdx++
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
			}
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.PackageStartedEvent:
		key := packageKey(msg.Category, msg.Name)
		st, ok := m.packages[key]
		if !ok {
			st = &PackageState{Name: msg.Name, Category: msg.Category}
			m.packages[key] = st
			m.order = append(m.order, key)
		}
		st.Status = StatusRunning
		st.Started = msg.Timestamp

	case events.PackageFinishedEvent:
		key := packageKey(msg.Category, msg.Name)
		st, ok := m.packages[key]
		if !ok {
			// Blocked and reused packages never start a builder
			st = &PackageState{Name: msg.Name, Category: msg.Category}
			m.packages[key] = st
			m.order = append(m.order, key)
		}
		st.Status = statusOf(msg)
		st.Duration = msg.Duration
		m.appendLog(fmt.Sprintf("%s %-10s %s %s in %v",
			msg.Timestamp.Format("15:04:05"), msg.Category, msg.Name, st.Status, msg.Duration.Round(time.Millisecond)))

	case events.LinkDecidedEvent:
		m.appendLog(fmt.Sprintf("%s link       %s: %s", msg.Timestamp.Format("15:04:05"), msg.Root, msg.Reason))
	}

	return m, cmd
}

func (m *PackagesPaneModel) appendLog(line string) {
	m.log = append(m.log, line)
	m.viewport.SetContent(strings.Join(m.log, "\n"))
	m.viewport.GotoBottom()
}

// Selected returns the state of the highlighted package, if any.
func (m PackagesPaneModel) Selected() (*PackageState, bool) {
	if m.selectedIdx < 0 || m.selectedIdx >= len(m.order) {
		return nil, false
	}
	return m.packages[m.order[m.selectedIdx]], true
}

// View renders the packages pane.
func (m PackagesPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	listWidth := 28
	logWidth := m.width - listWidth - 4

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderList(listWidth),
		lipgloss.NewStyle().
			Width(logWidth).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m PackagesPaneModel) renderList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Packages")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.order) == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting..."))
	}
	for i, key := range m.order {
		st := m.packages[key]
		name := st.Name
		if st.Category != "library" {
			name += " (" + st.Category + ")"
		}
		if len(name) > width-4 {
			name = name[:width-7] + "..."
		}
		line := fmt.Sprintf("%s %s", StatusIcon(st.Status), name)
		if i == m.selectedIdx {
			line = StyleSelected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

// StatusIcon returns a styled status indicator.
func StatusIcon(status string) string {
	switch status {
	case StatusRunning:
		return StyleStatusRunning.Render("●")
	case StatusRebuilt:
		return StyleStatusRebuilt.Render("☑")
	case StatusFailed:
		return StyleStatusFailed.Render("☒")
	case StatusBlocked:
		return StyleStatusBlocked.Render("☐")
	default:
		return StyleStatusPending.Render("○")
	}
}

// SetSize updates the pane dimensions.
func (m *PackagesPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.viewport.Width = max(w-28-4, 10)
	m.viewport.Height = max(h-4, 5)
}

// SetFocused updates the focus state.
func (m *PackagesPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
