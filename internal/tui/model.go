// Package tui is the live progress view shown while a build runs.
package tui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/pkgbuild/internal/events"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PanePackages PaneID = iota
	PaneProgress
)

const paneCount = 2

// busClosedMsg is delivered once the event bus has been closed.
type busClosedMsg struct{}

// Model is the root Bubble Tea model for the TUI.
type Model struct {
	packagesPane PackagesPaneModel
	progressPane ProgressPaneModel
	focusedPane  PaneID
	eventSub     <-chan events.Event
	exitOnFinish bool
	width        int
	height       int
	quitting     bool
}

// New creates a new TUI model subscribed to every topic on the bus.
// With exitOnFinish the program quits once a run has finished; otherwise it
// keeps showing successive runs until the user quits or the bus closes.
func New(eventBus *events.EventBus, exitOnFinish bool) Model {
	return Model{
		packagesPane: NewPackagesPaneModel(),
		progressPane: NewProgressPaneModel(),
		focusedPane:  PanePackages,
		eventSub:     eventBus.SubscribeAll(1024),
		exitOnFinish: exitOnFinish,
	}
}

// Init starts the spinner and waits for the first event.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.progressPane.Init(), waitForEvent(m.eventSub))
}

// waitForEvent returns a command that waits for the next event from the event bus.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return busClosedMsg{}
		}
		return event
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			m.quitting = true
			return m, tea.Quit

		case KeyTab:
			m.focusedPane = (m.focusedPane + 1) % paneCount
			m.updateFocusStates()

		case KeyShiftTab:
			m.focusedPane = (m.focusedPane + paneCount - 1) % paneCount
			m.updateFocusStates()

		case KeyPane1:
			m.focusedPane = PanePackages
			m.updateFocusStates()

		case KeyPane2:
			m.focusedPane = PaneProgress
			m.updateFocusStates()

		default:
			if m.focusedPane == PanePackages {
				var cmd tea.Cmd
				m.packagesPane, cmd = m.packagesPane.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()

	case busClosedMsg:
		m.quitting = true
		return m, tea.Quit

	case events.Event:
		var cmd tea.Cmd
		m.packagesPane, cmd = m.packagesPane.Update(msg)
		cmds = append(cmds, cmd)
		m.progressPane, cmd = m.progressPane.Update(msg)
		cmds = append(cmds, cmd)

		if _, finished := msg.(events.RunFinishedEvent); finished && m.exitOnFinish {
			return m, tea.Quit
		}
		if _, started := msg.(events.RunStartedEvent); started {
			// The spinner stops ticking between runs
			cmds = append(cmds, m.progressPane.Init())
		}
		cmds = append(cmds, waitForEvent(m.eventSub))

	default:
		var cmd tea.Cmd
		m.progressPane, cmd = m.progressPane.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	main := lipgloss.JoinHorizontal(lipgloss.Top, m.packagesPane.View(), m.progressPane.View())
	return lipgloss.JoinVertical(lipgloss.Left, main, HelpView())
}

// computeLayout calculates pane dimensions and updates all child models.
func (m *Model) computeLayout() {
	leftWidth := (m.width * 60) / 100
	rightWidth := m.width - leftWidth
	availableHeight := m.height - 1

	m.packagesPane.SetSize(leftWidth, availableHeight)
	m.progressPane.SetSize(rightWidth, availableHeight)

	m.updateFocusStates()
}

// updateFocusStates updates the focus state of all panes.
func (m *Model) updateFocusStates() {
	m.packagesPane.SetFocused(m.focusedPane == PanePackages)
	m.progressPane.SetFocused(m.focusedPane == PaneProgress)
}
