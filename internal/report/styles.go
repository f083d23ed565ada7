package report

import (
	"github.com/charmbracelet/lipgloss"
)

// Status styles
var (
	styleRebuilt = lipgloss.NewStyle().
			Foreground(lipgloss.Color("green")).
			Bold(true)

	styleFailed = lipgloss.NewStyle().
			Foreground(lipgloss.Color("red")).
			Bold(true)

	styleBlocked = lipgloss.NewStyle().
			Foreground(lipgloss.Color("yellow"))

	styleUnchanged = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

// UI element styles
var (
	styleHeading = lipgloss.NewStyle().
			Bold(true)

	styleEnumerator = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			PaddingRight(1)
)
