package tui

import "github.com/charmbracelet/lipgloss"

// Shared palette for the dashboard.
var (
	ColorNavy  = lipgloss.Color("17")
	ColorWhite = lipgloss.Color("255")
	ColorBlue  = lipgloss.Color("39")
	ColorGreen = lipgloss.Color("46")
	ColorGray  = lipgloss.Color("244")
	ColorRed   = lipgloss.Color("196")
	ColorGold  = lipgloss.Color("220")
)

var (
	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorGray).
			Padding(0, 1)

	activeSectionStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(ColorBlue).
				Padding(0, 1)

	panelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorWhite)

	helpStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	statusLineStyle = lipgloss.NewStyle().
			Background(ColorNavy).
			Foreground(ColorWhite)

	errorStyle = lipgloss.NewStyle().
			Foreground(ColorRed)
)
