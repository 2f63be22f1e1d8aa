// Package styles centralizes lipgloss styling for the TUI
package styles

import "github.com/charmbracelet/lipgloss"

var (
	// Header is the title bar at the top of the screen
	Header = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("230")).
		Background(lipgloss.Color("62")).
		Padding(0, 1)

	// Selected highlights the cursor row
	Selected = lipgloss.NewStyle().
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("57"))

	// Category styles category node labels
	Category = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("110"))

	// Course styles course node labels
	Course = lipgloss.NewStyle().
		Foreground(lipgloss.Color("150"))

	// Dim styles secondary text: ids, module types, hidden courses
	Dim = lipgloss.NewStyle().
		Foreground(lipgloss.Color("243"))

	// Error styles failure messages and error-state markers
	Error = lipgloss.NewStyle().
		Foreground(lipgloss.Color("203"))

	// Status is the footer line
	Status = lipgloss.NewStyle().
		Foreground(lipgloss.Color("245"))

	// FilterPrompt styles the active filter input
	FilterPrompt = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212"))
)
