// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program for the jam client
package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Run starts the TUI over a controller and returns the running program.
// Session callbacks feed state in via program.Send.
func Run(controller Controller) *tea.Program {
	return tea.NewProgram(NewModel(controller), tea.WithAltScreen())
}
