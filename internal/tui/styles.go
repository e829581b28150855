package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/alexisbeaulieu97/kapsel/internal/model"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	hintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	problemStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("33"))
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	waitingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// StateIcon returns the glyph representing a requirement state.
func StateIcon(state model.State) string {
	switch state {
	case model.StateSatisfied:
		return successStyle.Render("✓")
	case model.StateAlreadySatisfied:
		return successStyle.Render("=")
	case model.StateChecking, model.StateAttempting:
		return runningStyle.Render("⏳")
	case model.StateFailed:
		return failureStyle.Render("✗")
	case model.StateAwaitingInput:
		return waitingStyle.Render("?")
	default:
		return pendingStyle.Render("…")
	}
}
