package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// View renders the prompt.
func (m PromptModel) View() string {
	if m.submitted || m.cancelled {
		return ""
	}

	sections := []string{titleStyle.Render(m.title())}
	if desc := strings.TrimSpace(m.spec.Description); desc != "" && desc != m.spec.Title {
		sections = append(sections, desc)
	}
	sections = append(sections, m.input.View())
	if m.problem != "" {
		sections = append(sections, problemStyle.Render(m.problem))
	}

	hint := "enter to confirm, esc to cancel"
	if m.spec.Default != "" && !m.spec.Sensitive {
		hint = fmt.Sprintf("enter keeps %q, esc to cancel", m.spec.Default)
	}
	sections = append(sections, hintStyle.Render(hint))

	return lipgloss.JoinVertical(lipgloss.Left, sections...) + "\n"
}

func (m PromptModel) title() string {
	if strings.TrimSpace(m.spec.Title) != "" {
		return m.spec.Title
	}
	return m.spec.Key
}
