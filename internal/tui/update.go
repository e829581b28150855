package tui

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// Update handles Bubbletea messages and updates model state.
func (m PromptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.cancelled = true
			return m, tea.Quit
		case tea.KeyEnter:
			value := m.input.Value()
			if strings.TrimSpace(value) == "" {
				value = m.spec.Default
			}
			if value == "" {
				m.problem = "a value is required"
				return m, nil
			}
			m.value = value
			m.submitted = true
			return m, tea.Quit
		}
		m.problem = ""
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}
