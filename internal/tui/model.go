package tui

import (
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/alexisbeaulieu97/kapsel/internal/model"
)

const maskCharacter = '•'

// PromptModel contains the Bubbletea state for asking one requirement value.
type PromptModel struct {
	spec      model.PromptSpec
	input     textinput.Model
	value     string
	problem   string
	submitted bool
	cancelled bool
}

// NewPromptModel constructs a prompt for spec. Sensitive values are masked
// while typed.
func NewPromptModel(spec model.PromptSpec) PromptModel {
	input := textinput.New()
	input.Prompt = "> "
	input.CharLimit = 4096
	input.Width = 60
	if spec.Sensitive {
		input.EchoMode = textinput.EchoPassword
		input.EchoCharacter = maskCharacter
	} else if spec.Default != "" {
		input.Placeholder = spec.Default
	}
	input.Focus()

	return PromptModel{spec: spec, input: input}
}

// Init starts the cursor blinking.
func (m PromptModel) Init() tea.Cmd {
	return textinput.Blink
}

// Value returns the confirmed answer.
func (m PromptModel) Value() string {
	return m.value
}

// Submitted reports whether the user confirmed an answer.
func (m PromptModel) Submitted() bool {
	return m.submitted
}

// Cancelled reports whether the user abandoned the prompt.
func (m PromptModel) Cancelled() bool {
	return m.cancelled
}
