// Package tui holds the terminal interaction of kapsel: the value prompt and
// the components used to render prepare results.
package tui

import (
	"context"
	"errors"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/alexisbeaulieu97/kapsel/internal/model"
	"github.com/alexisbeaulieu97/kapsel/internal/provider"
)

// ErrCancelled is returned when the user leaves a prompt without answering.
var ErrCancelled = errors.New("prompt cancelled")

// Prompter asks for values with a Bubbletea program bound to a terminal.
type Prompter struct {
	in  io.Reader
	out io.Writer
}

var _ provider.Prompter = (*Prompter)(nil)

// NewPrompter creates a prompter reading keys from in and drawing on out.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: in, out: out}
}

// Ask runs one prompt until the user confirms or cancels it.
func (p *Prompter) Ask(ctx context.Context, spec model.PromptSpec) (string, error) {
	program := tea.NewProgram(
		NewPromptModel(spec),
		tea.WithContext(ctx),
		tea.WithInput(p.in),
		tea.WithOutput(p.out),
	)

	final, err := program.Run()
	if err != nil {
		return "", fmt.Errorf("prompt for %s: %w", spec.Key, err)
	}
	m, ok := final.(PromptModel)
	if !ok || m.Cancelled() || !m.Submitted() {
		return "", ErrCancelled
	}
	return m.Value(), nil
}
