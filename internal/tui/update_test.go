package tui

import (
	"bytes"
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/kapsel/internal/model"
)

func typeText(m PromptModel, text string) PromptModel {
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
	return updated.(PromptModel)
}

func press(m PromptModel, key tea.KeyType) (PromptModel, tea.Cmd) {
	updated, cmd := m.Update(tea.KeyMsg{Type: key})
	return updated.(PromptModel), cmd
}

func TestUpdateSubmitsTypedValue(t *testing.T) {
	m := NewPromptModel(model.PromptSpec{Key: "API_URL", Title: "API endpoint"})
	m = typeText(m, "https://api.example.com")

	m, cmd := press(m, tea.KeyEnter)
	require.NotNil(t, cmd)
	require.True(t, m.Submitted())
	require.False(t, m.Cancelled())
	require.Equal(t, "https://api.example.com", m.Value())
}

func TestUpdateFallsBackToDefault(t *testing.T) {
	m := NewPromptModel(model.PromptSpec{Key: "REGION", Default: "eu-west-1"})

	m, _ = press(m, tea.KeyEnter)
	require.True(t, m.Submitted())
	require.Equal(t, "eu-west-1", m.Value())
}

func TestUpdateRequiresValue(t *testing.T) {
	m := NewPromptModel(model.PromptSpec{Key: "TOKEN"})

	m, cmd := press(m, tea.KeyEnter)
	require.Nil(t, cmd)
	require.False(t, m.Submitted())
	require.Contains(t, m.View(), "a value is required")

	m = typeText(m, "x")
	require.NotContains(t, m.View(), "a value is required")
}

func TestUpdateHandlesCancel(t *testing.T) {
	for _, key := range []tea.KeyType{tea.KeyCtrlC, tea.KeyEsc} {
		m := NewPromptModel(model.PromptSpec{Key: "TOKEN"})
		m, cmd := press(m, key)
		require.NotNil(t, cmd)
		require.True(t, m.Cancelled())
		require.False(t, m.Submitted())
		require.Empty(t, m.View())
	}
}

func TestViewMasksSensitiveInput(t *testing.T) {
	m := NewPromptModel(model.PromptSpec{Key: "DB_PASSWORD", Title: "database password", Sensitive: true})
	m = typeText(m, "hunter2")

	view := m.View()
	require.Contains(t, view, "database password")
	require.NotContains(t, view, "hunter2")
	require.Contains(t, view, strings.Repeat(string(maskCharacter), len("hunter2")))
	require.Equal(t, "hunter2", m.input.Value())
}

func TestViewShowsDefaultHint(t *testing.T) {
	m := NewPromptModel(model.PromptSpec{Key: "REGION", Title: "cloud region", Description: "Where resources live", Default: "eu-west-1"})

	view := m.View()
	require.Contains(t, view, "cloud region")
	require.Contains(t, view, "Where resources live")
	require.Contains(t, view, `enter keeps "eu-west-1"`)
}

func TestStateIconCoversEveryState(t *testing.T) {
	states := []model.State{
		model.StatePending, model.StateChecking, model.StateAttempting,
		model.StateAlreadySatisfied, model.StateSatisfied, model.StateFailed, model.StateAwaitingInput,
	}
	for _, state := range states {
		require.NotEmpty(t, StateIcon(state), state)
	}
}

func TestPrompterReadsAnswer(t *testing.T) {
	in := strings.NewReader("hunter2\r")
	var out bytes.Buffer

	value, err := NewPrompter(in, &out).Ask(context.Background(), model.PromptSpec{Key: "DB_PASSWORD", Sensitive: true})
	require.NoError(t, err)
	require.Equal(t, "hunter2", value)
	require.NotContains(t, out.String(), "hunter2")
}
