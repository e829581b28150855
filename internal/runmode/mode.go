// Package runmode encodes the preparation modes and what each one allows.
package runmode

import (
	"fmt"
	"strings"

	"github.com/alexisbeaulieu97/kapsel/internal/model"
)

// Mode is fixed for the duration of one prepare run.
type Mode string

const (
	Interactive    Mode = "interactive"
	NonInteractive Mode = "non-interactive"
	CheckOnly      Mode = "check"
)

// EnvVar selects the mode when no flag is given.
const EnvVar = "KAPSEL_MODE"

// Parse accepts the canonical names and the development/production aliases.
func Parse(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "interactive", "development", "dev":
		return Interactive, nil
	case "non-interactive", "noninteractive", "production", "prod":
		return NonInteractive, nil
	case "check", "check-only":
		return CheckOnly, nil
	default:
		return "", fmt.Errorf("unknown run mode %q (want interactive, non-interactive or check)", s)
	}
}

func (m Mode) String() string { return string(m) }

// Valid reports whether m is one of the three modes.
func (m Mode) Valid() bool {
	return m == Interactive || m == NonInteractive || m == CheckOnly
}

// MayProvide reports whether side-effecting provide calls are allowed.
func (m Mode) MayProvide() bool {
	return m == Interactive || m == NonInteractive
}

// MayPrompt reports whether providers may ask the user for input.
func (m Mode) MayPrompt() bool {
	return m == Interactive
}

// MayStartLocalServices reports whether disposable per-project services may
// be started.
func (m Mode) MayStartLocalServices() bool {
	return m == Interactive
}

// MayWriteLocalDefaults reports whether convenience values may be persisted
// to local state.
func (m Mode) MayWriteLocalDefaults() bool {
	return m == Interactive
}

// Escalate applies the mode to a provider outcome. Outside interactive mode
// a NeedsInput status becomes a permanent failure so a run never blocks on a
// prompt.
func (m Mode) Escalate(status model.Status) model.Status {
	if !status.WantsInput() || m.MayPrompt() {
		return status
	}
	prompt, _ := status.Prompt()
	name := prompt.Key
	if name == "" {
		name = prompt.Title
	}
	return model.PermanentFailure(fmt.Sprintf("%s must be set before running in %s mode; it cannot be prompted for", name, m))
}
