package provider

import (
	"context"

	"github.com/alexisbeaulieu97/kapsel/internal/environ"
	"github.com/alexisbeaulieu97/kapsel/internal/localstate"
	"github.com/alexisbeaulieu97/kapsel/internal/logger"
	"github.com/alexisbeaulieu97/kapsel/internal/model"
	"github.com/alexisbeaulieu97/kapsel/internal/requirement"
	"github.com/alexisbeaulieu97/kapsel/internal/runmode"
)

// LocalStore is the per-checkout state a provider may read and update.
type LocalStore interface {
	Variable(key string) (string, bool)
	SetVariable(key, value string) error
	UnsetVariable(key string) error
	ProviderOptions(key string) map[string]string
	RunState(key string) (localstate.RunState, bool)
	SetRunState(key string, rs localstate.RunState) error
	ClearRunState(key string) error
}

// Prompter asks the user for a value.
type Prompter interface {
	Ask(ctx context.Context, spec model.PromptSpec) (string, error)
}

// Context is handed to a provider for one invocation. The engine owns it and
// discards it afterwards; providers read the environment through Env and
// report values through the Status they return.
type Context struct {
	Requirement requirement.Requirement
	Env         environ.View
	Ambient     environ.View
	Local       LocalStore
	Secrets     localstate.SecretStore
	Mode        runmode.Mode
	Prompter    Prompter
	ProjectDir  string
	Logger      *logger.Logger

	// Options holds the result of ReadConfig once the engine resolved it.
	Options Options
}

// Key is shorthand for the requirement key.
func (pc *Context) Key() string {
	return pc.Requirement.Key
}

// StoredValue returns the value the user saved for the requirement, looking
// in the secret store for sensitive requirements and in local state
// otherwise.
func (pc *Context) StoredValue() (string, bool, error) {
	key := pc.Requirement.Key
	if pc.Requirement.Sensitive {
		if pc.Secrets == nil {
			return "", false, nil
		}
		return pc.Secrets.Get(key)
	}
	if pc.Local == nil {
		return "", false, nil
	}
	value, ok := pc.Local.Variable(key)
	return value, ok, nil
}

// StoreValue saves value for the requirement so later runs find it. Sensitive
// values only ever go to the secret store.
func (pc *Context) StoreValue(value string) error {
	key := pc.Requirement.Key
	if pc.Requirement.Sensitive {
		if pc.Secrets == nil {
			return nil
		}
		return pc.Secrets.Set(key, value)
	}
	if pc.Local == nil {
		return nil
	}
	return pc.Local.SetVariable(key, value)
}

// ForgetValue removes any saved value for the requirement.
func (pc *Context) ForgetValue() error {
	key := pc.Requirement.Key
	if pc.Requirement.Sensitive {
		if pc.Secrets == nil {
			return nil
		}
		return pc.Secrets.Delete(key)
	}
	if pc.Local == nil {
		return nil
	}
	return pc.Local.UnsetVariable(key)
}

// Log returns the logger tagged with the requirement.
func (pc *Context) Log() *logger.Logger {
	return pc.Logger.WithRequirement(pc.Requirement.Key, string(pc.Requirement.Kind))
}
