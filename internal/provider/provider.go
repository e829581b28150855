package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/alexisbeaulieu97/kapsel/internal/environ"
	"github.com/alexisbeaulieu97/kapsel/internal/model"
	"github.com/alexisbeaulieu97/kapsel/internal/requirement"
)

// Provider is a strategy that can inspect, configure and establish the value
// of requirements of the kinds it declares.
//
// Implementations should:
//   - Return their identity and capabilities via Metadata()
//   - Keep CheckState free of side effects
//   - Make Provide idempotent so repeated calls converge
//   - Optionally implement Unprovider to undo what Provide did
type Provider interface {
	// Metadata returns the provider's identity, kinds, capabilities and
	// priority class.
	Metadata() Metadata

	// ReadConfig returns the provider's options for the requirement in pc,
	// merged from built-in defaults, project declaration, local state and
	// environment overrides.
	ReadConfig(pc *Context) (Options, error)

	// CheckState reports, without side effects, whether Provide could
	// satisfy the requirement and with what value when that is known.
	CheckState(ctx context.Context, pc *Context) (*Evaluation, error)

	// Provide attempts to satisfy the requirement. It must not redo
	// destructive work when the requirement is already met, and must leave
	// any partially-done work in a state a later call can finish.
	Provide(ctx context.Context, pc *Context) model.Status
}

// Unprovider is implemented by providers that can undo their own work, for
// example stopping a service they started.
type Unprovider interface {
	Unprovide(ctx context.Context, pc *Context) error
}

// Evaluation is the read-only assessment returned by CheckState.
type Evaluation struct {
	// Available is true when Provide is expected to succeed.
	Available bool

	// Message describes what Provide would do or why it cannot.
	Message string

	// Value is the value Provide would produce, when known without side
	// effects. It is empty for sensitive values.
	Value string
}

// Capability is a bit set of what a provider can do.
type Capability uint8

const (
	// CanCheck means CheckState inspects real state.
	CanCheck Capability = 1 << iota
	// CanProvide means Provide performs side-effecting work.
	CanProvide
	// CanPrompt means Provide may ask the user for input.
	CanPrompt
)

// Has reports whether all bits of other are set.
func (c Capability) Has(other Capability) bool {
	return c&other == other
}

func (c Capability) String() string {
	var parts []string
	if c.Has(CanCheck) {
		parts = append(parts, "check")
	}
	if c.Has(CanProvide) {
		parts = append(parts, "provide")
	}
	if c.Has(CanPrompt) {
		parts = append(parts, "prompt")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

// Class orders candidate providers for a kind. Lower classes are tried first.
type Class int

const (
	// ClassOverride covers explicit values the user stored or set.
	ClassOverride Class = iota + 1
	// ClassDiscovery covers values found or built automatically.
	ClassDiscovery
	// ClassService covers starting a dependent service or asking the user.
	ClassService
)

func (c Class) String() string {
	switch c {
	case ClassOverride:
		return "override"
	case ClassDiscovery:
		return "discovery"
	case ClassService:
		return "service"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// OptionSpec documents one option a user may set for a provider.
type OptionSpec struct {
	Name        string
	Default     string
	Description string
}

// Metadata describes provider identity and what it can handle.
type Metadata struct {
	Name         string
	Kinds        []requirement.Kind
	Capabilities Capability
	Class        Class
	Options      []OptionSpec
	Description  string

	// Source ranks the values this provider reports in the environment
	// accumulator. Zero means the class default.
	Source environ.Source
}

// ValueSource returns the accumulator source for values this provider sets.
func (m Metadata) ValueSource() environ.Source {
	if m.Source != 0 {
		return m.Source
	}
	if m.Class == ClassOverride {
		return environ.SourceLocal
	}
	return environ.SourceDiscovered
}

// Handles reports whether the provider declares kind.
func (m Metadata) Handles(kind requirement.Kind) bool {
	for _, k := range m.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Validate ensures metadata is well-formed.
func (m Metadata) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("provider metadata requires a non-empty Name")
	}
	if len(m.Kinds) == 0 {
		return fmt.Errorf("provider '%s' declares no requirement kinds", m.Name)
	}
	for _, kind := range m.Kinds {
		if !knownKind(kind) {
			return fmt.Errorf("provider '%s' declares unknown kind '%s'", m.Name, kind)
		}
	}
	if m.Class < ClassOverride || m.Class > ClassService {
		return fmt.Errorf("provider '%s' has invalid priority class %d", m.Name, int(m.Class))
	}
	if m.Capabilities == 0 {
		return fmt.Errorf("provider '%s' declares no capabilities", m.Name)
	}

	seen := map[string]struct{}{}
	for _, opt := range m.Options {
		if strings.TrimSpace(opt.Name) == "" {
			return fmt.Errorf("provider '%s' declares an option with empty name", m.Name)
		}
		if _, exists := seen[opt.Name]; exists {
			return fmt.Errorf("provider '%s' lists option '%s' more than once", m.Name, opt.Name)
		}
		seen[opt.Name] = struct{}{}
	}
	return nil
}

func knownKind(kind requirement.Kind) bool {
	for _, k := range requirement.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}
