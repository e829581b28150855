// Package variable contains the providers that fill requirements from values
// the user saved, declared defaults and interactive answers.
package variable

import (
	"context"
	"fmt"

	"github.com/alexisbeaulieu97/kapsel/internal/environ"
	"github.com/alexisbeaulieu97/kapsel/internal/model"
	"github.com/alexisbeaulieu97/kapsel/internal/provider"
	"github.com/alexisbeaulieu97/kapsel/internal/requirement"
)

const (
	LocalOverrideName  = "local-override"
	ProjectDefaultName = "project-default"
	PromptName         = "prompt"
)

// localOverride returns the value saved in local state or the secret store.
type localOverride struct{}

// NewLocalOverride creates the provider that reuses saved values. It serves
// every kind whose value is a plain string the user may pin: a variable, a
// path to an existing file or checkout, or the URL of a running service.
func NewLocalOverride() provider.Provider {
	return &localOverride{}
}

var _ provider.Provider = (*localOverride)(nil)

func (p *localOverride) Metadata() provider.Metadata {
	return provider.Metadata{
		Name: LocalOverrideName,
		Kinds: []requirement.Kind{
			requirement.KindVariable,
			requirement.KindDownload,
			requirement.KindService,
			requirement.KindRepo,
		},
		Capabilities: provider.CanCheck | provider.CanProvide,
		Class:        provider.ClassOverride,
		Description:  "Uses a value saved with 'kapsel variables set'.",
	}
}

func (p *localOverride) ReadConfig(pc *provider.Context) (provider.Options, error) {
	return provider.LayerOptions(p.Metadata(), pc, nil)
}

func (p *localOverride) CheckState(ctx context.Context, pc *provider.Context) (*provider.Evaluation, error) {
	value, ok, err := pc.StoredValue()
	if err != nil {
		return nil, fmt.Errorf("read saved value of %s: %w", pc.Key(), err)
	}
	if !ok {
		return &provider.Evaluation{Message: "no saved value"}, nil
	}

	eval := &provider.Evaluation{Available: true, Message: "would use the saved value"}
	if !pc.Requirement.Sensitive {
		eval.Value = value
	}
	if why := unusable(ctx, pc.Requirement, value); why != "" {
		eval.Available = false
		eval.Message = "saved value is unusable: " + why
	}
	return eval, nil
}

func (p *localOverride) Provide(ctx context.Context, pc *provider.Context) model.Status {
	value, ok, err := pc.StoredValue()
	if err != nil {
		return model.TransientFailure(fmt.Sprintf("read saved value of %s: %v", pc.Key(), err))
	}
	if !ok {
		return model.Failed("no saved value", false)
	}
	if why := unusable(ctx, pc.Requirement, value); why != "" {
		return model.Failed("saved value is unusable: "+why, false)
	}
	return model.Satisfied(value)
}

// unusable returns why value does not satisfy req, or "".
// Variables accept any non-empty value; the other kinds must pass the same
// check an ambient value would.
func unusable(ctx context.Context, req requirement.Requirement, value string) string {
	if req.Kind == requirement.KindVariable {
		if value == "" {
			return "value is empty"
		}
		return ""
	}
	view := environ.ViewOf(map[string]string{req.Key: value})
	return req.WhyNotMet(ctx, view)
}

// projectDefault applies the default declared in the project file. A service
// default is only used once the service answers at that address.
type projectDefault struct{}

// NewProjectDefault creates the provider for declared defaults.
func NewProjectDefault() provider.Provider {
	return &projectDefault{}
}

var _ provider.Provider = (*projectDefault)(nil)

func (p *projectDefault) Metadata() provider.Metadata {
	return provider.Metadata{
		Name:         ProjectDefaultName,
		Kinds:        []requirement.Kind{requirement.KindVariable, requirement.KindService},
		Capabilities: provider.CanCheck | provider.CanProvide,
		Class:        provider.ClassDiscovery,
		Source:       environ.SourceDefault,
		Description:  "Uses the default declared in the project file.",
	}
}

func (p *projectDefault) ReadConfig(pc *provider.Context) (provider.Options, error) {
	return provider.LayerOptions(p.Metadata(), pc, nil)
}

func (p *projectDefault) CheckState(ctx context.Context, pc *provider.Context) (*provider.Evaluation, error) {
	value, ok := pc.Requirement.DefaultValue()
	if !ok {
		return &provider.Evaluation{Message: "no default declared"}, nil
	}
	if why := p.unusable(ctx, pc.Requirement, value); why != "" {
		return &provider.Evaluation{Message: "project default is unusable: " + why}, nil
	}
	eval := &provider.Evaluation{Available: true, Message: "would use the project default"}
	if !pc.Requirement.Sensitive {
		eval.Value = value
	}
	return eval, nil
}

func (p *projectDefault) Provide(ctx context.Context, pc *provider.Context) model.Status {
	value, ok := pc.Requirement.DefaultValue()
	if !ok {
		return model.Failed("no default declared", false)
	}
	if why := p.unusable(ctx, pc.Requirement, value); why != "" {
		return model.Failed("project default is unusable: "+why, false)
	}
	return model.Satisfied(value)
}

// unusable lets an empty variable default through, since declaring "" is a
// deliberate choice in the project file.
func (p *projectDefault) unusable(ctx context.Context, req requirement.Requirement, value string) string {
	if req.Kind == requirement.KindVariable {
		return ""
	}
	return unusable(ctx, req, value)
}

// promptProvider asks the user. It is the last resort for variables.
type promptProvider struct{}

// NewPrompt creates the provider that asks the user for a value.
func NewPrompt() provider.Provider {
	return &promptProvider{}
}

var _ provider.Provider = (*promptProvider)(nil)

func (p *promptProvider) Metadata() provider.Metadata {
	return provider.Metadata{
		Name:         PromptName,
		Kinds:        []requirement.Kind{requirement.KindVariable},
		Capabilities: provider.CanPrompt,
		Class:        provider.ClassService,
		Source:       environ.SourceLocal,
		Options: []provider.OptionSpec{
			{Name: "remember", Default: "true", Description: "Save the answer for later runs."},
		},
		Description: "Asks for the value interactively.",
	}
}

func (p *promptProvider) ReadConfig(pc *provider.Context) (provider.Options, error) {
	return provider.LayerOptions(p.Metadata(), pc, nil)
}

func (p *promptProvider) CheckState(_ context.Context, pc *provider.Context) (*provider.Evaluation, error) {
	if !pc.Mode.MayPrompt() {
		return &provider.Evaluation{Message: fmt.Sprintf("cannot ask for %s in %s mode", pc.Key(), pc.Mode)}, nil
	}
	return &provider.Evaluation{Available: true, Message: "would ask for a value"}, nil
}

func (p *promptProvider) Provide(ctx context.Context, pc *provider.Context) model.Status {
	spec := model.PromptSpec{
		Key:         pc.Key(),
		Title:       pc.Requirement.Title(),
		Description: pc.Requirement.Description,
		Sensitive:   pc.Requirement.Sensitive,
	}
	if def, ok := pc.Requirement.DefaultValue(); ok && !pc.Requirement.Sensitive {
		spec.Default = def
	}

	if !pc.Mode.MayPrompt() || pc.Prompter == nil {
		return model.NeedsInput(spec)
	}

	answer, err := pc.Prompter.Ask(ctx, spec)
	if err != nil {
		return model.PermanentFailure(fmt.Sprintf("no value entered for %s: %v", pc.Key(), err))
	}
	if answer == "" {
		return model.PermanentFailure(fmt.Sprintf("no value entered for %s", pc.Key()))
	}

	status := model.Satisfied(answer)
	remember, err := pc.Options.Bool("remember", true)
	if err != nil {
		return status.WithWarning(err.Error())
	}
	if remember && pc.Mode.MayWriteLocalDefaults() {
		if err := pc.StoreValue(answer); err != nil {
			pc.Log().Error(err, "failed to save answer")
			return status.WithWarning(fmt.Sprintf("answer for %s was not saved: %v", pc.Key(), err))
		}
	}
	return status
}
