// Package envspec provides package environments built from a project's env
// specs.
package envspec

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/alexisbeaulieu97/kapsel/internal/envmanager"
	"github.com/alexisbeaulieu97/kapsel/internal/model"
	"github.com/alexisbeaulieu97/kapsel/internal/provider"
	"github.com/alexisbeaulieu97/kapsel/internal/requirement"
)

// Name identifies the provider in the registry and in option overrides.
const Name = "envspec"

// ReadonlyPolicyEnvVar selects the read-only policy for every env of a run.
const ReadonlyPolicyEnvVar = "KAPSEL_READONLY_ENVS_POLICY"

// Policies for an existing environment that cannot be modified.
const (
	PolicyFail    = "fail"
	PolicyClone   = "clone"
	PolicyReplace = "replace"
)

type envProvider struct {
	manager envmanager.Manager
}

// New creates the environment provider around manager.
func New(manager envmanager.Manager) provider.Provider {
	return &envProvider{manager: manager}
}

var (
	_ provider.Provider   = (*envProvider)(nil)
	_ provider.Unprovider = (*envProvider)(nil)
)

func (p *envProvider) Metadata() provider.Metadata {
	return provider.Metadata{
		Name:         Name,
		Kinds:        []requirement.Kind{requirement.KindEnv},
		Capabilities: provider.CanCheck | provider.CanProvide,
		Class:        provider.ClassDiscovery,
		Options: []provider.OptionSpec{
			{Name: "envs_dir", Default: "envs", Description: "Directory, relative to the project, holding project environments."},
			{Name: "readonly_policy", Default: PolicyFail, Description: "What to do with a read-only environment: fail, clone or replace."},
		},
		Description: "Creates or updates a package environment to match its env spec.",
	}
}

// ReadConfig treats KAPSEL_READONLY_ENVS_POLICY as the project-wide value of
// readonly_policy, so a per-requirement override still wins.
func (p *envProvider) ReadConfig(pc *provider.Context) (provider.Options, error) {
	project := provider.Options{"readonly_policy": pc.Ambient.Lookup(ReadonlyPolicyEnvVar)}
	opts, err := provider.LayerOptions(p.Metadata(), pc, project)
	if err != nil {
		return nil, err
	}
	switch opts.Get("readonly_policy") {
	case PolicyFail, PolicyClone, PolicyReplace:
	default:
		return nil, fmt.Errorf("readonly_policy must be fail, clone or replace, got %q", opts.Get("readonly_policy"))
	}
	return opts, nil
}

func (p *envProvider) projectPrefix(pc *provider.Context) string {
	dir := pc.Options.Get("envs_dir")
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(pc.ProjectDir, dir)
	}
	return filepath.Join(dir, pc.Requirement.Env.SpecName)
}

// prefix is the environment to inspect: an explicit value set earlier in the
// run, otherwise the project environment for the spec.
func (p *envProvider) prefix(pc *provider.Context) string {
	if pc.Env.Accumulated(pc.Key()) {
		if value := pc.Env.Lookup(pc.Key()); value != "" {
			return value
		}
	}
	return p.projectPrefix(pc)
}

func spec(req requirement.Requirement) envmanager.Spec {
	return envmanager.Spec{Name: req.Env.SpecName, Packages: req.Env.Packages, Channels: req.Env.Channels}
}

func (p *envProvider) CheckState(ctx context.Context, pc *provider.Context) (*provider.Evaluation, error) {
	prefix := p.prefix(pc)
	dev, err := p.manager.Deviations(ctx, prefix, spec(pc.Requirement))
	if err != nil {
		return &provider.Evaluation{Message: err.Error(), Value: prefix}, nil
	}

	eval := &provider.Evaluation{Available: true, Value: prefix}
	switch {
	case dev.OK():
		eval.Message = fmt.Sprintf("environment at %s has every package", prefix)
	case !dev.Exists:
		eval.Message = fmt.Sprintf("would create environment %s", prefix)
	case !dev.Writable && pc.Options.Get("readonly_policy") == PolicyFail:
		eval.Available = false
		eval.Message = fmt.Sprintf("environment at %s is read-only and %s", prefix, dev)
	default:
		eval.Message = fmt.Sprintf("would update environment %s (%s)", prefix, dev)
	}
	return eval, nil
}

func (p *envProvider) Provide(ctx context.Context, pc *provider.Context) model.Status {
	want := spec(pc.Requirement)
	prefix := p.prefix(pc)
	log := pc.Log().WithFields(map[string]any{"prefix": prefix, "env_spec": want.Name})

	dev, err := p.manager.Deviations(ctx, prefix, want)
	if err != nil {
		return classify(err, "inspect environment "+prefix)
	}

	if dev.Exists && !dev.Writable && !dev.OK() {
		switch policy := pc.Options.Get("readonly_policy"); policy {
		case PolicyClone, PolicyReplace:
			target := p.projectPrefix(pc)
			if target == prefix {
				return model.PermanentFailure(fmt.Sprintf("environment at %s is read-only and has no writable location to %s into", prefix, policy))
			}
			log.WithFields(map[string]any{"policy": policy, "target": target}).Warn("environment is read-only")
			if policy == PolicyClone {
				if err := p.manager.Clone(ctx, prefix, target); err != nil {
					return classify(err, "clone read-only environment "+prefix)
				}
			}
			prefix = target
			dev, err = p.manager.Deviations(ctx, prefix, want)
			if err != nil {
				return classify(err, "inspect environment "+prefix)
			}
		default:
			return model.PermanentFailure(fmt.Sprintf("environment at %s is read-only and %s; set %s=clone or replace to use a copy", prefix, dev, ReadonlyPolicyEnvVar))
		}
	}

	// A read-only prefix that already has every package is used as is.
	shared := dev.Exists && !dev.Writable && dev.OK()
	if !dev.OK() {
		log.Info("fixing environment: " + dev.String())
		if err := p.manager.Fix(ctx, prefix, want, dev); err != nil {
			return classify(err, "build environment "+prefix)
		}
	}

	if err := writeStamp(prefix, pc.Requirement.SpecHash(), shared); err != nil {
		return model.PermanentFailure(fmt.Sprintf("record env spec of %s: %v", prefix, err))
	}

	return model.Satisfied(prefix).
		WithEnv("PATH", binDir(prefix)+string(os.PathListSeparator)+pc.Env.Lookup("PATH")).
		WithEnv("CONDA_DEFAULT_ENV", prefix)
}

// Unprovide removes the project environment. Environments outside the
// project are left alone.
func (p *envProvider) Unprovide(ctx context.Context, pc *provider.Context) error {
	prefix := p.projectPrefix(pc)
	if _, err := os.Stat(prefix); os.IsNotExist(err) {
		return nil
	}
	if err := p.manager.Remove(ctx, prefix); err != nil {
		return fmt.Errorf("remove environment %s: %w", prefix, err)
	}
	if err := os.RemoveAll(prefix); err != nil {
		return fmt.Errorf("remove environment %s: %w", prefix, err)
	}
	pc.Log().WithFields(map[string]any{"prefix": prefix}).Info("removed environment")
	return nil
}

// writeStamp records the spec hash of prefix, inside it unless shared is set.
func writeStamp(prefix, hash string, shared bool) error {
	path := requirement.StampPath(prefix)
	if shared {
		var err error
		if path, err = requirement.SharedStampPath(prefix); err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
	}
	return renameio.WriteFile(path, []byte(hash+"\n"), 0o644)
}

func binDir(prefix string) string {
	if runtime.GOOS == "windows" {
		return strings.Join([]string{prefix, filepath.Join(prefix, "Scripts")}, string(os.PathListSeparator))
	}
	return filepath.Join(prefix, "bin")
}

// classify maps a manager error to a status. A missing executable needs the
// user to act; anything else from the package manager is usually a network
// or index problem worth retrying.
func classify(err error, action string) model.Status {
	reason := fmt.Sprintf("%s: %v", action, err)
	if errors.Is(err, envmanager.ErrNotInstalled) {
		return model.PermanentFailure(reason)
	}
	return model.TransientFailure(reason)
}
