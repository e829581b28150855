package provider

import (
	"fmt"
	"strconv"
	"strings"

	"dario.cat/mergo"
)

// Options are the resolved string options of a provider for one requirement.
type Options map[string]string

// Get returns the option value or "".
func (o Options) Get(name string) string {
	return o[name]
}

// Int parses an integer option, falling back to def when unset.
func (o Options) Int(name string, def int) (int, error) {
	raw := strings.TrimSpace(o[name])
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("option %s: %q is not an integer", name, raw)
	}
	return n, nil
}

// Bool parses a boolean option, falling back to def when unset.
func (o Options) Bool(name string, def bool) (bool, error) {
	raw := strings.TrimSpace(o[name])
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("option %s: %q is not a boolean", name, raw)
	}
	return b, nil
}

// EnvOverrideName is the environment variable that overrides option for
// provider, for example KAPSEL_REDIS_PROJECT_PORT_RANGE.
func EnvOverrideName(provider, option string) string {
	clean := func(s string) string {
		return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(s))
	}
	return "KAPSEL_" + clean(provider) + "_" + clean(option)
}

// LayerOptions merges option layers for pc in increasing priority: the
// built-in defaults from meta, the project-declared values, the values stored
// in local state, and finally KAPSEL_<PROVIDER>_<OPTION> environment
// overrides. Empty values never override a lower layer. Only names declared
// in meta are kept.
func LayerOptions(meta Metadata, pc *Context, project Options) (Options, error) {
	declared := make(map[string]struct{}, len(meta.Options))
	builtin := Options{}
	for _, spec := range meta.Options {
		declared[spec.Name] = struct{}{}
		builtin[spec.Name] = spec.Default
	}

	local := Options{}
	if pc != nil && pc.Local != nil {
		for k, v := range pc.Local.ProviderOptions(pc.Key()) {
			local[k] = v
		}
	}

	env := Options{}
	if pc != nil {
		for _, spec := range meta.Options {
			if v, ok := pc.Ambient.Get(EnvOverrideName(meta.Name, spec.Name)); ok {
				env[spec.Name] = v
			}
		}
	}

	merged := Options{}
	for _, layer := range []Options{builtin, project, local, env} {
		if err := mergo.Merge(&merged, filterDeclared(layer, declared), mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge %s options: %w", meta.Name, err)
		}
	}
	return merged, nil
}

func filterDeclared(layer Options, declared map[string]struct{}) Options {
	out := Options{}
	for k, v := range layer {
		if v == "" {
			continue
		}
		if _, ok := declared[k]; ok {
			out[k] = v
		}
	}
	return out
}
