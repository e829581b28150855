package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/kapsel/internal/environ"
	"github.com/alexisbeaulieu97/kapsel/internal/localstate"
	"github.com/alexisbeaulieu97/kapsel/internal/logger"
	"github.com/alexisbeaulieu97/kapsel/internal/model"
	"github.com/alexisbeaulieu97/kapsel/internal/requirement"
	kapselerrors "github.com/alexisbeaulieu97/kapsel/pkg/errors"
)

type stubProvider struct {
	meta Metadata
}

func (s *stubProvider) Metadata() Metadata { return s.meta }

func (s *stubProvider) ReadConfig(pc *Context) (Options, error) {
	return LayerOptions(s.meta, pc, nil)
}

func (s *stubProvider) CheckState(context.Context, *Context) (*Evaluation, error) {
	return &Evaluation{Available: true, Message: "stub"}, nil
}

func (s *stubProvider) Provide(context.Context, *Context) model.Status {
	return model.Satisfied("stub")
}

func stub(name string, class Class, kinds ...requirement.Kind) *stubProvider {
	return &stubProvider{meta: Metadata{
		Name:         name,
		Kinds:        kinds,
		Capabilities: CanCheck | CanProvide,
		Class:        class,
	}}
}

func names(providers []Provider) []string {
	out := make([]string, 0, len(providers))
	for _, p := range providers {
		out = append(out, p.Metadata().Name)
	}
	return out
}

func TestRegistryOrdersByClassThenRegistration(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(logger.NewNop())
	reg.MustRegister(
		stub("prompt", ClassService, requirement.KindVariable),
		stub("project-default", ClassDiscovery, requirement.KindVariable),
		stub("local-override", ClassOverride, requirement.KindVariable, requirement.KindService),
		stub("env-default", ClassDiscovery, requirement.KindVariable),
		stub("redis", ClassDiscovery, requirement.KindService),
	)

	require.Equal(t, []string{"local-override", "project-default", "env-default", "prompt"}, names(reg.ForKind(requirement.KindVariable)))
	require.Equal(t, []string{"local-override", "redis"}, names(reg.ForKind(requirement.KindService)))
	require.Empty(t, reg.ForKind(requirement.KindRepo))

	require.NoError(t, reg.Validate(requirement.KindVariable, requirement.KindService))
	var noProviders ErrNoProviders
	require.ErrorAs(t, reg.Validate(requirement.KindRepo), &noProviders)
	require.Equal(t, requirement.KindRepo, noProviders.Kind)

	require.Equal(t, []string{"prompt", "project-default", "local-override", "env-default", "redis"}, reg.Names())
}

func TestRegistryRejectsBadRegistrations(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(stub("a", ClassOverride, requirement.KindVariable)))

	cases := map[string]Provider{
		"nil":          nil,
		"duplicate":    stub("a", ClassOverride, requirement.KindVariable),
		"no name":      stub("", ClassOverride, requirement.KindVariable),
		"no kinds":     stub("b", ClassOverride),
		"unknown kind": stub("c", ClassOverride, "spaceship"),
		"bad class":    stub("d", Class(9), requirement.KindVariable),
	}

	for name, p := range cases {
		err := reg.Register(p)
		require.Error(t, err, name)
		var providerErr *kapselerrors.ProviderError
		require.ErrorAs(t, err, &providerErr, name)
	}

	_, err := reg.Get("missing")
	var notFound ErrProviderNotFound
	require.ErrorAs(t, err, &notFound)

	got, err := reg.Get("a")
	require.NoError(t, err)
	require.Equal(t, "a", got.Metadata().Name)
}

func TestMetadataValidateOptions(t *testing.T) {
	t.Parallel()

	meta := stub("a", ClassOverride, requirement.KindVariable).meta
	meta.Options = []OptionSpec{{Name: "x"}, {Name: "x"}}
	require.Error(t, meta.Validate())

	meta.Options = []OptionSpec{{Name: ""}}
	require.Error(t, meta.Validate())

	meta.Options = nil
	meta.Capabilities = 0
	require.Error(t, meta.Validate())
}

func TestCapabilityString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "check,provide", (CanCheck | CanProvide).String())
	require.Equal(t, "prompt", CanPrompt.String())
	require.Equal(t, "none", Capability(0).String())
	require.True(t, (CanCheck | CanPrompt).Has(CanPrompt))
	require.False(t, CanCheck.Has(CanCheck|CanProvide))
}

type fakeLocal struct {
	vars    map[string]string
	options map[string]map[string]string
}

func (f *fakeLocal) Variable(key string) (string, bool) {
	v, ok := f.vars[key]
	return v, ok
}

func (f *fakeLocal) SetVariable(key, value string) error {
	if f.vars == nil {
		f.vars = map[string]string{}
	}
	f.vars[key] = value
	return nil
}

func (f *fakeLocal) UnsetVariable(key string) error {
	delete(f.vars, key)
	return nil
}

func (f *fakeLocal) ProviderOptions(key string) map[string]string {
	return f.options[key]
}

func (f *fakeLocal) RunState(string) (localstate.RunState, bool) { return localstate.RunState{}, false }

func (f *fakeLocal) SetRunState(string, localstate.RunState) error { return errors.New("unsupported") }

func (f *fakeLocal) ClearRunState(string) error { return nil }

func TestLayerOptionsPriority(t *testing.T) {
	t.Parallel()

	meta := Metadata{
		Name: "redis-project",
		Options: []OptionSpec{
			{Name: "port_range", Default: "6380-6449"},
			{Name: "scope", Default: "all"},
			{Name: "timeout", Default: "5"},
			{Name: "binary", Default: "redis-server"},
		},
	}

	pc := &Context{
		Requirement: requirement.Requirement{Key: "REDIS_URL", Kind: requirement.KindService},
		Local: &fakeLocal{options: map[string]map[string]string{
			"REDIS_URL": {"scope": "project", "timeout": "10", "undeclared": "x"},
		}},
		Ambient: environ.ViewOf(map[string]string{
			"KAPSEL_REDIS_PROJECT_TIMEOUT": "30",
			"KAPSEL_REDIS_PROJECT_BINARY":  "",
		}),
	}

	opts, err := LayerOptions(meta, pc, Options{"port_range": "7000-7010", "scope": "system"})
	require.NoError(t, err)
	require.Equal(t, Options{
		"port_range": "7000-7010",
		"scope":      "project",
		"timeout":    "30",
		"binary":     "redis-server",
	}, opts)

	timeout, err := opts.Int("timeout", 1)
	require.NoError(t, err)
	require.Equal(t, 30, timeout)

	missing, err := opts.Int("missing", 7)
	require.NoError(t, err)
	require.Equal(t, 7, missing)

	_, err = Options{"n": "abc"}.Int("n", 0)
	require.Error(t, err)

	flag, err := Options{"b": "true"}.Bool("b", false)
	require.NoError(t, err)
	require.True(t, flag)
}

func TestEnvOverrideName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "KAPSEL_REDIS_PROJECT_PORT_RANGE", EnvOverrideName("redis-project", "port_range"))
	require.Equal(t, "KAPSEL_ENVSPEC_READONLY_POLICY", EnvOverrideName("envspec", "readonly.policy"))
}

func TestContextStoredValueRoutesSecrets(t *testing.T) {
	t.Parallel()

	local := &fakeLocal{}
	secrets := localstate.NewMemoryStore()

	plain := &Context{Requirement: requirement.Requirement{Key: "API_USER"}, Local: local, Secrets: secrets}
	require.NoError(t, plain.StoreValue("alice"))
	value, ok, err := plain.StoredValue()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "alice", value)

	secret := &Context{Requirement: requirement.Requirement{Key: "DB_PASSWORD", Sensitive: true}, Local: local, Secrets: secrets}
	require.NoError(t, secret.StoreValue("s3cret"))
	_, inLocal := local.Variable("DB_PASSWORD")
	require.False(t, inLocal)
	value, ok, err = secret.StoredValue()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "s3cret", value)

	require.NoError(t, secret.ForgetValue())
	_, ok, err = secret.StoredValue()
	require.NoError(t, err)
	require.False(t, ok)

	bare := &Context{Requirement: requirement.Requirement{Key: "X"}}
	require.NoError(t, bare.StoreValue("ignored"))
	_, ok, err = bare.StoredValue()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMetadataValueSource(t *testing.T) {
	t.Parallel()

	require.Equal(t, environ.SourceLocal, Metadata{Class: ClassOverride}.ValueSource())
	require.Equal(t, environ.SourceDiscovered, Metadata{Class: ClassDiscovery}.ValueSource())
	require.Equal(t, environ.SourceDiscovered, Metadata{Class: ClassService}.ValueSource())
	require.Equal(t, environ.SourceDefault, Metadata{Class: ClassDiscovery, Source: environ.SourceDefault}.ValueSource())
}
