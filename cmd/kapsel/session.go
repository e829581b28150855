package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/alexisbeaulieu97/kapsel/internal/config"
	"github.com/alexisbeaulieu97/kapsel/internal/engine"
	"github.com/alexisbeaulieu97/kapsel/internal/envmanager"
	"github.com/alexisbeaulieu97/kapsel/internal/environ"
	"github.com/alexisbeaulieu97/kapsel/internal/fetch"
	"github.com/alexisbeaulieu97/kapsel/internal/localstate"
	"github.com/alexisbeaulieu97/kapsel/internal/logger"
	"github.com/alexisbeaulieu97/kapsel/internal/provider"
	"github.com/alexisbeaulieu97/kapsel/internal/providers/download"
	"github.com/alexisbeaulieu97/kapsel/internal/providers/envspec"
	"github.com/alexisbeaulieu97/kapsel/internal/providers/gitrepo"
	"github.com/alexisbeaulieu97/kapsel/internal/providers/redis"
	"github.com/alexisbeaulieu97/kapsel/internal/providers/variable"
	"github.com/alexisbeaulieu97/kapsel/internal/requirement"
	"github.com/alexisbeaulieu97/kapsel/internal/runmode"
	"github.com/alexisbeaulieu97/kapsel/internal/tui"
)

// Replaced in tests.
var (
	isTerminal     = func(f *os.File) bool { return term.IsTerminal(int(f.Fd())) }
	newSecretStore = defaultSecretStore
	buildRegistry  = defaultRegistry
)

// session bundles what every command needs for one project directory.
type session struct {
	dir     string
	project *config.Project
	mode    runmode.Mode
	log     *logger.Logger
	engine  *engine.Engine
	sources provider.Source
	local   *localstate.State
	secrets localstate.SecretStore
	ambient map[string]string
	verbose bool
	out     io.Writer
	errOut  io.Writer
}

func openSession(cmd *cobra.Command, flags *rootFlags) (*session, error) {
	dir, err := filepath.Abs(flags.directory)
	if err != nil {
		return nil, fmt.Errorf("resolve project directory: %w", err)
	}

	level := "warn"
	if flags.verbose {
		level = "debug"
	}
	log, err := logger.New(logger.Options{Level: level, HumanReadable: true, Writer: cmd.ErrOrStderr()})
	if err != nil {
		return nil, err
	}

	mode, err := resolveMode(flags.mode, os.Getenv(runmode.EnvVar), isTerminal(os.Stdout))
	if err != nil {
		return nil, &exitError{code: exitConfigured, err: err}
	}

	project, err := config.LoadProject(dir)
	if err != nil {
		return nil, err
	}

	local, err := localstate.Load(dir)
	if err != nil {
		return nil, err
	}

	var progress io.Writer
	if mode == runmode.Interactive && isTerminal(os.Stderr) {
		progress = cmd.ErrOrStderr()
	}
	registry, err := buildRegistry(log, progress)
	if err != nil {
		return nil, err
	}
	eng, err := engine.New(registry, log)
	if err != nil {
		return nil, err
	}

	return &session{
		dir:     dir,
		project: project,
		mode:    mode,
		log:     log,
		engine:  eng,
		sources: registry,
		local:   local,
		secrets: newSecretStore(dir, log),
		ambient: environ.ParseEnviron(os.Environ()),
		verbose: flags.verbose,
		out:     cmd.OutOrStdout(),
		errOut:  cmd.ErrOrStderr(),
	}, nil
}

// resolveMode picks the flag value, then $KAPSEL_MODE, then interactive when
// stdout is a terminal.
func resolveMode(flag, env string, terminal bool) (runmode.Mode, error) {
	switch {
	case flag != "":
		return runmode.Parse(flag)
	case env != "":
		return runmode.Parse(env)
	case terminal:
		return runmode.Interactive, nil
	default:
		return runmode.NonInteractive, nil
	}
}

func (s *session) requirements(envSpec string) ([]requirement.Requirement, error) {
	return requirement.FromConfig(s.project, envSpec)
}

func (s *session) prepareOptions(reqs []requirement.Requirement) engine.PrepareOptions {
	opts := engine.PrepareOptions{
		Requirements: reqs,
		Mode:         s.mode,
		Ambient:      s.ambient,
		ProjectDir:   s.dir,
		Local:        s.local,
		Secrets:      s.secrets,
	}
	if s.mode.MayPrompt() && isTerminal(os.Stdin) {
		opts.Prompter = tui.NewPrompter(os.Stdin, s.errOut)
	}
	return opts
}

func defaultSecretStore(dir string, log *logger.Logger) localstate.SecretStore {
	store := localstate.NewKeyringStore(dir)
	if err := store.Available(); err != nil {
		log.WithFields(map[string]any{"service": store.Service()}).Warn("system keyring unavailable, sensitive values are kept for this run only")
		return localstate.NewMemoryStore()
	}
	return store
}

func defaultRegistry(log *logger.Logger, progress io.Writer) (provider.Source, error) {
	registry := provider.NewRegistry(log)
	providers := []provider.Provider{
		variable.NewLocalOverride(),
		variable.NewProjectDefault(),
		variable.NewPrompt(),
		download.New(fetch.New(fetch.Options{Retries: fetch.DefaultRetries, Progress: progress, Logger: log})),
		envspec.New(envmanager.NewConda(envmanager.Options{Logger: log})),
		redis.NewSystem(),
		redis.NewProject(redis.ProcessStarter{}),
		gitrepo.New(),
	}
	for _, p := range providers {
		if err := registry.Register(p); err != nil {
			return nil, err
		}
	}
	if err := registry.Validate(requirement.Kinds...); err != nil {
		return nil, err
	}
	return registry, nil
}
