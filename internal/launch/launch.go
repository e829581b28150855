// Package launch runs a project command inside the environment built by a
// prepare run.
package launch

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/alexisbeaulieu97/kapsel/internal/config"
	"github.com/alexisbeaulieu97/kapsel/internal/environ"
	"github.com/alexisbeaulieu97/kapsel/internal/execstream"
	"github.com/alexisbeaulieu97/kapsel/internal/model"
	kapselerrors "github.com/alexisbeaulieu97/kapsel/pkg/errors"
)

// ProjectDirVar is always set for the launched command.
const ProjectDirVar = "PROJECT_DIR"

// Options describe one launch.
type Options struct {
	Command    config.Command
	Args       []string
	ProjectDir string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Resolve finds the named command of a project; an empty name selects the
// default command.
func Resolve(project *config.Project, name string) (config.Command, error) {
	cmd, ok := project.CommandByName(name)
	if !ok {
		if name == "" {
			return config.Command{}, kapselerrors.NewValidationError("commands", "project declares no command to run", nil)
		}
		return config.Command{}, kapselerrors.NewValidationError("commands", fmt.Sprintf("unknown command %q", name), nil)
	}
	return cmd, nil
}

// Environment returns the child environment for a successful prepare run:
// the prepared variables plus PROJECT_DIR, as sorted KEY=VALUE pairs.
func Environment(result *model.PrepareResult, projectDir string) ([]string, error) {
	if result == nil || !result.Success {
		var unresolved []string
		if result != nil {
			unresolved = result.Unresolved
		}
		return nil, fmt.Errorf("environment is not ready, unresolved: %s", strings.Join(unresolved, ", "))
	}
	env := make(map[string]string, len(result.Env)+1)
	for k, v := range result.Env {
		env[k] = v
	}
	env[ProjectDirVar] = projectDir
	return environ.FormatEnviron(env), nil
}

// Run starts the command in the project directory and waits for it. The
// returned exit code is the child's; an error is returned only when the
// command could not be started or the environment is not ready.
func Run(ctx context.Context, result *model.PrepareResult, opts Options) (int, error) {
	env, err := Environment(result, opts.ProjectDir)
	if err != nil {
		return -1, err
	}

	name, args, err := commandLine(opts.Command, opts.Args, runtime.GOOS)
	if err != nil {
		return -1, err
	}

	res, err := execstream.Run(ctx, name, args, execstream.Options{
		Dir:    opts.ProjectDir,
		Env:    env,
		Stdin:  opts.Stdin,
		Stdout: opts.Stdout,
		Stderr: opts.Stderr,
	})
	if err != nil && res.ExitCode < 0 {
		return -1, kapselerrors.NewExecutionError(opts.Command.Name, err)
	}
	return res.ExitCode, nil
}

// commandLine wraps the platform command in a shell. Extra arguments reach
// a unix command as "$@".
func commandLine(cmd config.Command, extra []string, goos string) (string, []string, error) {
	if goos == "windows" {
		if cmd.Windows == "" {
			return "", nil, kapselerrors.NewValidationError("commands", fmt.Sprintf("command %q has no windows variant", cmd.Name), nil)
		}
		line := cmd.Windows
		if len(extra) > 0 {
			line += " " + strings.Join(extra, " ")
		}
		return "cmd", []string{"/C", line}, nil
	}

	if cmd.Unix == "" {
		return "", nil, kapselerrors.NewValidationError("commands", fmt.Sprintf("command %q has no unix variant", cmd.Name), nil)
	}
	args := []string{"-c", cmd.Unix + ` "$@"`, cmd.Name}
	return "/bin/sh", append(args, extra...), nil
}
