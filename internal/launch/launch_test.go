package launch

import (
	"bytes"
	"context"
	"io"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/kapsel/internal/config"
	"github.com/alexisbeaulieu97/kapsel/internal/model"
	kapselerrors "github.com/alexisbeaulieu97/kapsel/pkg/errors"
)

func readyResult(env map[string]string) *model.PrepareResult {
	reports := []model.RequirementReport{{Key: "API_URL", State: model.StateSatisfied, Status: model.Satisfied(env["API_URL"])}}
	return model.NewPrepareResult("run", "interactive", reports, env, nil)
}

func TestEnvironmentAddsProjectDir(t *testing.T) {
	t.Parallel()

	env, err := Environment(readyResult(map[string]string{"API_URL": "http://x", "PATH": "/usr/bin"}), "/work/demo")
	require.NoError(t, err)
	require.Equal(t, []string{"API_URL=http://x", "PATH=/usr/bin", "PROJECT_DIR=/work/demo"}, env)
}

func TestEnvironmentRefusesFailedRun(t *testing.T) {
	t.Parallel()

	reports := []model.RequirementReport{{Key: "DB_PASSWORD", State: model.StateFailed, Status: model.PermanentFailure("not set")}}
	failed := model.NewPrepareResult("run", "non-interactive", reports, nil, nil)

	_, err := Environment(failed, "/work")
	require.ErrorContains(t, err, "DB_PASSWORD")

	_, err = Run(context.Background(), failed, Options{Command: config.Command{Name: "default", Unix: "true"}})
	require.Error(t, err)
}

func TestRunPassesEnvironmentAndArguments(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
	t.Parallel()

	dir := t.TempDir()
	var out bytes.Buffer
	code, err := Run(context.Background(), readyResult(map[string]string{"API_URL": "http://api"}), Options{
		Command:    config.Command{Name: "show", Unix: `echo "$API_URL $PROJECT_DIR $(pwd)"`},
		Args:       []string{"extra arg"},
		ProjectDir: dir,
		Stdout:     &out,
		Stderr:     io.Discard,
	})
	require.NoError(t, err)
	require.Zero(t, code)
	require.Contains(t, out.String(), "http://api "+dir)
	require.Contains(t, out.String(), "extra arg")
}

func TestRunReturnsChildExitCode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
	t.Parallel()

	code, err := Run(context.Background(), readyResult(map[string]string{"API_URL": "x"}), Options{
		Command:    config.Command{Name: "fail", Unix: "exit 3;"},
		ProjectDir: t.TempDir(),
		Stdout:     io.Discard,
		Stderr:     io.Discard,
	})
	require.NoError(t, err)
	require.Equal(t, 3, code)
}

func TestResolve(t *testing.T) {
	t.Parallel()

	project := &config.Project{Commands: []config.Command{
		{Name: "notebook", Unix: "jupyter notebook"},
		{Name: "default", Unix: "python main.py"},
	}}

	cmd, err := Resolve(project, "")
	require.NoError(t, err)
	require.Equal(t, "default", cmd.Name)

	cmd, err = Resolve(project, "notebook")
	require.NoError(t, err)
	require.Equal(t, "jupyter notebook", cmd.Unix)

	_, err = Resolve(project, "missing")
	var validation *kapselerrors.ValidationError
	require.ErrorAs(t, err, &validation)

	_, err = Resolve(&config.Project{}, "")
	require.ErrorAs(t, err, &validation)
}

func TestCommandLine(t *testing.T) {
	t.Parallel()

	cmd := config.Command{Name: "serve", Unix: "python -m http.server", Windows: "python -m http.server"}

	name, args, err := commandLine(cmd, []string{"8080"}, "linux")
	require.NoError(t, err)
	require.Equal(t, "/bin/sh", name)
	require.Equal(t, []string{"-c", `python -m http.server "$@"`, "serve", "8080"}, args)

	name, args, err = commandLine(cmd, []string{"8080"}, "windows")
	require.NoError(t, err)
	require.Equal(t, "cmd", name)
	require.Equal(t, []string{"/C", "python -m http.server 8080"}, args)

	_, _, err = commandLine(config.Command{Name: "unix-only", Unix: "ls"}, nil, "windows")
	require.Error(t, err)
}
