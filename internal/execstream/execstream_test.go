package execstream

import (
	"bytes"
	"context"
	"io"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("POSIX shell assumptions do not hold on Windows")
	}
}

func TestRunCapturesAndStreams(t *testing.T) {
	skipOnWindows(t)

	var stdout bytes.Buffer
	result, err := Run(context.Background(), "echo", []string{"hello world"}, Options{Stdout: &stdout, Stderr: io.Discard})
	require.NoError(t, err)
	assert.Equal(t, "hello world", result.Stdout)
	assert.Equal(t, "hello world\n", stdout.String())
	assert.Equal(t, 0, result.ExitCode)
}

func TestRunReportsExitCodeAndStderr(t *testing.T) {
	skipOnWindows(t)

	result, err := Run(context.Background(), "sh", []string{"-c", "echo 'error message' >&2; exit 3"}, Options{Stdout: io.Discard, Stderr: io.Discard})
	require.Error(t, err)
	assert.Equal(t, 3, result.ExitCode)
	assert.Equal(t, "error message", result.Stderr)
	assert.Equal(t, "error message", PrimaryOutput(result))
}

func TestRunUsesEnvAndDir(t *testing.T) {
	skipOnWindows(t)

	dir := t.TempDir()
	result, err := Run(context.Background(), "sh", []string{"-c", "echo $GREETING; pwd"}, Options{
		Dir:    dir,
		Env:    []string{"GREETING=hi"},
		Stdout: io.Discard,
	})
	require.NoError(t, err)
	assert.Contains(t, result.Stdout, "hi")
	assert.Contains(t, result.Stdout, dir)
}

func TestRunMissingBinary(t *testing.T) {
	result, err := Run(context.Background(), "definitely-not-a-real-binary-kapsel", nil, Options{})
	require.Error(t, err)
	assert.Equal(t, -1, result.ExitCode)
}

func TestRunHonoursContext(t *testing.T) {
	skipOnWindows(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := Run(ctx, "sleep", []string{"5"}, Options{Stdout: io.Discard, Stderr: io.Discard})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestPrimaryOutputFallsBackToStdout(t *testing.T) {
	assert.Equal(t, "out", PrimaryOutput(Result{Stdout: "out"}))
}
