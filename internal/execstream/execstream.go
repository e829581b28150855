// Package execstream runs external processes, streaming their output while
// also capturing it for error messages.
package execstream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Result captures stdout/stderr emitted by a streaming command run.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Options configure one run. Nil writers stream to the parent's stdout and
// stderr; use io.Discard to silence a stream.
type Options struct {
	Dir    string
	Env    []string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Run executes name with args, wiring output through to the configured
// writers while collecting it. A nil Env inherits the parent environment.
func Run(ctx context.Context, name string, args []string, opts Options) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = opts.Dir
	cmd.Env = opts.Env
	cmd.Stdin = opts.Stdin
	return RunCmd(cmd, opts.Stdout, opts.Stderr)
}

// RunCmd runs a prepared command the same way as Run.
func RunCmd(cmd *exec.Cmd, stdout, stderr io.Writer) (Result, error) {
	var stdoutBuf, stderrBuf bytes.Buffer

	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	cmd.Stdout = io.MultiWriter(stdout, &stdoutBuf)
	cmd.Stderr = io.MultiWriter(stderr, &stderrBuf)

	err := cmd.Run()

	return Result{
		Stdout:   strings.TrimSpace(stdoutBuf.String()),
		Stderr:   strings.TrimSpace(stderrBuf.String()),
		ExitCode: ExitCode(err),
	}, err
}

// PrimaryOutput returns stderr if present, otherwise stdout.
func PrimaryOutput(res Result) string {
	if res.Stderr != "" {
		return res.Stderr
	}
	return res.Stdout
}

// ExitCode extracts the process exit status from err: 0 for nil, the
// child's code for an exit error and -1 when the process never ran.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// LookPath reports whether name resolves to an executable.
func LookPath(name string) (string, bool) {
	path, err := exec.LookPath(name)
	return path, err == nil
}
