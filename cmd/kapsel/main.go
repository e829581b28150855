package main

import (
	"errors"
	"fmt"
	"os"

	kapselerrors "github.com/alexisbeaulieu97/kapsel/pkg/errors"
)

const (
	exitOK         = 0
	exitFailure    = 1
	exitConfigured = 2
)

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func main() {
	err := newRootCmd().Execute()
	if err != nil {
		var exit *exitError
		if !errors.As(err, &exit) || exit.err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
	os.Exit(exitCode(err))
}

// exitCode maps an error to the process status: 2 for project file problems,
// the carried code for exitError and 1 otherwise.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	var parseErr *kapselerrors.ParseError
	var validationErr *kapselerrors.ValidationError
	if errors.As(err, &parseErr) || errors.As(err, &validationErr) {
		return exitConfigured
	}
	return exitFailure
}
