package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/kapsel/internal/config"
	"github.com/alexisbeaulieu97/kapsel/internal/model"
	"github.com/alexisbeaulieu97/kapsel/internal/report"
)

type prepareOptions struct {
	overrides      []string
	only           []string
	envSpec        string
	stopOnFailure  bool
	json           bool
	printEnvFormat string
}

func (o *prepareOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&o.overrides, "env", "e", nil, "Set KEY=VALUE, outranking every other source (repeatable)")
	cmd.Flags().StringSliceVar(&o.only, "only", nil, "Only provide these requirement keys; the rest are checked")
	cmd.Flags().StringVar(&o.envSpec, "env-spec", "", "Package environment spec to prepare")
	cmd.Flags().BoolVar(&o.stopOnFailure, "stop-on-failure", false, "Leave later requirements unattempted after the first failure")
	cmd.Flags().BoolVar(&o.json, "json", false, "Print the result as JSON")
}

func newPrepareCmd(root *rootFlags) *cobra.Command {
	opts := &prepareOptions{}

	cmd := &cobra.Command{
		Use:   "prepare",
		Short: "Bring the project's requirements into place",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := report.ParseEnvFormat(opts.printEnvFormat)
			if err != nil {
				return &exitError{code: exitConfigured, err: err}
			}
			s, err := openSession(cmd, root)
			if err != nil {
				return err
			}
			result, err := runPrepare(cmd.Context(), s, opts, false)
			if err != nil {
				return err
			}
			if opts.printEnvFormat != "" && result.Success {
				if err := report.WriteEnv(s.out, report.Prepared(result.Env, s.ambient), format); err != nil {
					return err
				}
			}
			return resultError(result)
		},
	}
	opts.bind(cmd)
	cmd.Flags().StringVar(&opts.printEnvFormat, "print-env", "", "After success print the prepared variables to stdout (bash, dotenv or json)")

	return cmd
}

func newCheckCmd(root *rootFlags) *cobra.Command {
	opts := &prepareOptions{}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report which requirements hold without changing anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, root)
			if err != nil {
				return err
			}
			result, err := runPrepare(cmd.Context(), s, opts, true)
			if err != nil {
				return err
			}
			return resultError(result)
		},
	}
	cmd.Flags().StringVar(&opts.envSpec, "env-spec", "", "Package environment spec to check")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print the result as JSON")

	return cmd
}

// runPrepare runs the engine and writes the report. The report goes to
// stderr when stdout carries printed variables.
func runPrepare(ctx context.Context, s *session, opts *prepareOptions, checkOnly bool) (*model.PrepareResult, error) {
	reqs, err := s.requirements(opts.envSpec)
	if err != nil {
		return nil, err
	}
	overrides, err := parseOverrides(opts.overrides)
	if err != nil {
		return nil, &exitError{code: exitConfigured, err: err}
	}

	prep := s.prepareOptions(reqs)
	prep.Overrides = overrides
	prep.Whitelist = opts.only
	prep.StopOnFirstFailure = opts.stopOnFailure

	ctx, stop := signalContext(ctx)
	defer stop()

	var result *model.PrepareResult
	if checkOnly {
		result, err = s.engine.Check(ctx, prep)
	} else {
		result, err = s.engine.Prepare(ctx, prep)
	}
	if err != nil {
		return nil, err
	}

	out := s.out
	if opts.printEnvFormat != "" {
		out = s.errOut
	}
	if opts.json {
		err = report.WriteJSON(out, result)
	} else {
		err = report.WriteText(out, result, report.Options{Verbose: s.verbose})
	}
	return result, err
}

// parseOverrides reads repeated KEY=VALUE flags.
func parseOverrides(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || !config.IsValidEnvVarName(key) {
			return nil, fmt.Errorf("invalid --env %q, want KEY=VALUE", pair)
		}
		out[key] = value
	}
	return out, nil
}

// resultError turns an unsuccessful run into exit status 1. The report has
// already explained the failure.
func resultError(result *model.PrepareResult) error {
	if result.Success {
		return nil
	}
	return &exitError{code: exitFailure}
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt)
}

func newUnprepareCmd(root *rootFlags) *cobra.Command {
	var envSpec string

	cmd := &cobra.Command{
		Use:   "unprepare",
		Short: "Undo what prepare set up for this project: stop services, remove downloads and environments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, root)
			if err != nil {
				return err
			}
			reqs, err := s.requirements(envSpec)
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			if err := s.engine.Unprepare(ctx, s.prepareOptions(reqs)); err != nil {
				return err
			}
			fmt.Fprintln(s.out, "Project cleaned up")
			return nil
		},
	}
	cmd.Flags().StringVar(&envSpec, "env-spec", "", "Package environment spec to remove")

	return cmd
}
