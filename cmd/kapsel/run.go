package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/kapsel/internal/launch"
	"github.com/alexisbeaulieu97/kapsel/internal/report"
)

func newRunCmd(root *rootFlags) *cobra.Command {
	opts := &prepareOptions{}

	cmd := &cobra.Command{
		Use:   "run [COMMAND] [-- ARGS...]",
		Short: "Prepare the project, then run one of its commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			var name string
			extra := args
			if dash := cmd.ArgsLenAtDash(); dash != 0 && len(args) > 0 {
				name = args[0]
				extra = args[1:]
			}

			s, err := openSession(cmd, root)
			if err != nil {
				return err
			}
			command, err := launch.Resolve(s.project, name)
			if err != nil {
				return err
			}
			if opts.envSpec == "" {
				opts.envSpec = command.EnvSpec
			}

			reqs, err := s.requirements(opts.envSpec)
			if err != nil {
				return err
			}
			prep := s.prepareOptions(reqs)
			overrides, err := parseOverrides(opts.overrides)
			if err != nil {
				return &exitError{code: exitConfigured, err: err}
			}
			prep.Overrides = overrides

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			result, err := s.engine.Prepare(ctx, prep)
			if err != nil {
				return err
			}
			// The command owns stdout, so the report goes to stderr.
			if !result.Success || s.verbose {
				if err := report.WriteText(s.errOut, result, report.Options{Verbose: s.verbose}); err != nil {
					return err
				}
			}
			if err := resultError(result); err != nil {
				return err
			}

			code, err := launch.Run(ctx, result, launch.Options{
				Command:    command,
				Args:       extra,
				ProjectDir: s.dir,
				Stdin:      os.Stdin,
				Stdout:     cmd.OutOrStdout(),
				Stderr:     cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}
			if code != 0 {
				return &exitError{code: code}
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&opts.overrides, "env", "e", nil, "Set KEY=VALUE, outranking every other source (repeatable)")
	cmd.Flags().StringVar(&opts.envSpec, "env-spec", "", "Package environment spec, defaulting to the command's")

	return cmd
}
