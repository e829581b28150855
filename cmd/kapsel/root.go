package main

import (
	"github.com/spf13/cobra"
)

type rootFlags struct {
	directory string
	mode      string
	verbose   bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "kapsel",
		Short:         "kapsel prepares everything a project needs before it runs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.directory, "directory", "C", ".", "Project directory containing kapsel.yml")
	cmd.PersistentFlags().StringVar(&flags.mode, "mode", "", "Run mode: interactive, non-interactive or check (default depends on the terminal)")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable verbose logging")

	cmd.AddCommand(newPrepareCmd(flags))
	cmd.AddCommand(newCheckCmd(flags))
	cmd.AddCommand(newRunCmd(flags))
	cmd.AddCommand(newUnprepareCmd(flags))
	cmd.AddCommand(newVariablesCmd(flags))
	cmd.AddCommand(newVersionCmd())

	return cmd
}
