package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/kapsel/internal/provider"
	"github.com/alexisbeaulieu97/kapsel/internal/requirement"
	kapselerrors "github.com/alexisbeaulieu97/kapsel/pkg/errors"
)

const hiddenValue = "********"

func newVariablesCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "variables",
		Short: "List and manage the values saved for this checkout",
	}
	cmd.AddCommand(newVariablesListCmd(root))
	cmd.AddCommand(newVariablesSetCmd(root))
	cmd.AddCommand(newVariablesUnsetCmd(root))
	return cmd
}

func newVariablesListCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show every declared value and where it currently comes from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, root)
			if err != nil {
				return err
			}
			reqs, err := s.requirements("")
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(reqs))
			for _, req := range reqs {
				source, value, err := s.currentValue(req)
				if err != nil {
					return err
				}
				rows = append(rows, []string{req.Key, string(req.Kind), source, value})
			}

			t := table.New().
				Headers("KEY", "KIND", "SOURCE", "VALUE").
				Rows(rows...).
				BorderTop(false).
				BorderBottom(false).
				BorderLeft(false).
				BorderRight(false).
				BorderRow(false).
				BorderColumn(false).
				BorderHeader(false).
				StyleFunc(func(row, col int) lipgloss.Style {
					if row == table.HeaderRow {
						return lipgloss.NewStyle().Bold(true).Padding(0, 2, 0, 0)
					}
					return lipgloss.NewStyle().Padding(0, 2, 0, 0)
				})
			_, err = fmt.Fprintln(s.out, t.String())
			return err
		},
	}
}

// currentValue reports which source a prepare run would find first for req,
// without calling any provider.
func (s *session) currentValue(req requirement.Requirement) (string, string, error) {
	show := func(v string) string {
		if req.Sensitive && v != "" {
			return hiddenValue
		}
		return v
	}

	if v, ok := s.ambient[req.Key]; ok {
		return "environment", show(v), nil
	}
	pc := &provider.Context{Requirement: req, Local: s.local, Secrets: s.secrets}
	v, ok, err := pc.StoredValue()
	if err != nil {
		return "", "", err
	}
	if ok {
		if req.Sensitive {
			return "keyring", show(v), nil
		}
		return "local", v, nil
	}
	if v, ok := req.DefaultValue(); ok {
		return "default", show(v), nil
	}
	return "unset", "", nil
}

func newVariablesSetCmd(root *rootFlags) *cobra.Command {
	var option string

	cmd := &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Save a value for this checkout; sensitive values go to the system keyring",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, root)
			if err != nil {
				return err
			}
			pc, err := s.declared(args[0])
			if err != nil {
				return err
			}
			if option != "" {
				if err := s.providerOption(pc.Requirement, option); err != nil {
					return err
				}
				if err := s.local.SetProviderOption(args[0], option, args[1]); err != nil {
					return err
				}
				fmt.Fprintf(s.out, "Saved option %s of %s\n", option, args[0])
				return nil
			}
			if err := pc.StoreValue(args[1]); err != nil {
				return err
			}
			fmt.Fprintf(s.out, "Saved %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&option, "option", "", "Save VALUE as this provider option of KEY instead of as its value")

	return cmd
}

func newVariablesUnsetCmd(root *rootFlags) *cobra.Command {
	var option string

	cmd := &cobra.Command{
		Use:   "unset KEY",
		Short: "Forget the value saved for this checkout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, root)
			if err != nil {
				return err
			}
			pc, err := s.declared(args[0])
			if err != nil {
				return err
			}
			if option != "" {
				if err := s.local.UnsetProviderOption(args[0], option); err != nil {
					return err
				}
				fmt.Fprintf(s.out, "Removed option %s of %s\n", option, args[0])
				return nil
			}
			if err := pc.ForgetValue(); err != nil {
				return err
			}
			fmt.Fprintf(s.out, "Removed %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&option, "option", "", "Forget this provider option of KEY instead of its value")

	return cmd
}

// providerOption checks that a provider serving req declares the option name.
func (s *session) providerOption(req requirement.Requirement, name string) error {
	var known []string
	for _, p := range s.sources.ForKind(req.Kind) {
		for _, spec := range p.Metadata().Options {
			if spec.Name == name {
				return nil
			}
			known = append(known, spec.Name)
		}
	}
	return kapselerrors.NewValidationError(req.Key, fmt.Sprintf("no provider of %s requirements has option %q (known: %s)", req.Kind, name, strings.Join(known, ", ")), nil)
}

// declared returns a provider context for a requirement the project declares.
func (s *session) declared(key string) (*provider.Context, error) {
	reqs, err := s.requirements("")
	if err != nil {
		return nil, err
	}
	for _, req := range reqs {
		if req.Key == key {
			return &provider.Context{Requirement: req, Local: s.local, Secrets: s.secrets}, nil
		}
	}
	return nil, kapselerrors.NewValidationError(key, "the project declares no requirement with this key", nil)
}
