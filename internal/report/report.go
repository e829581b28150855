// Package report renders prepare results for people and for scripts.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"al.essio.dev/pkg/shellescape"
	"github.com/charmbracelet/lipgloss"

	"github.com/alexisbeaulieu97/kapsel/internal/model"
	"github.com/alexisbeaulieu97/kapsel/internal/tui"
	"github.com/alexisbeaulieu97/kapsel/internal/tui/components"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).MarginTop(1)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

// Options tune the text rendering.
type Options struct {
	// Verbose adds every provider attempt and the run log.
	Verbose bool
}

// WriteText renders result as a human readable report.
func WriteText(w io.Writer, result *model.PrepareResult, opts Options) error {
	if result == nil {
		return fmt.Errorf("no result to report")
	}

	list := components.NewRequirementList(result.Reports)
	sections := []string{
		headerStyle.Render(fmt.Sprintf("kapsel %s run %s", result.Mode, shortID(result.RunID))),
		components.NewProgress(len(result.Reports)).View(list.Met()),
	}

	if entries := list.Entries(); len(entries) > 0 {
		sections = append(sections, sectionStyle.Render("Requirements"))
		for i, entry := range entries {
			sections = append(sections, requirementLine(entry))
			if opts.Verbose {
				sections = append(sections, attemptLines(result.Reports[i])...)
			}
		}
	}

	summary := components.NewSummary(components.SummaryData{
		Mode:       result.Mode,
		Total:      len(result.Reports),
		Met:        list.Met(),
		Success:    result.Success,
		Unresolved: result.Unresolved,
		Warnings:   Warnings(result),
	}).View()
	sections = append(sections, sectionStyle.Render("Summary"), summary)

	if opts.Verbose && len(result.Log) > 0 {
		sections = append(sections, sectionStyle.Render("Log"))
		for _, line := range result.Log {
			sections = append(sections, dimStyle.Render("  "+line))
		}
	}

	_, err := fmt.Fprintln(w, lipgloss.JoinVertical(lipgloss.Left, sections...))
	return err
}

func requirementLine(entry components.RequirementEntry) string {
	line := fmt.Sprintf(" %s %s", tui.StateIcon(entry.State), entry.Key)
	if entry.Optional {
		line += dimStyle.Render(" (optional)")
	}
	if entry.Provider != "" {
		line += dimStyle.Render(fmt.Sprintf(" [%s]", entry.Provider))
	}
	if strings.TrimSpace(entry.Detail) != "" {
		line = fmt.Sprintf("%s: %s", line, entry.Detail)
	}
	return line
}

func attemptLines(r model.RequirementReport) []string {
	lines := make([]string, 0, len(r.Attempts))
	for _, a := range r.Attempts {
		lines = append(lines, dimStyle.Render(fmt.Sprintf("     %s: %s (%s)", a.Provider, a.Status, a.Duration.Truncate(time.Millisecond))))
	}
	return lines
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Warnings collects the warnings attached to final statuses in report order.
func Warnings(result *model.PrepareResult) []string {
	var out []string
	for _, r := range result.Reports {
		out = append(out, r.Status.Warnings()...)
	}
	return out
}

// WriteJSON renders result for scripts. The environment is never included,
// and values of sensitive requirements are already redacted in the reports.
func WriteJSON(w io.Writer, result *model.PrepareResult) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

// EnvFormat selects how WriteEnv prints variables.
type EnvFormat string

const (
	EnvFormatBash   EnvFormat = "bash"
	EnvFormatDotenv EnvFormat = "dotenv"
	EnvFormatJSON   EnvFormat = "json"
)

// ParseEnvFormat validates a format name.
func ParseEnvFormat(s string) (EnvFormat, error) {
	switch f := EnvFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case EnvFormatBash, EnvFormatDotenv, EnvFormatJSON:
		return f, nil
	case "":
		return EnvFormatBash, nil
	default:
		return "", fmt.Errorf("unknown env format %q (want bash, dotenv or json)", s)
	}
}

// WriteEnv prints env in sorted key order.
func WriteEnv(w io.Writer, env map[string]string, format EnvFormat) error {
	if format == EnvFormatJSON {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(env)
	}

	var b strings.Builder
	for _, key := range model.SortedEnvKeys(env) {
		quoted := shellescape.Quote(env[key])
		if format == EnvFormatDotenv {
			fmt.Fprintf(&b, "%s=%s\n", key, quoted)
			continue
		}
		fmt.Fprintf(&b, "export %s=%s\n", key, quoted)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// Prepared returns the variables of env that are new or changed compared to
// ambient, which is what a shell needs to pick up after a prepare run.
func Prepared(env, ambient map[string]string) map[string]string {
	out := make(map[string]string)
	for k, v := range env {
		if old, ok := ambient[k]; ok && old == v {
			continue
		}
		out[k] = v
	}
	return out
}
