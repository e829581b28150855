package components

import (
	"fmt"
	"strings"
)

// SummaryData aggregates counts for rendering summaries.
type SummaryData struct {
	Mode       string
	Total      int
	Met        int
	Success    bool
	Unresolved []string
	Warnings   []string
}

// Summary renders a textual prepare summary.
type Summary struct {
	data SummaryData
}

// NewSummary creates a new Summary component.
func NewSummary(data SummaryData) Summary {
	return Summary{data: data}
}

// View renders the summary.
func (s Summary) View() string {
	var lines []string
	if s.data.Total > 0 {
		lines = append(lines, fmt.Sprintf("Requirements: %d/%d met", s.data.Met, s.data.Total))
	}

	switch {
	case s.data.Success && s.data.Mode == "check":
		lines = append(lines, "Every requirement already holds")
	case s.data.Success:
		lines = append(lines, "Environment is ready")
	default:
		lines = append(lines, fmt.Sprintf("Unresolved: %s", strings.Join(s.data.Unresolved, ", ")))
	}

	if len(s.data.Warnings) > 0 {
		lines = append(lines, "Warnings:")
		for _, w := range s.data.Warnings {
			lines = append(lines, "  ! "+w)
		}
	}

	return strings.Join(lines, "\n")
}
