package components

import (
	"fmt"
	"math"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
)

// Progress renders how many requirements hold.
type Progress struct {
	bar   progress.Model
	total int
}

// NewProgress creates a progress component for total requirements.
func NewProgress(total int) Progress {
	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = 30
	return Progress{bar: bar, total: total}
}

// View renders the bar for met requirements.
func (p Progress) View(met int) string {
	ratio := 0.0
	if p.total > 0 {
		ratio = math.Min(1.0, float64(met)/float64(p.total))
	}
	label := lipgloss.NewStyle().Bold(true).Render(fmt.Sprintf("%d/%d met", met, p.total))
	return lipgloss.JoinHorizontal(lipgloss.Left, label, " ", p.bar.ViewAs(ratio))
}
