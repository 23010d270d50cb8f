package logx

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Table renders a fixed-width ASCII table. No router or server code
// renders its METRIC_TABLE / SENT_TABLE / SERVICE_FORWARDING_TABLE state
// through it, and the logging.table_pretty setting is not read by any
// code. Grounded on
// grimm-is-flywall's lipgloss cell-styling idiom, scaled down from its
// interactive bubbletea table to a static one-shot render (no TUI in a
// batch discrete-event simulator).
type Table struct {
	Headers []string
	Rows    [][]string
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// Render lays the table out with each column sized to its widest cell.
func (t Table) Render() string {
	widths := make([]int, len(t.Headers))
	for i, h := range t.Headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.Rows {
		for i, c := range row {
			if i < len(widths) && lipgloss.Width(c) > widths[i] {
				widths[i] = lipgloss.Width(c)
			}
		}
	}

	var b strings.Builder
	b.WriteString(renderRow(t.Headers, widths, headerStyle))
	b.WriteString("\n")
	b.WriteString(separator(widths))
	b.WriteString("\n")
	for _, row := range t.Rows {
		b.WriteString(renderRow(row, widths, cellStyle))
		b.WriteString("\n")
	}
	return b.String()
}

func renderRow(cells []string, widths []int, style lipgloss.Style) string {
	rendered := make([]string, len(widths))
	for i := range widths {
		var v string
		if i < len(cells) {
			v = cells[i]
		}
		rendered[i] = style.Width(widths[i] + 2).Render(v)
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
}

func separator(widths []int) string {
	parts := make([]string, len(widths))
	for i, w := range widths {
		parts[i] = strings.Repeat("-", w+2)
	}
	return strings.Join(parts, "+")
}

// FormatFloat renders f in the shortest decimal form that round-trips,
// with no trailing zeros (2.0 -> "2", 2.5 -> "2.5"); it does not round
// to a fixed number of places.
func FormatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
