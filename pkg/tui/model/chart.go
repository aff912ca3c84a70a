package model

import (
	"math"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/modoterra/pulsebar/pkg/core"
)

var (
	barStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("3"))
	zeroStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
)

// renderChart draws one vertical bar per point, in sample order, in a w×h
// area. The bottom row holds labels; the value is overlaid on the bottom
// cell of each bar. Bars that do not fit are dropped from the right.
func renderChart(s core.Sample, w, h, barWidth, gap int) string {
	if w < barWidth || h < 2 || len(s) == 0 {
		return ""
	}
	if n := barsThatFit(w, barWidth, gap); n < len(s) {
		s = s[:n]
	}

	area := h - 1
	heights := make([]int, len(s))
	peak := s.Max()
	for i, p := range s {
		heights[i] = barHeight(p.Value, peak, area)
	}

	spacer := strings.Repeat(" ", gap)
	full := strings.Repeat("█", barWidth)
	empty := strings.Repeat(" ", barWidth)

	rows := make([]string, 0, h)
	for r := 0; r < area; r++ {
		level := area - r
		var b strings.Builder
		for i, p := range s {
			if i > 0 {
				b.WriteString(spacer)
			}
			switch {
			case r == area-1 && heights[i] > 0:
				b.WriteString(valueStyle.Render(center(formatValue(p.Value, barWidth), barWidth)))
			case r == area-1:
				b.WriteString(zeroStyle.Render(center(formatValue(p.Value, barWidth), barWidth)))
			case heights[i] >= level:
				b.WriteString(barStyle.Render(full))
			default:
				b.WriteString(empty)
			}
		}
		rows = append(rows, b.String())
	}

	var labels strings.Builder
	for i, p := range s {
		if i > 0 {
			labels.WriteString(spacer)
		}
		labels.WriteString(labelStyle.Render(center(truncate(core.Printable(p.Label), barWidth), barWidth)))
	}
	rows = append(rows, labels.String())

	return strings.Join(rows, "\n")
}

// barsThatFit returns how many bars of barWidth separated by gap fit in w.
func barsThatFit(w, barWidth, gap int) int {
	if barWidth <= 0 {
		return 0
	}
	return (w + gap) / (barWidth + gap)
}

// barHeight scales v against peak to a whole number of rows in [0, area].
func barHeight(v, peak uint64, area int) int {
	if peak == 0 || area <= 0 {
		return 0
	}
	return int(math.Round(float64(v) / float64(peak) * float64(area)))
}

// formatValue renders v in at most width cells, switching to SI units
// (e.g. "123k") when the full number does not fit.
func formatValue(v uint64, width int) string {
	s := strconv.FormatUint(v, 10)
	if len(s) <= width {
		return s
	}
	s = strings.ReplaceAll(humanize.SIWithDigits(float64(v), 0, ""), " ", "")
	return truncate(s, width)
}

// center pads s with spaces to width cells, favouring the left edge.
func center(s string, width int) string {
	pad := width - lipgloss.Width(s)
	if pad <= 0 {
		return s
	}
	left := pad / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", pad-left)
}
