package model

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/dustin/go-humanize"

	"github.com/modoterra/pulsebar/pkg/core"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	borderColor = lipgloss.Color("240")

	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

const statusBarH = 1

// layout is the frame geometry for a terminal size. Heights include borders.
type layout struct {
	width  int
	chartH int
	logH   int
}

// computeLayout splits the terminal, minus a one-cell margin and the status
// line, between the chart and the log panel.
func computeLayout(width, height, chartPercent int) layout {
	innerW := max(width-2, 0)
	innerH := max(height-2-statusBarH, 0)
	chartH := innerH * chartPercent / 100
	return layout{width: innerW, chartH: chartH, logH: innerH - chartH}
}

// View renders the dashboard. It records the log panel height in the store
// and clamps the scroll offset against it.
func (a App) View() string {
	if a.width == 0 || a.height == 0 {
		return "loading..."
	}

	l := computeLayout(a.width, a.height, a.opts.ChartPercent)
	a.store.SetViewportHeight(l.logH)
	offset := a.store.ClampScroll()
	logs, total := a.store.Logs()

	chart := panel("Bar Chart - Real-time Client Data",
		renderChart(a.store.Sample(), l.width-2, l.chartH-2, a.opts.BarWidth, a.opts.BarGap),
		l.width, l.chartH)
	logPane := panel("Server Logs", renderLogs(logs, offset, l.width-2, l.logH-2), l.width, l.logH)
	status := a.renderStatusBar(l.width, total)

	body := lipgloss.JoinVertical(lipgloss.Left, chart, logPane, status)
	return lipgloss.NewStyle().Margin(1, 1).Render(body)
}

// panel draws a rounded box of exactly w×h cells with title set into the
// top border. body must already fit the inner area.
func panel(title, body string, w, h int) string {
	if w < 4 || h < 2 {
		return ""
	}
	b := lipgloss.RoundedBorder()
	innerW := w - 2
	border := lipgloss.NewStyle().Foreground(borderColor)

	t := truncate(" "+title+" ", innerW)
	top := border.Render(b.TopLeft) +
		titleStyle.Render(t) +
		border.Render(strings.Repeat(b.Top, innerW-lipgloss.Width(t))+b.TopRight)

	box := lipgloss.NewStyle().
		Border(b).
		BorderTop(false).
		BorderForeground(borderColor).
		Width(innerW).
		Height(h - 2).
		Render(body)
	return top + "\n" + box
}

// renderLogs word-wraps the log from offset and returns at most h rows of
// width w.
func renderLogs(logs []string, offset, w, h int) string {
	if w <= 0 || h <= 0 {
		return ""
	}
	if len(logs) == 0 {
		return dimStyle.Render("no activity yet")
	}

	wrap := lipgloss.NewStyle().Width(w)
	rows := make([]string, 0, h)
	for i := offset; i < len(logs) && len(rows) < h; i++ {
		line := strings.TrimSpace(core.Printable(logs[i]))
		for _, row := range strings.Split(wrap.Render(line), "\n") {
			if len(rows) == h {
				break
			}
			rows = append(rows, strings.TrimRight(row, " "))
		}
	}
	return strings.Join(rows, "\n")
}

func (a App) renderStatusBar(width, logLen int) string {
	last := "waiting for data"
	if t := a.store.UpdatedAt(); !t.IsZero() {
		last = "last sample " + humanize.RelTime(t, a.now(), "ago", "from now")
	}
	left := fmt.Sprintf(" %s │ %s │ %s events", a.opts.SocketPath, last, humanize.Comma(int64(logLen)))
	right := a.help.View(a.keys)

	gap := width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		return helpStyle.Render(truncate(left, width))
	}
	return helpStyle.Render(left+strings.Repeat(" ", gap)) + right
}

// truncate shortens s to at most maxLen terminal cells.
func truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if ansi.StringWidth(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return ansi.Truncate(s, maxLen, "")
	}
	return ansi.Truncate(s, maxLen, "...")
}
