package model

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modoterra/pulsebar/pkg/core"
)

func TestViewBeforeSize(t *testing.T) {
	app, _ := newTestApp(t, 0)
	assert.Equal(t, "loading...", app.View())
}

func TestComputeLayout(t *testing.T) {
	l := computeLayout(80, 24, 80)
	assert.Equal(t, 78, l.width)
	assert.Equal(t, 16, l.chartH)
	assert.Equal(t, 5, l.logH)

	l = computeLayout(1, 1, 80)
	assert.Equal(t, 0, l.width)
	assert.Equal(t, 0, l.chartH)
	assert.Equal(t, 0, l.logH)
}

func TestViewRecordsViewportAndClamps(t *testing.T) {
	app, store := newTestApp(t, 10)
	store.SetViewportHeight(2)
	for i := 0; i < 10; i++ {
		store.ScrollDown()
	}
	m, _ := app.Update(tea.WindowSizeMsg{Width: 80, Height: 24})

	out := m.View()

	assert.Equal(t, 5, store.ViewportHeight())
	assert.Equal(t, 7, store.Scroll().Offset)
	assert.Contains(t, out, "Bar Chart - Real-time Client Data")
	assert.Contains(t, out, "Server Logs")
	assert.Contains(t, out, "line 9")
	assert.NotContains(t, out, "line 6")
}

func TestViewFitsTerminal(t *testing.T) {
	app, store := newTestApp(t, 50)
	store.SetSample(core.Sample{{Label: "cpu", Value: 42}, {Label: "mem", Value: 17}})
	m, _ := app.Update(tea.WindowSizeMsg{Width: 60, Height: 20})

	out := m.View()
	assert.Equal(t, 20, lipgloss.Height(out))
	for _, line := range strings.Split(out, "\n") {
		assert.LessOrEqual(t, lipgloss.Width(line), 60)
	}
}

func TestStatusBar(t *testing.T) {
	app, store := newTestApp(t, 3)
	bar := app.renderStatusBar(120, 3)
	assert.Contains(t, bar, "/tmp/test.sock")
	assert.Contains(t, bar, "waiting for data")
	assert.Contains(t, bar, "3 events")

	store.SetSample(core.Sample{{Label: "cpu", Value: 1}})
	bar = app.renderStatusBar(120, 3)
	assert.Contains(t, bar, "last sample")
}

func TestPanelSize(t *testing.T) {
	out := panel("Logs", "hello", 20, 5)
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], " Logs ")
	for _, line := range lines {
		assert.Equal(t, 20, lipgloss.Width(line))
	}
	assert.Empty(t, panel("x", "", 3, 5))
}

func TestRenderLogsOffsetAndWrap(t *testing.T) {
	logs := []string{"one", "two", "aaaa bbbb", "four"}

	assert.Equal(t, "two\naaaa\nbbbb", renderLogs(logs, 1, 4, 3))
	assert.Equal(t, "one\ntwo", renderLogs(logs, 0, 10, 2))
	assert.Equal(t, "", renderLogs(logs, 0, 0, 3))
	assert.Contains(t, renderLogs(nil, 0, 20, 3), "no activity yet")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", truncate("hello", 5))
	assert.Equal(t, "he...", truncate("hello world", 5))
	assert.Equal(t, "he", truncate("hello", 2))
	assert.Equal(t, "", truncate("hello", 0))
	assert.Equal(t, "温...", truncate("温度温度温", 5))
	assert.Equal(t, "温度", truncate("温度", 4))
	assert.LessOrEqual(t, lipgloss.Width(truncate("温度温度温", 4)), 4)
}

func TestRenderLogsStripsControlSequences(t *testing.T) {
	out := renderLogs([]string{"received from client: \x1b]0;pwned\x07 5 \x1b[2J 7\r\b"}, 0, 80, 3)
	assert.NotContains(t, out, "\x1b")
	assert.NotContains(t, out, "\x07")
	assert.NotContains(t, out, "\r")
	assert.NotContains(t, out, "\b")
	assert.Contains(t, out, "pwned")
}

func TestViewWithHostileClientText(t *testing.T) {
	app, store := newTestApp(t, 0)
	store.AppendLog("received from client: \x1b]0;pwned\x07 5 \x1b[2J 7")
	store.SetSample(core.Sample{{Label: "\x1b]0;pwned\x07", Value: 5}, {Label: "\x1b[2J", Value: 7}})

	m, _ := app.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	out := m.View()

	assert.NotContains(t, out, "\x1b]0;")
	assert.NotContains(t, out, "\x1b[2J")
	assert.NotContains(t, out, "\x07")
	assert.Equal(t, 40, lipgloss.Height(out))
	for _, line := range strings.Split(out, "\n") {
		assert.LessOrEqual(t, lipgloss.Width(line), 100)
	}
}
