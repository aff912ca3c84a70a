package model

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/modoterra/pulsebar/pkg/state"
)

// Options configures the dashboard.
type Options struct {
	SocketPath    string
	FrameInterval time.Duration
	BarWidth      int
	BarGap        int
	ChartPercent  int
}

func (o Options) withDefaults() Options {
	if o.FrameInterval <= 0 {
		o.FrameInterval = 100 * time.Millisecond
	}
	if o.BarWidth < 1 {
		o.BarWidth = 5
	}
	if o.BarGap < 0 {
		o.BarGap = 1
	}
	if o.ChartPercent <= 0 || o.ChartPercent >= 100 {
		o.ChartPercent = 80
	}
	return o
}

// App is the root Bubble Tea model. It reads everything it draws from the
// shared store and writes back only the scroll state.
type App struct {
	store *state.Store
	opts  Options
	keys  KeyMap
	help  help.Model

	width  int
	height int

	now func() time.Time
}

// New creates a dashboard over store.
func New(store *state.Store, opts Options) App {
	return App{
		store: store,
		opts:  opts.withDefaults(),
		keys:  DefaultKeyMap,
		help:  help.New(),
		now:   time.Now,
	}
}

// frameMsg triggers a redraw.
type frameMsg time.Time

func frameCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return frameMsg(t)
	})
}

// Init starts the frame ticker.
func (a App) Init() tea.Cmd {
	return tea.Batch(
		frameCmd(a.opts.FrameInterval),
		tea.SetWindowTitle("pulsebar"),
	)
}

// Update handles messages.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.help.Width = msg.Width
		return a, nil

	case frameMsg:
		return a, frameCmd(a.opts.FrameInterval)

	case tea.KeyMsg:
		return a.handleKey(msg)
	}

	return a, nil
}

func (a App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, a.keys.Quit):
		return a, tea.Quit
	case key.Matches(msg, a.keys.Up):
		a.store.ScrollUp()
	case key.Matches(msg, a.keys.Down):
		a.store.ScrollDown()
	}
	return a, nil
}

// Run takes over the terminal and drives the dashboard until the user quits
// or ctx is cancelled. The terminal is restored on every exit path.
func Run(ctx context.Context, store *state.Store, opts Options, extra ...tea.ProgramOption) error {
	progOpts := append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, extra...)
	p := tea.NewProgram(New(store, opts), progOpts...)
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
