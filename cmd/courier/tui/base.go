// Package tui holds the bubbletea frame shared by courier's full-screen
// commands.
package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/gezibash/courier/pkg/engine"
	"github.com/gezibash/courier/pkg/request"
)

const (
	pingEvery  = 5 * time.Second
	statsEvery = 500 * time.Millisecond
)

// App is the interface each TUI app implements.
type App interface {
	Init() tea.Cmd
	Update(msg tea.Msg) (App, tea.Cmd)
	View() (body string, help string)
	CanQuit() bool
}

// PingTickMsg triggers a new ping.
type PingTickMsg struct{}

// PingResultMsg carries the result of a server ping.
type PingResultMsg struct {
	Latency time.Duration
	Err     error
}

// StatsMsg carries an engine snapshot. Apps receive it too.
type StatsMsg struct {
	Stats engine.Stats
	Err   error
}

type statsTickMsg struct{}

// ErrMsg is a generic error message any app can emit.
type ErrMsg struct{ Err error }

// eventMsg wraps a message from the event channel so Base can re-issue the
// pump for the next one.
type eventMsg struct {
	msg tea.Msg
}

// Base handles shared TUI concerns: layout, spinner, ping, engine
// snapshots, error display and the event pump.
type Base struct {
	Ctx     context.Context
	Engine  *engine.Engine
	Layout  *Layout
	Spinner spinner.Model
	Err     error
	events  <-chan tea.Msg
	app     App
}

// NewBase creates a Base with standard spinner and layout. events carries
// messages produced by engine callbacks; it may be nil.
func NewBase(ctx context.Context, e *engine.Engine, appName, account string, events <-chan tea.Msg) Base {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(AccentColor)

	return Base{
		Ctx:     ctx,
		Engine:  e,
		Layout:  &Layout{AppName: appName, Account: account},
		Spinner: s,
		events:  events,
	}
}

// WithApp sets the app implementation and returns the Base.
func (b Base) WithApp(app App) Base {
	b.app = app
	return b
}

// Init starts the spinner, ping loop, stats loop and event pump.
func (b Base) Init() tea.Cmd {
	cmds := []tea.Cmd{
		b.Spinner.Tick,
		b.fetchStats(),
		schedulePing(),
	}
	if b.events != nil {
		cmds = append(cmds, pump(b.events))
	}
	if b.app != nil {
		cmds = append(cmds, b.app.Init())
	}
	return tea.Batch(cmds...)
}

func pump(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return eventMsg{msg: msg}
	}
}

// pingServer queues a ping. While disconnected it waits in the queue, so
// the timeout bounds it.
func (b Base) pingServer() tea.Cmd {
	e, ctx := b.Engine, b.Ctx
	return func() tea.Msg {
		p := request.NewPing(request.WithRetries(0))
		e.Enqueue(p)
		pctx, cancel := context.WithTimeout(ctx, pingEvery)
		defer cancel()
		if _, err := p.Wait(pctx); err != nil {
			return PingResultMsg{Err: err}
		}
		rtt, _ := p.RTT()
		return PingResultMsg{Latency: rtt}
	}
}

func schedulePing() tea.Cmd {
	return tea.Tick(pingEvery, func(time.Time) tea.Msg { return PingTickMsg{} })
}

func (b Base) fetchStats() tea.Cmd {
	e, ctx := b.Engine, b.Ctx
	return func() tea.Msg {
		st, err := e.Stats(ctx)
		return StatsMsg{Stats: st, Err: err}
	}
}

func scheduleStats() tea.Cmd {
	return tea.Tick(statsEvery, func(time.Time) tea.Msg { return statsTickMsg{} })
}

// Update handles shared messages and delegates the rest to the app.
func (b Base) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return b, tea.Quit
		}
		if msg.String() == "esc" && b.app != nil && b.app.CanQuit() {
			return b, tea.Quit
		}
	case tea.WindowSizeMsg:
		b.Layout.Width = msg.Width
		b.Layout.Height = msg.Height
	case PingTickMsg:
		if b.Layout.Connected {
			return b, b.pingServer()
		}
		return b, schedulePing()
	case PingResultMsg:
		if msg.Err == nil {
			b.Layout.Latency = msg.Latency
		}
		return b.toApp(msg, schedulePing())
	case statsTickMsg:
		return b, b.fetchStats()
	case StatsMsg:
		if msg.Err == nil {
			b.Layout.Connected = msg.Stats.State == engine.Connected
		}
		return b.toApp(msg, scheduleStats())
	case ErrMsg:
		b.Err = msg.Err
		return b, nil
	case spinner.TickMsg:
		b.Layout.Frame++
		b.Spinner, _ = b.Spinner.Update(msg)
		// Don't return; fall through so app spinners animate too.
	case eventMsg:
		// Re-issue the pump for the next event, then deliver this one.
		return b.toApp(msg.msg, pump(b.events))
	}

	return b.toApp(msg)
}

// toApp delivers msg to the app and batches its command with cmds.
func (b Base) toApp(msg tea.Msg, cmds ...tea.Cmd) (tea.Model, tea.Cmd) {
	if b.app != nil {
		var appCmd tea.Cmd
		b.app, appCmd = b.app.Update(msg)
		cmds = append(cmds, appCmd)
	}
	return b, tea.Batch(cmds...)
}

// View renders the layout frame around the app's view.
func (b Base) View() string {
	if b.Err != nil {
		body := ErrorStyle.Render("Error: "+b.Err.Error()) + "\n\nPress esc to quit.\n"
		return b.Layout.Render(body, "esc: quit")
	}
	if b.app != nil {
		body, help := b.app.View()
		return b.Layout.Render(body, help)
	}
	return b.Layout.Render("", "")
}

// Run creates a tea.Program and runs it.
func (b Base) Run() error {
	p := tea.NewProgram(b, tea.WithAltScreen(), tea.WithContext(b.Ctx))
	_, err := p.Run()
	return err
}
