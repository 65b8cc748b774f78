// Package watch implements "courier watch": a live view of the engine's
// connection, queue and receipts.
package watch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/courier/cmd/courier/tui"
	"github.com/gezibash/courier/internal/cli"
	"github.com/gezibash/courier/internal/config"
	"github.com/gezibash/courier/pkg/engine"
	"github.com/gezibash/courier/pkg/runtime"
	"github.com/gezibash/courier/pkg/stanza"
)

const maxEvents = 200

// Entrypoint returns the watch command.
func Entrypoint(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live view of the connection, queue and receipts",
		Long: `Open a full-screen view of the engine: connection state, queued and
in-flight requests, unacked receipts and recent traffic. Logs go to
~/.courier/log/watch.log.

Keys: c connect, d disconnect, x drop the connection, esc quit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !isatty.IsTerminal(os.Stdout.Fd()) {
				return fmt.Errorf("watch needs a terminal; use connect for piped output")
			}

			events := make(chan tea.Msg, 64)
			logw, closeLog := logFile()
			defer closeLog()

			return cli.RunCommand(cli.CommandConfig{
				Name:          "watch",
				Viper:         v,
				Engine:        true,
				LogWriter:     logw,
				EngineOptions: Feed(events),
				Run: func(ctx context.Context, rt *runtime.Runtime, cfg config.Config, _ *cli.Output) error {
					e := engine.From(rt)
					e.Connect()
					account := cfg.UserID + " @ " + cfg.ResolvedServerAddr()
					base := tui.NewBase(ctx, e, "watch", account, events).WithApp(New(e))
					return base.Run()
				},
			})
		},
	}

	config.BindCommonFlags(cmd, v)
	return cmd
}

// logFile opens the watch log, falling back to discarding logs.
func logFile() (io.Writer, func()) {
	dir := filepath.Join(config.DefaultConfigDir(), "log")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return io.Discard, func() {}
	}
	f, err := os.OpenFile(filepath.Join(dir, "watch.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // path is built from the config dir
	if err != nil {
		return io.Discard, func() {}
	}
	return f, func() { _ = f.Close() }
}

// EventMsg is a line in the traffic list.
type EventMsg struct {
	At   time.Time
	Kind string
	Text string
}

// Feed returns engine options that publish traffic and transitions to ch.
// Sends never block; a full channel drops the event.
func Feed(ch chan<- tea.Msg) []engine.Option {
	send := func(kind, text string) {
		select {
		case ch <- EventMsg{At: time.Now(), Kind: kind, Text: text}:
		default:
		}
	}
	delegate := func(domain string) engine.Delegate {
		return engine.DelegateFuncs{
			Content: func(in engine.Inbound) {
				send(domain, fmt.Sprintf("%s from %s", in.Stanza.ID(), in.Stanza.From()))
			},
			Retraction: func(in engine.Inbound) {
				send(domain, fmt.Sprintf("retraction %s from %s", in.Stanza.ID(), in.Stanza.From()))
			},
			Receipt: func(r stanza.Receipt, _ engine.Inbound) {
				send(domain, fmt.Sprintf("%s receipt for %s from %s", r.Kind, r.ItemID, r.UserID))
			},
			Confirmed: func(r stanza.Receipt) {
				send("receipt", fmt.Sprintf("%s receipt for %s acked", r.Kind, r.ItemID))
			},
		}
	}
	return []engine.Option{
		engine.WithFeedDelegate(delegate("feed")),
		engine.WithChatDelegate(delegate("chat")),
		engine.OnTransition(func(from, to engine.State) {
			send("state", from.String()+" → "+to.String())
		}),
		engine.OnLogout(func() { send("logout", "credentials cleared") }),
		engine.OnUnrouted(func(s *stanza.Stanza) {
			send("unrouted", s.Name()+" "+s.ID())
		}),
	}
}

// Model is the watch app.
type Model struct {
	engine  *engine.Engine
	stats   engine.Stats
	rtt     time.Duration
	pingErr error
	events  []EventMsg
}

var _ tui.App = (*Model)(nil)

// New creates the watch app for e.
func New(e *engine.Engine) *Model {
	return &Model{engine: e}
}

func (m *Model) Init() tea.Cmd { return nil }

func (m *Model) CanQuit() bool { return true }

func (m *Model) Update(msg tea.Msg) (tui.App, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q":
			return m, tea.Quit
		case "c":
			m.engine.Connect()
		case "d":
			m.engine.Disconnect()
		case "x":
			m.engine.DisconnectImmediately()
		}
	case tui.StatsMsg:
		if msg.Err == nil {
			m.stats = msg.Stats
		}
	case tui.PingResultMsg:
		m.rtt, m.pingErr = msg.Latency, msg.Err
	case EventMsg:
		m.events = append(m.events, msg)
		if len(m.events) > maxEvents {
			m.events = m.events[len(m.events)-maxEvents:]
		}
	}
	return m, nil
}

func (m *Model) View() (string, string) {
	var b strings.Builder
	st := m.stats
	row := func(label, value string) {
		b.WriteString(tui.LabelStyle.Render(label) + value + "\n")
	}

	row("state", tui.StateStyle(st.State.String()).Render(st.State.String()))
	if st.LoggedOut {
		row("session", tui.ErrorStyle.Render("logged out"))
	}
	row("queued", fmt.Sprint(len(st.Queued)))
	row("in flight", idList(st.InFlight))
	row("unacked receipts", fmt.Sprint(st.UnackedReceipts))
	row("waiting work", waiting(st.Waiting))
	switch {
	case m.pingErr != nil:
		row("ping", tui.ErrorStyle.Render(m.pingErr.Error()))
	case m.rtt > 0:
		row("ping", m.rtt.Round(time.Millisecond/10).String())
	}

	b.WriteString("\n" + tui.TitleStyle.Render("traffic") + "\n")
	for _, ev := range m.tail(12) {
		b.WriteString(tui.TimeStyle.Render(ev.At.Format("15:04:05")) + "  " +
			fmt.Sprintf("%-8s %s", ev.Kind, ev.Text) + "\n")
	}

	return strings.TrimRight(b.String(), "\n"), "c: connect · d: disconnect · x: drop · esc: quit"
}

func (m *Model) tail(n int) []EventMsg {
	if len(m.events) <= n {
		return m.events
	}
	return m.events[len(m.events)-n:]
}

func idList(ids []string) string {
	switch {
	case len(ids) == 0:
		return "0"
	case len(ids) <= 3:
		return fmt.Sprintf("%d (%s)", len(ids), strings.Join(ids, ", "))
	default:
		return fmt.Sprintf("%d (%s, …)", len(ids), strings.Join(ids[:3], ", "))
	}
}

func waiting(w map[engine.State]int) string {
	if len(w) == 0 {
		return "0"
	}
	parts := make([]string, 0, len(w))
	for s, n := range w {
		parts = append(parts, fmt.Sprintf("%s:%d", s, n))
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}
