// Package connect implements "courier connect": hold a session open and
// print everything the engine routes.
package connect

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/courier/internal/cli"
	"github.com/gezibash/courier/internal/config"
	"github.com/gezibash/courier/pkg/engine"
	"github.com/gezibash/courier/pkg/runtime"
	"github.com/gezibash/courier/pkg/stanza"
)

// drainTimeout bounds the graceful disconnect on shutdown.
const drainTimeout = 5 * time.Second

// Event is one line of connect output.
type Event struct {
	Time    time.Time `json:"time"`
	Kind    string    `json:"kind"`
	Domain  string    `json:"domain,omitempty"`
	ID      string    `json:"id,omitempty"`
	From    string    `json:"from,omitempty"`
	State   string    `json:"state,omitempty"`
	Receipt string    `json:"receipt,omitempty"`
	Stanza  string    `json:"stanza,omitempty"`
}

func (e Event) text() string {
	ts := e.Time.Format("15:04:05.000")
	switch e.Kind {
	case "state":
		return fmt.Sprintf("%s  state      %s", ts, e.State)
	case "receipt", "confirmed":
		return fmt.Sprintf("%s  %-10s %s %s %s", ts, e.Kind, e.Domain, e.Receipt, e.ID)
	case "logout":
		return ts + "  logout     credentials rejected or cleared"
	default:
		return fmt.Sprintf("%s  %-10s %s %s", ts, e.Kind, e.Domain, e.Stanza)
	}
}

// printer serializes output from engine callbacks and the command itself.
type printer struct {
	mu  sync.Mutex
	out *cli.Output
	raw bool

	loggedOut chan struct{}
	once      sync.Once
}

func newPrinter(raw bool) *printer {
	return &printer{raw: raw, loggedOut: make(chan struct{})}
}

// logout ends the session. The engine will not reconnect without new
// credentials.
func (p *printer) logout() {
	p.once.Do(func() {
		p.emit(Event{Kind: "logout"})
		close(p.loggedOut)
	})
}

func (p *printer) emit(e Event) {
	e.Time = time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.out != nil {
		_ = p.out.Line(e.text(), e)
	}
}

func (p *printer) inbound(kind, domain string, in engine.Inbound) {
	e := Event{Kind: kind, Domain: domain, ID: in.Stanza.ID(), From: in.Stanza.From()}
	if p.raw || kind != "receipt" {
		e.Stanza = in.Stanza.String()
	}
	p.emit(e)
}

func (p *printer) delegate(domain string) engine.Delegate {
	return engine.DelegateFuncs{
		Content:    func(in engine.Inbound) { p.inbound("content", domain, in) },
		Retraction: func(in engine.Inbound) { p.inbound("retraction", domain, in) },
		Receipt: func(r stanza.Receipt, in engine.Inbound) {
			p.emit(Event{Kind: "receipt", Domain: domain, ID: r.ItemID, From: r.UserID, Receipt: r.Kind.String()})
		},
		Confirmed: func(r stanza.Receipt) {
			p.emit(Event{Kind: "confirmed", Domain: domain, ID: r.ItemID, Receipt: r.Kind.String()})
		},
	}
}

// Entrypoint returns the connect command.
func Entrypoint(v *viper.Viper) *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Hold a session open and print routed stanzas",
		Long: `Connect to the server and print every stanza the engine routes, plus
connection state changes. The engine acks what the ack expression selects
and reconnects when the stream drops, until interrupted.

Outputs one JSON object per line with -o json.

Examples:
  courier connect --user alice@example.com
  courier connect -o json | jq 'select(.kind == "content")'
  courier connect --metrics-addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := newPrinter(raw)
			return cli.RunCommand(cli.CommandConfig{
				Name:   "connect",
				Viper:  v,
				Engine: true,
				EngineOptions: []engine.Option{
					engine.WithFeedDelegate(p.delegate("feed")),
					engine.WithChatDelegate(p.delegate("chat")),
					engine.OnTransition(func(_, to engine.State) {
						p.emit(Event{Kind: "state", State: to.String()})
					}),
					engine.OnLogout(p.logout),
					engine.OnUnrouted(func(s *stanza.Stanza) {
						p.emit(Event{Kind: "unrouted", ID: s.ID(), From: s.From(), Stanza: s.String()})
					}),
				},
				Run: func(ctx context.Context, rt *runtime.Runtime, _ config.Config, out *cli.Output) error {
					p.mu.Lock()
					p.out = out
					p.mu.Unlock()
					return run(ctx, rt, p)
				},
			})
		},
	}

	config.BindCommonFlags(cmd, v)
	config.BindServeFlags(cmd, v)
	cmd.Flags().String("ack", "", "CEL expression selecting stanzas to ack")
	_ = v.BindPFlag("ack.expression", cmd.Flags().Lookup("ack"))
	cmd.Flags().BoolVar(&raw, "raw", false, "include the raw stanza for receipts")

	return cmd
}

func run(ctx context.Context, rt *runtime.Runtime, p *printer) error {
	e := engine.From(rt)
	rt.Log().InfoContext(ctx, "connecting")
	e.Connect()

	select {
	case <-ctx.Done():
		return drain(e)
	case <-p.loggedOut:
		return fmt.Errorf("logged out")
	}
}

// drain disconnects gracefully so in-flight acks reach the server.
func drain(e *engine.Engine) error {
	e.Disconnect()
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	return e.Sync(ctx)
}
