// Package receipt implements "courier receipt": send a delivery or read
// receipt and wait for the server to ack it.
package receipt

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/courier/internal/cli"
	"github.com/gezibash/courier/internal/config"
	"github.com/gezibash/courier/pkg/engine"
	"github.com/gezibash/courier/pkg/runtime"
	"github.com/gezibash/courier/pkg/stanza"
)

// Entrypoint returns the receipt command.
func Entrypoint(v *viper.Viper) *cobra.Command {
	var (
		kind   string
		thread string
		wait   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "receipt <user> <item-id>",
		Short: "Send a delivery or read receipt",
		Long: `Send a receipt for an item another user sent and wait until the server
acks it. The receipt is resent on every reconnect until then.

Examples:
  courier receipt bob@example.com m-1234
  courier receipt bob@example.com p-9 --kind read --thread feed
  courier receipt bob@example.com g-7 --thread team-42 --wait 1m`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := build(args[0], args[1], kind, thread)
			if err != nil {
				return err
			}

			confirmed := make(chan stanza.Receipt, 1)
			d := engine.DelegateFuncs{Confirmed: func(r stanza.Receipt) {
				select {
				case confirmed <- r:
				default:
				}
			}}

			return cli.RunCommand(cli.CommandConfig{
				Name:    "receipt",
				Viper:   v,
				Engine:  true,
				Timeout: wait,
				EngineOptions: []engine.Option{
					engine.WithFeedDelegate(d),
					engine.WithChatDelegate(d),
				},
				Run: func(ctx context.Context, rt *runtime.Runtime, _ config.Config, out *cli.Output) error {
					return run(ctx, engine.From(rt), out, r, confirmed)
				},
			})
		},
	}

	config.BindCommonFlags(cmd, v)
	cmd.Flags().StringVar(&kind, "kind", "delivery", "receipt kind (delivery, read)")
	cmd.Flags().StringVar(&thread, "thread", "", `thread: "feed", a group id, or empty for a direct chat`)
	cmd.Flags().DurationVar(&wait, "wait", 30*time.Second, "how long to wait for the ack")

	return cmd
}

func build(user, item, kind, thread string) (stanza.Receipt, error) {
	r := stanza.Receipt{
		ItemID:    item,
		UserID:    user,
		Timestamp: time.Now(),
		Thread:    stanza.ParseThread(thread, thread != ""),
	}
	switch kind {
	case "delivery", "received":
		r.Kind = stanza.Delivery
	case "read", "seen":
		r.Kind = stanza.Read
	default:
		return r, fmt.Errorf("kind must be delivery or read, got %q", kind)
	}
	if user == "" || item == "" {
		return r, fmt.Errorf("user and item id are required")
	}
	return r, nil
}

func run(ctx context.Context, e *engine.Engine, out *cli.Output, r stanza.Receipt, confirmed <-chan stanza.Receipt) error {
	e.SendReceipt(r)
	e.Connect()
	defer e.Disconnect()

	start := time.Now()
	select {
	case got := <-confirmed:
		return out.Result("receipt", "receipt acked").
			With("Item", got.ItemID).
			With("User", got.UserID).
			With("Kind", got.Kind.String()).
			With("Thread", got.Thread.String()).
			With("Waited", time.Since(start)).
			Render()
	case <-ctx.Done():
		err := fmt.Errorf("receipt not acked: %w", ctx.Err())
		e2 := out.Error("receipt", err).With("item", r.ItemID)
		if st, serr := e.Stats(context.Background()); serr == nil {
			e2.With("state", st.State.String()).With("unacked", st.UnackedReceipts)
		}
		_ = e2.Render()
		return err
	}
}
