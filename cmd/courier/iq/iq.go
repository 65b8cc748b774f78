// Package iq implements "courier iq": send one info/query and print the
// reply.
package iq

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/courier/internal/cli"
	"github.com/gezibash/courier/internal/config"
	"github.com/gezibash/courier/pkg/engine"
	cerrors "github.com/gezibash/courier/pkg/errors"
	"github.com/gezibash/courier/pkg/request"
	"github.com/gezibash/courier/pkg/runtime"
	"github.com/gezibash/courier/pkg/stanza"
)

// Entrypoint returns the iq command.
func Entrypoint(v *viper.Viper) *cobra.Command {
	var (
		to      string
		retries int
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "iq <get|set> [payload]",
		Short: "Send an info/query and print the reply",
		Long: `Send one iq carrying the given XML payload and print the reply. Without
a payload argument the payload is read from stdin.

The request is resent after a reconnect until its retry budget runs out.

Examples:
  courier iq get '<query xmlns="jabber:iq:roster"/>'
  echo '<vCard xmlns="vcard-temp"/>' | courier iq get --to bob@example.com
  courier iq set < block.xml -o json`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := args[0]
			if kind != "get" && kind != "set" {
				return fmt.Errorf("iq type must be get or set, got %q", kind)
			}
			raw, err := payload(args[1:], cmd.InOrStdin())
			if err != nil {
				return err
			}
			var body *stanza.Stanza
			if strings.TrimSpace(raw) != "" {
				if body, err = stanza.Decode([]byte(raw)); err != nil {
					return fmt.Errorf("payload: %w", err)
				}
			}

			return cli.RunCommand(cli.CommandConfig{
				Name:    "iq",
				Viper:   v,
				Engine:  true,
				Timeout: timeout,
				Run: func(ctx context.Context, rt *runtime.Runtime, _ config.Config, out *cli.Output) error {
					opts := []request.Option{request.To(to), request.WithRetries(retries)}
					q := request.Get(body, opts...)
					if kind == "set" {
						q = request.Set(body, opts...)
					}
					return run(ctx, engine.From(rt), out, q)
				},
			})
		},
	}

	config.BindCommonFlags(cmd, v)
	cmd.Flags().StringVar(&to, "to", "", "address the iq to this entity")
	cmd.Flags().IntVar(&retries, "retries", request.DefaultRetries, "resends allowed after a reconnect")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "give up after this long")

	return cmd
}

// payload takes the argument if given, else stdin unless it is a terminal.
func payload(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if f, ok := stdin.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		return "", nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}

func run(ctx context.Context, e *engine.Engine, out *cli.Output, q *request.IQ) error {
	e.Enqueue(q)
	e.Connect()
	defer e.Disconnect()

	r, err := q.Wait(ctx)
	if err != nil {
		var se *cerrors.ServerError
		if errors.As(err, &se) {
			_ = out.Error("iq", err).WithCode(se.Condition).With("id", q.ID()).Render()
			return err
		}
		_ = out.Error("iq", err).With("id", q.ID()).Render()
		return err
	}

	res := out.Result("iq", "reply received").
		With("ID", q.ID()).
		With("RTT", r.RTT)
	if from := r.Response.From(); from != "" {
		res.With("From", from)
	}
	if c := r.Response.FirstChild(); c != nil {
		res.With("Payload", c.String())
	}
	return res.Render()
}
