// Package ping implements "courier ping": XEP-0199 round trips through the
// engine's request queue.
package ping

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/courier/internal/cli"
	"github.com/gezibash/courier/internal/config"
	"github.com/gezibash/courier/pkg/engine"
	"github.com/gezibash/courier/pkg/request"
	"github.com/gezibash/courier/pkg/runtime"
)

// Entrypoint returns the ping command.
func Entrypoint(v *viper.Viper) *cobra.Command {
	var (
		count    int
		interval time.Duration
		timeout  time.Duration
		to       string
	)

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Measure round trips to the server",
		Long: `Send XEP-0199 pings and report each round trip. Pings are queued before
the connection is up and sent as soon as it is, so the first one includes
no connect time.

Examples:
  courier ping --user alice@example.com
  courier ping -c 10 -i 200ms
  courier ping --to bob@example.com/phone -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return fmt.Errorf("count must be at least 1")
			}
			return cli.RunCommand(cli.CommandConfig{
				Name:   "ping",
				Viper:  v,
				Engine: true,
				Run: func(ctx context.Context, rt *runtime.Runtime, _ config.Config, out *cli.Output) error {
					return run(ctx, engine.From(rt), out, count, interval, timeout, to)
				},
			})
		},
	}

	config.BindCommonFlags(cmd, v)
	cmd.Flags().IntVarP(&count, "count", "c", 4, "number of pings")
	cmd.Flags().DurationVarP(&interval, "interval", "i", time.Second, "wait between pings")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "give up on a ping after this long")
	cmd.Flags().StringVar(&to, "to", "", "ping this entity instead of the server")

	return cmd
}

type stats struct {
	sent, ok      int
	min, max, sum time.Duration
}

func (s *stats) add(rtt time.Duration) {
	if s.ok == 0 || rtt < s.min {
		s.min = rtt
	}
	if rtt > s.max {
		s.max = rtt
	}
	s.ok++
	s.sum += rtt
}

func (s *stats) avg() time.Duration {
	if s.ok == 0 {
		return 0
	}
	return s.sum / time.Duration(s.ok)
}

func run(ctx context.Context, e *engine.Engine, out *cli.Output, count int, interval, timeout time.Duration, to string) error {
	e.Connect()
	defer e.Disconnect()

	tbl := out.Table("ping", "Seq", "ID", "RTT", "Error")
	var st stats
	for seq := 1; seq <= count; seq++ {
		if seq > 1 {
			select {
			case <-ctx.Done():
				return render(tbl, &st)
			case <-time.After(interval):
			}
		}

		p := request.NewPing(request.To(to), request.WithRetries(0))
		e.Enqueue(p)

		pctx, cancel := context.WithTimeout(ctx, timeout)
		_, err := p.Wait(pctx)
		cancel()
		st.sent++

		if err != nil {
			tbl.AddRow(seq, p.ID(), nil, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		rtt, _ := p.RTT()
		st.add(rtt)
		tbl.AddRow(seq, p.ID(), rtt, nil)
	}
	return render(tbl, &st)
}

func render(tbl *cli.Table, st *stats) error {
	loss := 0
	if st.sent > 0 {
		loss = 100 * (st.sent - st.ok) / st.sent
	}
	r := func(d time.Duration) time.Duration { return d.Round(10 * time.Microsecond) }
	tbl.Footer(fmt.Sprintf("%d/%d", st.ok, st.sent), fmt.Sprintf("%d%% loss", loss),
		st.avg(), fmt.Sprintf("min %s max %s", r(st.min), r(st.max)))
	if err := tbl.Render(); err != nil {
		return err
	}
	if st.ok == 0 {
		return fmt.Errorf("no replies")
	}
	return nil
}
