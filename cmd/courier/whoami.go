package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/courier/internal/cli"
	"github.com/gezibash/courier/internal/config"
	"github.com/gezibash/courier/pkg/runtime"
)

// newWhoamiCmd prints the identity and server the other commands would use,
// after flags, environment and config file are merged.
func newWhoamiCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Print the configured account and server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.RunCommand(cli.CommandConfig{
				Name:  "whoami",
				Viper: v,
				Run: func(_ context.Context, _ *runtime.Runtime, cfg config.Config, out *cli.Output) error {
					return out.KV("whoami").
						Set("User", cfg.UserID).
						Set("Server", cfg.ResolvedServerAddr()).
						Set("Transport", cfg.Transport).
						Set("Trust", trustSummary(cfg.TLS)).
						Set("Config", v.ConfigFileUsed()).
						Render()
				},
			})
		},
	}
	config.BindCommonFlags(cmd, v)
	return cmd
}

func trustSummary(c config.TLSConfig) string {
	switch {
	case c.Insecure:
		return "any certificate (insecure)"
	case len(c.PinnedSHA256) > 0:
		return "pinned: " + strings.Join(c.PinnedSHA256, ", ")
	default:
		return "system roots"
	}
}
