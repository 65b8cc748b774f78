package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/courier/cmd/courier/connect"
	"github.com/gezibash/courier/cmd/courier/iq"
	"github.com/gezibash/courier/cmd/courier/ping"
	"github.com/gezibash/courier/cmd/courier/receipt"
	"github.com/gezibash/courier/cmd/courier/watch"
)

func main() {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:          "courier",
		Short:        "Stanza stream client",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("output", "o", "text", "output format (text, json, markdown)")
	_ = v.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))

	rootCmd.AddCommand(connect.Entrypoint(v))
	rootCmd.AddCommand(ping.Entrypoint(v))
	rootCmd.AddCommand(iq.Entrypoint(v))
	rootCmd.AddCommand(receipt.Entrypoint(v))
	rootCmd.AddCommand(watch.Entrypoint(v))
	rootCmd.AddCommand(newWhoamiCmd(v))
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
