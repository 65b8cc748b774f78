package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(w, "courier %s\n", version)
			_, _ = fmt.Fprintf(w, "  commit:  %s\n", commit)
			_, _ = fmt.Fprintf(w, "  built:   %s\n", buildDate)
			_, _ = fmt.Fprintf(w, "  go:      %s\n", runtime.Version())
		},
	}
}
