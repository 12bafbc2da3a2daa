package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/reposearch/internal/storage"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Args:  cobra.NoArgs,
		// no config needed
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "reposearch %s\n", version)
			fmt.Fprintf(out, "  build time: %s\n", buildTime)
			fmt.Fprintf(out, "  build mode: %s\n", storage.BuildMode)
			fmt.Fprintf(out, "  sqlite driver: %s\n", storage.DriverName)
			fmt.Fprintf(out, "  vector extension: %t\n", storage.VectorExtensionAvailable)
		},
	}
}
