package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version information
const (
	Version = "0.1.0"
	Name    = "arrow-wasm-ffi"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s v%s\n", Name, Version)
		},
	}
}
