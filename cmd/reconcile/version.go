package main

import (
	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/reconciler/internal/version"
)

func newVersionCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return writeJSON(c, version.Current())
		},
	}
}
