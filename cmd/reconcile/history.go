package main

import (
	"github.com/spf13/cobra"
)

func newHistoryCmd(c *cli) *cobra.Command {
	var (
		workspace string
		limit     int
		store     storeOptions
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print stored run snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			runs, closeStore, err := store.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = closeStore() }()

			snapshots, err := runs.ListSnapshots(cmd.Context(), workspace, limit)
			if err != nil {
				return err
			}
			return writeJSON(c, snapshots)
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", defaultWorkspace, "workspace id")
	cmd.Flags().IntVar(&limit, "limit", 10, "max snapshots to print (0 = all)")
	store.bind(cmd, storeSQLite)
	return cmd
}
