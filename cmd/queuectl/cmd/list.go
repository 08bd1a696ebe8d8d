package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

// MakeListCommand returns the `list` command.
func MakeListCommand() *cobra.Command {
	var status, typ string
	c := &cobra.Command{
		Use:   "list",
		Short: "List jobs, optionally filtered by status and type.",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFromFlags(cmd)
			if err != nil {
				return err
			}
			jobs, err := client.ListJobs(context.Background(), status, typ)
			if err != nil {
				return err
			}
			return printJSON(jobs)
		},
	}
	c.Flags().StringVar(&status, "status", "", "filter by status: queued, running, succeeded, failed, cancelled")
	c.Flags().StringVar(&typ, "type", "", "filter by type: task, manifest")
	return c
}
