package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// MakeGetCommand returns the `get` command.
func MakeGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get [job-id]",
		Short: "Fetch a job by id.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFromFlags(cmd)
			if err != nil {
				return err
			}
			job, err := client.GetJob(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("get job %s: %w", args[0], err)
			}
			return printJSON(job)
		},
	}
}
