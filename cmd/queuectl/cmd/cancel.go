package cmd

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
)

// MakeCancelCommand returns the `cancel` command. It accepts more than one
// job id so an operator can cancel a batch in one call; per-id failures are
// collected with go-multierror rather than aborting after the first one,
// the way boskos/client callers aggregate per-resource release errors.
func MakeCancelCommand() *cobra.Command {
	var reason string
	c := &cobra.Command{
		Use:   "cancel [job-id...]",
		Short: "Request cancellation of one or more queued or running jobs.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFromFlags(cmd)
			if err != nil {
				return err
			}
			var result *multierror.Error
			for _, id := range args {
				if err := client.Cancel(context.Background(), id, reason); err != nil {
					result = multierror.Append(result, fmt.Errorf("cancel job %s: %w", id, err))
					continue
				}
				fmt.Printf("cancel requested for %s\n", id)
			}
			return result.ErrorOrNil()
		},
	}
	c.Flags().StringVar(&reason, "reason", "", "reason recorded alongside the cancel request")
	return c
}
