package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

// MakePauseCommand returns the `pause` command.
func MakePauseCommand() *cobra.Command {
	var mode, reason string
	c := &cobra.Command{
		Use:   "pause",
		Short: "Pause new job claims fleet-wide.",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFromFlags(cmd)
			if err != nil {
				return err
			}
			view, err := client.PauseApply(context.Background(), "pause", mode, reason, false)
			if err != nil {
				return err
			}
			return printJSON(view)
		},
	}
	c.Flags().StringVar(&mode, "mode", "drain", "drain: let running jobs finish; quiesce: surrender them for cancellation")
	c.Flags().StringVar(&reason, "reason", "", "reason recorded in the pause audit log")
	return c
}

// MakeResumeCommand returns the `resume` command.
func MakeResumeCommand() *cobra.Command {
	var reason string
	var force bool
	c := &cobra.Command{
		Use:   "resume",
		Short: "Resume job claims after a pause.",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFromFlags(cmd)
			if err != nil {
				return err
			}
			view, err := client.PauseApply(context.Background(), "resume", "", reason, force)
			if err != nil {
				return err
			}
			return printJSON(view)
		},
	}
	c.Flags().StringVar(&reason, "reason", "", "reason recorded in the pause audit log")
	c.Flags().BoolVar(&force, "force", false, "resume even if jobs are still running")
	return c
}

// MakeStatusCommand returns the `status` command.
func MakeStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current worker-pause status and derived job metrics.",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFromFlags(cmd)
			if err != nil {
				return err
			}
			view, err := client.PauseStatus(context.Background())
			if err != nil {
				return err
			}
			return printJSON(view)
		},
	}
}
