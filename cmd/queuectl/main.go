package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/moonward/moonward/cmd/queuectl/cmd"
)

var rootCommand = &cobra.Command{
	Use:   "queuectl",
	Short: "queuectl is a client for the moonward job queue service.",
}

func run() error {
	rootCommand.PersistentFlags().String("server", "http://localhost:8080", "base URL of the queue service")
	rootCommand.AddCommand(cmd.MakeSubmitCommand())
	rootCommand.AddCommand(cmd.MakeGetCommand())
	rootCommand.AddCommand(cmd.MakeListCommand())
	rootCommand.AddCommand(cmd.MakeCancelCommand())
	rootCommand.AddCommand(cmd.MakePauseCommand())
	rootCommand.AddCommand(cmd.MakeResumeCommand())
	rootCommand.AddCommand(cmd.MakeStatusCommand())
	return rootCommand.Execute()
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
