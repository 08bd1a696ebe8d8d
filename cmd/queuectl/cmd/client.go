// Package cmd holds queuectl's subcommands, one file per verb, the same
// layout as gopherage/cmd's sibling command packages.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/moonward/moonward/internal/queueclient"
)

func clientFromFlags(cmd *cobra.Command) (*queueclient.Client, error) {
	server, err := cmd.Flags().GetString("server")
	if err != nil {
		return nil, fmt.Errorf("--server flag: %w", err)
	}
	if server == "" {
		return nil, fmt.Errorf("--server must not be empty")
	}
	return queueclient.New(server), nil
}
