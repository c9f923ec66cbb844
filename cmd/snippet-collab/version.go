package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codeengage/snippet-collab/internal/server"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "snippet-collab version %s\n", server.Version)
			return err
		},
	}
}
