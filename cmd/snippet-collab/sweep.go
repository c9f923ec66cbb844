package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codeengage/snippet-collab/internal/server"
)

func newSweepCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired sessions once and exit",
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			path, err := opts.configPath()
			if err != nil {
				return err
			}
			p, err := server.NewWithConfig(path)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := p.Close(); cerr != nil && err == nil {
					err = cerr
				}
			}()

			removed, err := p.Manager().SweepExpired(cmd.Context())
			if err != nil {
				return fmt.Errorf("sweeping sessions: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired session(s)\n", removed)
			return err
		},
	}
}
