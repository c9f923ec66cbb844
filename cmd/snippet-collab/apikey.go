package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codeengage/snippet-collab/pkg/auth"
)

func newAPIKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "API key utilities",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "hash [key]",
		Short: "Print the bcrypt hash of an API key for auth.api_keys.keys",
		Long:  "Hashes the key given as argument, or the first line of stdin when no argument is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := readKey(cmd, args)
			if err != nil {
				return err
			}
			hash, err := auth.HashAPIKey(key)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	})
	return cmd
}

func readKey(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", errors.New("no api key given on stdin")
	}
	return strings.TrimRight(line, "\r\n"), nil
}
