package main

import (
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	envPrefix         = "SNIPPET_COLLAB"
	defaultConfigPath = "config.yaml"
)

// cliOptions resolves settings shared by every subcommand. Flags win over
// SNIPPET_COLLAB_* environment variables.
type cliOptions struct {
	v *viper.Viper
}

func (o *cliOptions) configPath() (string, error) {
	path := o.v.GetString("config")
	if path == "" {
		return "", errors.New("no config file: pass --config or set " + envPrefix + "_CONFIG")
	}
	return path, nil
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{v: viper.New()}
	opts.v.SetEnvPrefix(envPrefix)
	opts.v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:           "snippet-collab",
		Short:         "Collaborative code snippet editing sessions",
		Long:          "snippet-collab serves the collaborative session API: shared editing, cursors, chat, edit locks and invites for code snippets.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", defaultConfigPath, "path to the YAML configuration file")
	_ = opts.v.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(opts),
		newMigrateCmd(opts),
		newSweepCmd(opts),
		newAPIKeyCmd(),
	)
	return rootCmd
}
