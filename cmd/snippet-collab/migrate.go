package main

import (
	"database/sql"
	"errors"
	"fmt"

	gomigrate "github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/codeengage/snippet-collab/internal/server"
	"github.com/codeengage/snippet-collab/pkg/database/migrate"
	"github.com/codeengage/snippet-collab/pkg/platform"
)

func newMigrateCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDatabase(opts, func(db *sql.DB) error {
					if err := migrate.Run(db); err != nil {
						return err
					}
					return printVersion(cmd, db)
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back every migration, dropping all tables",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDatabase(opts, func(db *sql.DB) error {
					if err := migrate.Down(db); err != nil {
						return err
					}
					_, err := fmt.Fprintln(cmd.OutOrStdout(), "all migrations rolled back")
					return err
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDatabase(opts, func(db *sql.DB) error {
					return printVersion(cmd, db)
				})
			},
		},
	)
	return cmd
}

func withDatabase(opts *cliOptions, fn func(*sql.DB) error) (err error) {
	path, err := opts.configPath()
	if err != nil {
		return err
	}
	cfg, err := server.LoadConfig(path)
	if err != nil {
		return err
	}
	if cfg.Database.DSN == "" {
		return errors.New("database.dsn is required for migrations")
	}

	db, err := platform.OpenDatabase(cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(db)
}

func printVersion(cmd *cobra.Command, db *sql.DB) error {
	version, dirty, err := migrate.Version(db)
	if errors.Is(err, gomigrate.ErrNilVersion) {
		_, err = fmt.Fprintln(cmd.OutOrStdout(), "no migrations applied")
		return err
	}
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	out := fmt.Sprintf("schema version %d", version)
	if dirty {
		out += " (dirty)"
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
	return err
}
