package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codeengage/snippet-collab/internal/server"
)

func newServeCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := opts.configPath()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), path)
		},
	}
}

func runServe(parent context.Context, configPath string) (err error) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := server.NewWithConfig(configPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := p.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("starting platform: %w", err)
	}

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("serve: shutdown requested")
	case serveErr = <-p.Server().Err():
		slog.Error("serve: http server failed", "error", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), p.Config().Server.ShutdownTimeout)
	defer cancel()
	if err := p.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("stopping platform: %w", err)
	}
	if serveErr != nil {
		return fmt.Errorf("serving http: %w", serveErr)
	}
	slog.Info("serve: stopped")
	return nil
}
