// Package server provides a factory for creating the snippet-collab platform.
package server

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/codeengage/snippet-collab/pkg/platform"
)

// Version is set at build time.
var Version = "dev"

// LoadConfig reads the configuration at path and installs the configured
// logger as the slog default.
func LoadConfig(path string) (*platform.Config, error) {
	return loadConfig(path, os.Stderr)
}

func loadConfig(path string, logOut io.Writer) (*platform.Config, error) {
	cfg, err := platform.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger, err := platform.NewLogger(cfg.Logging, logOut)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	slog.SetDefault(logger.With("version", Version))
	return cfg, nil
}

// New creates a platform from an already loaded configuration.
func New(cfg *platform.Config, opts ...platform.Option) (*platform.Platform, error) {
	p, err := platform.New(append([]platform.Option{platform.WithConfig(cfg)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("creating platform: %w", err)
	}
	return p, nil
}

// NewWithConfig loads the configuration file and creates the platform.
func NewWithConfig(path string, opts ...platform.Option) (*platform.Platform, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return New(cfg, opts...)
}
