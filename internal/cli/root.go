// Package cli is the zimage command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"zimage/internal/config"
	"zimage/internal/httpapi"
	"zimage/internal/logging"
	"zimage/internal/studio"
)

// Version is stamped at build time.
var Version = "dev"

// service is what the commands need from a studio.
type service interface {
	httpapi.Service
	Close(ctx context.Context) error
}

// Hooks for tests.
var (
	fnOpenStudio = func(ctx context.Context, cfg config.Config, log zerolog.Logger) (service, error) {
		s, err := studio.Open(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	fnLoadDotEnv = func() error { return config.LoadDotEnv() }
)

// app carries the state shared by subcommands once the root has run.
type app struct {
	configPath string
	logLevel   string
	dataDir    string
	outputDir  string

	cfg    config.Config
	log    zerolog.Logger
	closer io.Closer
}

// open builds the studio from the resolved configuration.
func (a *app) open(ctx context.Context) (service, error) {
	return fnOpenStudio(ctx, a.cfg, a.log)
}

// closeService shuts svc down with a bounded wait.
func (a *app) closeService(svc service) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := svc.Close(ctx); err != nil {
		a.log.Warn().Err(err).Msg("shutdown")
	}
}

// setup loads .env, the config file and environment overrides, then
// applies flags and builds the logger.
func (a *app) setup() error {
	if err := fnLoadDotEnv(); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg, path, err := config.LoadOrDefault(a.configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	config.ApplyEnv(&cfg, nil)
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if a.dataDir != "" {
		cfg.DataDir = a.dataDir
	}
	if a.outputDir != "" {
		cfg.OutputDir = a.outputDir
	}
	a.cfg = cfg
	a.log, a.closer = logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if path != "" {
		a.log.Debug().Str("path", path).Msg("config loaded")
	}
	return nil
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "zimage",
		Short:         "Local text-to-image studio: web API, MCP server and CLI",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.closer != nil {
				return a.closer.Close()
			}
			return nil
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "Config file (.yaml, .toml or .json); defaults to ~/"+config.AppDir+"/config.*")
	pf.StringVar(&a.logLevel, "log-level", "", "Log level: debug|info|warn|error|off")
	pf.StringVar(&a.dataDir, "data-dir", "", "Data directory (overrides "+config.EnvDataDir+")")
	pf.StringVar(&a.outputDir, "output-dir", "", "Directory for generated images (overrides "+config.EnvOutputDir+")")

	root.AddCommand(
		newServeCmd(a),
		newGenerateCmd(a),
		newMCPCmd(a),
		newModelsCmd(a),
		newLorasCmd(a),
		newHistoryCmd(a),
	)
	return root
}

// MainWithArgs runs the command tree and returns the process exit code.
func MainWithArgs(args []string) int {
	root := NewRootCmd()
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		printError(os.Stderr, err)
		if errors.Is(err, errUsage) {
			return 2
		}
		return 1
	}
	return 0
}
