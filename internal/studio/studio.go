// Package studio composes the generation manager, the history store and the
// on-disk output and LoRA directories into the service every front end uses.
package studio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"zimage/internal/config"
	"zimage/internal/manager"
	"zimage/internal/pipeline"
	"zimage/internal/pipeline/runner"
	"zimage/internal/store"
	"zimage/pkg/types"
)

// Engine runs generations. *manager.Manager satisfies it.
type Engine interface {
	Generate(ctx context.Context, req manager.Request) (*manager.Result, error)
	Models(ctx context.Context) types.ModelsResponse
	DefaultPrecision() pipeline.Precision
	Status() types.StatusResponse
	Ready() bool
	Close(ctx context.Context) error
}

// Options wires a Studio.
type Options struct {
	Paths  config.Paths
	Engine Engine
	Store  *store.Store
	Logger zerolog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Studio is the application service behind HTTP, MCP and the CLI.
type Studio struct {
	paths  config.Paths
	engine Engine
	store  *store.Store
	log    zerolog.Logger
	now    func() time.Time
}

// New validates opts and makes sure the output and LoRA directories exist.
func New(opts Options) (*Studio, error) {
	if opts.Engine == nil {
		return nil, errors.New("studio: engine is required")
	}
	if opts.Store == nil {
		return nil, errors.New("studio: store is required")
	}
	for _, dir := range []string{opts.Paths.OutputDir, opts.Paths.LorasDir} {
		if dir == "" {
			return nil, errors.New("studio: output and loras directories are required")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("studio: %w", err)
		}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Studio{
		paths:  opts.Paths,
		engine: opts.Engine,
		store:  opts.Store,
		log:    opts.Logger,
		now:    opts.Now,
	}, nil
}

// Open builds a Studio from configuration: resolved paths, the SQLite store,
// the runner backend and a manager that owns the device worker. Files already
// present in the LoRA directory are registered.
func Open(ctx context.Context, cfg config.Config, log zerolog.Logger) (*Studio, error) {
	paths, err := config.ResolvePaths(cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("resolve paths: %w", err)
	}
	var def pipeline.Precision
	if cfg.DefaultPrecision != "" {
		if def, err = pipeline.ParsePrecision(cfg.DefaultPrecision); err != nil {
			return nil, fmt.Errorf("default_precision: %w", err)
		}
		if def != pipeline.Full && cfg.DisableQuantization {
			return nil, fmt.Errorf("default_precision %s requires quantization, which is disabled", def)
		}
	}
	st, err := store.Open(paths.DBPath, log.With().Str("component", "store").Logger())
	if err != nil {
		return nil, err
	}
	backend := runner.New(runner.Config{
		Bin:       cfg.RunnerBin,
		Args:      cfg.RunnerArgs,
		URL:       cfg.RunnerURL,
		PortStart: cfg.RunnerPortStart,
		PortEnd:   cfg.RunnerPortEnd,
		Logger:    log.With().Str("component", "runner").Logger(),
	})
	mgr := manager.New(manager.Config{
		Builder:             backend,
		Logger:              log.With().Str("component", "manager").Logger(),
		DefaultPrecision:    def,
		DisableQuantization: cfg.DisableQuantization,
		MaxQueueDepth:       cfg.MaxQueueDepth,
		EnableCompile:       cfg.EnableTorchCompile,
	})
	if rep := mgr.SanityCheck(); rep.Error != "" {
		log.Warn().Str("error", rep.Error).Msg("runner not ready; generations will fail until it is configured")
	}
	s, err := New(Options{Paths: paths, Engine: mgr, Store: st, Logger: log})
	if err != nil {
		abandon(ctx, log, mgr, st)
		return nil, err
	}
	if n, err := s.SyncLoras(ctx); err != nil {
		log.Warn().Err(err).Msg("lora sync failed")
	} else if n > 0 {
		log.Info().Int("added", n).Str("dir", paths.LorasDir).Msg("registered lora files found on disk")
	}
	return s, nil
}

// abandon releases what Open built before failing. Close errors are logged.
func abandon(ctx context.Context, log zerolog.Logger, eng Engine, st *store.Store) {
	if err := multierr.Combine(eng.Close(ctx), st.Close()); err != nil {
		log.Warn().Err(err).Msg("close after failed open")
	}
}

// Paths returns the resolved directories.
func (s *Studio) Paths() config.Paths { return s.paths }

// OutputDir is where generated images are written.
func (s *Studio) OutputDir() string { return s.paths.OutputDir }

func (s *Studio) Models(ctx context.Context) types.ModelsResponse { return s.engine.Models(ctx) }

func (s *Studio) Status() types.StatusResponse { return s.engine.Status() }

func (s *Studio) Ready() bool { return s.engine.Ready() }

// Close stops the engine (releasing the pipeline and its worker) and closes
// the store.
func (s *Studio) Close(ctx context.Context) error {
	return multierr.Combine(s.engine.Close(ctx), s.store.Close())
}
