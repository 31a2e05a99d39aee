// Package runner implements pipeline.Builder on top of a local diffusion
// runner process that speaks a small HTTP/JSON protocol.
//
// The backend either spawns the runner binary (one process, reused across
// pipeline rebuilds) or attaches to an already running instance by URL.
package runner

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"zimage/internal/pipeline"
)

// ErrUnavailable marks failures to reach or start the runner.
var ErrUnavailable = pipeline.ErrUnavailable

// Config selects spawn or attach mode. URL wins when both are set.
type Config struct {
	Bin          string
	Args         []string
	URL          string
	Host         string
	PortStart    int
	PortEnd      int
	StartTimeout time.Duration
	Logger       zerolog.Logger
}

const defaultStartTimeout = 120 * time.Second

// Backend is a pipeline.Builder backed by one runner.
type Backend struct {
	cfg  Config
	log  zerolog.Logger
	http *http.Client

	mu   sync.Mutex
	proc *process
	base string
}

// New returns a Backend. It does not contact the runner until Build.
func New(cfg Config) *Backend {
	if strings.TrimSpace(cfg.Host) == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = defaultStartTimeout
	}
	// Timeout=0: every call carries its own context deadline.
	return &Backend{cfg: cfg, log: cfg.Logger, http: &http.Client{Timeout: 0}}
}

// Bin returns the configured runner binary.
func (b *Backend) Bin() string { return b.cfg.Bin }

// URL returns the attach URL, if any.
func (b *Backend) URL() string { return b.cfg.URL }

// Configured reports whether a binary or URL was provided.
func (b *Backend) Configured() bool {
	return strings.TrimSpace(b.cfg.URL) != "" || strings.TrimSpace(b.cfg.Bin) != ""
}

// Build loads a pipeline on the runner for opts.
func (b *Backend) Build(ctx context.Context, opts pipeline.Options) (pipeline.Core, error) {
	base, err := b.ensure(ctx)
	if err != nil {
		return nil, err
	}
	c := &client{base: base, http: b.http}
	req := loadRequest{
		ModelID:        opts.ModelID,
		Precision:      string(opts.Precision),
		DType:          string(opts.DType),
		LowCPUMemUsage: opts.LowCPUMemUsage,
	}
	if err := c.postJSON(ctx, "/v1/pipeline", req, nil); err != nil {
		return nil, fmt.Errorf("load %s: %w", opts.ModelID, err)
	}
	b.log.Info().Str("model", opts.ModelID).Str("dtype", string(opts.DType)).Bool("low_cpu_mem_usage", opts.LowCPUMemUsage).Msg("runner pipeline loaded")
	return &core{c: c}, nil
}

// ensure returns the base URL of a healthy runner, spawning it if needed.
func (b *Backend) ensure(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if u := strings.TrimRight(strings.TrimSpace(b.cfg.URL), "/"); u != "" {
		if err := waitHealthy(ctx, b.http, u, b.cfg.StartTimeout); err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrUnavailable, u, err)
		}
		return u, nil
	}
	if strings.TrimSpace(b.cfg.Bin) == "" {
		return "", fmt.Errorf("%w: no runner binary or url configured", ErrUnavailable)
	}
	if b.proc != nil {
		if b.proc.alive() && isHealthy(ctx, b.http, b.base, time.Second) {
			return b.base, nil
		}
		// unhealthy: drop and respawn
		_ = b.proc.stop(2 * time.Second)
		b.proc = nil
	}
	p, base, err := spawn(ctx, b.http, b.cfg, b.log)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	b.proc, b.base = p, base
	return base, nil
}

// Runtime reports what the runner says about itself.
func (b *Backend) Runtime(ctx context.Context) (pipeline.RuntimeInfo, error) {
	base, err := b.ensure(ctx)
	if err != nil {
		return pipeline.RuntimeInfo{}, err
	}
	var info pipeline.RuntimeInfo
	err = (&client{base: base, http: b.http}).getJSON(ctx, "/health", &info)
	return info, err
}

// PID returns the spawned process id, or 0 in attach mode.
func (b *Backend) PID() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.proc == nil {
		return 0
	}
	return b.proc.pid
}

// Close stops a spawned runner. Attach mode leaves the remote alone.
func (b *Backend) Close() error {
	b.mu.Lock()
	p := b.proc
	b.proc = nil
	b.mu.Unlock()
	if p == nil {
		return nil
	}
	err := p.stop(2 * time.Second)
	b.log.Info().Int("pid", p.pid).Msg("runner stopped")
	return err
}

var _ pipeline.Builder = (*Backend)(nil)
