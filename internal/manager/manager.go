package manager

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"zimage/internal/worker"
	"zimage/pkg/types"
)

// Manager is the generation service: it owns the pipeline cache and routes
// every device-touching call through the worker.
type Manager struct {
	cfg        Config
	worker     *worker.Worker
	ownsWorker bool
	cache      *PipelineCache
	adapters   *AdapterApplier
	log        zerolog.Logger
	pub        EventPublisher
	started    time.Time

	mu      sync.RWMutex
	state   State
	lastErr string

	modelsOnce sync.Once
	models     types.ModelsResponse

	closed atomic.Bool
}

func New(cfg Config) *Manager {
	cfg.applyDefaults()
	m := &Manager{
		cfg:      cfg,
		worker:   cfg.Worker,
		cache:    newPipelineCache(cfg),
		adapters: NewAdapterApplier(cfg.LoadAdapter, cfg.Logger),
		log:      cfg.Logger,
		pub:      cfg.Publisher,
		started:  time.Now(),
		state:    StateIdle,
	}
	if m.worker == nil {
		m.worker = worker.New(worker.WithLogger(cfg.Logger), worker.WithMaxDepth(cfg.MaxQueueDepth))
		m.ownsWorker = true
	}
	return m
}

// Ready reports whether the manager accepts work. A pipeline is built lazily,
// so idle counts as ready.
func (m *Manager) Ready() bool {
	if m.closed.Load() || m.worker.Stopped() {
		return false
	}
	return m.State() != StateError
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	if err == nil {
		m.lastErr = ""
	} else {
		m.lastErr = err.Error()
	}
	m.mu.Unlock()
}

func (m *Manager) Worker() *worker.Worker { return m.worker }

func (m *Manager) Cache() *PipelineCache { return m.cache }

// Release drops the cached pipeline on the worker.
func (m *Manager) Release(ctx context.Context) error {
	_, err := m.worker.Submit(ctx, "release", func() (any, error) {
		err := m.cache.Release(context.WithoutCancel(ctx))
		m.setState(StateIdle)
		return nil, err
	})
	return err
}

// Close releases the pipeline and stops the worker if the manager started it.
// Safe to call more than once.
func (m *Manager) Close(ctx context.Context) error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs error
	if !m.worker.Stopped() {
		errs = multierr.Append(errs, m.Release(ctx))
	}
	if m.ownsWorker {
		select {
		case <-m.worker.Stop():
		case <-ctx.Done():
			errs = multierr.Append(errs, ctx.Err())
		}
	}
	if c, ok := m.cfg.Builder.(interface{ Close() error }); ok {
		errs = multierr.Append(errs, c.Close())
	}
	m.setState(StateStopped)
	return errs
}
