package manager

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"zimage/internal/device"
	"zimage/internal/pipeline"
)

// PipelineCache holds at most one constructed pipeline, keyed by precision.
// GetOrBuild, Release and Fallback must only run on the worker goroutine;
// Snapshot and Builds are safe from anywhere.
type PipelineCache struct {
	builder     pipeline.Builder
	prober      DeviceProber
	gate        CompileGate
	reclaimHost func()
	log         zerolog.Logger
	pub         EventPublisher

	entry   *Entry
	current atomic.Pointer[EntryInfo]
	builds  atomic.Int64
}

func newPipelineCache(cfg Config) *PipelineCache {
	return &PipelineCache{
		builder:     cfg.Builder,
		prober:      cfg.Prober,
		gate:        CompileGate{Override: cfg.EnableCompile, Getenv: cfg.Getenv},
		reclaimHost: cfg.ReclaimHost,
		log:         cfg.Logger,
		pub:         cfg.Publisher,
	}
}

// GetOrBuild returns the cached entry for key, building it if needed. A
// different cached key is released before the new pipeline is constructed.
func (c *PipelineCache) GetOrBuild(ctx context.Context, key pipeline.Precision) (*Entry, error) {
	if !key.Valid() {
		return nil, ErrConfiguration("unknown precision %q", key)
	}
	if c.entry != nil && c.entry.Key == key {
		return c.entry, nil
	}
	if c.entry != nil {
		c.log.Info().Str("from", string(c.entry.Key)).Str("to", string(key)).Msg("switching pipeline")
		_ = c.Release(ctx)
	}
	if c.builder == nil {
		return nil, ErrDependencyUnavailable("no pipeline runtime configured")
	}
	start := time.Now()
	e, err := c.build(ctx, key)
	if err != nil {
		pipelineBuildsTotal.WithLabelValues(string(key), "error").Inc()
		c.pub.Publish(Event{Name: EventBuildFailed, ModelID: key.ModelID(), Fields: map[string]any{"error": err.Error()}})
		return nil, err
	}
	c.builds.Add(1)
	pipelineBuildsTotal.WithLabelValues(string(key), "ok").Inc()
	c.entry = e
	c.current.Store(e.info())
	c.log.Info().Str("precision", string(key)).Str("model", e.ModelID).Str("device", string(e.Device.Kind)).
		Str("dtype", string(e.DType)).Bool("compiled", e.Compiled).Dur("took", time.Since(start)).Msg("pipeline ready")
	c.pub.Publish(Event{Name: EventBuildReady, ModelID: e.ModelID, Fields: map[string]any{"device": string(e.Device.Kind), "compiled": e.Compiled}})
	return e, nil
}

func (c *PipelineCache) build(ctx context.Context, key pipeline.Precision) (e *Entry, err error) {
	info := c.prober.Detect(ctx)
	dtype := device.SelectDType(info)
	opts := pipeline.Options{
		Precision:      key,
		ModelID:        key.ModelID(),
		Device:         info.Kind,
		DType:          dtype,
		LowCPUMemUsage: device.LowCPUMemUsage(key == pipeline.Full, info.RAMGB),
	}
	c.pub.Publish(Event{Name: EventBuildStart, ModelID: opts.ModelID, Fields: map[string]any{"device": string(info.Kind), "dtype": string(dtype)}})
	core, err := c.builder.Build(ctx, opts)
	if err != nil {
		return nil, runtimeFailure(fmt.Errorf("build %s: %w", opts.ModelID, err))
	}
	// A half-built pipeline is never cached.
	defer func() {
		if err != nil {
			if cerr := core.Close(); cerr != nil {
				c.log.Warn().Err(cerr).Msg("closing partially built pipeline")
			}
		}
	}()
	if err = core.To(ctx, info.Kind); err != nil {
		return nil, runtimeFailure(fmt.Errorf("move pipeline to %s: %w", info.Kind, err))
	}
	h := pipeline.Ensure(core)
	e = &Entry{Key: key, ModelID: opts.ModelID, Handle: h, Device: info, DType: dtype, BuiltAt: time.Now()}
	e.Runtime = h.Runtime(ctx)

	if e.Runtime.Triton && device.QuantizedMatmul(info.Kind) && h.CanOptimize() {
		if err = h.QuantizeMatmul(ctx); err != nil {
			return nil, runtimeFailure(fmt.Errorf("quantized matmul: %w", err))
		}
		if e.Pristine, err = h.Transformer(ctx); err != nil {
			return nil, runtimeFailure(fmt.Errorf("read transformer: %w", err))
		}
		c.compile(ctx, e)
	}

	if device.CPUOffload(info) {
		if err = h.EnableCPUOffload(ctx); err != nil {
			return nil, runtimeFailure(fmt.Errorf("cpu offload: %w", err))
		}
	}
	if err = h.SetAttentionSlicing(ctx, device.AttentionSlicing(info)); err != nil {
		return nil, runtimeFailure(fmt.Errorf("attention slicing: %w", err))
	}
	if err = h.DisableSafetyChecker(ctx); err != nil {
		return nil, runtimeFailure(fmt.Errorf("disable safety checker: %w", err))
	}
	return e, nil
}

// compile swaps in the compiled transformer when the gate allows it. A
// failure here leaves the pristine transformer active.
func (c *PipelineCache) compile(ctx context.Context, e *Entry) {
	ok, reason := c.gate.Decide(e.Runtime, e.Device.Kind)
	if !ok {
		c.log.Info().Str("reason", reason).Msgf("compile disabled; set %s=1 to force", EnvEnableCompile)
		return
	}
	compiled, err := e.Handle.Compile(ctx, e.Pristine)
	if err == nil {
		err = e.Handle.SetTransformer(ctx, compiled)
	}
	if err != nil {
		c.log.Warn().Err(err).Msg("compile failed during setup")
		return
	}
	e.Compiled = true
	c.log.Info().Str("reason", reason).Msg("compiled transformer enabled")
	c.pub.Publish(Event{Name: EventCompileEnabled, ModelID: e.ModelID, Fields: map[string]any{"reason": reason}})
}

// Fallback restores the pristine transformer on a compiled entry.
func (c *PipelineCache) Fallback(ctx context.Context, e *Entry) error {
	if !e.Compiled {
		return errors.New("pipeline is not running a compiled transformer")
	}
	if err := e.Handle.SetTransformer(ctx, e.Pristine); err != nil {
		return fmt.Errorf("restore pristine transformer: %w", err)
	}
	e.Compiled = false
	if c.entry == e {
		c.current.Store(e.info())
	}
	compileFallbacksTotal.Inc()
	c.pub.Publish(Event{Name: EventCompileFallback, ModelID: e.ModelID})
	return nil
}

// Release drops the cached pipeline and runs a reclamation pass. Failures are
// returned as cleanup errors and already logged.
func (c *PipelineCache) Release(ctx context.Context) error {
	e := c.entry
	if e == nil {
		return nil
	}
	c.entry = nil
	c.current.Store(nil)
	var err error
	if cerr := e.Handle.Close(); cerr != nil {
		err = ErrCleanup("close pipeline", cerr)
		c.log.Warn().Err(cerr).Str("precision", string(e.Key)).Msg("pipeline close failed")
	}
	c.reclaimHost()
	if rerr := e.Handle.Reclaim(ctx); rerr != nil {
		c.log.Warn().Err(rerr).Msg("device memory reclaim failed")
		if err == nil {
			err = ErrCleanup("reclaim", rerr)
		}
	}
	c.pub.Publish(Event{Name: EventRelease, ModelID: e.ModelID})
	return err
}

// Current returns the cached entry. Worker goroutine only.
func (c *PipelineCache) Current() *Entry { return c.entry }

// Snapshot returns what is cached, or nil.
func (c *PipelineCache) Snapshot() *EntryInfo { return c.current.Load() }

// Builds counts successful constructions.
func (c *PipelineCache) Builds() int64 { return c.builds.Load() }

// runtimeFailure keeps unavailable-runtime errors distinguishable and marks
// everything else as fatal to the request.
func runtimeFailure(err error) error {
	if errors.Is(err, pipeline.ErrUnavailable) {
		return err
	}
	return ErrUnrecoverable(err)
}
