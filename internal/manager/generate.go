package manager

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"time"

	"zimage/internal/pipeline"
	"zimage/internal/worker"
)

// MaxSeed is the largest seed handed out when a request carries none.
const MaxSeed = 1<<31 - 1

// Normalize rounds both dimensions down to a multiple of DimensionMultiple,
// never below DimensionMultiple.
func Normalize(width, height int) (int, int) {
	return normalizeDim(width), normalizeDim(height)
}

func normalizeDim(v int) int {
	v -= v % DimensionMultiple
	if v < DimensionMultiple {
		return DimensionMultiple
	}
	return v
}

// generation is a validated request ready to queue.
type generation struct {
	precision pipeline.Precision
	params    pipeline.Params
	adapters  []AdapterSpec
}

// validate checks req and resolves precision and dimensions. It never touches
// the worker.
func (m *Manager) validate(req Request) (generation, error) {
	var g generation
	p, err := m.resolvePrecision(req.Precision)
	if err != nil {
		return g, err
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return g, ErrConfiguration("prompt is required")
	}
	if req.Steps < 1 || req.Steps > MaxSteps {
		return g, ErrConfiguration("steps must be between 1 and %d, got %d", MaxSteps, req.Steps)
	}
	if req.Width <= 0 || req.Height <= 0 {
		return g, ErrConfiguration("width and height must be positive, got %dx%d", req.Width, req.Height)
	}
	if req.Width > MaxDimension || req.Height > MaxDimension {
		return g, ErrConfiguration("width and height must not exceed %d, got %dx%d", MaxDimension, req.Width, req.Height)
	}
	if err := ValidateAdapters(req.Adapters); err != nil {
		return g, err
	}
	w, h := Normalize(req.Width, req.Height)
	g.precision = p
	g.adapters = req.Adapters
	g.params = pipeline.Params{Prompt: prompt, Steps: req.Steps, Width: w, Height: h}
	return g, nil
}

func (m *Manager) resolvePrecision(s string) (pipeline.Precision, error) {
	if strings.TrimSpace(s) == "" {
		return m.DefaultPrecision(), nil
	}
	p, err := pipeline.ParsePrecision(s)
	if err != nil {
		return "", ErrConfiguration("%v", err)
	}
	if p != pipeline.Full && m.cfg.DisableQuantization {
		return "", ErrConfiguration("precision %s requires quantization support, which is disabled", p)
	}
	return p, nil
}

// randomSeed draws a uniform integer in [0, MaxSeed].
func randomSeed(r io.Reader) (int64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b[:]) % (MaxSeed + 1)), nil
}

// RandomSeed draws a seed from the system source.
func RandomSeed() (int64, error) { return randomSeed(rand.Reader) }

func (m *Manager) resolveSeed(seed *int64) (int64, error) {
	if seed != nil {
		return *seed, nil
	}
	s, err := randomSeed(m.cfg.Rand)
	if err != nil {
		// Fall back to the system source if an injected reader runs dry.
		if s, err = randomSeed(rand.Reader); err != nil {
			return 0, fmt.Errorf("seed: %w", err)
		}
	}
	return s, nil
}

// Generate validates req, runs it on the worker and reports the result. A
// cleanup unit is queued afterwards whatever the outcome.
//
// If ctx ends while the unit is queued or running, Generate returns ctx.Err()
// and the unit still runs to completion.
func (m *Manager) Generate(ctx context.Context, req Request) (*Result, error) {
	g, err := m.validate(req)
	if err != nil {
		generationsTotal.WithLabelValues(string(g.precision), "rejected").Inc()
		return nil, err
	}
	seed, err := m.resolveSeed(req.Seed)
	if err != nil {
		return nil, err
	}
	g.params.Seed = seed

	// The unit outlives an impatient caller.
	unitCtx := context.WithoutCancel(ctx)
	res, err := worker.Do(ctx, m.worker, "generate", func() (*Result, error) {
		return m.run(unitCtx, g)
	})
	m.scheduleCleanup(err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// run is the generation unit. Worker goroutine only.
func (m *Manager) run(ctx context.Context, g generation) (res *Result, err error) {
	start := time.Now()
	m.setState(StateLoading)
	e, err := m.cache.GetOrBuild(ctx, g.precision)
	if err != nil {
		m.setState(StateError)
		m.finish(g, nil, start, err)
		return nil, err
	}
	m.setState(StateReady)
	h := e.Handle

	set, err := m.adapters.Apply(ctx, h, g.adapters)
	if err != nil {
		m.finish(g, e, start, err)
		return nil, err
	}
	defer func() { _ = m.adapters.Release(ctx, h, set) }()

	img, err := h.Generate(ctx, g.params)
	retried := false
	if err != nil && e.Compiled && Classify(err) == KindRecoverableCompile {
		m.log.Warn().Err(err).Str("precision", string(g.precision)).Msg("compiled transformer failed; retrying uncompiled")
		if ferr := m.cache.Fallback(ctx, e); ferr != nil {
			err = runtimeFailure(fmt.Errorf("%w (fallback failed: %v)", err, ferr))
			m.finish(g, e, start, err)
			return nil, err
		}
		if rerr := m.adapters.Reapply(ctx, h, set); rerr != nil {
			m.finish(g, e, start, rerr)
			return nil, rerr
		}
		retried = true
		img, err = h.Generate(ctx, g.params)
	}
	if err != nil {
		err = runtimeFailure(err)
		m.finish(g, e, start, err)
		return nil, err
	}

	res = &Result{
		Image:     img,
		Seed:      g.params.Seed,
		Precision: g.precision,
		ModelID:   e.ModelID,
		Steps:     g.params.Steps,
		Width:     g.params.Width,
		Height:    g.params.Height,
		Device:    e.Device.Kind,
		Adapters:  set.Len(),
		Retried:   retried,
		Duration:  time.Since(start),
	}
	m.finish(g, e, start, nil)
	return res, nil
}

// finish records metrics, events and the log line for one unit.
func (m *Manager) finish(g generation, e *Entry, start time.Time, err error) {
	took := time.Since(start)
	model := g.precision.ModelID()
	if e != nil {
		model = e.ModelID
	}
	generationDuration.WithLabelValues(string(g.precision)).Observe(took.Seconds())
	m.setLastError(err)
	if err != nil {
		kind := Classify(err)
		generationsTotal.WithLabelValues(string(g.precision), kind.String()).Inc()
		m.log.Error().Err(err).Str("precision", string(g.precision)).Str("kind", kind.String()).Dur("took", took).Msg("generation failed")
		m.pub.Publish(Event{Name: EventGenerationError, ModelID: model, Fields: map[string]any{"error": err.Error(), "kind": kind.String()}})
		return
	}
	generationsTotal.WithLabelValues(string(g.precision), "ok").Inc()
	m.log.Info().Str("precision", string(g.precision)).Int("steps", g.params.Steps).
		Int("width", g.params.Width).Int("height", g.params.Height).Int64("seed", g.params.Seed).
		Dur("took", took).Msg("generation done")
	m.pub.Publish(Event{Name: EventGenerationDone, ModelID: model, Fields: map[string]any{"seed": g.params.Seed, "took_ms": took.Milliseconds()}})
}

// scheduleCleanup queues the post-generation reclamation pass. Nothing was
// queued when the worker refused the generation unit, so neither is this.
func (m *Manager) scheduleCleanup(genErr error) {
	if IsTooBusy(genErr) || m.worker.Stopped() {
		return
	}
	if err := m.worker.SubmitNoWait("cleanup", m.cleanup); err != nil {
		m.log.Debug().Err(err).Msg("cleanup not queued")
	}
}

// cleanup runs on the worker; its error is logged by the worker.
func (m *Manager) cleanup() (any, error) {
	m.cfg.ReclaimHost()
	e := m.cache.Current()
	if e == nil {
		return nil, nil
	}
	if err := e.Handle.Reclaim(context.Background()); err != nil {
		return nil, ErrCleanup("reclaim", err)
	}
	return nil, nil
}
