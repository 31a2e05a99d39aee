package manager

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"zimage/internal/pipeline"
	"zimage/internal/safetensors"
)

// Adapter files exported from other tools name the transformer
// "diffusion_model"; the pipeline expects "transformer".
const (
	foreignPrefix  = "diffusion_model."
	pipelinePrefix = "transformer."
)

func remapAdapterKey(k string) string {
	if strings.HasPrefix(k, foreignPrefix) {
		return pipelinePrefix + strings.TrimPrefix(k, foreignPrefix)
	}
	return k
}

func adapterName(i int) string { return fmt.Sprintf("adapter_%d", i) }

type appliedAdapter struct {
	name     string
	path     string
	weights  *safetensors.File
	strength float64
}

// AppliedSet is what Apply registered for one request. Keep it until Release.
type AppliedSet struct {
	adapters []appliedAdapter
}

func (s *AppliedSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.adapters)
}

// Names returns the synthetic adapter names in request order.
func (s *AppliedSet) Names() []string {
	out := make([]string, 0, s.Len())
	if s == nil {
		return out
	}
	for _, a := range s.adapters {
		out = append(out, a.name)
	}
	return out
}

func (s *AppliedSet) strengths() []float64 {
	out := make([]float64, 0, len(s.adapters))
	for _, a := range s.adapters {
		out = append(out, a.strength)
	}
	return out
}

// AdapterApplier layers per-request adapters onto the cached pipeline.
type AdapterApplier struct {
	load func(string) (*safetensors.File, error)
	log  zerolog.Logger
}

func NewAdapterApplier(load func(string) (*safetensors.File, error), log zerolog.Logger) *AdapterApplier {
	if load == nil {
		load = safetensors.ReadFile
	}
	return &AdapterApplier{load: load, log: log}
}

// Apply loads every spec in order and activates them with one SetAdapters
// call. It is all-or-nothing: on any failure whatever was registered is
// unloaded and an adapter load error is returned.
func (a *AdapterApplier) Apply(ctx context.Context, h *pipeline.Handle, specs []AdapterSpec) (*AppliedSet, error) {
	set := &AppliedSet{}
	if len(specs) == 0 {
		return set, nil
	}
	if !h.CanHostAdapters() {
		return nil, ErrAdapterLoad("", pipeline.ErrAdaptersUnsupported)
	}
	for i, spec := range specs {
		f, err := a.load(spec.Path)
		if err != nil {
			a.abort(ctx, h, set)
			return nil, ErrAdapterLoad(spec.Path, err)
		}
		if _, err := f.Rename(remapAdapterKey); err != nil {
			a.abort(ctx, h, set)
			return nil, ErrAdapterLoad(spec.Path, err)
		}
		name := adapterName(i)
		// Record before loading so a partial registration is unloaded too.
		set.adapters = append(set.adapters, appliedAdapter{name: name, path: spec.Path, weights: f, strength: spec.Strength})
		if err := h.LoadAdapter(ctx, name, f); err != nil {
			a.abort(ctx, h, set)
			return nil, ErrAdapterLoad(spec.Path, err)
		}
	}
	if err := h.SetAdapters(ctx, set.Names(), set.strengths()); err != nil {
		a.abort(ctx, h, set)
		return nil, ErrAdapterLoad("", err)
	}
	a.log.Debug().Strs("adapters", set.Names()).Msg("adapters applied")
	return set, nil
}

func (a *AdapterApplier) abort(ctx context.Context, h *pipeline.Handle, set *AppliedSet) {
	if set.Len() == 0 {
		return
	}
	if err := h.UnloadAdapters(ctx); err != nil {
		a.log.Warn().Err(ErrCleanup("unload adapters", err)).Msg("adapter rollback failed")
	}
}

// Reapply registers set again, typically after the transformer was swapped.
func (a *AdapterApplier) Reapply(ctx context.Context, h *pipeline.Handle, set *AppliedSet) error {
	if set.Len() == 0 {
		return nil
	}
	// The swapped-in transformer may still carry registrations from an
	// earlier attempt; start clean.
	if err := h.UnloadAdapters(ctx); err != nil {
		a.log.Debug().Err(err).Msg("unload before reapply")
	}
	for _, ad := range set.adapters {
		if err := h.LoadAdapter(ctx, ad.name, ad.weights); err != nil {
			a.abort(ctx, h, set)
			return ErrAdapterLoad(ad.path, err)
		}
	}
	if err := h.SetAdapters(ctx, set.Names(), set.strengths()); err != nil {
		a.abort(ctx, h, set)
		return ErrAdapterLoad("", err)
	}
	a.log.Warn().Strs("adapters", set.Names()).Msg("adapters reapplied to fallback transformer")
	return nil
}

// Release removes every adapter of set. It never fails the request; an
// unload failure is logged and returned as a cleanup error.
func (a *AdapterApplier) Release(ctx context.Context, h *pipeline.Handle, set *AppliedSet) error {
	if set.Len() == 0 {
		return nil
	}
	if err := h.UnloadAdapters(ctx); err != nil {
		cerr := ErrCleanup("unload adapters", err)
		a.log.Warn().Err(cerr).Msg("adapter release failed")
		return cerr
	}
	a.log.Debug().Msg("adapters released")
	return nil
}

// ValidateAdapters checks count and strength limits without touching files.
func ValidateAdapters(specs []AdapterSpec) error {
	if len(specs) > MaxAdapters {
		return ErrConfiguration("at most %d adapters allowed, got %d", MaxAdapters, len(specs))
	}
	for _, s := range specs {
		if strings.TrimSpace(s.Path) == "" {
			return ErrConfiguration("adapter path is empty")
		}
		if s.Strength < MinStrength || s.Strength > MaxStrength {
			return ErrConfiguration("adapter strength %.2f outside [%.1f, %.1f]", s.Strength, MinStrength, MaxStrength)
		}
	}
	return nil
}
