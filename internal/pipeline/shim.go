package pipeline

import (
	"context"
	"fmt"

	"zimage/internal/device"
	"zimage/internal/safetensors"
)

// StaticComponent is the transformer id reported by runtimes that cannot swap it.
const StaticComponent Component = "default"

// Handle is a Core that satisfies every optional capability. Calls for a
// capability the runtime lacks fall back to a default: memory-saving modes
// and the safety filter become no-ops, the transformer is a single static
// component, runtime info is empty, and adapter registration fails with
// ErrAdaptersUnsupported (except UnloadAdapters, which has nothing to do).
type Handle struct {
	core Core

	opt  Optimizer
	ad   AdapterHost
	mem  MemorySaver
	safe SafetyFilter
	rec  Reclaimer
	desc Describer
}

// Ensure wraps core. Ensure on a Handle returns it unchanged.
func Ensure(core Core) *Handle {
	if h, ok := core.(*Handle); ok {
		return h
	}
	h := &Handle{core: core}
	h.opt, _ = core.(Optimizer)
	h.ad, _ = core.(AdapterHost)
	h.mem, _ = core.(MemorySaver)
	h.safe, _ = core.(SafetyFilter)
	h.rec, _ = core.(Reclaimer)
	h.desc, _ = core.(Describer)
	return h
}

// Core returns the wrapped runtime object.
func (h *Handle) Core() Core { return h.core }

func (h *Handle) To(ctx context.Context, kind device.Kind) error { return h.core.To(ctx, kind) }

func (h *Handle) Generate(ctx context.Context, p Params) (Image, error) {
	return h.core.Generate(ctx, p)
}

func (h *Handle) Close() error { return h.core.Close() }

// CanOptimize reports whether the runtime supports quantized matmul and compile.
func (h *Handle) CanOptimize() bool { return h.opt != nil }

// CanHostAdapters reports whether adapters can be registered.
func (h *Handle) CanHostAdapters() bool { return h.ad != nil }

func (h *Handle) QuantizeMatmul(ctx context.Context) error {
	if h.opt == nil {
		return nil
	}
	return h.opt.QuantizeMatmul(ctx)
}

func (h *Handle) Compile(ctx context.Context, c Component) (Component, error) {
	if h.opt == nil {
		return "", fmt.Errorf("pipeline: runtime cannot compile %q", c)
	}
	return h.opt.Compile(ctx, c)
}

func (h *Handle) Transformer(ctx context.Context) (Component, error) {
	if h.opt == nil {
		return StaticComponent, nil
	}
	return h.opt.Transformer(ctx)
}

func (h *Handle) SetTransformer(ctx context.Context, c Component) error {
	if h.opt == nil {
		if c == StaticComponent {
			return nil
		}
		return fmt.Errorf("pipeline: runtime cannot swap transformer to %q", c)
	}
	return h.opt.SetTransformer(ctx, c)
}

func (h *Handle) LoadAdapter(ctx context.Context, name string, w *safetensors.File) error {
	if h.ad == nil {
		return ErrAdaptersUnsupported
	}
	return h.ad.LoadAdapter(ctx, name, w)
}

func (h *Handle) SetAdapters(ctx context.Context, names []string, weights []float64) error {
	if h.ad == nil {
		return ErrAdaptersUnsupported
	}
	return h.ad.SetAdapters(ctx, names, weights)
}

func (h *Handle) UnloadAdapters(ctx context.Context) error {
	if h.ad == nil {
		return nil
	}
	return h.ad.UnloadAdapters(ctx)
}

func (h *Handle) Adapters(ctx context.Context) ([]string, error) {
	if h.ad == nil {
		return nil, nil
	}
	return h.ad.Adapters(ctx)
}

func (h *Handle) SetAttentionSlicing(ctx context.Context, enabled bool) error {
	if h.mem == nil {
		return nil
	}
	return h.mem.SetAttentionSlicing(ctx, enabled)
}

func (h *Handle) EnableCPUOffload(ctx context.Context) error {
	if h.mem == nil {
		return nil
	}
	return h.mem.EnableCPUOffload(ctx)
}

func (h *Handle) DisableSafetyChecker(ctx context.Context) error {
	if h.safe == nil {
		return nil
	}
	return h.safe.DisableSafetyChecker(ctx)
}

func (h *Handle) Reclaim(ctx context.Context) error {
	if h.rec == nil {
		return nil
	}
	return h.rec.Reclaim(ctx)
}

func (h *Handle) Runtime(ctx context.Context) RuntimeInfo {
	if h.desc == nil {
		return RuntimeInfo{}
	}
	return h.desc.Runtime(ctx)
}

var (
	_ Core         = (*Handle)(nil)
	_ Optimizer    = (*Handle)(nil)
	_ AdapterHost  = (*Handle)(nil)
	_ MemorySaver  = (*Handle)(nil)
	_ SafetyFilter = (*Handle)(nil)
	_ Reclaimer    = (*Handle)(nil)
	_ Describer    = (*Handle)(nil)
)
