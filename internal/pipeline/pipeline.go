// Package pipeline defines the contract between the generation core and the
// diffusion runtime that does the math.
//
// A Builder constructs a Core for one configuration. Core is the minimum a
// runtime must offer; everything else is an optional capability interface
// discovered by type assertion. Ensure wraps any Core into a Handle that
// answers every capability, supplying defaults for the ones the runtime lacks.
package pipeline

import (
	"context"
	"errors"

	"zimage/internal/device"
	"zimage/internal/safetensors"
)

// ErrAdaptersUnsupported is returned by Handle adapter calls when the runtime
// cannot host adapters.
var ErrAdaptersUnsupported = errors.New("pipeline: runtime does not support adapters")

// ErrUnavailable marks a runtime that cannot be reached or started.
var ErrUnavailable = errors.New("pipeline: runtime unavailable")

// Options is what a Builder needs to construct a pipeline.
type Options struct {
	Precision      Precision
	ModelID        string
	Device         device.Kind
	DType          device.DType
	LowCPUMemUsage bool
}

// Params are the inputs of one inference call.
type Params struct {
	Prompt        string
	Steps         int
	Width         int
	Height        int
	Seed          int64
	GuidanceScale float64
}

// Image is an encoded PNG plus its size.
type Image struct {
	PNG    []byte
	Width  int
	Height int
}

// Builder is the pipeline-construction capability.
type Builder interface {
	Build(ctx context.Context, opts Options) (Core, error)
}

// BuilderFunc adapts a function to Builder.
type BuilderFunc func(ctx context.Context, opts Options) (Core, error)

func (f BuilderFunc) Build(ctx context.Context, opts Options) (Core, error) { return f(ctx, opts) }

// Core is the minimum every runtime provides.
type Core interface {
	// To moves the pipeline onto the device.
	To(ctx context.Context, kind device.Kind) error
	Generate(ctx context.Context, p Params) (Image, error)
	// Close drops the pipeline and its device memory.
	Close() error
}

// Component identifies a swappable variant of the compute-heavy module
// (the diffusion transformer). Runtimes choose the encoding.
type Component string

// Optimizer applies math-level transformations to the transformer.
type Optimizer interface {
	QuantizeMatmul(ctx context.Context) error
	// Compile returns the id of a compiled variant of c without activating it.
	Compile(ctx context.Context, c Component) (Component, error)
	Transformer(ctx context.Context) (Component, error)
	SetTransformer(ctx context.Context, c Component) error
}

// AdapterHost registers style adapters on the active transformer.
type AdapterHost interface {
	LoadAdapter(ctx context.Context, name string, weights *safetensors.File) error
	SetAdapters(ctx context.Context, names []string, weights []float64) error
	UnloadAdapters(ctx context.Context) error
	// Adapters lists the names currently registered.
	Adapters(ctx context.Context) ([]string, error)
}

// MemorySaver toggles execution modes that trade speed for memory.
type MemorySaver interface {
	SetAttentionSlicing(ctx context.Context, enabled bool) error
	EnableCPUOffload(ctx context.Context) error
}

// SafetyFilter controls the output content filter.
type SafetyFilter interface {
	DisableSafetyChecker(ctx context.Context) error
}

// Reclaimer empties device allocator caches.
type Reclaimer interface {
	Reclaim(ctx context.Context) error
}

// RuntimeInfo describes the runtime hosting the pipeline.
type RuntimeInfo struct {
	Name    string `json:"runtime"`
	Version string `json:"runtime_version"`
	// Triton reports whether optimized kernels (quantized matmul, compile) are available.
	Triton bool `json:"triton"`
}

// Describer reports RuntimeInfo.
type Describer interface {
	Runtime(ctx context.Context) RuntimeInfo
}
