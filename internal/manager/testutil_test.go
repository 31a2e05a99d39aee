package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"zimage/internal/device"
	"zimage/internal/pipeline"
	"zimage/internal/safetensors"
)

// callLog records calls across builder and cores in order.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...any) {
	l.mu.Lock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// fakeCore implements every optional capability.
type fakeCore struct {
	log *callLog
	key pipeline.Precision

	mu          sync.Mutex
	toErr       error
	genErrs     []error // consumed one per Generate call
	transformer pipeline.Component
	registered  []string
	active      []string
	weights     []float64
	loadErr     map[string]error
	unloadErr   error
	reclaimErr  error
	genCalls    []genCall
	reclaims    int
	closed      bool
	slicing     bool
	offload     bool
	safetyOff   bool
	runtime     pipeline.RuntimeInfo
}

type genCall struct {
	params      pipeline.Params
	transformer pipeline.Component
	adapters    []string
}

func (c *fakeCore) To(_ context.Context, kind device.Kind) error {
	c.log.add("to:%s:%s", c.key, kind)
	return c.toErr
}

func (c *fakeCore) Generate(_ context.Context, p pipeline.Params) (pipeline.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.genCalls = append(c.genCalls, genCall{params: p, transformer: c.transformer, adapters: append([]string(nil), c.active...)})
	if len(c.genErrs) > 0 {
		err := c.genErrs[0]
		c.genErrs = c.genErrs[1:]
		if err != nil {
			return pipeline.Image{}, err
		}
	}
	return pipeline.Image{PNG: []byte("png"), Width: p.Width, Height: p.Height}, nil
}

func (c *fakeCore) Close() error {
	c.log.add("close:%s", c.key)
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeCore) QuantizeMatmul(context.Context) error { return nil }

func (c *fakeCore) Compile(_ context.Context, comp pipeline.Component) (pipeline.Component, error) {
	return "compiled(" + comp + ")", nil
}

func (c *fakeCore) Transformer(context.Context) (pipeline.Component, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transformer, nil
}

func (c *fakeCore) SetTransformer(_ context.Context, comp pipeline.Component) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transformer = comp
	// Registrations live on the transformer; swapping it drops them.
	c.registered, c.active = nil, nil
	return nil
}

func (c *fakeCore) LoadAdapter(_ context.Context, name string, w *safetensors.File) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range w.Names() {
		if len(n) < len(pipelinePrefix) || n[:len(pipelinePrefix)] != pipelinePrefix {
			return fmt.Errorf("unexpected key %q", n)
		}
	}
	c.registered = append(c.registered, name)
	if err := c.loadErr[name]; err != nil {
		return err
	}
	return nil
}

func (c *fakeCore) SetAdapters(_ context.Context, names []string, weights []float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = append([]string(nil), names...)
	c.weights = append([]float64(nil), weights...)
	return nil
}

func (c *fakeCore) UnloadAdapters(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unloadErr != nil {
		return c.unloadErr
	}
	c.registered, c.active, c.weights = nil, nil, nil
	return nil
}

func (c *fakeCore) Adapters(context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.registered...), nil
}

func (c *fakeCore) SetAttentionSlicing(_ context.Context, on bool) error {
	c.slicing = on
	return nil
}

func (c *fakeCore) EnableCPUOffload(context.Context) error {
	c.offload = true
	return nil
}

func (c *fakeCore) DisableSafetyChecker(context.Context) error {
	c.safetyOff = true
	return nil
}

func (c *fakeCore) Reclaim(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reclaims++
	return c.reclaimErr
}

func (c *fakeCore) Runtime(context.Context) pipeline.RuntimeInfo { return c.runtime }

// adapterState returns what is registered and active right now.
func (c *fakeCore) adapterState() (registered, active []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.registered...), append([]string(nil), c.active...)
}

func (c *fakeCore) calls() []genCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]genCall(nil), c.genCalls...)
}

func (c *fakeCore) reclaimCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reclaims
}

// fakeBuilder hands out fakeCores and counts constructions.
type fakeBuilder struct {
	log     *callLog
	runtime pipeline.RuntimeInfo
	// setup customizes each new core before it is returned.
	setup func(*fakeCore)

	mu    sync.Mutex
	cores []*fakeCore
	opts  []pipeline.Options
}

func (b *fakeBuilder) Build(_ context.Context, opts pipeline.Options) (pipeline.Core, error) {
	b.log.add("build:%s", opts.Precision)
	c := &fakeCore{log: b.log, key: opts.Precision, transformer: "pristine", runtime: b.runtime}
	if b.setup != nil {
		b.setup(c)
	}
	b.mu.Lock()
	b.cores = append(b.cores, c)
	b.opts = append(b.opts, opts)
	b.mu.Unlock()
	return c, nil
}

func (b *fakeBuilder) builds() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.cores)
}

func (b *fakeBuilder) last() *fakeCore {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.cores) == 0 {
		return nil
	}
	return b.cores[len(b.cores)-1]
}

type fakeProber struct{ info device.Info }

func (p fakeProber) Detect(context.Context) device.Info { return p.info }

var cudaBox = device.Info{Kind: device.CUDA, Name: "RTX 4090", RAMGB: 64, VRAMGB: 24, BF16Supported: true}

// compiledRuntime makes the cache quantize and compile on cuda.
var compiledRuntime = pipeline.RuntimeInfo{Name: "python", Version: "3.11.9", Triton: true}

// adapterFile returns weights keyed the way foreign tools export them.
func adapterFile() *safetensors.File {
	return &safetensors.File{
		Header: safetensors.Header{Tensors: map[string]safetensors.Tensor{
			"diffusion_model.layers.0.attn.lora_A.weight": {DType: "F32", Shape: []int64{1}, DataOffsets: [2]int64{0, 4}},
		}},
		Data: make([]byte, 4),
	}
}

// fakeLoader serves adapterFile for every path except those in missing.
type fakeLoader struct {
	mu      sync.Mutex
	missing map[string]bool
	loads   []string
}

func (l *fakeLoader) load(path string) (*safetensors.File, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loads = append(l.loads, path)
	if l.missing[path] {
		return nil, errors.New("open " + path + ": no such file or directory")
	}
	return adapterFile(), nil
}

func (l *fakeLoader) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.loads)
}

type testEnv struct {
	m      *Manager
	b      *fakeBuilder
	loader *fakeLoader
	pub    *MemoryPublisher
	log    *callLog
}

func newTestEnv(t *testing.T, runtime pipeline.RuntimeInfo, setup func(*fakeCore)) *testEnv {
	t.Helper()
	log := &callLog{}
	b := &fakeBuilder{log: log, runtime: runtime, setup: setup}
	loader := &fakeLoader{missing: map[string]bool{}}
	pub := NewMemoryPublisher()
	m := New(Config{
		Builder:     b,
		Prober:      fakeProber{info: cudaBox},
		Logger:      zerolog.Nop(),
		Publisher:   pub,
		LoadAdapter: loader.load,
		ReclaimHost: func() {},
		Getenv:      func(string) string { return "" },
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Close(ctx)
	})
	return &testEnv{m: m, b: b, loader: loader, pub: pub, log: log}
}

func baseRequest() Request {
	return Request{Prompt: "a red fox in snow", Steps: 9, Width: 1280, Height: 720, Precision: "q8"}
}

func int64p(v int64) *int64 { return &v }

// drain waits until every unit queued so far has run.
func drain(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := m.Worker().Submit(ctx, "drain", func() (any, error) { return nil, nil }); err != nil {
		t.Fatalf("drain: %v", err)
	}
}
