package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"net/url"

	"zimage/internal/device"
	"zimage/internal/pipeline"
	"zimage/internal/safetensors"
)

// core is one loaded pipeline on the runner. It implements every optional
// capability of pipeline.Core.
type core struct {
	c *client
}

func (p *core) To(ctx context.Context, kind device.Kind) error {
	return p.c.postJSON(ctx, "/v1/pipeline/device", map[string]string{"device": string(kind)}, nil)
}

func (p *core) Generate(ctx context.Context, in pipeline.Params) (pipeline.Image, error) {
	req := generateRequest{
		Prompt:        in.Prompt,
		Steps:         in.Steps,
		Width:         in.Width,
		Height:        in.Height,
		Seed:          in.Seed,
		GuidanceScale: in.GuidanceScale,
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(req); err != nil {
		return pipeline.Image{}, err
	}
	resp, err := p.c.do(ctx, http.MethodPost, "/v1/generate", "application/json", &buf)
	if err != nil {
		return pipeline.Image{}, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return pipeline.Image{}, fmt.Errorf("read image: %w", err)
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return pipeline.Image{}, fmt.Errorf("runner returned a non-png body: %w", err)
	}
	return pipeline.Image{PNG: data, Width: cfg.Width, Height: cfg.Height}, nil
}

// Close unloads the pipeline. The runner process stays up for the next build.
func (p *core) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultCallTimeout)
	defer cancel()
	return p.c.sendJSON(ctx, http.MethodDelete, "/v1/pipeline", nil, nil)
}

func (p *core) QuantizeMatmul(ctx context.Context) error {
	return p.c.postJSON(ctx, "/v1/pipeline/quantized-matmul", nil, nil)
}

func (p *core) Compile(ctx context.Context, c pipeline.Component) (pipeline.Component, error) {
	var out componentBody
	if err := p.c.postJSON(ctx, "/v1/transformer/compile", componentBody{Component: string(c)}, &out); err != nil {
		return "", err
	}
	return pipeline.Component(out.Component), nil
}

func (p *core) Transformer(ctx context.Context) (pipeline.Component, error) {
	var out componentBody
	if err := p.c.getJSON(ctx, "/v1/transformer", &out); err != nil {
		return "", err
	}
	return pipeline.Component(out.Component), nil
}

func (p *core) SetTransformer(ctx context.Context, c pipeline.Component) error {
	return p.c.sendJSON(ctx, http.MethodPut, "/v1/transformer", componentBody{Component: string(c)}, nil)
}

func (p *core) LoadAdapter(ctx context.Context, name string, w *safetensors.File) error {
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return err
	}
	resp, err := p.c.do(ctx, http.MethodPut, "/v1/adapters/"+url.PathEscape(name), "application/octet-stream", &buf)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

func (p *core) SetAdapters(ctx context.Context, names []string, weights []float64) error {
	return p.c.sendJSON(ctx, http.MethodPut, "/v1/adapters", adaptersBody{Names: names, Weights: weights}, nil)
}

func (p *core) UnloadAdapters(ctx context.Context) error {
	return p.c.sendJSON(ctx, http.MethodDelete, "/v1/adapters", nil, nil)
}

func (p *core) Adapters(ctx context.Context) ([]string, error) {
	var out adaptersBody
	if err := p.c.getJSON(ctx, "/v1/adapters", &out); err != nil {
		return nil, err
	}
	return out.Names, nil
}

func (p *core) SetAttentionSlicing(ctx context.Context, enabled bool) error {
	return p.c.postJSON(ctx, "/v1/pipeline/attention-slicing", map[string]bool{"enabled": enabled}, nil)
}

func (p *core) EnableCPUOffload(ctx context.Context) error {
	return p.c.postJSON(ctx, "/v1/pipeline/cpu-offload", nil, nil)
}

func (p *core) DisableSafetyChecker(ctx context.Context) error {
	return p.c.postJSON(ctx, "/v1/pipeline/safety-checker", map[string]bool{"enabled": false}, nil)
}

func (p *core) Reclaim(ctx context.Context) error {
	return p.c.postJSON(ctx, "/v1/memory/reclaim", nil, nil)
}

func (p *core) Runtime(ctx context.Context) pipeline.RuntimeInfo {
	var info pipeline.RuntimeInfo
	_ = p.c.getJSON(ctx, "/health", &info)
	return info
}

var (
	_ pipeline.Core         = (*core)(nil)
	_ pipeline.Optimizer    = (*core)(nil)
	_ pipeline.AdapterHost  = (*core)(nil)
	_ pipeline.MemorySaver  = (*core)(nil)
	_ pipeline.SafetyFilter = (*core)(nil)
	_ pipeline.Reclaimer    = (*core)(nil)
	_ pipeline.Describer    = (*core)(nil)
)
