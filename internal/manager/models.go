package manager

import (
	"context"

	"zimage/internal/device"
	"zimage/internal/pipeline"
	"zimage/pkg/types"
)

type availability struct {
	available   bool
	recommended bool
}

// Recommend builds the precision table for info. With quantized weights
// unsupported only the full model is offered.
func Recommend(info device.Info, quantization bool) types.ModelsResponse {
	m := map[pipeline.Precision]*availability{
		pipeline.Full: {available: true, recommended: true},
		pipeline.Q8:   {},
		pipeline.Q4:   {},
	}
	def := pipeline.Full
	if quantization {
		m[pipeline.Q8].available = true
		m[pipeline.Q4].available = true
		def = pipeline.Q4
	}
	ram, vram := info.RAMGB, info.VRAMGB

	switch info.Kind {
	case device.MPS:
		switch {
		case ram <= 0:
			m[pipeline.Full].recommended = false
			if quantization {
				m[pipeline.Q4].recommended = true
				def = pipeline.Q4
			}
		case ram <= 24:
			*m[pipeline.Full] = availability{}
			if quantization {
				m[pipeline.Q4].recommended = true
			}
		case ram <= 32:
			m[pipeline.Full].recommended = false
			if quantization {
				m[pipeline.Q8].recommended = true
				def = pipeline.Q8
			}
		case ram <= 48:
			m[pipeline.Full].recommended = true
			if quantization {
				m[pipeline.Q8].recommended = true
				def = pipeline.Q8
			}
		default:
			m[pipeline.Full].recommended = true
			if quantization {
				m[pipeline.Q8].recommended = true
			}
		}

	case device.CUDA, device.ROCm, device.XPU:
		switch {
		case vram <= 0:
			m[pipeline.Full].recommended = false
			if quantization {
				m[pipeline.Q8].recommended = true
			}
		case vram < 8:
			*m[pipeline.Full] = availability{}
			if quantization {
				m[pipeline.Q8].recommended = true
				def = pipeline.Q4
			}
		case vram < 16:
			m[pipeline.Full].recommended = false
			if quantization {
				m[pipeline.Q8].recommended = true
				def = pipeline.Q8
			}
		default:
			m[pipeline.Full].recommended = true
			if quantization {
				m[pipeline.Q8].recommended = true
			}
			def = pipeline.Full
		}

	default:
		// Full precision is never recommended on the CPU.
		m[pipeline.Full].recommended = false
		switch {
		case ram <= 0:
			if quantization {
				m[pipeline.Q8].recommended = true
				def = pipeline.Q4
			}
		case ram < 8:
			m[pipeline.Full].available = false
			if quantization {
				m[pipeline.Q4].recommended = true
				def = pipeline.Q4
			}
		case ram < 16:
			m[pipeline.Full].available = false
			if quantization {
				m[pipeline.Q8].recommended = true
				def = pipeline.Q8
			}
		default:
			if quantization {
				m[pipeline.Q8].recommended = true
				def = pipeline.Q8
			}
		}
	}

	if !quantization {
		*m[pipeline.Full] = availability{available: true, recommended: true}
		def = pipeline.Full
	}

	resp := types.ModelsResponse{
		Device:           string(info.Kind),
		RAMGB:            knownGB(ram),
		VRAMGB:           knownGB(vram),
		DefaultPrecision: string(def),
		Models:           []types.ModelInfo{},
	}
	for _, p := range pipeline.Precisions {
		a := m[p]
		if !a.available {
			continue
		}
		resp.Models = append(resp.Models, types.ModelInfo{
			ID:          string(p),
			Precision:   string(p),
			HFModelID:   p.ModelID(),
			Available:   true,
			Recommended: a.recommended,
		})
	}
	return resp
}

func knownGB(v float64) *float64 {
	if v <= 0 {
		return nil
	}
	return &v
}

// Models reports the recommendation table for this machine. The device is
// probed once per process.
func (m *Manager) Models(ctx context.Context) types.ModelsResponse {
	m.modelsOnce.Do(func() {
		m.models = Recommend(m.cfg.Prober.Detect(ctx), !m.cfg.DisableQuantization)
	})
	return m.models
}

// DefaultPrecision is the configured default, else the hardware recommendation.
func (m *Manager) DefaultPrecision() pipeline.Precision {
	if m.cfg.DefaultPrecision != "" {
		return m.cfg.DefaultPrecision
	}
	return pipeline.Precision(m.Models(context.Background()).DefaultPrecision)
}
