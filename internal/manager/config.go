package manager

import (
	"context"
	"crypto/rand"
	"io"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/rs/zerolog"

	"zimage/internal/device"
	"zimage/internal/pipeline"
	"zimage/internal/safetensors"
	"zimage/internal/worker"
)

// Limits applied to every request.
const (
	MaxAdapters       = 4
	MinStrength       = -1.0
	MaxStrength       = 2.0
	MaxSteps          = 100
	MaxDimension      = 4096
	DimensionMultiple = 16
)

// DeviceProber detects the compute device. *device.Prober satisfies it.
type DeviceProber interface {
	Detect(ctx context.Context) device.Info
}

// Config encapsulates all tunables for Manager construction.
type Config struct {
	Builder pipeline.Builder
	// Worker runs device work. When nil the manager starts and owns one,
	// bounded by MaxQueueDepth.
	Worker *worker.Worker
	Prober DeviceProber
	Logger zerolog.Logger
	// Publisher receives lifecycle events. Defaults to a no-op.
	Publisher EventPublisher

	// DefaultPrecision is used when a request names none. Empty means the
	// hardware recommendation.
	DefaultPrecision pipeline.Precision
	// DisableQuantization hides q8/q4 when the runtime lacks quantized weights support.
	DisableQuantization bool
	// MaxQueueDepth bounds pending units of an owned worker; 0 is unbounded.
	MaxQueueDepth int
	// EnableCompile mirrors the persisted enable_torch_compile override.
	EnableCompile bool

	// LoadAdapter reads adapter weights. Defaults to safetensors.ReadFile.
	LoadAdapter func(path string) (*safetensors.File, error)
	// ReclaimHost frees host memory after work. Defaults to a GC pass.
	ReclaimHost func()
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
	// Rand is the seed source. Defaults to crypto/rand.
	Rand io.Reader
}

func (c *Config) applyDefaults() {
	if c.Prober == nil {
		c.Prober = device.NewProber(device.WithLogger(c.Logger))
	}
	if c.Publisher == nil {
		c.Publisher = noopPublisher{}
	}
	if c.LoadAdapter == nil {
		c.LoadAdapter = safetensors.ReadFile
	}
	if c.ReclaimHost == nil {
		c.ReclaimHost = func() {
			runtime.GC()
			debug.FreeOSMemory()
		}
	}
	if c.Getenv == nil {
		c.Getenv = os.Getenv
	}
	if c.Rand == nil {
		c.Rand = rand.Reader
	}
}
