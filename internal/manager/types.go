package manager

import (
	"time"

	"zimage/internal/device"
	"zimage/internal/pipeline"
)

// State represents the lifecycle state of the manager.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateError   State = "error"
	StateStopped State = "stopped"
)

// AdapterSpec is one adapter of a request: weights on disk plus a signed strength.
type AdapterSpec struct {
	Path     string
	Strength float64
}

// Request is one generation request as front ends hand it over.
type Request struct {
	Prompt    string
	Steps     int
	Width     int
	Height    int
	Seed      *int64
	Precision string
	Adapters  []AdapterSpec
}

// Result is a finished generation.
type Result struct {
	Image     pipeline.Image
	Seed      int64
	Precision pipeline.Precision
	ModelID   string
	Steps     int
	Width     int
	Height    int
	Device    device.Kind
	Adapters  int
	// Retried is set when the compile fallback ran.
	Retried  bool
	Duration time.Duration
}

// Entry is the single cached pipeline. Only the worker goroutine reads or
// writes it; Compiled and Pristine change together.
type Entry struct {
	Key     pipeline.Precision
	ModelID string
	Handle  *pipeline.Handle
	Device  device.Info
	DType   device.DType
	Runtime pipeline.RuntimeInfo
	// Compiled is set while the active transformer is the compiled variant.
	Compiled bool
	// Pristine is the uncompiled transformer kept for fallback.
	Pristine pipeline.Component
	BuiltAt  time.Time
}

// EntryInfo is the read-only projection of an Entry published for status.
type EntryInfo struct {
	Key      pipeline.Precision
	ModelID  string
	Device   device.Kind
	DType    device.DType
	Compiled bool
	BuiltAt  time.Time
}

func (e *Entry) info() *EntryInfo {
	return &EntryInfo{
		Key:      e.Key,
		ModelID:  e.ModelID,
		Device:   e.Device.Kind,
		DType:    e.DType,
		Compiled: e.Compiled,
		BuiltAt:  e.BuiltAt,
	}
}
