package manager

// Event represents a manager lifecycle event.
// Minimal and stable: name + model ID and optional fields via key/values.
type Event struct {
	Name    string
	ModelID string
	Fields  map[string]any
}

// Event names.
const (
	EventBuildStart      = "pipeline_build_start"
	EventBuildReady      = "pipeline_ready"
	EventBuildFailed     = "pipeline_build_failed"
	EventRelease         = "pipeline_release"
	EventCompileEnabled  = "compile_enabled"
	EventCompileFallback = "compile_fallback"
	EventGenerationDone  = "generation_done"
	EventGenerationError = "generation_failed"
)

// EventPublisher receives events from the manager. Implementations should be
// lightweight and non-blocking; Publish must not panic. Events are published
// from the worker goroutine.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
