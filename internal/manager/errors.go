package manager

import (
	"errors"
	"fmt"

	"zimage/internal/pipeline"
	"zimage/internal/worker"
)

// configurationError signals an invalid request or setting (return 400).
type configurationError struct{ msg string }

func (e configurationError) Error() string { return e.msg }

// ErrConfiguration constructs a configurationError.
func ErrConfiguration(format string, args ...any) error {
	return configurationError{msg: fmt.Sprintf(format, args...)}
}

// IsConfiguration reports whether err is a rejected request or setting.
func IsConfiguration(err error) bool {
	var e configurationError
	return errors.As(err, &e)
}

// adapterLoadError signals an adapter that could not be loaded or registered.
// Nothing from the request stays applied when it is returned.
type adapterLoadError struct {
	path string
	err  error
}

func (e adapterLoadError) Error() string {
	if e.path == "" {
		return "adapter load: " + e.err.Error()
	}
	return fmt.Sprintf("adapter load %s: %v", e.path, e.err)
}

func (e adapterLoadError) Unwrap() error { return e.err }

func ErrAdapterLoad(path string, err error) error { return adapterLoadError{path: path, err: err} }

// IsAdapterLoad reports whether err came from loading adapters (return 400).
func IsAdapterLoad(err error) bool {
	var e adapterLoadError
	return errors.As(err, &e)
}

// unrecoverableError wraps a runtime failure that is fatal to the request.
type unrecoverableError struct{ err error }

func (e unrecoverableError) Error() string { return "generation failed: " + e.err.Error() }
func (e unrecoverableError) Unwrap() error { return e.err }

func ErrUnrecoverable(err error) error { return unrecoverableError{err: err} }

// IsUnrecoverable reports whether err is a fatal inference failure (return 500).
func IsUnrecoverable(err error) bool {
	var e unrecoverableError
	return errors.As(err, &e)
}

// cleanupError wraps a failed best-effort cleanup. It is only ever logged.
type cleanupError struct {
	op  string
	err error
}

func (e cleanupError) Error() string { return e.op + ": " + e.err.Error() }
func (e cleanupError) Unwrap() error { return e.err }

func ErrCleanup(op string, err error) error { return cleanupError{op: op, err: err} }

func IsCleanup(err error) bool {
	var e cleanupError
	return errors.As(err, &e)
}

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool {
	return errors.Is(err, worker.ErrTooBusy)
}

// dependencyUnavailableError signals a missing external runtime so the HTTP
// layer can return 503 Service Unavailable instead of 500.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing/failed runtime
// dependency or a stopped worker.
func IsDependencyUnavailable(err error) bool {
	var e dependencyUnavailableError
	if errors.As(err, &e) {
		return true
	}
	return errors.Is(err, pipeline.ErrUnavailable) || errors.Is(err, worker.ErrStopped)
}
