package worker

import "errors"

var (
	// ErrStopped is returned for units submitted after Stop, and for units
	// that were still queued behind the poison unit.
	ErrStopped = errors.New("worker: stopped")
	// ErrTooBusy is returned when a bounded queue is full.
	ErrTooBusy = errors.New("worker: queue full")
)
