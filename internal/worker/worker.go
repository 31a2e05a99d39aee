// Package worker runs units of work one at a time on a single long-lived
// goroutine that owns the compute device.
//
// Producers on any goroutine hand closures to Submit (wait for the result) or
// SubmitNoWait (fire-and-forget). Units execute strictly in enqueue order and
// never overlap. A unit cannot be canceled once queued: a producer whose
// context ends stops waiting, but the unit still runs.
package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Func is a unit of work. It runs on the worker goroutine.
type Func func() (any, error)

// Result is what a unit produced.
type Result struct {
	Value any
	Err   error
}

type unit struct {
	seq    uint64
	name   string
	fn     Func
	result chan Result // nil for fire-and-forget
	stop   bool
	queued time.Time
}

// Worker is the single exclusive execution context.
type Worker struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []*unit
	seq      uint64
	stopping bool
	maxDepth int

	done chan struct{}
	log  zerolog.Logger
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the logger used for fire-and-forget failures and lifecycle lines.
func WithLogger(l zerolog.Logger) Option { return func(w *Worker) { w.log = l } }

// WithMaxDepth bounds the number of pending units. Zero keeps the queue unbounded.
func WithMaxDepth(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.maxDepth = n
		}
	}
}

// New starts a worker goroutine.
func New(opts ...Option) *Worker {
	w := &Worker{
		done: make(chan struct{}),
		log:  zerolog.Nop(),
	}
	w.cond = sync.NewCond(&w.mu)
	for _, o := range opts {
		o(w)
	}
	go w.loop()
	return w
}

// Submit enqueues fn and waits for its result. If ctx ends first, Submit
// returns ctx.Err() and the unit still runs to completion.
func (w *Worker) Submit(ctx context.Context, name string, fn Func) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch := make(chan Result, 1)
	if err := w.enqueue(&unit{name: name, fn: fn, result: ch}); err != nil {
		return nil, err
	}
	select {
	case r := <-ch:
		return r.Value, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SubmitNoWait enqueues fn without waiting. Errors returned by fn are logged.
// The returned error only reports that the unit could not be queued.
func (w *Worker) SubmitNoWait(name string, fn Func) error {
	return w.enqueue(&unit{name: name, fn: fn})
}

// Do is a typed Submit.
func Do[T any](ctx context.Context, w *Worker, name string, fn func() (T, error)) (T, error) {
	v, err := w.Submit(ctx, name, func() (any, error) { return fn() })
	if err != nil {
		var zero T
		return zero, err
	}
	t, _ := v.(T)
	return t, nil
}

// Stop enqueues the poison unit. Work queued before it still runs; nothing
// queued after it is dequeued. The returned channel closes once the loop exits.
func (w *Worker) Stop() <-chan struct{} {
	w.mu.Lock()
	if !w.stopping {
		w.stopping = true
		w.seq++
		w.queue = append(w.queue, &unit{seq: w.seq, name: "stop", stop: true, queued: time.Now()})
		queueDepth.Inc()
		w.cond.Signal()
	}
	w.mu.Unlock()
	return w.done
}

// Done is closed after the worker goroutine has exited.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Len reports the number of pending units, excluding the one executing.
func (w *Worker) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Stopped reports whether Stop has been called.
func (w *Worker) Stopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopping
}

func (w *Worker) enqueue(u *unit) error {
	if u.fn == nil {
		return fmt.Errorf("worker: nil func for unit %q", u.name)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopping {
		return ErrStopped
	}
	if w.maxDepth > 0 && len(w.queue) >= w.maxDepth {
		unitsTotal.WithLabelValues("rejected").Inc()
		return ErrTooBusy
	}
	w.seq++
	u.seq = w.seq
	u.queued = time.Now()
	w.queue = append(w.queue, u)
	queueDepth.Inc()
	w.cond.Signal()
	return nil
}

func (w *Worker) next() *unit {
	w.mu.Lock()
	defer w.mu.Unlock()
	for len(w.queue) == 0 {
		w.cond.Wait()
	}
	u := w.queue[0]
	w.queue[0] = nil
	w.queue = w.queue[1:]
	queueDepth.Dec()
	return u
}

func (w *Worker) loop() {
	defer close(w.done)
	for {
		u := w.next()
		if u.stop {
			w.drain()
			w.log.Info().Uint64("seq", u.seq).Msg("worker stopped")
			return
		}
		queueWait.Observe(time.Since(u.queued).Seconds())
		r := w.run(u)
		if u.result != nil {
			u.result <- r
			continue
		}
		if r.Err != nil {
			w.log.Warn().Err(r.Err).Str("unit", u.name).Uint64("seq", u.seq).Msg("background unit failed")
		}
	}
}

// run executes one unit; a panic becomes that unit's error.
func (w *Worker) run(u *unit) (r Result) {
	defer func() {
		if p := recover(); p != nil {
			w.log.Error().Str("unit", u.name).Uint64("seq", u.seq).Bytes("stack", debug.Stack()).Msg("unit panicked")
			r = Result{Err: fmt.Errorf("worker: unit %q panicked: %v", u.name, p)}
		}
		if r.Err != nil {
			unitsTotal.WithLabelValues("error").Inc()
		} else {
			unitsTotal.WithLabelValues("ok").Inc()
		}
	}()
	v, err := u.fn()
	return Result{Value: v, Err: err}
}

// drain resolves every unit left behind the poison unit without running it.
func (w *Worker) drain() {
	w.mu.Lock()
	rest := w.queue
	w.queue = nil
	w.mu.Unlock()
	for _, u := range rest {
		queueDepth.Dec()
		unitsTotal.WithLabelValues("dropped").Inc()
		if u.result != nil {
			u.result <- Result{Err: ErrStopped}
		}
	}
}
