// Package asyncstate tracks the loading, result and error of an asynchronous
// fetch whose inputs change over time.
package asyncstate

import (
	"context"
	"reflect"
	"sync"
)

// Fetcher produces the tracked value
type Fetcher[T any] func(ctx context.Context) (T, error)

// State is a snapshot of a Tracker
type State[T any] struct {
	Loading   bool
	Result    T
	HasResult bool
	Err       error
	Deps      []any
}

// Option configures a Tracker
type Option func(*options)

type options struct {
	resetOnChange bool
}

// WithResetOnChange controls whether the previous result is cleared when the
// dependencies change. The default is true; false keeps the stale result
// visible while the new fetch runs.
func WithResetOnChange(reset bool) Option {
	return func(o *options) {
		o.resetOnChange = reset
	}
}

// Tracker runs a Fetcher whenever its dependencies change and keeps the
// outcome of the most recent run. Completions of superseded runs and of runs
// that finish after Close are dropped. Runs are never cancelled.
type Tracker[T any] struct {
	ctx   context.Context
	fetch Fetcher[T]
	opts  options

	mu        sync.Mutex
	state     State[T]
	started   bool
	shouldRun bool
	closed    bool
	gen       uint64
	settled   chan struct{}
}

// New creates a Tracker. Nothing runs until the first Update.
func New[T any](ctx context.Context, fetch Fetcher[T], opts ...Option) *Tracker[T] {
	o := options{resetOnChange: true}
	for _, opt := range opts {
		opt(&o)
	}
	t := &Tracker[T]{
		ctx:     ctx,
		fetch:   fetch,
		opts:    o,
		settled: make(chan struct{}),
	}
	t.state.Loading = true
	return t
}

// Update supplies the current dependencies. A run starts when they differ
// from the previous call, or on the first call. With shouldRun false the
// tracker settles immediately with no result and no error, and the fetcher
// is not invoked.
func (t *Tracker[T]) Update(deps []any, shouldRun bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	next := append([]any{}, deps...)
	if t.started && shouldRun == t.shouldRun && reflect.DeepEqual(next, t.state.Deps) {
		return
	}

	t.started = true
	t.shouldRun = shouldRun
	t.state.Deps = next

	if !shouldRun {
		t.gen++
		var zero T
		t.state.Loading = false
		t.state.Result = zero
		t.state.HasResult = false
		t.state.Err = nil
		t.settle()
		return
	}

	if t.opts.resetOnChange {
		var zero T
		t.state.Result = zero
		t.state.HasResult = false
	}
	t.run()
}

// Reload invokes the fetcher again with the current dependencies
func (t *Tracker[T]) Reload() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.started = true
	t.run()
}

// SetResult replaces the result with fn applied to the current one
func (t *Tracker[T]) SetResult(fn func(T) T) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.state.Result = fn(t.state.Result)
	t.state.HasResult = true
}

// State returns a snapshot
func (t *Tracker[T]) State() State[T] {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot()
}

// Wait blocks until the tracker is not loading and returns the state
func (t *Tracker[T]) Wait(ctx context.Context) (State[T], error) {
	for {
		t.mu.Lock()
		if !t.state.Loading || t.closed {
			s := t.snapshot()
			t.mu.Unlock()
			return s, nil
		}
		ch := t.settled
		t.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return t.State(), ctx.Err()
		}
	}
}

// Close stops state updates. In-flight fetches continue but their outcome is
// discarded.
func (t *Tracker[T]) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.closed = true
	t.settle()
}

func (t *Tracker[T]) snapshot() State[T] {
	s := t.state
	s.Deps = append([]any{}, t.state.Deps...)
	return s
}

// run starts a new generation. The caller holds mu.
func (t *Tracker[T]) run() {
	t.gen++
	gen := t.gen
	t.state.Loading = true
	t.state.Err = nil

	// wake waiters of the superseded run so they pick up the new channel
	t.settle()
	t.settled = make(chan struct{})

	go func() {
		result, err := t.fetch(t.ctx)

		t.mu.Lock()
		defer t.mu.Unlock()

		if t.closed || gen != t.gen {
			return
		}
		t.state.Loading = false
		if err != nil {
			t.state.Err = err
		} else {
			t.state.Result = result
			t.state.HasResult = true
			t.state.Err = nil
		}
		t.settle()
	}()
}

// settle closes the current settled channel once. The caller holds mu.
func (t *Tracker[T]) settle() {
	select {
	case <-t.settled:
	default:
		close(t.settled)
	}
}
