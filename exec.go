package fluxio

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Executor is a single-threaded, run-to-completion task scheduler. It owns
// no I/O and never blocks: [Executor.Poll] drives tasks that have been
// marked ready and returns as soon as one resolves or the ready queue is
// empty. Waiting for external readiness is entirely the caller's job.
//
// Each executor is an explicit, caller-owned object; there is no process
// default. All methods except waker-driven scheduling must be called from a
// single goroutine.
type Executor struct {
	// mu guards the ready queue and per-task scheduled/done flags. It is
	// the one piece of shared state a foreign-goroutine Wake touches.
	mu    sync.Mutex
	ready []*Task

	// woken records wakes that arrive while Poll is draining the queue,
	// so the drain loop re-checks instead of returning early.
	woken atomic.Bool

	logger *slog.Logger
	freed  bool
}

// ExecutorOption configures a new [Executor].
type ExecutorOption func(*Executor)

// WithExecutorLogger injects a custom [slog.Logger] into the executor.
func WithExecutorLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExecutor creates an empty executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Push hands a task to the executor. The executor owns the task until it is
// returned from [Executor.Poll]; the caller must not touch it in between.
func (e *Executor) Push(t *Task) error {
	if e.freed {
		return newError(CodeInvalidArg, "push on freed executor")
	}
	if t == nil {
		return newError(CodeInvalidArg, "push of nil task")
	}
	if t.freed {
		return newError(CodeInvalidArg, "push of freed task")
	}
	e.schedule(t)
	return nil
}

// spawn enqueues an engine-internal background task.
func (e *Executor) spawn(t *Task) {
	t.background = true
	e.schedule(t)
}

// schedule appends the task to the ready queue unless it is already queued
// or resolved. Safe to call from any goroutine; this is the enqueue a
// [Waker.Wake] performs.
func (e *Executor) schedule(t *Task) {
	e.mu.Lock()
	if !t.scheduled && !t.done {
		t.scheduled = true
		e.ready = append(e.ready, t)
	}
	e.mu.Unlock()
	e.woken.Store(true)
}

// pop removes the next ready task, or returns nil. A task can be woken in
// the same pass that resolves it, leaving a stale queue entry; those are
// skipped here.
func (e *Executor) pop() *Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	for len(e.ready) > 0 {
		t := e.ready[0]
		copy(e.ready, e.ready[1:])
		e.ready = e.ready[:len(e.ready)-1]
		t.scheduled = false
		if t.done {
			continue
		}
		return t
	}
	return nil
}

// Poll drives ready tasks until one resolves, returning it, or until no
// task can make progress, returning nil. It never waits: when it returns
// nil the caller must block on its own readiness primitive for exactly the
// directions that registered wakers, wake them, and call Poll again.
//
// Tasks come back in the order their work became ready, not the order they
// were pushed. Background tasks resolve tagged [TaskNotSet] and must still
// be freed by the caller.
func (e *Executor) Poll() *Task {
	if e.freed {
		return nil
	}
	for {
		t := e.pop()
		if t == nil {
			// A wake may have landed between the last pop and now.
			if e.woken.Swap(false) {
				if t = e.pop(); t == nil {
					return nil
				}
			} else {
				return nil
			}
		}
		cx := &Context{exec: e, task: t}
		if t.run(cx) {
			e.mu.Lock()
			t.done = true
			e.mu.Unlock()
			e.logger.Debug("task resolved", "task", t.id, "type", t.typ.String())
			return t
		}
	}
}

// Free releases the executor and abandons any tasks still queued on it.
// The tasks' own resources remain the caller's to release.
func (e *Executor) Free() {
	markFreed(&e.freed, "Executor")
	e.mu.Lock()
	e.ready = nil
	e.mu.Unlock()
}
