package fluxio

// Poll codes returned by caller-supplied poll-style callbacks, such as a
// request body's [BodyDataFunc].
const (
	// PollReady indicates the callback produced its result.
	PollReady = 0
	// PollPending indicates the result is not available yet. The callback
	// must have captured a waker from the context, and must wake it when
	// it can make progress.
	PollPending = 1
	// PollError indicates the callback failed and the operation driving it
	// should be aborted.
	PollError = 3
)

// Context is the async context of the task currently being polled. It is
// passed into caller-supplied callbacks so they can mint a [Waker] for the
// task before suspending.
//
// A Context is only valid for the duration of the poll call that produced
// it; callbacks must not retain it.
type Context struct {
	exec *Executor
	task *Task
}

// Waker copies a waker for the task out of the context. Each call returns a
// fresh waker; the caller owns it and must either wake it or free it.
func (cx *Context) Waker() *Waker {
	return &Waker{exec: cx.exec, task: cx.task}
}

// Waker is a one-shot readiness token. Waking it re-admits the suspended
// task to its executor's ready queue. Wake and Free both consume the token;
// using it afterwards is a programming error.
type Waker struct {
	exec  *Executor
	task  *Task
	freed bool
}

// Wake marks the associated task ready and schedules it onto the executor
// if it is not already queued. It consumes the waker.
//
// Wake is the only operation in the engine that is safe to call from a
// goroutine other than the one driving the executor; it performs a single
// guarded enqueue and nothing else.
func (w *Waker) Wake() {
	markFreed(&w.freed, "Waker")
	w.exec.schedule(w.task)
}

// Free releases a waker that will not be woken.
func (w *Waker) Free() {
	markFreed(&w.freed, "Waker")
}

// replaceWaker frees the previously registered waker for a slot, if any,
// and installs the new one. Keeps the "at most one live waker per slot"
// invariant without leaking readiness tokens.
func replaceWaker(slot **Waker, w *Waker) {
	if *slot != nil {
		(*slot).Free()
	}
	*slot = w
}

// takeWaker removes and returns the waker in a slot.
func takeWaker(slot **Waker) *Waker {
	w := *slot
	*slot = nil
	return w
}

// wakeSlot wakes and clears the waker in a slot, if one is registered.
func wakeSlot(slot **Waker) {
	if w := takeWaker(slot); w != nil {
		w.Wake()
	}
}
