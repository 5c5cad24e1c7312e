package fluxio

import "github.com/google/uuid"

// TaskType describes what kind of value a resolved [Task] carries.
type TaskType int

const (
	// TaskNotSet means the task has no caller-visible value: it has not
	// resolved yet, its value was already taken, or it was internal
	// background work (such as a connection driver).
	TaskNotSet TaskType = iota
	// TaskEmpty is a completion signal with no payload.
	TaskEmpty
	// TaskError means the value is an *Error.
	TaskError
	// TaskClientConn means the value is a *ClientConn.
	TaskClientConn
	// TaskResponse means the value is a *Response.
	TaskResponse
	// TaskBuf means the value is a *Buf.
	TaskBuf
)

// String returns the tag name.
func (tt TaskType) String() string {
	switch tt {
	case TaskNotSet:
		return "not set"
	case TaskEmpty:
		return "empty"
	case TaskError:
		return "error"
	case TaskClientConn:
		return "clientconn"
	case TaskResponse:
		return "response"
	case TaskBuf:
		return "buf"
	default:
		return "unknown"
	}
}

// Task is a one-shot unit of asynchronous work. It is created by an
// operation-initiating call (handshake, send, body read), pushed onto an
// [Executor], and handed back from [Executor.Poll] once it resolves. The
// resolved value is consumed exactly once with [Task.Value].
type Task struct {
	id uuid.UUID

	// poll drives the task one step. It returns the outcome and true once
	// the work has resolved; before that it must have arranged for a waker
	// to be fired when it can progress again.
	poll func(cx *Context) (any, TaskType, bool)

	outcome  any
	typ      TaskType
	done     bool
	userdata any

	// background marks engine-internal work with no caller-visible
	// payload; such tasks resolve tagged TaskNotSet.
	background bool

	// scheduled is guarded by the owning executor's mutex once the task
	// has been pushed.
	scheduled bool
	freed     bool
}

func newTask(poll func(cx *Context) (any, TaskType, bool)) *Task {
	return &Task{id: uuid.New(), poll: poll}
}

// newResolvedTask builds a task that resolves on its first poll.
func newResolvedTask(val any, typ TaskType) *Task {
	return newTask(func(*Context) (any, TaskType, bool) {
		return val, typ, true
	})
}

// ID returns the task's correlation id, useful for logging.
func (t *Task) ID() uuid.UUID { return t.id }

// Type reports the tag of the resolved value. It returns [TaskNotSet] while
// the task is unresolved and after the value has been taken.
func (t *Task) Type() TaskType { return t.typ }

// SetUserdata attaches an opaque correlation value to the task. It is
// carried through the executor untouched and can be read back with
// [Task.Userdata] when the task is returned from Poll.
func (t *Task) SetUserdata(v any) { t.userdata = v }

// Userdata returns the value attached with [Task.SetUserdata].
func (t *Task) Userdata() any { return t.userdata }

// Value takes the resolved value out of the task, transferring ownership to
// the caller. A second call returns nil: the outcome slot is single-consume.
// Use [Task.Type] before the first call to learn the value's concrete type.
func (t *Task) Value() any {
	v := t.outcome
	t.outcome = nil
	t.typ = TaskNotSet
	return v
}

// Free releases the task. Any unconsumed outcome is dropped. Freeing twice
// is a programming error.
func (t *Task) Free() {
	markFreed(&t.freed, "Task")
	t.outcome = nil
	t.typ = TaskNotSet
}

// run polls the task once, recording the outcome if it resolves. The done
// flag itself is flipped by the executor under its lock, since foreign
// wake calls inspect it.
func (t *Task) run(cx *Context) bool {
	val, typ, done := t.poll(cx)
	if !done {
		return false
	}
	t.outcome = val
	t.typ = typ
	t.poll = nil
	return true
}
