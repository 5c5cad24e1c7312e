package fluxio

// BodyDataFunc produces outgoing request body data. Each time the engine
// needs more data it polls the function:
//
//   - return a Buf and [PollReady] to hand over the next chunk
//     (the engine takes ownership of the Buf);
//   - return nil and [PollReady] to signal the end of the body;
//   - return nil and [PollPending] after capturing a waker from cx, waking
//     it once data is available;
//   - return nil and [PollError] to abort the request body.
//
// In other words, the producer behaves like a pollable task embedded in
// the request.
type BodyDataFunc func(cx *Context) (*Buf, int)

// ChunkFunc receives one response body chunk during [Body.Foreach]. The
// chunk is borrowed for the duration of the call; copy it to retain it.
// Return true to keep streaming, false to stop early. Stopping early is a
// normal termination of the stream, not an error.
type ChunkFunc func(chunk *Buf) bool

// bodyMode records which consumption style has claimed a body instance.
type bodyMode int

const (
	bodyUnclaimed bodyMode = iota
	bodyPull
	bodyForeach
)

// chunkSource is the engine side of a streaming response body. pollChunk
// either hands over the next chunk, reports completion or a terminal
// error, or returns pending after the source has arranged a wake.
type chunkSource interface {
	pollChunk(cx *Context) (buf *Buf, done bool, err *Error, pending bool)
}

// Body is a pull-based stream of byte chunks. Response bodies are produced
// by the engine and drained by the caller, one [Body.Data] task per chunk
// or a single [Body.Foreach] task for the whole stream; the two modes are
// mutually exclusive on one instance. Request bodies are built with
// [NewBody] and filled by a caller-supplied producer.
type Body struct {
	// src is set on response bodies: the connection exchange feeding this
	// stream.
	src chunkSource

	// data is set on request bodies via SetDataFunc.
	data BodyDataFunc

	mode  bodyMode
	freed bool
}

// NewBody creates an empty request body. Without a data producer it
// carries no payload.
func NewBody() *Body {
	return &Body{}
}

// SetDataFunc installs the producer polled for outgoing body data.
func (b *Body) SetDataFunc(fn BodyDataFunc) {
	b.data = fn
}

// Data returns a task that resolves with the next chunk of the body:
//
//   - [TaskBuf]: more data arrived; the caller owns the Buf.
//   - [TaskEmpty]: the body finished streaming.
//   - [TaskError]: a terminal error occurred.
//
// The body is not consumed, but it must not be used or freed until the
// returned task resolves. Enqueue a new Data task after consuming each
// chunk until completion.
func (b *Body) Data() (*Task, error) {
	if b.freed {
		return nil, newError(CodeInvalidArg, "data on freed body")
	}
	if b.mode == bodyForeach {
		return nil, newError(CodeInvalidArg, "body is already claimed by a foreach task")
	}
	b.mode = bodyPull
	return newTask(b.pollOnce), nil
}

// Foreach returns a single task representing the entire remaining stream.
// The engine invokes fn synchronously, once per chunk, as chunks become
// available; the task resolves [TaskEmpty] after the last chunk, or after
// fn stops the iteration early.
//
// Foreach consumes the body: it must not be used again, and is released
// when the task resolves.
func (b *Body) Foreach(fn ChunkFunc) (*Task, error) {
	if b.freed {
		return nil, newError(CodeInvalidArg, "foreach on freed body")
	}
	if b.mode != bodyUnclaimed {
		return nil, newError(CodeInvalidArg, "body is already being consumed")
	}
	if fn == nil {
		return nil, newError(CodeInvalidArg, "foreach with nil callback")
	}
	b.mode = bodyForeach
	b.freed = true // consumed: the task owns the stream from here on
	return newTask(func(cx *Context) (any, TaskType, bool) {
		for {
			buf, done, err, pending := b.next(cx)
			switch {
			case pending:
				return nil, TaskNotSet, false
			case err != nil:
				return err, TaskError, true
			case done:
				return nil, TaskEmpty, true
			}
			keep := fn(buf)
			buf.Free()
			if !keep {
				return nil, TaskEmpty, true
			}
		}
	}), nil
}

// pollOnce is the poll function behind a single Data task.
func (b *Body) pollOnce(cx *Context) (any, TaskType, bool) {
	buf, done, err, pending := b.next(cx)
	switch {
	case pending:
		return nil, TaskNotSet, false
	case err != nil:
		return err, TaskError, true
	case done:
		return nil, TaskEmpty, true
	default:
		return buf, TaskBuf, true
	}
}

// next pulls from whichever side feeds this body: the connection for
// response bodies, the caller's producer for request bodies sourced
// locally (useful for exercising producers directly).
func (b *Body) next(cx *Context) (*Buf, bool, *Error, bool) {
	if b.src != nil {
		return b.src.pollChunk(cx)
	}
	if b.data == nil {
		return nil, true, nil, false
	}
	buf, code := b.data(cx)
	switch code {
	case PollReady:
		if buf == nil {
			return nil, true, nil, false
		}
		return buf, false, nil, false
	case PollPending:
		return nil, false, nil, true
	default:
		return nil, false, newError(CodeAbortedByCallback, "request body producer aborted"), false
	}
}

// Free releases a body that will not be driven to completion. Freeing
// twice, or freeing after Foreach consumed it, is a programming error.
func (b *Body) Free() {
	markFreed(&b.freed, "Body")
}
