package fluxio

// Sentinel return values for [ReadFunc] and [WriteFunc].
const (
	// IOPending signals that the transport would block. The callback must
	// have captured a waker from the context (replacing and freeing any
	// waker it still held for that direction) and must wake it once the
	// transport is ready again.
	IOPending = -1
	// IOError signals an irrecoverable transport failure. The connection
	// using the adapter is dead after this.
	IOError = -2
)

// ReadFunc is a caller-supplied non-blocking read. It should fill buf with
// up to len(buf) bytes and return the count, 0 meaning end of stream, or
// one of the sentinels above.
type ReadFunc func(cx *Context, buf []byte) int

// WriteFunc is a caller-supplied non-blocking write. It should consume up
// to len(buf) bytes from buf and return the count written, or one of the
// sentinels above.
type WriteFunc func(cx *Context, buf []byte) int

// IO wraps a caller-owned transport into the byte-stream abstraction the
// protocol engine consumes. It performs no buffering and no retries: each
// call is a single attempt to move bytes, and retry-on-would-block is the
// caller's event loop's job via the wake/poll cycle.
type IO struct {
	read  ReadFunc
	write WriteFunc
	freed bool
}

// NewIO creates an IO adapter. Until callbacks are installed it reads and
// writes nothing (reads report end of stream).
func NewIO() *IO {
	return &IO{
		read:  func(*Context, []byte) int { return 0 },
		write: func(*Context, []byte) int { return 0 },
	}
}

// SetRead installs the read callback.
func (o *IO) SetRead(fn ReadFunc) {
	if fn != nil {
		o.read = fn
	}
}

// SetWrite installs the write callback.
func (o *IO) SetWrite(fn WriteFunc) {
	if fn != nil {
		o.write = fn
	}
}

// Free releases an IO adapter that was never handed to a handshake. An
// adapter owned by a connection is released with the connection instead.
func (o *IO) Free() {
	markFreed(&o.freed, "IO")
}

// ioStatus classifies one transport attempt.
type ioStatus int

const (
	ioReady ioStatus = iota
	ioEOF
	ioPending
	ioFailed
)

func (o *IO) tryRead(cx *Context, p []byte) (int, ioStatus) {
	switch n := o.read(cx, p); {
	case n == IOPending:
		return 0, ioPending
	case n == IOError:
		return 0, ioFailed
	case n == 0:
		return 0, ioEOF
	case n < 0 || n > len(p):
		// A lying callback is indistinguishable from a broken transport.
		return 0, ioFailed
	default:
		return n, ioReady
	}
}

func (o *IO) tryWrite(cx *Context, p []byte) (int, ioStatus) {
	switch n := o.write(cx, p); {
	case n == IOPending:
		return 0, ioPending
	case n == IOError:
		return 0, ioFailed
	case n < 0 || n > len(p):
		return 0, ioFailed
	default:
		return n, ioReady
	}
}
