// Package fluxiotest provides an in-memory duplex transport for testing
// connections without sockets. Each endpoint of a [Pair] exposes a
// non-blocking IO adapter plus direct helpers for the test to play the
// peer: inject bytes, drain what the connection wrote, close, or fail.
package fluxiotest

import (
	"github.com/dr-montasir/fluxio"
)

// Endpoint is one side of an in-memory pipe. inbuf holds bytes written by
// the peer and not yet read here.
type Endpoint struct {
	peer *Endpoint

	inbuf      []byte
	closed     bool // peer closed its write side
	failReads  bool
	failWrites bool
	capacity   int // max buffered bytes at the peer, 0 means unbounded

	readWaker  *fluxio.Waker
	writeWaker *fluxio.Waker
}

// PairOption adjusts a pipe pair.
type PairOption func(a, b *Endpoint)

// WithCapacity bounds each direction's buffer, so writes beyond it report
// would-block until the other side drains.
func WithCapacity(n int) PairOption {
	return func(a, b *Endpoint) {
		a.capacity = n
		b.capacity = n
	}
}

// NewPair creates two connected endpoints. Bytes written on one become
// readable on the other.
func NewPair(opts ...PairOption) (*Endpoint, *Endpoint) {
	a := &Endpoint{}
	b := &Endpoint{}
	a.peer = b
	b.peer = a
	for _, opt := range opts {
		opt(a, b)
	}
	return a, b
}

// IO builds a non-blocking adapter over this endpoint, for handing to a
// connection handshake.
func (e *Endpoint) IO() *fluxio.IO {
	io := fluxio.NewIO()
	io.SetRead(e.readFunc)
	io.SetWrite(e.writeFunc)
	return io
}

// Callbacks returns the endpoint's raw read and write callbacks, for
// composing custom adapters, such as wrapping the write side with a pacer.
func (e *Endpoint) Callbacks() (fluxio.ReadFunc, fluxio.WriteFunc) {
	return e.readFunc, e.writeFunc
}

func (e *Endpoint) readFunc(cx *fluxio.Context, buf []byte) int {
	if e.failReads {
		return fluxio.IOError
	}
	if len(e.inbuf) > 0 {
		n := copy(buf, e.inbuf)
		e.inbuf = e.inbuf[n:]
		wake(&e.peer.writeWaker) // space freed
		return n
	}
	if e.closed {
		return 0
	}
	setWaker(&e.readWaker, cx.Waker())
	return fluxio.IOPending
}

func (e *Endpoint) writeFunc(cx *fluxio.Context, buf []byte) int {
	if e.failWrites {
		return fluxio.IOError
	}
	n := len(buf)
	if e.capacity > 0 {
		space := e.capacity - len(e.peer.inbuf)
		if space <= 0 {
			setWaker(&e.writeWaker, cx.Waker())
			return fluxio.IOPending
		}
		if n > space {
			n = space
		}
	}
	e.peer.inbuf = append(e.peer.inbuf, buf[:n]...)
	wake(&e.peer.readWaker)
	return n
}

// WriteString injects bytes for the peer to read, ignoring capacity; it
// is the test playing the remote end.
func (e *Endpoint) WriteString(s string) {
	e.peer.inbuf = append(e.peer.inbuf, s...)
	wake(&e.peer.readWaker)
}

// ReadAvailable drains and returns everything the peer has written so far.
func (e *Endpoint) ReadAvailable() []byte {
	out := e.inbuf
	e.inbuf = nil
	wake(&e.peer.writeWaker)
	return out
}

// CloseWrite ends this endpoint's write side; the peer's reads return EOF
// once its buffer drains.
func (e *Endpoint) CloseWrite() {
	e.peer.closed = true
	wake(&e.peer.readWaker)
}

// FailReads makes this endpoint's adapter report a transport error on
// every read from now on.
func (e *Endpoint) FailReads() {
	e.failReads = true
	wake(&e.readWaker)
}

// FailWrites makes this endpoint's adapter report a transport error on
// every write from now on.
func (e *Endpoint) FailWrites() {
	e.failWrites = true
	wake(&e.writeWaker)
}

// HasReadWaker reports whether a task is parked waiting for bytes here.
func (e *Endpoint) HasReadWaker() bool { return e.readWaker != nil }

// HasWriteWaker reports whether a task is parked waiting for buffer space.
func (e *Endpoint) HasWriteWaker() bool { return e.writeWaker != nil }

func setWaker(slot **fluxio.Waker, w *fluxio.Waker) {
	if old := *slot; old != nil {
		old.Free()
	}
	*slot = w
}

func wake(slot **fluxio.Waker) {
	if w := *slot; w != nil {
		*slot = nil
		w.Wake()
	}
}
