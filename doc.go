// Package fluxio is an embeddable, non-blocking HTTP/1.1 client engine.
//
// Nothing in the package owns a thread or a socket. The host application
// supplies transport bytes through an [IO] adapter's read and write
// callbacks and drives all work by polling a single-threaded [Executor].
// Every asynchronous operation, connection setup via [Handshake], request
// dispatch via [ClientConn.Send], body streaming via [Body.Data], is
// represented as a [Task] that the executor polls to completion. When an
// operation would block, it parks with a [Waker]; the host wakes it when
// the underlying transport becomes ready. Waking is the one operation
// that is safe from any goroutine, which is how the engine slots into an
// external event loop.
package fluxio
