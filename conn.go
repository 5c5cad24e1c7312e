package fluxio

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/dr-montasir/fluxio/h1"
)

// connState tracks the connection driver's lifecycle.
type connState int

const (
	connLive connState = iota
	connClosed
	connFailed
)

// ClientConn is a live HTTP/1.1 client connection produced by a successful
// [Handshake] task. It owns its IO adapter and permits one in-flight
// request/response exchange at a time; with keep-alive it can carry many
// exchanges in sequence. The caller releases it with [ClientConn.Free],
// which also resolves any outstanding tasks with a canceled error.
type ClientConn struct {
	io     *IO
	exec   *Executor
	logger *slog.Logger
	tracer trace.Tracer
	cfg    settings
	rawHdr bool

	parser *h1.Parser
	rbuf   []byte // transport read buffer
	rdata  []byte // unparsed window into rbuf
	wout   []byte // staged outbound bytes

	state connState
	err   *Error

	probed        bool
	driverStarted bool
	hsWaker       *Waker
	hsSpan        trace.Span
	driverWaker   *Waker

	ex      *exchange
	closing bool
	freed   bool
}

// exchange is one request/response pair in flight on a connection.
type exchange struct {
	conn *ClientConn
	req  *Request
	span trace.Span

	// write side
	headWritten  bool
	chunked      bool
	contentLeft  int64
	bodyFinished bool

	// response head
	headDone      bool
	resp          *Response
	respErr       *Error
	respDelivered bool
	respWaker     *Waker

	// response body streaming
	chunk     *Buf
	wantChunk bool
	srcDone   bool
	srcErr    *Error
	bodyWaker *Waker

	keepalive bool
}

// Handshake starts an HTTP/1.1 client connection over the given IO
// adapter. It consumes the adapter. The returned task must be polled on an
// executor until it resolves to a [TaskClientConn] value or a terminal
// [TaskError] (transport failure or premature close during setup).
//
// An executor must be attached via [WithExecutor]: the connection spawns a
// background driver task on it that performs all transport I/O for the
// connection's lifetime.
func Handshake(transport *IO, optFns ...Option) (*Task, error) {
	if transport == nil {
		return nil, newError(CodeInvalidArg, "nil io adapter")
	}
	if transport.freed {
		return nil, newError(CodeInvalidArg, "io adapter already consumed or freed")
	}

	opts := options{
		logger:   slog.Default(),
		tracer:   noop.NewTracerProvider().Tracer("fluxio"),
		settings: defaultSettings(),
	}
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, errorf(CodeInvalidArg, "applying connection option: %w", err)
		}
	}
	if opts.exec == nil {
		return nil, newError(CodeInvalidArg, "an executor is required, use WithExecutor")
	}
	if err := checkSettings(opts.settings); err != nil {
		return nil, err
	}

	transport.freed = true // owned by the connection from here on

	parser := h1.NewParser()
	parser.CaptureRaw = opts.rawHeaders
	parser.MaxHeadBytes = opts.settings.MaxHeaderBytes

	c := &ClientConn{
		io:     transport,
		exec:   opts.exec,
		logger: opts.logger,
		tracer: opts.tracer,
		cfg:    opts.settings,
		rawHdr: opts.rawHeaders,
		parser: parser,
		rbuf:   make([]byte, opts.settings.ReadBufferSize),
	}
	_, c.hsSpan = c.tracer.Start(context.Background(), "fluxio.handshake")

	return newTask(c.pollHandshake), nil
}

func (c *ClientConn) pollHandshake(cx *Context) (any, TaskType, bool) {
	if !c.driverStarted {
		c.driverStarted = true
		c.exec.spawn(newTask(c.pollDriver))
	}
	if c.err != nil {
		c.hsSpan.End()
		return newError(c.err.code, c.err.msg), TaskError, true
	}
	if c.probed {
		c.hsSpan.End()
		c.logger.Debug("handshake complete")
		return c, TaskClientConn, true
	}
	replaceWaker(&c.hsWaker, cx.Waker())
	return nil, TaskNotSet, false
}

func (c *ClientConn) pollDriver(cx *Context) (any, TaskType, bool) {
	if c.drive(cx) {
		return nil, TaskNotSet, true
	}
	return nil, TaskNotSet, false
}

// Send transmits a request on the connection: headers immediately, body
// incrementally as its producer yields chunks. It consumes the request.
// The returned task resolves to a [TaskResponse] once the response status
// line and headers have been received; the response body is not buffered,
// it is streamed separately through the response's [Body].
func (c *ClientConn) Send(req *Request) (*Task, error) {
	if c.freed {
		return nil, newError(CodeInvalidArg, "send on freed connection")
	}
	if req == nil {
		return nil, newError(CodeInvalidArg, "nil request")
	}
	if req.freed || req.sent {
		return nil, newError(CodeInvalidArg, "request already sent or freed")
	}
	if c.err != nil {
		return nil, newError(c.err.code, "connection unusable: "+c.err.msg)
	}
	if c.state == connClosed {
		return nil, newError(CodeError, "connection closed")
	}
	if c.ex != nil {
		return nil, newError(CodeInvalidArg, "a request is already in flight on this connection")
	}
	if cl, ok := req.headers.Get("Content-Length"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil || n < 0 {
			return nil, errorf(CodeInvalidArg, "invalid Content-Length %q", cl)
		}
		if n > 0 && (req.body == nil || req.body.data == nil) {
			return nil, newError(CodeInvalidArg, "Content-Length set but request has no body producer")
		}
	}

	req.sent = true
	ex := &exchange{conn: c, req: req}
	_, ex.span = c.tracer.Start(context.Background(), "fluxio.send",
		trace.WithAttributes(
			attribute.String("http.method", req.method),
			attribute.String("http.target", req.uri),
		))

	c.parser.Reset()
	c.parser.SkipBody(req.method == "HEAD")
	c.ex = ex
	c.wakeDriver()

	return newTask(ex.pollSend), nil
}

func (ex *exchange) pollSend(cx *Context) (any, TaskType, bool) {
	if ex.resp != nil {
		resp := ex.resp
		ex.resp = nil
		ex.respDelivered = true
		ex.span.SetAttributes(attribute.Int("http.status_code", resp.status))
		return resp, TaskResponse, true
	}
	if ex.respErr != nil {
		err := ex.respErr
		ex.respErr = nil
		ex.respDelivered = true
		return err, TaskError, true
	}
	replaceWaker(&ex.respWaker, cx.Waker())
	ex.conn.wakeDriver()
	return nil, TaskNotSet, false
}

// pollChunk is the chunkSource feeding this exchange's response body.
func (ex *exchange) pollChunk(cx *Context) (*Buf, bool, *Error, bool) {
	if b := ex.chunk; b != nil {
		ex.chunk = nil
		ex.conn.wakeDriver() // room for the next chunk
		return b, false, nil, false
	}
	if ex.srcErr != nil {
		err := ex.srcErr
		// A failed stream stays failed; every pull gets its own error.
		ex.srcErr = newError(err.code, err.msg)
		return nil, false, err, false
	}
	if ex.srcDone {
		return nil, true, nil, false
	}
	ex.wantChunk = true
	replaceWaker(&ex.bodyWaker, cx.Waker())
	ex.conn.wakeDriver()
	return nil, false, nil, true
}

// Free tears the connection down. Outstanding tasks on it resolve with a
// canceled error rather than hanging; the background driver task resolves
// and is handed back from the executor tagged [TaskNotSet].
func (c *ClientConn) Free() {
	markFreed(&c.freed, "ClientConn")
	c.closing = true
	if c.err == nil {
		c.fail(newError(CodeCanceled, "connection closed by caller"))
	}
}

// wakeDriver nudges the background driver if it is parked.
func (c *ClientConn) wakeDriver() {
	wakeSlot(&c.driverWaker)
}

// fail records the connection's terminal error and resolves everything
// waiting on it. Each waiting consumer gets its own error object so the
// free-exactly-once discipline holds per task.
func (c *ClientConn) fail(e *Error) {
	if c.err != nil {
		return
	}
	c.err = e
	c.state = connFailed
	c.logger.Debug("connection failed", "code", e.code.String(), "err", e.msg)
	if ex := c.ex; ex != nil {
		if !ex.respDelivered && ex.resp == nil {
			ex.respErr = newError(e.code, e.msg)
		}
		if !ex.srcDone {
			ex.srcErr = newError(e.code, e.msg)
		}
		ex.span.End()
		wakeSlot(&ex.respWaker)
		wakeSlot(&ex.bodyWaker)
	}
	wakeSlot(&c.hsWaker)
	c.wakeDriver()
}

// drive advances the connection as far as transport readiness allows. It
// is the poll body of the background driver task and the only place the
// IO adapter is touched. Returns true once the driver is finished.
func (c *ClientConn) drive(cx *Context) bool {
	replaceWaker(&c.driverWaker, cx.Waker())

	if c.closing && c.err == nil {
		c.fail(newError(CodeCanceled, "connection closed by caller"))
	}
	if !c.probed && c.err == nil {
		c.probe(cx)
		c.probed = true
		wakeSlot(&c.hsWaker)
	}

	for c.err == nil && c.state == connLive && c.ex != nil {
		wrote := c.progressWrite(cx)
		read := c.progressRead(cx)
		if !wrote && !read {
			break
		}
	}

	if c.err != nil || c.state == connClosed {
		c.finish()
		return true
	}
	return false
}

// probe performs the handshake's transport check: a single read attempt.
// Would-block means the transport is alive and idle; anything the peer
// already sent is buffered for the first response.
func (c *ClientConn) probe(cx *Context) {
	n, st := c.io.tryRead(cx, c.rbuf)
	switch st {
	case ioReady:
		c.rdata = c.rbuf[:n]
	case ioEOF:
		c.fail(newError(CodeUnexpectedEOF, "connection closed during handshake"))
	case ioFailed:
		c.fail(newError(CodeIO, "transport failed during handshake"))
	case ioPending:
		// Alive. The read waker registered by the adapter belongs to
		// this driver task, which is exactly who needs it later.
	}
}

// progressWrite stages and flushes outbound bytes for the current
// exchange. Returns whether any state advanced.
func (c *ClientConn) progressWrite(cx *Context) bool {
	ex := c.ex
	advanced := false

	if len(c.wout) == 0 {
		switch {
		case !ex.headWritten:
			c.stageHead(ex)
			advanced = true
		case !ex.bodyFinished:
			if !c.stageBody(cx, ex) {
				return advanced
			}
			advanced = true
		default:
			return false
		}
	}

	for len(c.wout) > 0 && c.err == nil {
		n, st := c.io.tryWrite(cx, c.wout)
		switch st {
		case ioPending:
			return advanced
		case ioFailed:
			c.fail(newError(CodeIO, "transport write failed"))
			return advanced
		case ioReady:
			if n == 0 {
				c.fail(newError(CodeIO, "transport wrote zero bytes"))
				return advanced
			}
			c.wout = c.wout[n:]
			advanced = true
		}
	}
	return advanced
}

// stageHead encodes the request line and headers into the output buffer
// and fixes the request body framing.
func (c *ClientConn) stageHead(ex *exchange) {
	req := ex.req

	fields := make([]h1.Field, 0, req.headers.Len()+1)
	req.headers.Foreach(func(name, value []byte) bool {
		fields = append(fields, h1.Field{Name: string(name), Value: string(value)})
		return true
	})

	hasProducer := req.body != nil && req.body.data != nil
	_, hasTE := req.headers.Get("Transfer-Encoding")
	cl, hasCL := req.headers.Get("Content-Length")
	switch {
	case hasCL && !hasTE:
		// Validated in Send.
		n, _ := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		ex.contentLeft = n
		ex.bodyFinished = n == 0
	case hasProducer || hasTE:
		if !hasTE {
			fields = append(fields, h1.Field{Name: "Transfer-Encoding", Value: "chunked"})
		}
		ex.chunked = true
		ex.bodyFinished = !hasProducer
	default:
		ex.bodyFinished = true
	}

	c.wout = h1.AppendRequestHead(c.wout[:0], req.method, req.uri, req.version.String(), fields)
	if ex.chunked && ex.bodyFinished {
		// Announced chunked framing with nothing to send.
		c.wout = h1.AppendFinalChunk(c.wout)
	}
	ex.headWritten = true
	c.logger.Debug("request head staged", "method", req.method, "target", req.uri)
}

// stageBody polls the request body producer for the next chunk and frames
// it. Returns false when the producer is pending or the exchange failed.
func (c *ClientConn) stageBody(cx *Context, ex *exchange) bool {
	buf, code := ex.req.body.data(cx)
	switch code {
	case PollReady:
		if buf == nil {
			if ex.chunked {
				c.wout = h1.AppendFinalChunk(c.wout)
			} else if ex.contentLeft > 0 {
				c.fail(errorf(CodeError, "request body ended %d bytes short of Content-Length", ex.contentLeft))
				return false
			}
			ex.bodyFinished = true
			return true
		}
		data := buf.Bytes()
		if ex.chunked {
			c.wout = h1.AppendChunk(c.wout, data)
		} else {
			if int64(len(data)) > ex.contentLeft {
				c.fail(newError(CodeError, "request body exceeds declared Content-Length"))
				return false
			}
			ex.contentLeft -= int64(len(data))
			c.wout = append(c.wout, data...)
			ex.bodyFinished = ex.contentLeft == 0
		}
		buf.Free()
		return true
	case PollPending:
		return false
	default:
		c.fail(newError(CodeAbortedByCallback, "request body producer aborted"))
		return false
	}
}

// progressRead feeds transport bytes through the parser, respecting body
// backpressure: once the head is delivered, bytes are only consumed while
// a body task is waiting for a chunk. Returns whether any state advanced.
func (c *ClientConn) progressRead(cx *Context) bool {
	ex := c.ex
	if ex == nil {
		return false
	}
	advanced := false

	for c.err == nil {
		if ex.headDone && !ex.wantChunk {
			return advanced
		}

		n, ev, err := c.parser.Feed(c.rdata)
		c.rdata = c.rdata[n:]
		if err != nil {
			c.fail(mapParseError(err))
			return advanced
		}
		if ev != nil {
			advanced = true
			c.handleEvent(ex, ev)
			if c.ex != ex {
				return advanced // exchange completed
			}
			continue
		}
		if n > 0 {
			advanced = true
			continue
		}

		// Parser is starved; pull more bytes off the transport.
		rn, st := c.io.tryRead(cx, c.rbuf)
		switch st {
		case ioPending:
			return advanced
		case ioFailed:
			c.fail(newError(CodeIO, "transport read failed"))
			return advanced
		case ioEOF:
			ev, err := c.parser.CloseEOF()
			if err != nil {
				c.fail(newError(CodeUnexpectedEOF, "connection closed mid-message"))
				return advanced
			}
			if ev != nil {
				c.handleEvent(ex, ev)
				return true
			}
			c.fail(newError(CodeUnexpectedEOF, "connection closed before the response completed"))
			return advanced
		case ioReady:
			c.rdata = c.rbuf[:rn]
			advanced = true
		}
	}
	return advanced
}

func mapParseError(err error) *Error {
	return errorf(CodeInvalidPeerMessage, "parsing response: %w", err)
}

func (c *ClientConn) handleEvent(ex *exchange, ev *h1.Event) {
	switch ev.Kind {
	case h1.KindInformational:
		if fn := ex.req.onInformational; fn != nil {
			// Borrowed response, valid only inside the callback; fired
			// synchronously without resolving the send task.
			fn(c.responseFromHead(ev.Head))
		}

	case h1.KindHead:
		resp := c.responseFromHead(ev.Head)
		resp.body = &Body{src: ex}
		ex.keepalive = keepaliveAfter(ev.Head)
		ex.headDone = true
		ex.resp = resp
		wakeSlot(&ex.respWaker)

	case h1.KindData:
		if len(ev.Data) > 0 {
			ex.chunk = CopyBuf(ev.Data)
			ex.wantChunk = false
			wakeSlot(&ex.bodyWaker)
		}

	case h1.KindDone:
		ex.srcDone = true
		wakeSlot(&ex.bodyWaker)
		c.completeExchange(ex)
	}
}

func (c *ClientConn) completeExchange(ex *exchange) {
	ex.span.End()
	c.ex = nil
	if !ex.bodyFinished || len(c.wout) > 0 {
		// The peer answered before the request body reached its
		// terminator. A reused connection would splice the next request
		// head into the unterminated body, so the connection is done.
		ex.keepalive = false
	}
	if !ex.keepalive {
		c.state = connClosed
	}
	c.logger.Debug("exchange complete", "keepalive", ex.keepalive)
}

func keepaliveAfter(h *h1.Head) bool {
	conn, _ := h.Header("Connection")
	if h.Minor == 0 {
		return strings.EqualFold(conn, "keep-alive")
	}
	return !strings.EqualFold(conn, "close")
}

func (c *ClientConn) responseFromHead(h *h1.Head) *Response {
	resp := &Response{
		status:  h.Status,
		reason:  h.Reason,
		version: VersionHTTP11,
	}
	if h.Minor == 0 {
		resp.version = VersionHTTP10
	}
	for _, f := range h.Fields {
		resp.headers.fields = append(resp.headers.fields, headerField{
			key:   strings.ToLower(f.Name),
			name:  f.Name,
			value: f.Value,
		})
	}
	if h.Raw != nil {
		resp.raw = &Buf{data: h.Raw}
	}
	return resp
}

// finish releases the driver's own resources as its task resolves.
func (c *ClientConn) finish() {
	if w := takeWaker(&c.driverWaker); w != nil {
		w.Free()
	}
	wakeSlot(&c.hsWaker)
	c.logger.Debug("connection driver finished", "state", int(c.state))
}
