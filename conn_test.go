package fluxio_test

import (
	"strings"
	"testing"

	"github.com/dr-montasir/fluxio"
	"github.com/dr-montasir/fluxio/fluxiotest"
)

// pollUntil polls the executor, freeing resolved background tasks, until
// the wanted task comes back resolved.
func pollUntil(t *testing.T, exec *fluxio.Executor, want *fluxio.Task) {
	t.Helper()
	for {
		got := exec.Poll()
		if got == nil {
			t.Fatal("Poll = nil while waiting for a task to resolve")
		}
		if got == want {
			return
		}
		if got.Type() != fluxio.TaskNotSet {
			t.Fatalf("unexpected resolved task of type %v", got.Type())
		}
		got.Free()
	}
}

// connect runs a handshake over an in-memory pipe and returns the live
// connection with both pipe ends.
func connect(t *testing.T, opts ...fluxio.Option) (*fluxio.Executor, *fluxio.ClientConn, *fluxiotest.Endpoint, *fluxiotest.Endpoint) {
	t.Helper()

	cli, srv := fluxiotest.NewPair()
	exec := fluxio.NewExecutor()

	task, err := fluxio.Handshake(cli.IO(), append([]fluxio.Option{fluxio.WithExecutor(exec)}, opts...)...)
	if err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if err := exec.Push(task); err != nil {
		t.Fatalf("Push: %v", err)
	}
	pollUntil(t, exec, task)
	if task.Type() != fluxio.TaskClientConn {
		t.Fatalf("handshake resolved %v, want TaskClientConn", task.Type())
	}
	conn := task.Value().(*fluxio.ClientConn)
	task.Free()
	return exec, conn, cli, srv
}

// teardown frees the connection and collects its background driver task.
func teardown(t *testing.T, exec *fluxio.Executor, conn *fluxio.ClientConn) {
	t.Helper()
	conn.Free()
	for {
		got := exec.Poll()
		if got == nil {
			break
		}
		got.Free()
	}
	exec.Free()
}

func TestHandshakeResolvesOnFirstPoll(t *testing.T) {
	cli, _ := fluxiotest.NewPair()
	exec := fluxio.NewExecutor()

	task, err := fluxio.Handshake(cli.IO(), fluxio.WithExecutor(exec))
	if err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if err := exec.Push(task); err != nil {
		t.Fatalf("Push: %v", err)
	}

	got := exec.Poll()
	if got != task {
		t.Fatalf("first Poll = %v, want the handshake task", got)
	}
	if got.Type() != fluxio.TaskClientConn {
		t.Fatalf("handshake resolved %v, want TaskClientConn", got.Type())
	}
	conn := got.Value().(*fluxio.ClientConn)
	task.Free()

	if !cli.HasReadWaker() {
		t.Error("driver left no read waker on the idle transport")
	}
	teardown(t, exec, conn)
}

func TestHandshakeTransportError(t *testing.T) {
	cli, _ := fluxiotest.NewPair()
	cli.FailReads()
	exec := fluxio.NewExecutor()
	defer exec.Free()

	task, err := fluxio.Handshake(cli.IO(), fluxio.WithExecutor(exec))
	if err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if err := exec.Push(task); err != nil {
		t.Fatalf("Push: %v", err)
	}
	pollUntil(t, exec, task)

	if task.Type() != fluxio.TaskError {
		t.Fatalf("handshake resolved %v, want TaskError", task.Type())
	}
	ferr := task.Value().(*fluxio.Error)
	if ferr.Code() != fluxio.CodeIO {
		t.Errorf("error code = %v, want CodeIO", ferr.Code())
	}
	ferr.Free()
	task.Free()
}

func TestHandshakePeerClosed(t *testing.T) {
	cli, srv := fluxiotest.NewPair()
	srv.CloseWrite()
	exec := fluxio.NewExecutor()
	defer exec.Free()

	task, err := fluxio.Handshake(cli.IO(), fluxio.WithExecutor(exec))
	if err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if err := exec.Push(task); err != nil {
		t.Fatalf("Push: %v", err)
	}
	pollUntil(t, exec, task)

	if task.Type() != fluxio.TaskError {
		t.Fatalf("handshake resolved %v, want TaskError", task.Type())
	}
	ferr := task.Value().(*fluxio.Error)
	if ferr.Code() != fluxio.CodeUnexpectedEOF {
		t.Errorf("error code = %v, want CodeUnexpectedEOF", ferr.Code())
	}
	ferr.Free()
	task.Free()
}

func TestHandshakeRejectsBadConfig(t *testing.T) {
	cli, _ := fluxiotest.NewPair()
	exec := fluxio.NewExecutor()
	defer exec.Free()

	if _, err := fluxio.Handshake(nil, fluxio.WithExecutor(exec)); err == nil {
		t.Error("Handshake(nil io) succeeded")
	}
	if _, err := fluxio.Handshake(cli.IO()); err == nil {
		t.Error("Handshake without executor succeeded")
	}

	_, err := fluxio.Handshake(cli.IO(), fluxio.WithExecutor(exec), fluxio.WithReadBufferSize(64))
	if err == nil {
		t.Fatal("Handshake with tiny read buffer succeeded")
	}
	if !strings.Contains(err.Error(), "read_buffer_size") {
		t.Errorf("settings error %q does not name the offending field", err)
	}
}

func TestGetRoundTrip(t *testing.T) {
	exec, conn, _, srv := connect(t)

	req, err := fluxio.NewRequest("GET", "/widgets")
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Headers().Add("Host", "example.com")

	task, err := conn.Send(req)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := exec.Push(task); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if got := exec.Poll(); got != nil {
		t.Fatalf("send resolved before the server answered: %v", got.Type())
	}

	wire := string(srv.ReadAvailable())
	if !strings.HasPrefix(wire, "GET /widgets HTTP/1.1\r\n") {
		t.Errorf("request line: %q", wire)
	}
	if !strings.Contains(wire, "Host: example.com\r\n") {
		t.Errorf("request lost the Host header: %q", wire)
	}
	if !strings.HasSuffix(wire, "\r\n\r\n") {
		t.Errorf("request head not terminated: %q", wire)
	}

	srv.WriteString("HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: 5\r\n\r\nhello")
	pollUntil(t, exec, task)
	if task.Type() != fluxio.TaskResponse {
		t.Fatalf("send resolved %v, want TaskResponse", task.Type())
	}
	resp := task.Value().(*fluxio.Response)
	task.Free()

	if resp.Status() != 200 || resp.ReasonPhrase() != "OK" || resp.Version() != fluxio.VersionHTTP11 {
		t.Errorf("status line: %d %q %v", resp.Status(), resp.ReasonPhrase(), resp.Version())
	}
	if ct, ok := resp.Headers().Get("content-type"); !ok || ct != "text/plain" {
		t.Errorf("Content-Type = %q, %t", ct, ok)
	}
	if resp.RawHeaders() != nil {
		t.Error("raw headers present without WithRawHeaders")
	}

	body := resp.Body()
	resp.Free()
	if got := drainPull(t, exec, body); string(got) != "hello" {
		t.Errorf("body = %q, want %q", got, "hello")
	}
	body.Free()

	teardown(t, exec, conn)
}

func TestSendIsPendingUntilResponse(t *testing.T) {
	exec, conn, cli, srv := connect(t)

	req, _ := fluxio.NewRequest("GET", "/")
	task, err := conn.Send(req)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	exec.Push(task)

	// Nothing from the peer: Poll reports no progress, forever, and the
	// driver has a read waker registered for the host to wait on.
	for i := 0; i < 3; i++ {
		if got := exec.Poll(); got != nil {
			t.Fatalf("Poll %d = %v, want nil", i, got.Type())
		}
	}
	if !cli.HasReadWaker() {
		t.Error("no read waker registered while waiting for the response")
	}

	srv.WriteString("HTTP/1.1 204 No Content\r\n\r\n")
	pollUntil(t, exec, task)
	if task.Type() != fluxio.TaskResponse {
		t.Fatalf("send resolved %v, want TaskResponse", task.Type())
	}
	resp := task.Value().(*fluxio.Response)
	task.Free()
	if resp.Status() != 204 {
		t.Errorf("status = %d, want 204", resp.Status())
	}

	body := resp.Body()
	resp.Free()
	if got := drainPull(t, exec, body); len(got) != 0 {
		t.Errorf("204 carried body %q", got)
	}
	body.Free()

	teardown(t, exec, conn)
}

func TestChunkedResponseBody(t *testing.T) {
	exec, conn, _, srv := connect(t)

	req, _ := fluxio.NewRequest("GET", "/stream")
	task, err := conn.Send(req)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	exec.Push(task)
	exec.Poll()

	srv.WriteString("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"6\r\nstream\r\n3\r\ning\r\n0\r\nTrailer: x\r\n\r\n")
	pollUntil(t, exec, task)
	resp := task.Value().(*fluxio.Response)
	task.Free()

	body := resp.Body()
	resp.Free()
	if got := drainPull(t, exec, body); string(got) != "streaming" {
		t.Errorf("body = %q, want %q", got, "streaming")
	}
	body.Free()

	// The chunked message has a self-delimiting end; the connection stays
	// usable for the next request.
	req2, _ := fluxio.NewRequest("GET", "/after")
	task2, err := conn.Send(req2)
	if err != nil {
		t.Fatalf("Send after chunked exchange: %v", err)
	}
	exec.Push(task2)
	exec.Poll()
	srv.WriteString("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n")
	pollUntil(t, exec, task2)
	if task2.Type() != fluxio.TaskResponse {
		t.Fatalf("second send resolved %v", task2.Type())
	}
	task2.Value().(*fluxio.Response).Free()
	task2.Free()

	teardown(t, exec, conn)
}

func TestResponseBodyForeach(t *testing.T) {
	exec, conn, _, srv := connect(t)

	req, _ := fluxio.NewRequest("GET", "/")
	task, _ := conn.Send(req)
	exec.Push(task)
	exec.Poll()
	srv.WriteString("HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\n0123456789")
	pollUntil(t, exec, task)
	resp := task.Value().(*fluxio.Response)
	task.Free()

	body := resp.Body()
	resp.Free()
	var total int
	foreach, err := body.Foreach(func(chunk *fluxio.Buf) bool {
		total += chunk.Len()
		return true
	})
	if err != nil {
		t.Fatalf("Foreach: %v", err)
	}
	exec.Push(foreach)
	pollUntil(t, exec, foreach)
	if foreach.Type() != fluxio.TaskEmpty {
		t.Fatalf("foreach resolved %v, want TaskEmpty", foreach.Type())
	}
	foreach.Free()
	if total != 10 {
		t.Errorf("foreach saw %d bytes, want 10", total)
	}

	teardown(t, exec, conn)
}

func TestRequestBodyChunked(t *testing.T) {
	exec, conn, _, srv := connect(t)

	req, _ := fluxio.NewRequest("POST", "/upload")
	p := &producer{chunks: [][]byte{[]byte("hello"), []byte(" world")}}
	body := fluxio.NewBody()
	body.SetDataFunc(p.produce)
	if err := req.SetBody(body); err != nil {
		t.Fatalf("SetBody: %v", err)
	}

	task, err := conn.Send(req)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	exec.Push(task)
	exec.Poll()

	wire := string(srv.ReadAvailable())
	if !strings.Contains(wire, "Transfer-Encoding: chunked\r\n") {
		t.Errorf("no chunked framing announced: %q", wire)
	}
	if !strings.Contains(wire, "5\r\nhello\r\n") || !strings.Contains(wire, "6\r\n world\r\n") {
		t.Errorf("chunks not framed: %q", wire)
	}
	if !strings.HasSuffix(wire, "0\r\n\r\n") {
		t.Errorf("final chunk missing: %q", wire)
	}

	srv.WriteString("HTTP/1.1 201 Created\r\nContent-Length: 0\r\n\r\n")
	pollUntil(t, exec, task)
	if task.Type() != fluxio.TaskResponse {
		t.Fatalf("send resolved %v, want TaskResponse", task.Type())
	}
	task.Value().(*fluxio.Response).Free()
	task.Free()

	teardown(t, exec, conn)
}

func TestRequestBodyPendingProducer(t *testing.T) {
	exec, conn, _, srv := connect(t)

	req, _ := fluxio.NewRequest("POST", "/slow")
	p := &producer{pending: true, chunks: [][]byte{[]byte("late data")}}
	body := fluxio.NewBody()
	body.SetDataFunc(p.produce)
	req.SetBody(body)

	task, err := conn.Send(req)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	exec.Push(task)
	if got := exec.Poll(); got != nil {
		t.Fatalf("Poll = %v while producer pending", got.Type())
	}
	if p.waker == nil {
		t.Fatal("producer did not capture a waker")
	}

	wire := string(srv.ReadAvailable())
	if strings.Contains(wire, "late data") {
		t.Errorf("body bytes sent before the producer had them: %q", wire)
	}

	p.waker.Wake()
	if got := exec.Poll(); got != nil {
		t.Fatalf("Poll = %v, still waiting on the response", got.Type())
	}
	if !strings.Contains(string(srv.ReadAvailable()), "late data") {
		t.Error("woken producer's data never hit the wire")
	}

	srv.WriteString("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n")
	pollUntil(t, exec, task)
	task.Value().(*fluxio.Response).Free()
	task.Free()

	teardown(t, exec, conn)
}

func TestRequestBodyContentLength(t *testing.T) {
	exec, conn, _, srv := connect(t)

	req, _ := fluxio.NewRequest("PUT", "/exact")
	req.Headers().Add("Content-Length", "10")
	p := &producer{chunks: [][]byte{[]byte("0123"), []byte("456789")}}
	body := fluxio.NewBody()
	body.SetDataFunc(p.produce)
	req.SetBody(body)

	task, err := conn.Send(req)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	exec.Push(task)
	exec.Poll()

	wire := string(srv.ReadAvailable())
	if strings.Contains(wire, "Transfer-Encoding") {
		t.Errorf("identity body was chunked: %q", wire)
	}
	if !strings.HasSuffix(wire, "\r\n\r\n0123456789") {
		t.Errorf("identity body bytes wrong: %q", wire)
	}

	srv.WriteString("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n")
	pollUntil(t, exec, task)
	task.Value().(*fluxio.Response).Free()
	task.Free()

	teardown(t, exec, conn)
}

func TestRequestBodyShorterThanDeclared(t *testing.T) {
	exec, conn, _, _ := connect(t)

	req, _ := fluxio.NewRequest("PUT", "/short")
	req.Headers().Add("Content-Length", "10")
	p := &producer{chunks: [][]byte{[]byte("0123")}}
	body := fluxio.NewBody()
	body.SetDataFunc(p.produce)
	req.SetBody(body)

	task, err := conn.Send(req)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	exec.Push(task)
	pollUntil(t, exec, task)

	if task.Type() != fluxio.TaskError {
		t.Fatalf("send resolved %v, want TaskError", task.Type())
	}
	ferr := task.Value().(*fluxio.Error)
	if ferr.Code() != fluxio.CodeError {
		t.Errorf("error code = %v, want CodeError", ferr.Code())
	}
	ferr.Free()
	task.Free()

	teardown(t, exec, conn)
}

func TestSendRejectsDeclaredLengthWithoutBody(t *testing.T) {
	exec, conn, _, _ := connect(t)

	req, _ := fluxio.NewRequest("PUT", "/")
	req.Headers().Add("Content-Length", "5")
	if _, err := conn.Send(req); err == nil {
		t.Error("Send with declared length and no producer succeeded")
	}

	teardown(t, exec, conn)
}

func TestInformationalResponses(t *testing.T) {
	exec, conn, _, srv := connect(t)

	req, _ := fluxio.NewRequest("POST", "/expect")
	var interim []int
	req.OnInformational(func(r *fluxio.Response) {
		interim = append(interim, r.Status())
	})

	task, err := conn.Send(req)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	exec.Push(task)
	exec.Poll()

	srv.WriteString("HTTP/1.1 100 Continue\r\n\r\nHTTP/1.1 103 Early Hints\r\nLink: </s.css>\r\n\r\n")
	if got := exec.Poll(); got != nil {
		t.Fatalf("interim responses resolved the send task: %v", got.Type())
	}
	srv.WriteString("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n")
	pollUntil(t, exec, task)

	if len(interim) != 2 || interim[0] != 100 || interim[1] != 103 {
		t.Errorf("interim callbacks saw %v, want [100 103]", interim)
	}
	resp := task.Value().(*fluxio.Response)
	task.Free()
	if resp.Status() != 200 {
		t.Errorf("final status = %d, want 200", resp.Status())
	}
	resp.Free()

	teardown(t, exec, conn)
}

func TestKeepAliveSequentialExchanges(t *testing.T) {
	exec, conn, _, srv := connect(t)

	for i, payload := range []string{"first", "second", "third"} {
		req, _ := fluxio.NewRequest("GET", "/")
		task, err := conn.Send(req)
		if err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
		exec.Push(task)
		exec.Poll()

		srv.WriteString("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\n" + payload)
		pollUntil(t, exec, task)
		resp := task.Value().(*fluxio.Response)
		task.Free()

		body := resp.Body()
		resp.Free()
		if got := drainPull(t, exec, body); string(got) != payload {
			t.Errorf("exchange %d body = %q, want %q", i, got, payload)
		}
		body.Free()
	}

	teardown(t, exec, conn)
}

func TestConnectionCloseHeader(t *testing.T) {
	exec, conn, _, srv := connect(t)

	req, _ := fluxio.NewRequest("GET", "/last")
	task, _ := conn.Send(req)
	exec.Push(task)
	exec.Poll()
	srv.WriteString("HTTP/1.1 200 OK\r\nConnection: close\r\nContent-Length: 3\r\n\r\nbye")
	pollUntil(t, exec, task)
	resp := task.Value().(*fluxio.Response)
	task.Free()

	body := resp.Body()
	resp.Free()
	if got := drainPull(t, exec, body); string(got) != "bye" {
		t.Errorf("body = %q", got)
	}
	body.Free()

	// Collect the driver, which retires once the connection is done.
	for {
		got := exec.Poll()
		if got == nil {
			break
		}
		got.Free()
	}

	req2, _ := fluxio.NewRequest("GET", "/")
	if _, err := conn.Send(req2); err == nil {
		t.Error("Send on a closed connection succeeded")
	}
	req2.Free()

	teardown(t, exec, conn)
}

func TestSendWhileInFlight(t *testing.T) {
	exec, conn, _, _ := connect(t)

	req1, _ := fluxio.NewRequest("GET", "/a")
	task, err := conn.Send(req1)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	exec.Push(task)

	req2, _ := fluxio.NewRequest("GET", "/b")
	if _, err := conn.Send(req2); err == nil {
		t.Error("second Send while one is in flight succeeded")
	}
	req2.Free()

	// A consumed request cannot be sent again either.
	if _, err := conn.Send(req1); err == nil {
		t.Error("re-sending a consumed request succeeded")
	}

	teardown(t, exec, conn)
}

func TestFreeCancelsInFlightSend(t *testing.T) {
	exec, conn, _, _ := connect(t)

	req, _ := fluxio.NewRequest("GET", "/never-answered")
	task, err := conn.Send(req)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	exec.Push(task)
	if got := exec.Poll(); got != nil {
		t.Fatalf("Poll = %v before free", got.Type())
	}

	conn.Free()
	pollUntil(t, exec, task)
	if task.Type() != fluxio.TaskError {
		t.Fatalf("canceled send resolved %v, want TaskError", task.Type())
	}
	ferr := task.Value().(*fluxio.Error)
	if ferr.Code() != fluxio.CodeCanceled {
		t.Errorf("error code = %v, want CodeCanceled", ferr.Code())
	}
	ferr.Free()
	task.Free()

	for {
		got := exec.Poll()
		if got == nil {
			break
		}
		got.Free()
	}
	exec.Free()
}

func TestConnDoubleFreePanics(t *testing.T) {
	exec, conn, _, _ := connect(t)
	defer exec.Free()
	conn.Free()

	defer func() {
		if recover() == nil {
			t.Fatal("second Free did not panic")
		}
	}()
	conn.Free()
}

func TestHeadResponseHasNoBody(t *testing.T) {
	exec, conn, _, srv := connect(t)

	req, _ := fluxio.NewRequest("HEAD", "/doc")
	task, _ := conn.Send(req)
	exec.Push(task)
	exec.Poll()
	srv.WriteString("HTTP/1.1 200 OK\r\nContent-Length: 12345\r\n\r\n")
	pollUntil(t, exec, task)
	resp := task.Value().(*fluxio.Response)
	task.Free()

	if cl, _ := resp.Headers().Get("Content-Length"); cl != "12345" {
		t.Errorf("Content-Length header = %q", cl)
	}
	body := resp.Body()
	resp.Free()
	if got := drainPull(t, exec, body); len(got) != 0 {
		t.Errorf("HEAD response carried body %q", got)
	}
	body.Free()

	teardown(t, exec, conn)
}

func TestRawHeadersCapture(t *testing.T) {
	exec, conn, _, srv := connect(t, fluxio.WithRawHeaders())

	const head = "HTTP/1.1 200 OK\r\nX-MiXeD-CaSe: kept\r\nContent-Length: 0\r\n\r\n"
	req, _ := fluxio.NewRequest("GET", "/")
	task, _ := conn.Send(req)
	exec.Push(task)
	exec.Poll()
	srv.WriteString(head)
	pollUntil(t, exec, task)
	resp := task.Value().(*fluxio.Response)
	task.Free()

	raw := resp.RawHeaders()
	if raw == nil {
		t.Fatal("RawHeaders = nil with WithRawHeaders")
	}
	if got := string(raw.Bytes()); got != head {
		t.Errorf("raw head = %q, want %q", got, head)
	}
	resp.Free()

	teardown(t, exec, conn)
}

func TestMalformedResponse(t *testing.T) {
	exec, conn, _, srv := connect(t)

	req, _ := fluxio.NewRequest("GET", "/")
	task, _ := conn.Send(req)
	exec.Push(task)
	exec.Poll()
	srv.WriteString("NOT HTTP AT ALL\r\n\r\n")
	pollUntil(t, exec, task)

	if task.Type() != fluxio.TaskError {
		t.Fatalf("send resolved %v, want TaskError", task.Type())
	}
	ferr := task.Value().(*fluxio.Error)
	if ferr.Code() != fluxio.CodeInvalidPeerMessage {
		t.Errorf("error code = %v, want CodeInvalidPeerMessage", ferr.Code())
	}
	ferr.Free()
	task.Free()

	teardown(t, exec, conn)
}

func TestPeerClosesMidResponse(t *testing.T) {
	exec, conn, _, srv := connect(t)

	req, _ := fluxio.NewRequest("GET", "/")
	task, _ := conn.Send(req)
	exec.Push(task)
	exec.Poll()
	srv.WriteString("HTTP/1.1 200 OK\r\nContent-Le")
	srv.CloseWrite()
	pollUntil(t, exec, task)

	if task.Type() != fluxio.TaskError {
		t.Fatalf("send resolved %v, want TaskError", task.Type())
	}
	ferr := task.Value().(*fluxio.Error)
	if ferr.Code() != fluxio.CodeUnexpectedEOF {
		t.Errorf("error code = %v, want CodeUnexpectedEOF", ferr.Code())
	}
	ferr.Free()
	task.Free()

	teardown(t, exec, conn)
}

func TestReadToEOFBody(t *testing.T) {
	exec, conn, _, srv := connect(t)

	req, _ := fluxio.NewRequest("GET", "/legacy")
	task, _ := conn.Send(req)
	exec.Push(task)
	exec.Poll()
	srv.WriteString("HTTP/1.0 200 OK\r\n\r\nall the way to eof")
	pollUntil(t, exec, task)
	resp := task.Value().(*fluxio.Response)
	task.Free()
	if resp.Version() != fluxio.VersionHTTP10 {
		t.Errorf("version = %v, want HTTP/1.0", resp.Version())
	}

	body := resp.Body()
	resp.Free()

	// The stream only ends when the peer closes.
	dataTask, err := body.Data()
	if err != nil {
		t.Fatalf("Data: %v", err)
	}
	exec.Push(dataTask)
	pollUntil(t, exec, dataTask)
	buf := dataTask.Value().(*fluxio.Buf)
	got := append([]byte(nil), buf.Bytes()...)
	buf.Free()
	dataTask.Free()

	srv.CloseWrite()
	got = append(got, drainPull(t, exec, body)...)
	if string(got) != "all the way to eof" {
		t.Errorf("body = %q", got)
	}
	body.Free()

	for {
		resolved := exec.Poll()
		if resolved == nil {
			break
		}
		resolved.Free()
	}

	teardown(t, exec, conn)
}

func TestReasonPhraseFallback(t *testing.T) {
	exec, conn, _, srv := connect(t)

	req, _ := fluxio.NewRequest("GET", "/gone")
	task, _ := conn.Send(req)
	exec.Push(task)
	exec.Poll()
	srv.WriteString("HTTP/1.1 404\r\nContent-Length: 0\r\n\r\n")
	pollUntil(t, exec, task)
	resp := task.Value().(*fluxio.Response)
	task.Free()

	if got := resp.ReasonPhrase(); got != "Not Found" {
		t.Errorf("ReasonPhrase = %q, want canonical fallback", got)
	}
	resp.Free()

	teardown(t, exec, conn)
}

func TestEarlyResponseEndsKeepAlive(t *testing.T) {
	exec, conn, _, srv := connect(t)

	// A producer that sends one chunk and then stalls forever.
	req, _ := fluxio.NewRequest("POST", "/upload")
	body := fluxio.NewBody()
	var sent bool
	var pw *fluxio.Waker
	body.SetDataFunc(func(cx *fluxio.Context) (*fluxio.Buf, int) {
		if sent {
			if pw != nil {
				pw.Free()
			}
			pw = cx.Waker()
			return nil, fluxio.PollPending
		}
		sent = true
		return fluxio.CopyBuf([]byte("part1")), fluxio.PollReady
	})
	req.SetBody(body)

	task, err := conn.Send(req)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	exec.Push(task)
	exec.Poll()

	wire := string(srv.ReadAvailable())
	if !strings.Contains(wire, "5\r\npart1\r\n") {
		t.Fatalf("first chunk never hit the wire: %q", wire)
	}
	if strings.Contains(wire, "0\r\n\r\n") {
		t.Fatalf("stalled body was terminated: %q", wire)
	}

	// The peer answers before the body is done.
	srv.WriteString("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n")
	pollUntil(t, exec, task)
	resp := task.Value().(*fluxio.Response)
	task.Free()
	respBody := resp.Body()
	resp.Free()
	if got := drainPull(t, exec, respBody); len(got) != 0 {
		t.Errorf("response body = %q, want empty", got)
	}
	respBody.Free()

	// The request body never reached its terminator, so the connection
	// must not be reused: a second head would splice into the body.
	req2, _ := fluxio.NewRequest("GET", "/next")
	if _, err := conn.Send(req2); err == nil {
		t.Error("Send after an unfinished request body succeeded")
	}
	req2.Free()
	if after := srv.ReadAvailable(); len(after) != 0 {
		t.Errorf("bytes hit the wire after the unfinished body: %q", after)
	}

	if pw != nil {
		pw.Free()
	}
	teardown(t, exec, conn)
}

func TestWriteBackpressure(t *testing.T) {
	cli, srv := fluxiotest.NewPair(fluxiotest.WithCapacity(8))
	exec := fluxio.NewExecutor()

	task, err := fluxio.Handshake(cli.IO(), fluxio.WithExecutor(exec))
	if err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	exec.Push(task)
	pollUntil(t, exec, task)
	conn := task.Value().(*fluxio.ClientConn)
	task.Free()

	req, _ := fluxio.NewRequest("GET", "/big-head")
	req.Headers().Add("X-Padding", strings.Repeat("x", 64))
	send, err := conn.Send(req)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	exec.Push(send)
	if got := exec.Poll(); got != nil {
		t.Fatalf("Poll = %v while the head is still flushing", got.Type())
	}

	// Eight bytes fit; the driver parks on the write side for the rest.
	if !cli.HasWriteWaker() {
		t.Fatal("no write waker parked on the full transport")
	}

	var wire []byte
	for cli.HasWriteWaker() {
		chunk := srv.ReadAvailable()
		if len(chunk) == 0 {
			t.Fatal("write waker parked with nothing buffered")
		}
		wire = append(wire, chunk...)
		if got := exec.Poll(); got != nil {
			t.Fatalf("Poll = %v while draining the head", got.Type())
		}
	}
	wire = append(wire, srv.ReadAvailable()...)
	if !strings.HasPrefix(string(wire), "GET /big-head HTTP/1.1\r\n") || !strings.HasSuffix(string(wire), "\r\n\r\n") {
		t.Errorf("reassembled head wrong: %q", wire)
	}

	srv.WriteString("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n")
	pollUntil(t, exec, send)
	if send.Type() != fluxio.TaskResponse {
		t.Fatalf("send resolved %v, want TaskResponse", send.Type())
	}
	send.Value().(*fluxio.Response).Free()
	send.Free()

	teardown(t, exec, conn)
}

func TestFailedBodyStreamKeepsErroring(t *testing.T) {
	exec, conn, cli, srv := connect(t)

	req, _ := fluxio.NewRequest("GET", "/")
	task, _ := conn.Send(req)
	exec.Push(task)
	exec.Poll()
	srv.WriteString("HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\n0123")
	pollUntil(t, exec, task)
	resp := task.Value().(*fluxio.Response)
	task.Free()
	body := resp.Body()
	resp.Free()

	dataTask, err := body.Data()
	if err != nil {
		t.Fatalf("Data: %v", err)
	}
	exec.Push(dataTask)
	pollUntil(t, exec, dataTask)
	if dataTask.Type() != fluxio.TaskBuf {
		t.Fatalf("first pull resolved %v, want TaskBuf", dataTask.Type())
	}
	dataTask.Value().(*fluxio.Buf).Free()
	dataTask.Free()

	cli.FailReads()

	// Every pull after the transport failure reports it again; the stream
	// never turns into a clean end-of-body.
	for i := 0; i < 2; i++ {
		dt, err := body.Data()
		if err != nil {
			t.Fatalf("Data after failure: %v", err)
		}
		exec.Push(dt)
		pollUntil(t, exec, dt)
		if dt.Type() != fluxio.TaskError {
			t.Fatalf("pull %d resolved %v, want TaskError", i, dt.Type())
		}
		ferr := dt.Value().(*fluxio.Error)
		if ferr.Code() != fluxio.CodeIO {
			t.Errorf("pull %d error code = %v, want CodeIO", i, ferr.Code())
		}
		ferr.Free()
		dt.Free()
	}
	body.Free()

	teardown(t, exec, conn)
}

func TestTransportFailureMidExchange(t *testing.T) {
	exec, conn, cli, srv := connect(t)

	req, _ := fluxio.NewRequest("GET", "/")
	task, _ := conn.Send(req)
	exec.Push(task)
	exec.Poll()
	srv.ReadAvailable()

	cli.FailReads()
	pollUntil(t, exec, task)
	if task.Type() != fluxio.TaskError {
		t.Fatalf("send resolved %v, want TaskError", task.Type())
	}
	ferr := task.Value().(*fluxio.Error)
	if ferr.Code() != fluxio.CodeIO {
		t.Errorf("error code = %v, want CodeIO", ferr.Code())
	}
	ferr.Free()
	task.Free()

	// The terminal error also gates further use.
	req2, _ := fluxio.NewRequest("GET", "/")
	if _, err := conn.Send(req2); err == nil {
		t.Error("Send on a failed connection succeeded")
	}
	req2.Free()

	teardown(t, exec, conn)
}
