package fluxio

import "net/http"

// Response is produced by the engine once a send task resolves: the status
// line and headers have been fully received, while the body remains a
// stream driven separately by the caller.
type Response struct {
	status  int
	reason  string
	version Version
	headers Headers

	body *Body
	raw  *Buf

	freed bool
}

// Status returns the HTTP status code, always within 100-599.
func (r *Response) Status() int { return r.status }

// ReasonPhrase returns the reason phrase from the status line. If the peer
// sent none, the canonical phrase for the status code is used.
func (r *Response) ReasonPhrase() string {
	if r.reason != "" {
		return r.reason
	}
	return http.StatusText(r.status)
}

// Version returns the protocol version the peer answered with.
func (r *Response) Version() Version { return r.version }

// Headers returns the response's header map. The reference is borrowed: it
// must not be used after the response has been freed.
func (r *Response) Headers() *Headers { return &r.headers }

// Body detaches the streaming body from the response, transferring
// ownership to the caller, who must drive it to completion (or free it)
// and may free the response independently. After the first call the
// response has no body left and an empty, already-completed stream is
// returned.
func (r *Response) Body() *Body {
	b := r.body
	r.body = nil
	if b == nil {
		b = NewBody()
	}
	return b
}

// RawHeaders returns the verbatim bytes of the response head when the
// connection was configured with [WithRawHeaders], or nil otherwise. The
// buffer is borrowed from the response; copy it to use it after the
// response is freed.
func (r *Response) RawHeaders() *Buf { return r.raw }

// Free releases the response. A detached body is unaffected.
func (r *Response) Free() {
	markFreed(&r.freed, "Response")
	if r.raw != nil {
		r.raw.Free()
		r.raw = nil
	}
	r.body = nil
}
