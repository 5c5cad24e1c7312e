package fluxio

import (
	"net/url"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// Version identifies an HTTP protocol version.
type Version int

const (
	// VersionHTTP10 is HTTP/1.0.
	VersionHTTP10 Version = iota + 1
	// VersionHTTP11 is HTTP/1.1, the default.
	VersionHTTP11
)

// String returns the on-wire protocol name.
func (v Version) String() string {
	switch v {
	case VersionHTTP10:
		return "HTTP/1.0"
	default:
		return "HTTP/1.1"
	}
}

// Request is a caller-built HTTP request, consumed by [ClientConn.Send].
type Request struct {
	method  string
	uri     string
	version Version
	headers Headers
	body    *Body

	onInformational func(*Response)

	sent  bool
	freed bool
}

// NewRequest constructs a request with the given method and request
// target. The method must be a valid HTTP token; the target is validated
// as one of the request-target forms (origin, absolute, or asterisk) and
// sent verbatim on the request line.
func NewRequest(method, uri string) (*Request, error) {
	if method == "" || !httpguts.ValidHeaderFieldName(method) {
		return nil, errorf(CodeInvalidArg, "invalid method %q", method)
	}
	if err := checkRequestTarget(uri); err != nil {
		return nil, err
	}
	return &Request{
		method:  method,
		uri:     uri,
		version: VersionHTTP11,
	}, nil
}

func checkRequestTarget(uri string) error {
	if uri == "" {
		return newError(CodeInvalidArg, "empty request target")
	}
	if uri == "*" {
		return nil
	}
	if strings.ContainsAny(uri, " \t\r\n") {
		return errorf(CodeInvalidArg, "request target %q contains whitespace", uri)
	}
	if _, err := url.ParseRequestURI(uri); err != nil {
		return errorf(CodeInvalidArg, "parsing request target: %w", err)
	}
	return nil
}

// SetVersion selects the HTTP version used on the request line.
func (r *Request) SetVersion(v Version) error {
	if v != VersionHTTP10 && v != VersionHTTP11 {
		return errorf(CodeInvalidArg, "unsupported version %d", int(v))
	}
	r.version = v
	return nil
}

// Method returns the request method.
func (r *Request) Method() string { return r.method }

// URI returns the request target.
func (r *Request) URI() string { return r.uri }

// Headers returns the request's header map. The reference is borrowed: it
// must not be used after the request has been sent or freed.
func (r *Request) Headers() *Headers { return &r.headers }

// SetBody attaches a streaming body to the request, taking ownership of
// it. The default is an empty body.
func (r *Request) SetBody(b *Body) error {
	if b == nil {
		return newError(CodeInvalidArg, "nil body")
	}
	if b.freed {
		return newError(CodeInvalidArg, "body already consumed or freed")
	}
	b.freed = true // owned by the request now
	r.body = b
	return nil
}

// OnInformational registers a callback invoked for each interim (1xx)
// response received for this request. The callback runs synchronously
// inside a poll cycle, before the main send task resolves; the *Response
// it receives is borrowed, always has an empty body, and is not valid
// after the callback returns.
func (r *Request) OnInformational(fn func(*Response)) {
	r.onInformational = fn
}

// Free releases a request that will not be sent.
func (r *Request) Free() {
	markFreed(&r.freed, "Request")
}
