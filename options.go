package fluxio

import (
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// Option is a functional option for configuring a connection via
// [Handshake].
type Option func(*options) error

type options struct {
	exec       *Executor
	rawHeaders bool
	logger     *slog.Logger
	tracer     trace.Tracer

	settings settings
}

// settings carries the tunable connection knobs, validated before the
// handshake starts.
type settings struct {
	ReadBufferSize int `json:"read_buffer_size" validate:"gte=256,lte=1048576"`
	MaxHeaderBytes int `json:"max_header_bytes" validate:"gte=1024,lte=1048576"`
}

func defaultSettings() settings {
	return settings{
		ReadBufferSize: 8 * 1024,
		MaxHeaderBytes: 64 * 1024,
	}
}

// WithExecutor attaches the executor used for the connection's background
// work. It is required: the connection driver task runs on it.
func WithExecutor(e *Executor) Option {
	return func(o *options) error {
		if e == nil {
			return errors.New("executor must not be nil")
		}
		o.exec = e
		return nil
	}
}

// WithRawHeaders makes responses on this connection keep a verbatim copy
// of the received head bytes, retrievable via [Response.RawHeaders].
func WithRawHeaders() Option {
	return func(o *options) error {
		o.rawHeaders = true
		return nil
	}
}

// WithLogger injects a custom [slog.Logger] into the connection.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		o.logger = logger
		return nil
	}
}

// WithTracer injects an OpenTelemetry tracer used to span the handshake
// and each request/response exchange. A no-op tracer is used by default.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) error {
		if tracer == nil {
			return errors.New("tracer must not be nil")
		}
		o.tracer = tracer
		return nil
	}
}

// WithReadBufferSize sets the size of the connection's transport read
// buffer, which also bounds individual response body chunks.
func WithReadBufferSize(n int) Option {
	return func(o *options) error {
		o.settings.ReadBufferSize = n
		return nil
	}
}

// WithMaxHeaderBytes bounds the size of a response head this connection
// will accept before failing with a peer-message error.
func WithMaxHeaderBytes(n int) Option {
	return func(o *options) error {
		o.settings.MaxHeaderBytes = n
		return nil
	}
}
