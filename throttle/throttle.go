// Package throttle paces a connection's outbound bytes through a token
// bucket without ever blocking the executor: when the bucket is empty the
// wrapped write reports pending and wakes the task once tokens refill.
package throttle

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/dr-montasir/fluxio"
)

// throttle wraps a write callback, using the time/rate token bucket
// limiter to restrict outbound throughput.
type throttle struct {
	limiter *rate.Limiter
	bps     int
	burst   int
	next    fluxio.WriteFunc
	logFn   func() *slog.Logger
}

var ErrMustNotBeZero = errors.New("must be greater than zero")

// NewWriteFunc returns a fluxio.WriteFunc limiting outbound throughput to
// bps bytes per second with the given burst. logFn lazily resolves the
// logger at write time, making option ordering irrelevant. A nil-returning
// logFn silences the exhaustion logs.
func NewWriteFunc(bps, burst int, logFn func() *slog.Logger, next fluxio.WriteFunc) (fluxio.WriteFunc, error) {
	if bps <= 0 || burst <= 0 {
		return nil, fmt.Errorf("bps[%d] and burst[%d] %w", bps, burst, ErrMustNotBeZero)
	}

	t := &throttle{
		limiter: rate.NewLimiter(rate.Limit(bps), burst),
		bps:     bps,
		burst:   burst,
		next:    next,
		logFn:   logFn,
	}

	return t.write, nil
}

func (t *throttle) write(cx *fluxio.Context, buf []byte) int {
	if len(buf) == 0 {
		return t.next(cx, buf)
	}

	avail := int(t.limiter.Tokens())
	if avail <= 0 {
		// Empty bucket: arm a wake for when one token refills and
		// report would-block. The reservation is canceled so the
		// retried write sees the token.
		res := t.limiter.ReserveN(time.Now(), 1)
		delay := res.Delay()
		res.Cancel()

		if logger := t.logFn(); logger != nil {
			logger.Info("throttle tokens exhausted", "delay", delay.String(), "rate", t.bps, "burst", t.burst)
		}

		w := cx.Waker()
		time.AfterFunc(delay, w.Wake)
		return fluxio.IOPending
	}

	n := len(buf)
	if n > avail {
		n = avail
	}
	wrote := t.next(cx, buf[:n])
	if wrote > 0 {
		// Tokens are only spent on bytes that actually left.
		t.limiter.ReserveN(time.Now(), wrote)
	}
	return wrote
}
