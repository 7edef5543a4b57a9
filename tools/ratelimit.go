package tools

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// rateLimiter wraps rate.Limiter so every read or write waits for its bytes.
type rateLimiter struct {
	ctx     context.Context
	limiter *rate.Limiter
}

func newRateLimiter(ctx context.Context, bytesPerSecond int) *rateLimiter {
	return &rateLimiter{ctx: ctx, limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), bytesPerSecond)}
}

// chunk caps a read or write to the burst size, WaitN rejects anything larger
func (l *rateLimiter) chunk(n int) int {
	if burst := l.limiter.Burst(); n > burst {
		return burst
	}
	return n
}

type rateLimitedReader struct {
	r io.Reader
	*rateLimiter
}

// NewRateLimitedReader limits r to bytesPerSecond, 0 or less returns r unchanged.
// Waiting stops with the context error when ctx is done.
func NewRateLimitedReader(ctx context.Context, r io.Reader, bytesPerSecond int) io.Reader {
	if bytesPerSecond <= 0 {
		return r
	}
	return &rateLimitedReader{r: r, rateLimiter: newRateLimiter(ctx, bytesPerSecond)}
}

func (r *rateLimitedReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := r.r.Read(p[:r.chunk(len(p))])
	if n > 0 {
		if werr := r.limiter.WaitN(r.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}

type rateLimitedWriter struct {
	w io.Writer
	*rateLimiter
}

// NewRateLimitedWriter limits w to bytesPerSecond, 0 or less returns w unchanged.
func NewRateLimitedWriter(ctx context.Context, w io.Writer, bytesPerSecond int) io.Writer {
	if bytesPerSecond <= 0 {
		return w
	}
	return &rateLimitedWriter{w: w, rateLimiter: newRateLimiter(ctx, bytesPerSecond)}
}

func (w *rateLimitedWriter) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n := w.chunk(len(p) - written)
		if err := w.limiter.WaitN(w.ctx, n); err != nil {
			return written, err
		}
		m, err := w.w.Write(p[written : written+n])
		written += m
		if err != nil {
			return written, err
		}
	}
	return written, nil
}
