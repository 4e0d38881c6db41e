package client

import (
	"context"
	"io"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// countingReader wraps an io.Reader and counts bytes read using atomic counter
type countingReader struct {
	r       io.Reader
	counter *atomic.Uint64
}

func (cr *countingReader) Read(p []byte) (n int, err error) {
	n, err = cr.r.Read(p)
	if n > 0 && cr.counter != nil {
		cr.counter.Add(uint64(n))
	}
	return n, err
}

// countingWriter wraps an io.Writer and counts bytes written using atomic counter
type countingWriter struct {
	w       io.Writer
	counter *atomic.Uint64
}

func (cw *countingWriter) Write(p []byte) (n int, err error) {
	n, err = cw.w.Write(p)
	if n > 0 && cw.counter != nil {
		cw.counter.Add(uint64(n))
	}
	return n, err
}

// newByteLimiter returns a token bucket of bytesPerSec refilled in tenth-of-a-second chunks
func newByteLimiter(bytesPerSec int) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(bytesPerSec), max(bytesPerSec/10, 1))
}

// throttledReader limits read rate to the limiter's byte budget
type throttledReader struct {
	r       io.Reader
	limiter *rate.Limiter
}

func (tr *throttledReader) Read(p []byte) (int, error) {
	if burst := tr.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}
	n, err := tr.r.Read(p)
	if n > 0 {
		_ = tr.limiter.WaitN(context.Background(), n)
	}
	return n, err
}

// throttledWriter limits write rate to the limiter's byte budget
type throttledWriter struct {
	w       io.Writer
	limiter *rate.Limiter
}

func (tw *throttledWriter) Write(p []byte) (int, error) {
	written := 0
	chunk := tw.limiter.Burst()
	for written < len(p) {
		end := min(written+chunk, len(p))
		if err := tw.limiter.WaitN(context.Background(), end-written); err != nil {
			return written, err
		}
		n, err := tw.w.Write(p[written:end])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}
