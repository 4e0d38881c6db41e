package client

import (
	"bytes"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountingReaderWriter(t *testing.T) {
	var sent, received atomic.Uint64
	var buf bytes.Buffer

	w := &countingWriter{w: &buf, counter: &sent}
	_, err := w.Write([]byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, uint64(11), sent.Load())

	r := &countingReader{r: &buf, counter: &received}
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
	assert.Equal(t, uint64(11), received.Load())
}

func TestThrottledWriterPreservesData(t *testing.T) {
	var buf bytes.Buffer
	w := &throttledWriter{w: &buf, limiter: newByteLimiter(100000)}

	payload := bytes.Repeat([]byte("x"), 25000)
	n, err := w.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, buf.Bytes())
}

func TestThrottledReaderLimitsRate(t *testing.T) {
	payload := bytes.Repeat([]byte("y"), 300)
	r := &throttledReader{r: bytes.NewReader(payload), limiter: newByteLimiter(1000)}

	start := time.Now()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	// the first burst is free, the remaining 200 bytes need about 200ms
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestByteLimiterMinimumBurst(t *testing.T) {
	assert.Equal(t, 1, newByteLimiter(5).Burst())
	assert.Equal(t, 360, newByteLimiter(3600).Burst())
}
