package device

import "sync"

// Buffer accumulates captured PCM and hands out chunks. A full threshold's
// worth flushes immediately; whatever remains flushes when the interval
// elapses. Appending N bytes therefore yields exactly N/threshold (integer
// division) size-triggered chunks, with the remainder following on the timer.
//
// With a readiness gate installed, nothing is emitted while the gate reports
// the link down: audio keeps accumulating, unbounded, and goes out in
// threshold-sized chunks once the link returns.
type Buffer struct {
	mu        sync.Mutex
	buf       []byte
	threshold int

	// ready gates emission. Nil means always ready.
	ready func() bool

	// emit receives each flushed chunk. Called without the lock held.
	emit func(pcm []byte)
}

// NewBuffer creates a Buffer flushing chunks of threshold bytes to emit.
func NewBuffer(threshold int, emit func(pcm []byte)) *Buffer {
	return &Buffer{
		threshold: threshold,
		buf:       make([]byte, 0, threshold),
		emit:      emit,
	}
}

// SetReady installs the link-readiness gate. While fn reports false nothing
// is emitted and appended audio accumulates.
func (b *Buffer) SetReady(fn func() bool) {
	b.mu.Lock()
	b.ready = fn
	b.mu.Unlock()
}

// isReady must be called with b.mu held.
func (b *Buffer) isReady() bool {
	return b.ready == nil || b.ready()
}

// takeFull removes and returns every complete chunk. Must be called with
// b.mu held.
func (b *Buffer) takeFull() [][]byte {
	var full [][]byte
	for len(b.buf) >= b.threshold {
		chunk := make([]byte, b.threshold)
		copy(chunk, b.buf[:b.threshold])
		full = append(full, chunk)
		b.buf = b.buf[b.threshold:]
	}
	return full
}

// Append adds captured audio and flushes every complete chunk it produces.
// While the link is down the audio accumulates instead.
func (b *Buffer) Append(pcm []byte) {
	b.mu.Lock()
	b.buf = append(b.buf, pcm...)
	if !b.isReady() {
		b.mu.Unlock()
		return
	}
	full := b.takeFull()
	b.mu.Unlock()

	for _, chunk := range full {
		b.emit(chunk)
	}
}

// Flush emits whatever partial chunk is pending. Used by the interval timer.
// A no-op while the link is down.
func (b *Buffer) Flush() {
	b.mu.Lock()
	if len(b.buf) == 0 || !b.isReady() {
		b.mu.Unlock()
		return
	}
	chunk := make([]byte, len(b.buf))
	copy(chunk, b.buf)
	b.buf = b.buf[:0]
	b.mu.Unlock()

	b.emit(chunk)
}

// Drain emits everything pending in threshold-sized chunks, remainder last.
// Called when the link comes back so audio accumulated during the outage
// goes out promptly instead of waiting for the next capture callback.
func (b *Buffer) Drain() {
	b.mu.Lock()
	if !b.isReady() {
		b.mu.Unlock()
		return
	}
	chunks := b.takeFull()
	if len(b.buf) > 0 {
		rest := make([]byte, len(b.buf))
		copy(rest, b.buf)
		chunks = append(chunks, rest)
		b.buf = b.buf[:0]
	}
	b.mu.Unlock()

	for _, chunk := range chunks {
		b.emit(chunk)
	}
}

// Discard drops all pending audio without emitting it. Used when capture
// stops or a send fails; stale audio must not leak into the next session.
func (b *Buffer) Discard() {
	b.mu.Lock()
	b.buf = b.buf[:0]
	b.mu.Unlock()
}

// setThreshold changes the chunk size for subsequently appended audio.
func (b *Buffer) setThreshold(n int) {
	b.mu.Lock()
	if n > 0 {
		b.threshold = n
	}
	b.mu.Unlock()
}

// Pending reports the number of buffered bytes not yet flushed.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}
