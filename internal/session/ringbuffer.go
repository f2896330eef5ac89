package session

import "sync"

// defaultRingSize is the per-session output buffer memory budget (§6 Defaults
// and limits: 10 MiB).
const defaultRingSize = 10 * 1024 * 1024

// defaultRingChunks is the per-session output buffer chunk ceiling (1000).
const defaultRingChunks = 1000

// RingBuffer holds the most recent output chunks for a session, bounded by
// both a byte budget and a chunk-count ceiling, whichever triggers first.
// When either is exceeded the oldest chunks are dropped; order of the
// surviving bytes is never disturbed. It backs both scrollback replay
// (§4.5) and the backpressure model (§4.1).
type RingBuffer struct {
	mu         sync.Mutex
	chunks     [][]byte
	totalBytes int
	maxBytes   int
	maxChunks  int
}

func NewRingBuffer(maxBytes int) *RingBuffer {
	return &RingBuffer{
		maxBytes:  maxBytes,
		maxChunks: defaultRingChunks,
	}
}

// Write appends a chunk, then evicts the oldest chunks until both the byte
// budget and chunk ceiling are satisfied.
func (r *RingBuffer) Write(p []byte) {
	if len(p) == 0 {
		return
	}
	chunk := make([]byte, len(p))
	copy(chunk, p)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, chunk)
	r.totalBytes += len(chunk)
	r.evictLocked()
}

func (r *RingBuffer) evictLocked() {
	for len(r.chunks) > 0 && (r.totalBytes > r.maxBytes || len(r.chunks) > r.maxChunks) {
		r.totalBytes -= len(r.chunks[0])
		r.chunks = r.chunks[1:]
	}
}

// Bytes returns the currently buffered bytes, oldest first, never reordered.
func (r *RingBuffer) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]byte, 0, r.totalBytes)
	for _, c := range r.chunks {
		out = append(out, c...)
	}
	return out
}

// Size returns the number of bytes currently buffered, used by the
// process-wide backpressure ceiling sweep.
func (r *RingBuffer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalBytes
}

// EvictHalf drops the oldest half (by chunk count) of the buffer. Used by
// the process-wide eviction sweep to free memory from non-visible sessions
// before visible ones, without discarding all history in one step.
func (r *RingBuffer) EvictHalf() {
	r.mu.Lock()
	defer r.mu.Unlock()
	drop := (len(r.chunks) + 1) / 2
	for i := 0; i < drop; i++ {
		r.totalBytes -= len(r.chunks[0])
		r.chunks = r.chunks[1:]
	}
}
