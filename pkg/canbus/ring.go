package canbus

import "sync"

// DefaultRingDepth is the per-interface diagnostic frame ring depth.
const DefaultRingDepth = 1024

// FrameRing is a bounded ring buffer of recently received frames, kept per
// interface for diagnostics. Safe for concurrent use.
type FrameRing struct {
	mu    sync.Mutex
	buf   []Frame
	next  int
	count int
}

// NewFrameRing creates a ring holding up to depth frames.
func NewFrameRing(depth int) *FrameRing {
	if depth <= 0 {
		depth = DefaultRingDepth
	}
	return &FrameRing{buf: make([]Frame, depth)}
}

// Push appends a frame, evicting the oldest when full.
func (r *FrameRing) Push(f Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf[r.next] = f
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// Snapshot returns the buffered frames, oldest first.
func (r *FrameRing) Snapshot() []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Frame, 0, r.count)
	start := r.next - r.count
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

// Len returns the number of buffered frames.
func (r *FrameRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
