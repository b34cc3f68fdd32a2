package webrtc

import "sync"

// sampleRing is a bounded FIFO of float32 samples. When full, writes evict the
// oldest samples so the reader always gets the freshest audio.
type sampleRing struct {
	mu    sync.Mutex
	buf   []float32
	head  int
	count int
}

func newSampleRing(capacity int) *sampleRing {
	if capacity < 1 {
		capacity = 1
	}
	return &sampleRing{buf: make([]float32, capacity)}
}

// Write appends samples and returns how many older samples were evicted.
func (r *sampleRing) Write(samples []float32) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	capacity := len(r.buf)
	dropped := 0
	if len(samples) > capacity {
		dropped = len(samples) - capacity
		samples = samples[dropped:]
	}
	if overflow := r.count + len(samples) - capacity; overflow > 0 {
		r.head = (r.head + overflow) % capacity
		r.count -= overflow
		dropped += overflow
	}

	tail := (r.head + r.count) % capacity
	n := copy(r.buf[tail:], samples)
	copy(r.buf, samples[n:])
	r.count += len(samples)
	return dropped
}

// Read moves up to len(dst) samples into dst and returns the count.
func (r *sampleRing) Read(dst []float32) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(dst)
	if n > r.count {
		n = r.count
	}
	first := copy(dst[:n], r.buf[r.head:])
	copy(dst[first:n], r.buf)
	r.head = (r.head + n) % len(r.buf)
	r.count -= n
	return n
}

func (r *sampleRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
