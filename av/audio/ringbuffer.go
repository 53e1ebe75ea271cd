package audio

import "sync"

// RingBuffer is a fixed capacity FIFO of PCM samples. Writes that do not
// fit overwrite the oldest samples, so a slow reader loses history rather
// than blocking the writer.
type RingBuffer struct {
	mu      sync.Mutex
	data    []int16
	head    int
	size    int
	dropped uint64
}

// NewRingBuffer creates a ring buffer holding capacity samples.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{data: make([]int16, capacity)}
}

// Write appends samples, overwriting the oldest when full.
func (r *RingBuffer) Write(samples []int16) {
	r.mu.Lock()
	defer r.mu.Unlock()

	capacity := len(r.data)
	if len(samples) > capacity {
		r.dropped += uint64(len(samples) - capacity)
		samples = samples[len(samples)-capacity:]
	}
	for _, s := range samples {
		tail := (r.head + r.size) % capacity
		r.data[tail] = s
		if r.size == capacity {
			r.head = (r.head + 1) % capacity
			r.dropped++
		} else {
			r.size++
		}
	}
}

// Read moves up to len(out) samples into out and returns the count.
func (r *RingBuffer) Read(out []int16) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(out)
	if n > r.size {
		n = r.size
	}
	for i := 0; i < n; i++ {
		out[i] = r.data[(r.head+i)%len(r.data)]
	}
	r.head = (r.head + n) % len(r.data)
	r.size -= n
	return n
}

// Len returns the number of buffered samples.
func (r *RingBuffer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Cap returns the buffer capacity.
func (r *RingBuffer) Cap() int { return len(r.data) }

// Dropped returns how many samples were overwritten before being read.
func (r *RingBuffer) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
