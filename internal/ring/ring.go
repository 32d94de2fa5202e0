// Package ring provides the single-producer/single-consumer frame queue
// that bridges the audio callback and the processing goroutine.
package ring

import "sync/atomic"

// Buffer is a bounded SPSC queue of audio frames. The producer side never
// blocks and never allocates: when the queue is full the incoming frame is
// dropped and the overflow counter increments. Only the consumer ever
// advances tail, so a slot is never rewritten while Drain copies it.
//
// Exactly one goroutine may call Push and exactly one may call Drain.
type Buffer struct {
	frames   []Frame
	capacity uint64

	head      atomic.Uint64 // next write position
	tail      atomic.Uint64 // next read position
	overflows atomic.Uint64
}

// New creates a buffer holding up to capacity frames.
func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{
		frames:   make([]Frame, capacity),
		capacity: uint64(capacity),
	}
}

// Push enqueues a frame. It returns false when the buffer was full and the
// frame was discarded. Push runs on the capture callback path and must stay
// bounded: it never waits for the consumer.
func (b *Buffer) Push(frame Frame) bool {
	head := b.head.Load()
	tail := b.tail.Load()

	if head-tail >= b.capacity {
		b.overflows.Add(1)
		return false
	}

	b.frames[head%b.capacity] = frame
	b.head.Store(head + 1)
	return true
}

// Drain appends all currently readable frames to dst and returns it.
// It never blocks; an empty buffer returns dst unchanged.
func (b *Buffer) Drain(dst []Frame) []Frame {
	tail := b.tail.Load()
	head := b.head.Load()

	for ; tail != head; tail++ {
		dst = append(dst, b.frames[tail%b.capacity])
	}
	b.tail.Store(tail)
	return dst
}

// Len reports the number of unread frames.
func (b *Buffer) Len() int {
	head := b.head.Load()
	tail := b.tail.Load()
	if head < tail {
		return 0
	}
	return int(head - tail)
}

// Cap reports the fixed frame capacity.
func (b *Buffer) Cap() int {
	return int(b.capacity)
}

// Overflows reports how many frames have been dropped since creation.
// The counter is monotonic and never reset.
func (b *Buffer) Overflows() uint64 {
	return b.overflows.Load()
}
