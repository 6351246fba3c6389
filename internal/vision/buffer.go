package vision

import (
	"sync"

	"github.com/MrWong99/poise/pkg/types"
)

// QueuedFrame is one admitted frame waiting for analysis. Ownership passes
// from the producer to the [Buffer] to the drain goroutine exactly once.
type QueuedFrame struct {
	Header types.FrameHeader
	Image  []byte

	// generation is the resolution epoch assigned at admission. The drain
	// goroutine clears its lookback state when it changes.
	generation uint64
}

// Buffer is a fixed-capacity FIFO of frames. It never blocks: Enqueue on a
// full buffer discards the incoming frame and counts it as dropped, and
// Dequeue on an empty buffer reports false.
//
// Safe for concurrent use by one producer and one consumer.
type Buffer struct {
	mu      sync.Mutex
	frames  []QueuedFrame
	head    int
	size    int
	dropped int
}

// NewBuffer returns an empty Buffer holding at most capacity frames.
func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{frames: make([]QueuedFrame, capacity)}
}

// Enqueue appends a frame and reports whether it was accepted.
func (b *Buffer) Enqueue(header types.FrameHeader, image []byte) bool {
	return b.push(QueuedFrame{Header: header, Image: image})
}

func (b *Buffer) push(f QueuedFrame) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size == len(b.frames) {
		b.dropped++
		return false
	}
	b.frames[(b.head+b.size)%len(b.frames)] = f
	b.size++
	return true
}

// Dequeue removes and returns the oldest frame.
func (b *Buffer) Dequeue() (QueuedFrame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size == 0 {
		return QueuedFrame{}, false
	}
	f := b.frames[b.head]
	b.frames[b.head] = QueuedFrame{}
	b.head = (b.head + 1) % len(b.frames)
	b.size--
	return f, true
}

// Clear discards every buffered frame and returns how many were removed.
// Cleared frames are not counted as dropped.
func (b *Buffer) Clear() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.size
	for i := range b.frames {
		b.frames[i] = QueuedFrame{}
	}
	b.head, b.size = 0, 0
	return n
}

// Len returns the number of buffered frames.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Cap returns the fixed capacity.
func (b *Buffer) Cap() int {
	return len(b.frames)
}

// Dropped returns how many frames Enqueue rejected because the buffer was full.
func (b *Buffer) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
