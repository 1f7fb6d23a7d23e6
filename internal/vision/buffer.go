package vision

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned by [FrameBuffer.Push] and [FrameBuffer.Pop] after the
// buffer has been permanently closed and drained.
var ErrClosed = errors.New("vision: frame buffer is closed")

// ErrPopTimeout is returned by [FrameBuffer.Pop] when no frame becomes
// available within the timeout. A pop timeout is an expected idle condition,
// not a failure.
var ErrPopTimeout = errors.New("vision: pop timed out")

// FrameBuffer is a bounded single-producer/multi-consumer frame queue with
// drop-oldest semantics: Push never blocks the producer — when the buffer is
// at capacity the oldest retained frame is evicted to admit the new one.
//
// Retained frames are delivered FIFO. Freshness wins over completeness: a
// slow consumer sees recent frames, never a growing backlog.
//
// All methods are safe for concurrent use.
type FrameBuffer struct {
	mu      sync.Mutex
	ch      chan Frame
	closed  bool
	dropped atomic.Uint64
}

// NewFrameBuffer creates a buffer holding at most capacity frames.
// A capacity below 1 is a configuration error.
func NewFrameBuffer(capacity int) (*FrameBuffer, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("vision: frame buffer capacity must be >= 1, got %d", capacity)
	}
	return &FrameBuffer{ch: make(chan Frame, capacity)}, nil
}

// Push inserts f, evicting the oldest retained frame if the buffer is full.
// It never blocks. Returns [ErrClosed] after Close.
func (b *FrameBuffer) Push(f Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	for {
		select {
		case b.ch <- f:
			return nil
		default:
		}
		// Full: evict the oldest and retry. A concurrent Pop may have
		// raced us to it, hence the loop.
		select {
		case <-b.ch:
			b.dropped.Add(1)
		default:
		}
	}
}

// Pop blocks up to timeout for the oldest retained frame. It returns
// [ErrPopTimeout] when nothing arrives in time, or [ErrClosed] once the
// buffer has been closed and fully drained.
func (b *FrameBuffer) Pop(timeout time.Duration) (Frame, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f, ok := <-b.ch:
		if !ok {
			return Frame{}, ErrClosed
		}
		return f, nil
	case <-timer.C:
		return Frame{}, ErrPopTimeout
	}
}

// Len reports the number of frames currently retained.
func (b *FrameBuffer) Len() int {
	return len(b.ch)
}

// Cap reports the buffer's fixed capacity.
func (b *FrameBuffer) Cap() int {
	return cap(b.ch)
}

// Dropped reports how many frames have been evicted since creation.
func (b *FrameBuffer) Dropped() uint64 {
	return b.dropped.Load()
}

// Close permanently closes the buffer. Pending frames remain poppable;
// after the drain, Pop returns [ErrClosed] immediately. Close is idempotent.
func (b *FrameBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}
