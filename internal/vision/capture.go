package vision

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Device is the abstraction over a camera. The capture loop owns its Device
// exclusively for the loop's lifetime; nothing else may call ReadFrame
// concurrently.
type Device interface {
	// ReadFrame blocks until the next frame is available and returns it.
	// Transient failures return an error; the capture loop logs and retries.
	ReadFrame() (Frame, error)

	// Release frees the underlying camera resource. Called exactly once,
	// by [CaptureLoop.Stop].
	Release() error
}

// defaultRetryDelay is the pause inserted after a failed frame read. The
// delay bounds the failure loop's CPU cost; reads are otherwise retried
// indefinitely because a camera glitch is a transient condition.
const defaultRetryDelay = 50 * time.Millisecond

// CaptureLoop continuously reads frames from a Device and pushes them into a
// FrameBuffer. It is the sole producer for its buffer and the exclusive owner
// of its device.
type CaptureLoop struct {
	dev        Device
	buf        *FrameBuffer
	retryDelay time.Duration

	stopCh chan struct{}
	doneCh chan struct{}

	lastFrame atomic.Int64  // unix nanos of the most recent successful read
	frames    atomic.Uint64 // total frames read successfully

	startOnce   sync.Once
	stopOnce    sync.Once
	releaseOnce sync.Once
}

// CaptureOption configures a [CaptureLoop].
type CaptureOption func(*CaptureLoop)

// WithRetryDelay overrides the pause inserted after a failed frame read.
func WithRetryDelay(d time.Duration) CaptureOption {
	return func(c *CaptureLoop) { c.retryDelay = d }
}

// NewCaptureLoop creates a capture loop for dev feeding buf. The loop does
// not run until [CaptureLoop.Start] is called.
func NewCaptureLoop(dev Device, buf *FrameBuffer, opts ...CaptureOption) *CaptureLoop {
	c := &CaptureLoop{
		dev:        dev,
		buf:        buf,
		retryDelay: defaultRetryDelay,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start launches the capture goroutine. Calling Start more than once is a
// no-op.
func (c *CaptureLoop) Start() {
	c.startOnce.Do(func() {
		go c.run()
	})
}

// run is the producer loop: read one frame, push it, repeat until stopped.
// Cancellation is cooperative — the stop flag is checked every iteration, so
// exit is bounded by one frame-acquisition duration.
func (c *CaptureLoop) run() {
	defer close(c.doneCh)

	var seq uint64
	var readFailures uint64

	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		frame, err := c.dev.ReadFrame()
		if err != nil {
			readFailures++
			slog.Warn("camera frame read failed", "err", err, "failures", readFailures)
			select {
			case <-c.stopCh:
				return
			case <-time.After(c.retryDelay):
			}
			continue
		}

		seq++
		frame.Seq = seq
		if frame.CapturedAt.IsZero() {
			frame.CapturedAt = time.Now()
		}
		c.lastFrame.Store(frame.CapturedAt.UnixNano())
		c.frames.Add(1)

		if err := c.buf.Push(frame); err != nil {
			// Buffer closed: the pipeline is shutting down.
			return
		}
	}
}

// LastFrame reports when the loop last read a frame successfully. The zero
// time means no frame has been read yet.
func (c *CaptureLoop) LastFrame() time.Time {
	n := c.lastFrame.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Frames reports how many frames the loop has read successfully.
func (c *CaptureLoop) Frames() uint64 {
	return c.frames.Load()
}

// Stop signals the loop to exit, waits for it to observe the signal, and
// releases the camera device. Stop is idempotent; concurrent callers all
// block until teardown completes.
func (c *CaptureLoop) Stop() {
	// If the loop was never started there is no goroutine to wait for.
	c.startOnce.Do(func() {
		close(c.doneCh)
	})
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	<-c.doneCh

	c.releaseOnce.Do(func() {
		if err := c.dev.Release(); err != nil {
			slog.Warn("camera release failed", "err", err)
		}
	})
}
