// Package vision provides frame acquisition for the Vigil pipeline: the
// camera [Device] abstraction, the [CaptureLoop] producer, and the bounded
// drop-oldest [FrameBuffer] that decouples capture from downstream consumers.
package vision

import "time"

// Frame is a single captured camera image. Frames are created by the
// [CaptureLoop] and transferred — never shared — to whichever consumer pops
// them from the [FrameBuffer]. The consumer owns the frame after Pop returns.
type Frame struct {
	// Seq is a monotonically increasing sequence number assigned by the
	// capture loop. Gaps indicate frames evicted by the drop-oldest buffer.
	Seq uint64

	// Data is the raw encoded image (typically JPEG from an MJPEG device).
	Data []byte

	// Width and Height are the frame dimensions in pixels, when known.
	Width  int
	Height int

	// CapturedAt records when the frame was read from the device.
	CapturedAt time.Time
}
