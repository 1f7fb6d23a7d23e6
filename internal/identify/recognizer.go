// Package identify turns camera frames into identity events: the Recognizer
// contract for face-recognition providers and the Gate that polls the frame
// buffer and offers recognized identities to the session layer.
package identify

import (
	"context"
	"time"

	"github.com/halcyonix/vigil/internal/vision"
)

// BoundingBox locates a detected face within a frame, in pixels.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Match is a recognized face within a frame.
type Match struct {
	// Name is the enrolled identity. Unknown faces are not reported as
	// matches.
	Name string

	// Confidence is the provider's confidence in [0, 1]. Higher is better.
	Confidence float64

	// Box is the face location within the frame, when the provider reports
	// one.
	Box BoundingBox
}

// Recognizer detects and identifies faces in a frame. Implementations live
// in subpackages (httpface, vector).
type Recognizer interface {
	// Recognize returns the recognized identities in frame. An empty slice
	// means no enrolled person was found; that is not an error.
	Recognize(ctx context.Context, frame vision.Frame) ([]Match, error)

	// Close releases provider resources.
	Close() error
}

// Event is a single identification handed to the session layer.
type Event struct {
	// Name is the recognized person.
	Name string

	// Confidence is the recognition confidence in [0, 1].
	Confidence float64

	// FrameSeq is the sequence number of the frame the person was seen in.
	FrameSeq uint64

	// At is when the identification was made.
	At time.Time
}

// EventSink consumes identity events. The session controller is the only
// production implementation; it applies debounce and the state transition
// atomically inside Offer.
type EventSink interface {
	// Watching reports whether the sink currently wants events. The gate
	// keeps draining frames regardless, so the buffer holds fresh frames
	// when watching resumes.
	Watching() bool

	// Offer hands an event to the sink, reporting whether it was accepted.
	// A rejected event was debounced or arrived in the wrong state.
	Offer(ctx context.Context, ev Event) bool
}
