// Package mock provides a test double for the vision.Device interface.
//
// Use Device to feed scripted frames (or errors) to a capture loop and to
// verify release semantics.
//
// Example:
//
//	d := &mock.Device{
//	    Frames: []vision.Frame{{Data: []byte("jpeg1")}, {Data: []byte("jpeg2")}},
//	}
//	loop := vision.NewCaptureLoop(d, buf)
package mock

import (
	"errors"
	"sync"

	"github.com/halcyonix/vigil/internal/vision"
)

// ErrExhausted is returned by Device.ReadFrame once the scripted frames run
// out. The capture loop treats it as a transient read failure and retries,
// so a test stays responsive to Stop.
var ErrExhausted = errors.New("mock: device script exhausted")

// Device is a mock implementation of vision.Device. It emits Frames in
// order, interleaving Errs at the ReadFrame call indices given by their keys.
type Device struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Frames is the sequence of frames emitted by successive ReadFrame calls.
	// When the sequence is exhausted ReadFrame returns ErrExhausted.
	Frames []vision.Frame

	// Errs maps a ReadFrame call index (0-based) to an error returned instead
	// of a frame at that position. Errored calls do not consume a frame.
	Errs map[int]error

	// ReleaseErr, if non-nil, is returned by Release.
	ReleaseErr error

	// --- Call records ---

	// ReadCalls counts every ReadFrame invocation.
	ReadCalls int

	// ReleaseCalls counts every Release invocation.
	ReleaseCalls int

	frameIdx int
}

// ReadFrame returns the next scripted frame or error, and ErrExhausted once
// the script runs out.
func (d *Device) ReadFrame() (vision.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	idx := d.ReadCalls
	d.ReadCalls++
	if err, ok := d.Errs[idx]; ok {
		return vision.Frame{}, err
	}
	if d.frameIdx < len(d.Frames) {
		f := d.Frames[d.frameIdx]
		d.frameIdx++
		return f, nil
	}
	return vision.Frame{}, ErrExhausted
}

// Release records the call and returns ReleaseErr.
func (d *Device) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ReleaseCalls++
	return d.ReleaseErr
}

// Ensure Device implements vision.Device at compile time.
var _ vision.Device = (*Device)(nil)
