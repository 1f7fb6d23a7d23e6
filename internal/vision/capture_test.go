package vision_test

import (
	"errors"
	"testing"
	"time"

	"github.com/halcyonix/vigil/internal/vision"
	"github.com/halcyonix/vigil/internal/vision/mock"
)

func newBuffer(t *testing.T, capacity int) *vision.FrameBuffer {
	t.Helper()
	buf, err := vision.NewFrameBuffer(capacity)
	if err != nil {
		t.Fatalf("NewFrameBuffer: %v", err)
	}
	return buf
}

func TestCaptureLoopDeliversFrames(t *testing.T) {
	t.Parallel()

	dev := &mock.Device{
		Frames: []vision.Frame{
			{Data: []byte("a")},
			{Data: []byte("b")},
			{Data: []byte("c")},
		},
	}
	buf := newBuffer(t, 8)
	loop := vision.NewCaptureLoop(dev, buf, vision.WithRetryDelay(time.Millisecond))
	loop.Start()
	defer loop.Stop()

	for i, want := range []string{"a", "b", "c"} {
		f, err := buf.Pop(time.Second)
		if err != nil {
			t.Fatalf("Pop #%d: %v", i, err)
		}
		if string(f.Data) != want {
			t.Errorf("frame #%d data = %q, want %q", i, f.Data, want)
		}
		if f.Seq != uint64(i+1) {
			t.Errorf("frame #%d seq = %d, want %d", i, f.Seq, i+1)
		}
		if f.CapturedAt.IsZero() {
			t.Errorf("frame #%d has zero CapturedAt", i)
		}
	}
}

func TestCaptureLoopRetriesReadFailures(t *testing.T) {
	t.Parallel()

	dev := &mock.Device{
		Frames: []vision.Frame{{Data: []byte("ok")}},
		Errs: map[int]error{
			0: errors.New("bus glitch"),
			1: errors.New("bus glitch"),
		},
	}
	buf := newBuffer(t, 4)
	loop := vision.NewCaptureLoop(dev, buf, vision.WithRetryDelay(time.Millisecond))
	loop.Start()
	defer loop.Stop()

	f, err := buf.Pop(time.Second)
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if string(f.Data) != "ok" {
		t.Errorf("frame data = %q, want %q", f.Data, "ok")
	}
	if dev.ReadCalls < 3 {
		t.Errorf("ReadCalls = %d, want at least 3 (two failures plus the success)", dev.ReadCalls)
	}
}

func TestCaptureLoopStopReleasesDeviceOnce(t *testing.T) {
	t.Parallel()

	dev := &mock.Device{}
	buf := newBuffer(t, 1)
	loop := vision.NewCaptureLoop(dev, buf, vision.WithRetryDelay(time.Millisecond))
	loop.Start()

	loop.Stop()
	loop.Stop() // idempotent

	if dev.ReleaseCalls != 1 {
		t.Errorf("ReleaseCalls = %d, want 1", dev.ReleaseCalls)
	}
}

func TestCaptureLoopStopWithoutStart(t *testing.T) {
	t.Parallel()

	dev := &mock.Device{}
	buf := newBuffer(t, 1)
	loop := vision.NewCaptureLoop(dev, buf)

	done := make(chan struct{})
	go func() {
		loop.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop on a never-started loop did not return")
	}
	if dev.ReleaseCalls != 1 {
		t.Errorf("ReleaseCalls = %d, want 1", dev.ReleaseCalls)
	}
}

func TestCaptureLoopExitsWhenBufferCloses(t *testing.T) {
	t.Parallel()

	frames := make([]vision.Frame, 100)
	dev := &mock.Device{Frames: frames}
	buf := newBuffer(t, 2)
	loop := vision.NewCaptureLoop(dev, buf, vision.WithRetryDelay(time.Millisecond))
	loop.Start()

	buf.Close()

	done := make(chan struct{})
	go func() {
		loop.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after buffer close")
	}
}
