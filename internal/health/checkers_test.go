package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/halcyonix/vigil/internal/encstore"
	"github.com/halcyonix/vigil/internal/speech"
	speechmock "github.com/halcyonix/vigil/internal/speech/mock"
	"github.com/halcyonix/vigil/internal/vision"
	visionmock "github.com/halcyonix/vigil/internal/vision/mock"
)

// fakeStore is a minimal encstore.Store for checker tests.
type fakeStore struct {
	count    int
	countErr error
}

func (s *fakeStore) Nearest(_ context.Context, _ []float32) (encstore.Match, error) {
	return encstore.Match{}, encstore.ErrNoEncodings
}

func (s *fakeStore) Count(_ context.Context) (int, error) { return s.count, s.countErr }

func (s *fakeStore) Add(_ context.Context, _ string, _ []float32) error { return nil }

func (s *fakeStore) Close() error { return nil }

func TestEncodingsChecker(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		store   *fakeStore
		wantErr bool
	}{
		{name: "populated store passes", store: &fakeStore{count: 3}},
		{name: "empty store fails", store: &fakeStore{count: 0}, wantErr: true},
		{name: "count error fails", store: &fakeStore{countErr: errors.New("connection refused")}, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := Encodings(tc.store)
			if c.Name != "encodings" {
				t.Errorf("checker name = %q, want %q", c.Name, "encodings")
			}
			err := c.Check(context.Background())
			if (err != nil) != tc.wantErr {
				t.Errorf("Check() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestCameraChecker_NoFramesYet(t *testing.T) {
	t.Parallel()

	buf, err := vision.NewFrameBuffer(1)
	if err != nil {
		t.Fatalf("NewFrameBuffer: %v", err)
	}
	loop := vision.NewCaptureLoop(&visionmock.Device{}, buf)

	c := Camera(loop, time.Minute)
	if err := c.Check(context.Background()); err == nil {
		t.Error("Check() = nil, want error for a loop that never captured")
	}
}

func TestCameraChecker_FreshFramePasses(t *testing.T) {
	t.Parallel()

	buf, err := vision.NewFrameBuffer(4)
	if err != nil {
		t.Fatalf("NewFrameBuffer: %v", err)
	}
	dev := &visionmock.Device{
		Frames: []vision.Frame{{Data: []byte("jpeg"), CapturedAt: time.Now()}},
	}
	loop := vision.NewCaptureLoop(dev, buf, vision.WithRetryDelay(time.Millisecond))
	loop.Start()
	t.Cleanup(loop.Stop)

	waitForFrame(t, loop)

	c := Camera(loop, time.Minute)
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("Check() = %v, want nil for a fresh frame", err)
	}
}

func TestCameraChecker_StaleFrameFails(t *testing.T) {
	t.Parallel()

	buf, err := vision.NewFrameBuffer(4)
	if err != nil {
		t.Fatalf("NewFrameBuffer: %v", err)
	}
	dev := &visionmock.Device{
		Frames: []vision.Frame{{Data: []byte("jpeg"), CapturedAt: time.Now().Add(-time.Hour)}},
	}
	loop := vision.NewCaptureLoop(dev, buf, vision.WithRetryDelay(time.Millisecond))
	loop.Start()
	t.Cleanup(loop.Stop)

	waitForFrame(t, loop)

	c := Camera(loop, time.Minute)
	if err := c.Check(context.Background()); err == nil {
		t.Error("Check() = nil, want error for an hour-old frame")
	}
}

// waitForFrame blocks until the loop has captured at least one frame.
func waitForFrame(t *testing.T, loop *vision.CaptureLoop) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for loop.LastFrame().IsZero() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the capture loop to read a frame")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSpeechBacklogChecker(t *testing.T) {
	t.Parallel()

	t.Run("empty queue passes", func(t *testing.T) {
		t.Parallel()
		q := speech.NewQueue(&speechmock.Backend{})
		t.Cleanup(func() { _ = q.Close() })

		c := SpeechBacklog(q, 10)
		if err := c.Check(context.Background()); err != nil {
			t.Errorf("Check() = %v, want nil", err)
		}
	})

	t.Run("deep backlog fails", func(t *testing.T) {
		t.Parallel()
		// A slow backend keeps enqueued utterances pending.
		q := speech.NewQueue(&speechmock.Backend{SpeakDelay: 5 * time.Second})
		t.Cleanup(func() { _ = q.Close() })

		for i := 0; i < 4; i++ {
			if err := q.Enqueue("hello"); err != nil {
				t.Fatalf("Enqueue: %v", err)
			}
		}

		c := SpeechBacklog(q, 1)
		if err := c.Check(context.Background()); err == nil {
			t.Error("Check() = nil, want error for a backlogged queue")
		}
	})
}
