package health

import (
	"context"
	"fmt"
	"time"

	"github.com/halcyonix/vigil/internal/encstore"
	"github.com/halcyonix/vigil/internal/speech"
	"github.com/halcyonix/vigil/internal/vision"
)

// Encodings returns a checker that fails when the face encoding store is
// unreachable or holds no encodings. An empty store means nobody could ever
// be recognized, so readiness reports it as a failure.
func Encodings(store encstore.Store) Checker {
	return Checker{
		Name: "encodings",
		Check: func(ctx context.Context) error {
			n, err := store.Count(ctx)
			if err != nil {
				return err
			}
			if n == 0 {
				return encstore.ErrNoEncodings
			}
			return nil
		},
	}
}

// Camera returns a checker that fails when the capture loop has not produced
// a frame within maxAge. A camera that stops delivering frames leaves the
// recognition pipeline idle without any other visible symptom.
func Camera(loop *vision.CaptureLoop, maxAge time.Duration) Checker {
	return Checker{
		Name: "camera",
		Check: func(_ context.Context) error {
			last := loop.LastFrame()
			if last.IsZero() {
				return fmt.Errorf("no frames captured yet")
			}
			if age := time.Since(last); age > maxAge {
				return fmt.Errorf("last frame is %s old (max %s)", age.Round(time.Millisecond), maxAge)
			}
			return nil
		},
	}
}

// SpeechBacklog returns a checker that fails when the speech queue holds more
// than maxPending utterances. A growing backlog points at a stuck or
// unreachable speech backend.
func SpeechBacklog(q *speech.Queue, maxPending int) Checker {
	return Checker{
		Name: "speech",
		Check: func(_ context.Context) error {
			if n := q.Len(); n > maxPending {
				return fmt.Errorf("%d utterances pending (max %d)", n, maxPending)
			}
			return nil
		},
	}
}
