package identify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/halcyonix/vigil/internal/vision"
)

// defaultPopTimeout bounds each frame wait so the gate re-checks its context
// and the sink state about once a second even on a silent camera.
const defaultPopTimeout = time.Second

// Gate polls the frame buffer and runs recognition while the sink is
// watching. Frames popped while the sink is busy elsewhere are discarded so
// the buffer never serves stale frames when watching resumes.
type Gate struct {
	buf        *vision.FrameBuffer
	recognizer Recognizer
	sink       EventSink
	popTimeout time.Duration

	onResult func(d time.Duration, matched bool, err error)
	onOffer  func(ev Event, accepted bool)
}

// GateOption configures a [Gate].
type GateOption func(*Gate)

// WithPopTimeout overrides how long each frame wait may block.
func WithPopTimeout(d time.Duration) GateOption {
	return func(g *Gate) { g.popTimeout = d }
}

// WithOnResult installs a callback invoked after every recognition attempt
// with its duration and outcome. Used for metrics.
func WithOnResult(fn func(d time.Duration, matched bool, err error)) GateOption {
	return func(g *Gate) { g.onResult = fn }
}

// WithOnOffer installs a callback invoked after every event offered to the
// sink, with the sink's verdict. Used for metrics.
func WithOnOffer(fn func(ev Event, accepted bool)) GateOption {
	return func(g *Gate) { g.onOffer = fn }
}

// NewGate creates a gate reading from buf, recognizing with recognizer, and
// offering events to sink.
func NewGate(buf *vision.FrameBuffer, recognizer Recognizer, sink EventSink, opts ...GateOption) *Gate {
	g := &Gate{
		buf:        buf,
		recognizer: recognizer,
		sink:       sink,
		popTimeout: defaultPopTimeout,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Run polls frames until ctx is cancelled or the frame buffer closes. It
// never returns a recognition error; provider failures are logged and the
// next frame is tried.
func (g *Gate) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		frame, err := g.buf.Pop(g.popTimeout)
		if errors.Is(err, vision.ErrPopTimeout) {
			continue
		}
		if errors.Is(err, vision.ErrClosed) {
			return nil
		}
		if err != nil {
			return err
		}

		// Drain-but-discard while a session is active.
		if !g.sink.Watching() {
			continue
		}

		start := time.Now()
		matches, err := g.recognizer.Recognize(ctx, frame)
		if g.onResult != nil {
			g.onResult(time.Since(start), len(matches) > 0, err)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("recognition failed", "frame_seq", frame.Seq, "err", err)
			continue
		}

		best, ok := bestMatch(matches)
		if !ok {
			continue
		}

		ev := Event{
			Name:       best.Name,
			Confidence: best.Confidence,
			FrameSeq:   frame.Seq,
			At:         time.Now(),
		}
		accepted := g.sink.Offer(ctx, ev)
		if g.onOffer != nil {
			g.onOffer(ev, accepted)
		}
		if accepted {
			slog.Info("person identified", "name", ev.Name, "confidence", ev.Confidence, "frame_seq", ev.FrameSeq)
		} else {
			slog.Debug("identification suppressed", "name", ev.Name, "frame_seq", ev.FrameSeq)
		}
	}
}

// bestMatch picks the highest-confidence match. One face drives one session;
// extra faces in frame are ignored.
func bestMatch(matches []Match) (Match, bool) {
	if len(matches) == 0 {
		return Match{}, false
	}
	best := matches[0]
	for _, m := range matches[1:] {
		if m.Confidence > best.Confidence {
			best = m
		}
	}
	return best, true
}
