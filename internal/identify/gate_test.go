package identify_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/halcyonix/vigil/internal/identify"
	"github.com/halcyonix/vigil/internal/identify/mock"
	"github.com/halcyonix/vigil/internal/vision"
)

func newBuffer(t *testing.T) *vision.FrameBuffer {
	t.Helper()
	buf, err := vision.NewFrameBuffer(8)
	if err != nil {
		t.Fatalf("NewFrameBuffer: %v", err)
	}
	return buf
}

func runGate(t *testing.T, g *identify.Gate) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				t.Errorf("Run: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("gate did not stop")
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestGateOffersBestMatch(t *testing.T) {
	t.Parallel()

	buf := newBuffer(t)
	rec := &mock.Recognizer{
		Results: [][]identify.Match{{
			{Name: "bob", Confidence: 0.6},
			{Name: "alice", Confidence: 0.9},
		}},
	}
	sink := &mock.Sink{WatchingResult: true}
	g := identify.NewGate(buf, rec, sink, identify.WithPopTimeout(10*time.Millisecond))
	stop := runGate(t, g)
	defer stop()

	if err := buf.Push(vision.Frame{Seq: 1}); err != nil {
		t.Fatalf("Push: %v", err)
	}

	waitFor(t, "an offered event", func() bool { return len(sink.Offered()) > 0 })

	ev := sink.Offered()[0]
	if ev.Name != "alice" {
		t.Errorf("offered name = %q, want %q", ev.Name, "alice")
	}
	if ev.Confidence != 0.9 {
		t.Errorf("offered confidence = %v, want 0.9", ev.Confidence)
	}
	if ev.FrameSeq != 1 {
		t.Errorf("offered frame seq = %d, want 1", ev.FrameSeq)
	}
	if ev.At.IsZero() {
		t.Error("offered event has zero timestamp")
	}
}

func TestGateDiscardsFramesWhileNotWatching(t *testing.T) {
	t.Parallel()

	buf := newBuffer(t)
	rec := &mock.Recognizer{
		Results: [][]identify.Match{{{Name: "alice", Confidence: 1}}},
	}
	sink := &mock.Sink{WatchingResult: false}
	g := identify.NewGate(buf, rec, sink, identify.WithPopTimeout(10*time.Millisecond))
	stop := runGate(t, g)
	defer stop()

	for i := uint64(1); i <= 5; i++ {
		if err := buf.Push(vision.Frame{Seq: i}); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	// The gate must drain the buffer without invoking the recognizer.
	waitFor(t, "buffer drain", func() bool { return buf.Len() == 0 })
	if rec.Calls() != 0 {
		t.Errorf("recognizer called %d times while not watching, want 0", rec.Calls())
	}
	if len(sink.Offered()) != 0 {
		t.Errorf("events offered while not watching: %v", sink.Offered())
	}
}

func TestGateSkipsFramesWithoutMatches(t *testing.T) {
	t.Parallel()

	buf := newBuffer(t)
	rec := &mock.Recognizer{
		Results: [][]identify.Match{
			nil,
			{{Name: "alice", Confidence: 0.8}},
		},
	}
	sink := &mock.Sink{WatchingResult: true}
	g := identify.NewGate(buf, rec, sink, identify.WithPopTimeout(10*time.Millisecond))
	stop := runGate(t, g)
	defer stop()

	if err := buf.Push(vision.Frame{Seq: 1}); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := buf.Push(vision.Frame{Seq: 2}); err != nil {
		t.Fatalf("Push: %v", err)
	}

	waitFor(t, "an offered event", func() bool { return len(sink.Offered()) > 0 })

	events := sink.Offered()
	if len(events) != 1 || events[0].FrameSeq != 2 {
		t.Errorf("offered events = %v, want one event for frame 2", events)
	}
}

func TestGateSurvivesRecognizerErrors(t *testing.T) {
	t.Parallel()

	buf := newBuffer(t)
	rec := &mock.Recognizer{
		Results: [][]identify.Match{
			nil,
			{{Name: "alice", Confidence: 0.8}},
		},
		Errs: map[int]error{0: errors.New("model overloaded")},
	}
	sink := &mock.Sink{WatchingResult: true}

	var mu sync.Mutex
	var results []error
	g := identify.NewGate(buf, rec, sink,
		identify.WithPopTimeout(10*time.Millisecond),
		identify.WithOnResult(func(d time.Duration, matched bool, err error) {
			mu.Lock()
			results = append(results, err)
			mu.Unlock()
		}),
	)
	stop := runGate(t, g)
	defer stop()

	if err := buf.Push(vision.Frame{Seq: 1}); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := buf.Push(vision.Frame{Seq: 2}); err != nil {
		t.Fatalf("Push: %v", err)
	}

	waitFor(t, "an offered event", func() bool { return len(sink.Offered()) > 0 })

	if len(sink.Offered()) != 1 {
		t.Errorf("offered %d events, want 1", len(sink.Offered()))
	}
	mu.Lock()
	defer mu.Unlock()
	if len(results) < 2 || results[0] == nil {
		t.Errorf("OnResult calls = %v, want first with the recognizer error", results)
	}
}

func TestGateStopsWhenBufferCloses(t *testing.T) {
	t.Parallel()

	buf := newBuffer(t)
	rec := &mock.Recognizer{}
	sink := &mock.Sink{WatchingResult: true}
	g := identify.NewGate(buf, rec, sink, identify.WithPopTimeout(10*time.Millisecond))

	done := make(chan error, 1)
	go func() { done <- g.Run(context.Background()) }()

	buf.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run after buffer close = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("gate did not stop after buffer close")
	}
}

func TestGateReportsSuppressedOffers(t *testing.T) {
	t.Parallel()

	buf := newBuffer(t)
	rec := &mock.Recognizer{
		Results: [][]identify.Match{{{Name: "alice", Confidence: 0.8}}},
	}
	sink := &mock.Sink{
		WatchingResult: true,
		Accept:         func(ev identify.Event) bool { return false },
	}

	type verdict struct {
		name     string
		accepted bool
	}
	verdicts := make(chan verdict, 1)
	g := identify.NewGate(buf, rec, sink,
		identify.WithPopTimeout(10*time.Millisecond),
		identify.WithOnOffer(func(ev identify.Event, accepted bool) {
			verdicts <- verdict{name: ev.Name, accepted: accepted}
		}),
	)
	stop := runGate(t, g)
	defer stop()

	if err := buf.Push(vision.Frame{Seq: 1}); err != nil {
		t.Fatalf("Push: %v", err)
	}

	select {
	case v := <-verdicts:
		if v.accepted {
			t.Error("OnOffer reported accepted for a rejected event")
		}
		if v.name != "alice" {
			t.Errorf("OnOffer name = %q, want alice", v.name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnOffer never fired")
	}
}
