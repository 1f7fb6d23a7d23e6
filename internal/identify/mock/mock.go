// Package mock provides test doubles for the identify.Recognizer and
// identify.EventSink interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/halcyonix/vigil/internal/identify"
	"github.com/halcyonix/vigil/internal/vision"
)

// RecognizeCall records a single invocation of Recognize.
type RecognizeCall struct {
	// FrameSeq is the sequence number of the frame passed to Recognize.
	FrameSeq uint64
}

// Recognizer is a mock implementation of identify.Recognizer. Results are
// consumed per call: call n returns Results[n] (and Errs[n] if set); calls
// past the end of Results return no matches.
type Recognizer struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Results holds the match sets returned by successive Recognize calls.
	Results [][]identify.Match

	// Errs maps a Recognize call index (0-based) to an error returned
	// instead of matches.
	Errs map[int]error

	// --- Call records ---

	// RecognizeCalls records every call to Recognize in order.
	RecognizeCalls []RecognizeCall

	// CloseCalls counts every Close invocation.
	CloseCalls int
}

// Recognize records the call and returns the scripted result for its index.
func (r *Recognizer) Recognize(ctx context.Context, frame vision.Frame) ([]identify.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := len(r.RecognizeCalls)
	r.RecognizeCalls = append(r.RecognizeCalls, RecognizeCall{FrameSeq: frame.Seq})
	if err, ok := r.Errs[idx]; ok {
		return nil, err
	}
	if idx < len(r.Results) {
		return r.Results[idx], nil
	}
	return nil, nil
}

// Close records the call.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CloseCalls++
	return nil
}

// Calls reports how many Recognize calls have been made. Thread-safe.
func (r *Recognizer) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.RecognizeCalls)
}

// Sink is a mock implementation of identify.EventSink.
type Sink struct {
	mu sync.Mutex

	// WatchingResult is returned by Watching.
	WatchingResult bool

	// Accept decides the verdict for each offered event. When nil, every
	// event is accepted.
	Accept func(ev identify.Event) bool

	// Offers records every event passed to Offer in order.
	Offers []identify.Event
}

// Watching returns WatchingResult.
func (s *Sink) Watching() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.WatchingResult
}

// SetWatching updates WatchingResult. Thread-safe.
func (s *Sink) SetWatching(w bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.WatchingResult = w
}

// Offer records the event and returns the Accept verdict.
func (s *Sink) Offer(ctx context.Context, ev identify.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Offers = append(s.Offers, ev)
	if s.Accept != nil {
		return s.Accept(ev)
	}
	return true
}

// Offered returns a copy of the recorded events. Thread-safe.
func (s *Sink) Offered() []identify.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]identify.Event, len(s.Offers))
	copy(out, s.Offers)
	return out
}

// Compile-time interface assertions.
var (
	_ identify.Recognizer = (*Recognizer)(nil)
	_ identify.EventSink  = (*Sink)(nil)
)
