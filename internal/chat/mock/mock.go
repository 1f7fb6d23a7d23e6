// Package mock provides test doubles for the chat.Router, chat.LineReader,
// and chat.Speaker interfaces.
package mock

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/halcyonix/vigil/internal/chat"
)

// RouteCall records a single invocation of Route.
type RouteCall struct {
	// Query is the user input passed to Route.
	Query string

	// HistoryLen is the history length at the time of the call.
	HistoryLen int
}

// Router is a mock implementation of chat.Router. Answers are consumed per
// call: call n returns Answers[n] (and Errs[n] if set); calls past the end
// of Answers return a canned reply.
type Router struct {
	mu sync.Mutex

	// Answers holds the replies returned by successive Route calls.
	Answers []chat.Answer

	// Errs maps a Route call index (0-based) to an error returned instead
	// of an answer.
	Errs map[int]error

	// RouteDelay, if non-zero, makes Route block for this long or until the
	// context expires.
	RouteDelay time.Duration

	// RouteCalls records every call to Route in order.
	RouteCalls []RouteCall
}

// Route records the call and returns the scripted answer for its index.
func (r *Router) Route(ctx context.Context, query string, history *chat.History) (chat.Answer, error) {
	r.mu.Lock()
	idx := len(r.RouteCalls)
	r.RouteCalls = append(r.RouteCalls, RouteCall{Query: query, HistoryLen: history.Len()})
	delay := r.RouteDelay
	var answer chat.Answer
	if idx < len(r.Answers) {
		answer = r.Answers[idx]
	} else {
		answer = chat.Answer{Text: "ok", Source: "ai"}
	}
	err := r.Errs[idx]
	r.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return chat.Answer{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return chat.Answer{}, err
	}
	return answer, nil
}

// Calls returns a copy of the recorded calls. Thread-safe.
func (r *Router) Calls() []RouteCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RouteCall, len(r.RouteCalls))
	copy(out, r.RouteCalls)
	return out
}

// LineReader is a mock implementation of chat.LineReader that serves scripted
// lines and then io.EOF.
type LineReader struct {
	mu sync.Mutex

	// Lines are returned by successive ReadLine calls; afterwards ReadLine
	// returns io.EOF.
	Lines []string

	idx int
}

// ReadLine returns the next scripted line or io.EOF.
func (r *LineReader) ReadLine(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.idx >= len(r.Lines) {
		return "", io.EOF
	}
	line := r.Lines[r.idx]
	r.idx++
	return line, nil
}

// BlockingLineReader is a chat.LineReader fed through a channel, for tests
// that need to control input timing.
type BlockingLineReader struct {
	// Input carries lines to deliver. Close it to signal io.EOF.
	Input chan string
}

// NewBlockingLineReader creates a BlockingLineReader with an unbuffered
// input channel.
func NewBlockingLineReader() *BlockingLineReader {
	return &BlockingLineReader{Input: make(chan string)}
}

// ReadLine blocks until a line arrives, Input is closed, or ctx expires.
func (r *BlockingLineReader) ReadLine(ctx context.Context) (string, error) {
	select {
	case line, ok := <-r.Input:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Speaker is a mock implementation of chat.Speaker.
type Speaker struct {
	mu sync.Mutex

	// EnqueueErr, if non-nil, is returned by every Enqueue call.
	EnqueueErr error

	// Enqueued records every text passed to Enqueue in order.
	Enqueued []string

	// InterruptCalls counts every Interrupt invocation.
	InterruptCalls int

	// WaitCalls counts every WaitUntilDone invocation.
	WaitCalls int
}

// Enqueue records the text and returns EnqueueErr.
func (s *Speaker) Enqueue(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Enqueued = append(s.Enqueued, text)
	return s.EnqueueErr
}

// Interrupt records the call.
func (s *Speaker) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.InterruptCalls++
}

// WaitUntilDone records the call and reports the queue as drained.
func (s *Speaker) WaitUntilDone(timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.WaitCalls++
	return true
}

// Spoken returns a copy of the enqueued texts. Thread-safe.
func (s *Speaker) Spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.Enqueued))
	copy(out, s.Enqueued)
	return out
}

// Compile-time interface assertions.
var (
	_ chat.Router     = (*Router)(nil)
	_ chat.LineReader = (*LineReader)(nil)
	_ chat.LineReader = (*BlockingLineReader)(nil)
	_ chat.Speaker    = (*Speaker)(nil)
)
