package chat

import (
	"context"
	"time"
)

// Answer is a routed reply to one user query.
type Answer struct {
	// Text is the reply to show and speak.
	Text string

	// Source names the module that produced the reply
	// (weather, gnews, finance, fact, ai, system).
	Source string
}

// Router answers one query, consulting the history for context. The session
// loop enforces the per-turn deadline through ctx; routers make no latency
// promise of their own.
type Router interface {
	Route(ctx context.Context, query string, history *History) (Answer, error)
}

// LineReader supplies user input lines. ReadLine blocks until a line is
// available, the input source ends (io.EOF), or ctx is cancelled.
type LineReader interface {
	ReadLine(ctx context.Context) (string, error)
}

// Speaker is the slice of the speech queue the session loop needs.
type Speaker interface {
	Enqueue(text string) error
	Interrupt()
	WaitUntilDone(timeout time.Duration) bool
}
