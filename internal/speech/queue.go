package speech

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrQueueClosed is returned by [Queue.Enqueue] after the queue has been
// closed. Enqueue on a closed queue never blocks.
var ErrQueueClosed = errors.New("speech: queue is closed")

// waitPollInterval paces the busy check in [Queue.WaitUntilDone].
const waitPollInterval = 10 * time.Millisecond

// Queue is an ordered utterance queue drained by a single worker goroutine,
// so utterances play one at a time in enqueue order. Text is sanitized at
// enqueue time. All methods are safe for concurrent use.
type Queue struct {
	backend  Backend
	onSpoken func(text string, d time.Duration)

	mu       sync.Mutex
	cond     *sync.Cond
	pending  []string
	speaking bool
	closed   bool

	// speakCancel cancels the context of the utterance currently being
	// played. It is created under mu when the worker pops an utterance, so
	// an Interrupt always sees either the pending entry or the cancel func
	// and can never miss an utterance in between.
	speakCancel context.CancelFunc

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// QueueOption configures a [Queue].
type QueueOption func(*Queue)

// WithOnSpoken installs a callback invoked after each utterance finishes
// playing (or is interrupted), with the sanitized text and the playback
// duration. Used for metrics.
func WithOnSpoken(fn func(text string, d time.Duration)) QueueOption {
	return func(q *Queue) { q.onSpoken = fn }
}

// NewQueue creates a queue around backend and starts its worker.
func NewQueue(backend Backend, opts ...QueueOption) *Queue {
	q := &Queue{
		backend: backend,
		done:    make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	q.ctx, q.cancel = context.WithCancel(context.Background())
	for _, o := range opts {
		o(q)
	}
	go q.worker()
	return q
}

func (q *Queue) worker() {
	defer close(q.done)

	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		text := q.pending[0]
		q.pending = q.pending[1:]
		q.speaking = true
		uctx, ucancel := context.WithCancel(q.ctx)
		q.speakCancel = ucancel
		q.mu.Unlock()

		start := time.Now()
		err := q.backend.Speak(uctx, text)
		if err != nil && !errors.Is(err, context.Canceled) && q.ctx.Err() == nil {
			slog.Error("utterance playback failed", "err", err)
		}
		if q.onSpoken != nil {
			q.onSpoken(text, time.Since(start))
		}

		q.mu.Lock()
		q.speakCancel = nil
		ucancel()
		q.speaking = false
		q.cond.Broadcast()
		q.mu.Unlock()
	}
}

// Enqueue sanitizes text and appends it to the queue. Text that sanitizes to
// nothing is silently dropped. Returns [ErrQueueClosed] after Close; it never
// blocks.
func (q *Queue) Enqueue(text string) error {
	clean := Sanitize(text)
	if clean == "" {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.pending = append(q.pending, clean)
	q.cond.Signal()
	return nil
}

// Interrupt discards all pending utterances and halts the one currently
// playing. When Interrupt returns, [Queue.IsBusy] reports false until new
// text is enqueued.
func (q *Queue) Interrupt() {
	q.mu.Lock()
	q.pending = nil
	cancel := q.speakCancel
	q.mu.Unlock()

	// Cancelling the utterance context covers the window where the worker
	// has popped an utterance but its Speak call has not reached the
	// backend yet, which Stop alone would miss.
	if cancel != nil {
		cancel()
	}
	q.backend.Stop()

	q.mu.Lock()
	q.speaking = false
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Clear discards all pending utterances without halting the one currently
// playing.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.pending = nil
	q.mu.Unlock()
}

// IsBusy reports whether an utterance is playing or queued.
func (q *Queue) IsBusy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.speaking || len(q.pending) > 0
}

// Len reports the number of utterances waiting to be played, excluding any
// currently playing.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// WaitUntilDone blocks until the queue is idle or timeout elapses, reporting
// whether it drained in time.
func (q *Queue) WaitUntilDone(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for q.IsBusy() {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(waitPollInterval)
	}
	return true
}

// Close discards pending utterances, halts playback, stops the worker, and
// closes the backend. Close is idempotent.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.pending = nil
		q.cond.Broadcast()
		q.mu.Unlock()

		q.cancel()
		q.backend.Stop()
		<-q.done
		q.closeErr = q.backend.Close()
	})
	return q.closeErr
}
