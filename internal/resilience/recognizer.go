package resilience

import (
	"context"
	"errors"

	"github.com/halcyonix/vigil/internal/identify"
	"github.com/halcyonix/vigil/internal/vision"
)

// Compile-time interface assertion.
var _ identify.Recognizer = (*Recognizer)(nil)

// Recognizer wraps an [identify.Recognizer] with a [Breaker] so that a
// failing recognition service is backed off instead of being hit again on
// every buffered frame. While the breaker is open, Recognize fails fast
// with [ErrBreakerOpen] and the wrapped provider is left alone.
type Recognizer struct {
	inner   identify.Recognizer
	breaker *Breaker
}

// NewRecognizer wraps inner with a breaker built from cfg. Unless cfg sets
// its own IsFailure, context cancellation and deadline errors do not count
// against the breaker; they say nothing about the service's health.
func NewRecognizer(inner identify.Recognizer, cfg BreakerConfig) *Recognizer {
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool {
			return !errors.Is(err, context.Canceled) &&
				!errors.Is(err, context.DeadlineExceeded)
		}
	}
	return &Recognizer{
		inner:   inner,
		breaker: NewBreaker(cfg),
	}
}

// Recognize forwards to the wrapped recognizer when the breaker allows it.
func (r *Recognizer) Recognize(ctx context.Context, frame vision.Frame) ([]identify.Match, error) {
	var matches []identify.Match
	err := r.breaker.Execute(func() error {
		var innerErr error
		matches, innerErr = r.inner.Recognize(ctx, frame)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}

// State exposes the breaker state, for status reporting.
func (r *Recognizer) State() State {
	return r.breaker.State()
}

// Close closes the wrapped recognizer.
func (r *Recognizer) Close() error {
	return r.inner.Close()
}
