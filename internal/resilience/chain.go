package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllSourcesFailed is returned when every entry in a [Chain] fails or has
// an open breaker. The last entry's error is wrapped alongside it.
var ErrAllSourcesFailed = errors.New("resilience: all sources failed")

// ErrAbort stops a [Chain] early. When fn returns an error that matches
// ErrAbort via [errors.Is], the chain returns that error immediately instead
// of trying further entries. Sources use this for conditions that a fallback
// cannot fix, such as a rejected API key.
var ErrAbort = errors.New("resilience: chain aborted")

// chainEntry pairs a source with its dedicated breaker.
type chainEntry[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Chain tries alternative sources of the same type in registration order.
// Each entry gets its own [Breaker] built from the chain's config, so an
// entry that keeps failing is skipped until its reset timeout elapses.
//
// Add all entries before the first Do or DoResult call; after that the chain
// is safe for concurrent use.
type Chain[T any] struct {
	cfg     BreakerConfig
	entries []chainEntry[T]
}

// NewChain creates an empty [Chain]. cfg seeds the per-entry breakers; the
// Name field is overwritten with each entry's name.
func NewChain[T any](cfg BreakerConfig) *Chain[T] {
	return &Chain[T]{cfg: cfg}
}

// Add appends a source to the end of the chain.
func (c *Chain[T]) Add(name string, value T) {
	cfg := c.cfg
	cfg.Name = name
	c.entries = append(c.entries, chainEntry[T]{
		name:    name,
		value:   value,
		breaker: NewBreaker(cfg),
	})
}

// Len reports how many sources are registered.
func (c *Chain[T]) Len() int { return len(c.entries) }

// Do runs fn against each source in order until one succeeds. Entries with
// an open breaker are skipped. Returns [ErrAllSourcesFailed] wrapping the
// last error when every entry fails.
func (c *Chain[T]) Do(fn func(T) error) error {
	_, err := DoResult(c, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// DoResult runs fn against each source in the chain until one succeeds and
// returns its result. This is a package-level function because Go does not
// support method-level type parameters.
func DoResult[T, R any](c *Chain[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range c.entries {
		entry := &c.entries[i]
		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if err == nil {
			return result, nil
		}
		if errors.Is(err, ErrAbort) {
			return zero, err
		}
		lastErr = err
		if errors.Is(err, ErrBreakerOpen) {
			slog.Debug("skipping source, breaker open", "source", entry.name)
		} else {
			slog.Warn("source failed, trying next",
				"source", entry.name, "error", err)
		}
	}
	return zero, fmt.Errorf("%w: last error: %w", ErrAllSourcesFailed, lastErr)
}
