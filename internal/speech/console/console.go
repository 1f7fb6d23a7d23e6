// Package console implements a speech.Backend that writes utterances to a
// terminal instead of synthesizing audio. Playback time is simulated from a
// words-per-minute rate so queue and interrupt behaviour stay observable
// without a voice server.
package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/halcyonix/vigil/internal/speech"
)

const defaultRate = 180 // words per minute

// Backend prints utterances and sleeps for their simulated duration.
type Backend struct {
	out  io.Writer
	rate int

	mu      sync.Mutex
	stopCh  chan struct{}
	stopped bool
}

// Option configures a [Backend].
type Option func(*Backend)

// WithWriter redirects output away from stdout.
func WithWriter(w io.Writer) Option {
	return func(b *Backend) { b.out = w }
}

// WithRate sets the simulated speech rate in words per minute. A rate of 0
// disables the playback delay entirely.
func WithRate(wpm int) Option {
	return func(b *Backend) { b.rate = wpm }
}

// New creates a console backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		out:  os.Stdout,
		rate: defaultRate,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Speak prints text and blocks for its simulated playback duration.
func (b *Backend) Speak(ctx context.Context, text string) error {
	b.mu.Lock()
	stopCh := make(chan struct{})
	b.stopCh = stopCh
	b.stopped = false
	b.mu.Unlock()

	if _, err := fmt.Fprintf(b.out, "🔊 %s\n", text); err != nil {
		return fmt.Errorf("console: write utterance: %w", err)
	}
	if b.rate <= 0 {
		return nil
	}

	words := len(strings.Fields(text))
	duration := time.Duration(words) * time.Minute / time.Duration(b.rate)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-stopCh:
		return nil
	case <-time.After(duration):
		return nil
	}
}

// Stop cancels the simulated playback of the current utterance.
func (b *Backend) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopCh != nil && !b.stopped {
		close(b.stopCh)
		b.stopped = true
	}
}

// Close is a no-op; the console owns no resources.
func (b *Backend) Close() error { return nil }

// Ensure Backend implements speech.Backend at compile time.
var _ speech.Backend = (*Backend)(nil)
