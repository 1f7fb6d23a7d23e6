// Package mock provides a test double for the speech.Backend interface.
//
// Use Backend to verify which utterances reach the synthesizer, to simulate
// slow playback, and to observe Stop calls.
//
// Example:
//
//	b := &mock.Backend{SpeakDelay: 50 * time.Millisecond}
//	q := speech.NewQueue(b)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/halcyonix/vigil/internal/speech"
)

// SpeakCall records a single invocation of Speak.
type SpeakCall struct {
	// Text is the (sanitized) utterance passed to Speak.
	Text string
}

// Backend is a mock implementation of speech.Backend.
type Backend struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SpeakDelay simulates playback time. Speak blocks for this long unless
	// interrupted by Stop or context cancellation.
	SpeakDelay time.Duration

	// SpeakErr, if non-nil, is returned by every Speak call.
	SpeakErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// SpeakCalls records every call to Speak in order.
	SpeakCalls []SpeakCall

	// StopCalls counts every Stop invocation.
	StopCalls int

	// CloseCalls counts every Close invocation.
	CloseCalls int

	stopCh chan struct{}
}

// Speak records the call and blocks for SpeakDelay (interruptible via Stop
// or ctx), then returns SpeakErr.
func (b *Backend) Speak(ctx context.Context, text string) error {
	b.mu.Lock()
	b.SpeakCalls = append(b.SpeakCalls, SpeakCall{Text: text})
	stopCh := make(chan struct{})
	b.stopCh = stopCh
	delay := b.SpeakDelay
	err := b.SpeakErr
	b.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stopCh:
			return nil
		case <-time.After(delay):
		}
	}
	return err
}

// Stop records the call and interrupts a blocked Speak.
func (b *Backend) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.StopCalls++
	if b.stopCh != nil {
		select {
		case <-b.stopCh:
		default:
			close(b.stopCh)
		}
	}
}

// Close records the call and returns CloseErr.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.CloseCalls++
	return b.CloseErr
}

// Spoken returns a copy of the texts passed to Speak so far. Thread-safe.
func (b *Backend) Spoken() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.SpeakCalls))
	for i, c := range b.SpeakCalls {
		out[i] = c.Text
	}
	return out
}

// Ensure Backend implements speech.Backend at compile time.
var _ speech.Backend = (*Backend)(nil)
