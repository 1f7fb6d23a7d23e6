// Package speech provides the ordered utterance queue and the synthesis
// Backend contract. A single worker drains the queue so utterances never
// overlap; Interrupt halts playback and discards the backlog atomically.
package speech

import "context"

// Backend synthesizes and plays a single utterance. Implementations live in
// subpackages (console, httpvoice, wsvoice).
type Backend interface {
	// Speak synthesizes and plays text, blocking until playback finishes,
	// the context is cancelled, or Stop is called.
	Speak(ctx context.Context, text string) error

	// Stop halts any in-flight Speak immediately. It must be safe to call
	// concurrently with Speak and when nothing is playing.
	Stop()

	// Close releases backend resources. No Speak may be issued afterwards.
	Close() error
}
