// Package encstore provides storage for known-person face encodings and
// nearest-neighbour lookup over them. Stores are loaded once at startup;
// an empty store means nobody could ever be recognized, so absence is an
// error rather than a silent idle state.
package encstore

import (
	"context"
	"errors"
)

// ErrNoEncodings is returned when a store holds no encodings at all.
var ErrNoEncodings = errors.New("encstore: no face encodings available")

// openConfig carries options shared by the store constructors.
type openConfig struct {
	allowEmpty bool
}

// OpenOption configures how a store is opened.
type OpenOption func(*openConfig)

// AllowEmpty permits opening a store with no encodings (and, for the file
// store, a missing file). Intended for the enrollment tool; the recognition
// path treats an empty store as fatal.
func AllowEmpty() OpenOption {
	return func(c *openConfig) { c.allowEmpty = true }
}

// Match is the closest stored encoding to a probe.
type Match struct {
	// Name is the person the encoding belongs to.
	Name string

	// Distance is the L2 distance between probe and stored encoding.
	// Smaller is more similar.
	Distance float64
}

// Store is a collection of labelled face encodings.
type Store interface {
	// Nearest returns the stored encoding closest to probe by L2 distance.
	// It returns ErrNoEncodings when the store is empty.
	Nearest(ctx context.Context, probe []float32) (Match, error)

	// Count reports the number of stored encodings.
	Count(ctx context.Context) (int, error)

	// Add stores an encoding for name. Used by the enrollment tool, not the
	// recognition path.
	Add(ctx context.Context, name string, encoding []float32) error

	// Close releases store resources.
	Close() error
}
