// Package vector provides a Recognizer that splits recognition in two: an
// external detector/embedder service turns faces into embeddings, and the
// encoding store answers who the nearest enrolled encoding belongs to. This
// is the provider that puts enrollment under our control instead of the
// recognition service's.
package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/halcyonix/vigil/internal/encstore"
	"github.com/halcyonix/vigil/internal/identify"
	"github.com/halcyonix/vigil/internal/vision"
)

// Compile-time interface assertion.
var _ identify.Recognizer = (*Recognizer)(nil)

const (
	defaultTimeout = 10 * time.Second
	embedEndpoint  = "/embed"

	// defaultTolerance is the maximum L2 distance between a probe embedding
	// and a stored encoding for the pair to count as the same person. 0.45
	// is a tight setting for dlib-style 128-dim encodings; raise it for a
	// more permissive match.
	defaultTolerance = 0.45
)

// Option is a functional option for configuring a Recognizer.
type Option func(*Recognizer)

// WithTimeout sets the per-frame HTTP timeout for the embedder call.
func WithTimeout(d time.Duration) Option {
	return func(r *Recognizer) { r.httpClient.Timeout = d }
}

// WithTolerance overrides the maximum match distance.
func WithTolerance(tolerance float64) Option {
	return func(r *Recognizer) { r.tolerance = tolerance }
}

// Recognizer implements identify.Recognizer by combining an embedder service
// with nearest-neighbour lookup in an encoding store.
type Recognizer struct {
	embedURL   string
	tolerance  float64
	store      encstore.Store
	httpClient *http.Client
}

// New creates a Recognizer using the embedder at embedURL and the given
// store. The store's lifetime belongs to the caller; Close does not close it.
func New(embedURL string, store encstore.Store, opts ...Option) (*Recognizer, error) {
	embedURL = strings.TrimRight(strings.TrimSpace(embedURL), "/")
	if embedURL == "" {
		return nil, errors.New("vector: embedURL must not be empty")
	}
	if store == nil {
		return nil, errors.New("vector: store must not be nil")
	}
	r := &Recognizer{
		embedURL:  embedURL,
		tolerance: defaultTolerance,
		store:     store,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// embedResponse is the JSON body returned by POST /embed.
type embedResponse struct {
	Faces []struct {
		Embedding []float32            `json:"embedding"`
		Box       identify.BoundingBox `json:"box"`
	} `json:"faces"`
}

// Recognize embeds the faces in frame and matches each against the encoding
// store. Faces farther than the tolerance from every enrolled encoding are
// dropped.
func (r *Recognizer) Recognize(ctx context.Context, frame vision.Frame) ([]identify.Match, error) {
	if len(frame.Data) == 0 {
		return nil, errors.New("vector: frame carries no image data")
	}

	faces, err := r.Embed(ctx, frame.Data)
	if err != nil {
		return nil, err
	}

	var matches []identify.Match
	for _, face := range faces {
		m, err := r.store.Nearest(ctx, face.Embedding)
		if errors.Is(err, encstore.ErrNoEncodings) {
			return nil, err
		}
		if err != nil {
			return nil, fmt.Errorf("vector: nearest lookup: %w", err)
		}
		if m.Distance > r.tolerance {
			continue
		}
		matches = append(matches, identify.Match{
			Name:       m.Name,
			Confidence: confidence(m.Distance, r.tolerance),
			Box:        face.Box,
		})
	}
	return matches, nil
}

// Face is one detected face with its embedding, as returned by the embedder
// service.
type Face struct {
	Embedding []float32
	Box       identify.BoundingBox
}

// Embed sends image to the embedder service and returns the faces it finds.
// Also used directly by the enrollment tool.
func (r *Recognizer) Embed(ctx context.Context, image []byte) ([]Face, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.embedURL+embedEndpoint, bytes.NewReader(image))
	if err != nil {
		return nil, fmt.Errorf("vector: create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vector: POST %s: %w", embedEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vector: POST %s returned status %d", embedEndpoint, resp.StatusCode)
	}

	var body embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("vector: decode embed response: %w", err)
	}

	faces := make([]Face, 0, len(body.Faces))
	for _, f := range body.Faces {
		if len(f.Embedding) == 0 {
			continue
		}
		faces = append(faces, Face{Embedding: f.Embedding, Box: f.Box})
	}
	return faces, nil
}

// confidence maps a match distance into [0, 1], with 1 at distance zero and
// 0 at the tolerance boundary.
func confidence(distance, tolerance float64) float64 {
	if tolerance <= 0 {
		return 0
	}
	c := 1 - distance/tolerance
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// Close is a no-op; the embedder client holds no persistent connection and
// the store is owned by the caller.
func (r *Recognizer) Close() error { return nil }
