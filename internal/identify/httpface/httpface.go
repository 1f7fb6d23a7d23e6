// Package httpface provides a Recognizer backed by an external
// face-recognition service over its REST API. The service holds the enrolled
// identities and performs both detection and identification; this client
// just ships frames and parses verdicts.
//
// Typical usage:
//
//	r, err := httpface.New("http://localhost:8100",
//	    httpface.WithTimeout(5*time.Second),
//	)
package httpface

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/halcyonix/vigil/internal/identify"
	"github.com/halcyonix/vigil/internal/vision"
)

// Compile-time interface assertion.
var _ identify.Recognizer = (*Recognizer)(nil)

const (
	defaultTimeout    = 10 * time.Second
	recognizeEndpoint = "/recognize"
)

// Option is a functional option for configuring a Recognizer.
type Option func(*Recognizer)

// WithTimeout sets the per-frame HTTP timeout. Defaults to 10 s.
func WithTimeout(d time.Duration) Option {
	return func(r *Recognizer) { r.httpClient.Timeout = d }
}

// WithAPIKey sets a bearer token sent with each request.
func WithAPIKey(key string) Option {
	return func(r *Recognizer) { r.apiKey = key }
}

// Recognizer implements identify.Recognizer against a face-recognition
// service's REST API. It is safe for concurrent use.
type Recognizer struct {
	serverURL  string
	apiKey     string
	httpClient *http.Client
}

// New creates a Recognizer targeting the service at serverURL
// (e.g. "http://localhost:8100").
func New(serverURL string, opts ...Option) (*Recognizer, error) {
	serverURL = strings.TrimRight(strings.TrimSpace(serverURL), "/")
	if serverURL == "" {
		return nil, errors.New("httpface: serverURL must not be empty")
	}
	r := &Recognizer{
		serverURL: serverURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// recognizeResponse is the JSON body returned by POST /recognize.
type recognizeResponse struct {
	Faces []struct {
		Name       string               `json:"name"`
		Confidence float64              `json:"confidence"`
		Box        identify.BoundingBox `json:"box"`
	} `json:"faces"`
}

// Recognize ships the frame to the service and returns the identified faces.
// Faces the service could not name are omitted.
func (r *Recognizer) Recognize(ctx context.Context, frame vision.Frame) ([]identify.Match, error) {
	if len(frame.Data) == 0 {
		return nil, errors.New("httpface: frame carries no image data")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.serverURL+recognizeEndpoint, bytes.NewReader(frame.Data))
	if err != nil {
		return nil, fmt.Errorf("httpface: create recognize request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("Accept", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpface: POST %s: %w", recognizeEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("httpface: POST %s returned status %d", recognizeEndpoint, resp.StatusCode)
	}

	var body recognizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("httpface: decode recognize response: %w", err)
	}

	matches := make([]identify.Match, 0, len(body.Faces))
	for _, f := range body.Faces {
		if f.Name == "" {
			continue
		}
		matches = append(matches, identify.Match{
			Name:       f.Name,
			Confidence: f.Confidence,
			Box:        f.Box,
		})
	}
	return matches, nil
}

// Close is a no-op; the client holds no persistent connection.
func (r *Recognizer) Close() error { return nil }
