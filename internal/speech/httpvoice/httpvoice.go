// Package httpvoice provides a speech.Backend that talks to a voice daemon
// over its REST API. Synthesis and playback happen inside the daemon; the
// POST /speak call blocks until playback finishes, and POST /stop halts it.
//
// Typical usage:
//
//	b, err := httpvoice.New("http://localhost:5002",
//	    httpvoice.WithVoice("en_US-amy-medium"),
//	    httpvoice.WithTimeout(60*time.Second),
//	)
package httpvoice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/halcyonix/vigil/internal/speech"
)

// Compile-time interface assertion.
var _ speech.Backend = (*Backend)(nil)

const (
	defaultTimeout = 60 * time.Second
	stopTimeout    = 5 * time.Second

	speakEndpoint = "/speak"
	stopEndpoint  = "/stop"
)

// Option is a functional option for configuring a Backend.
type Option func(*Backend)

// WithTimeout sets the per-utterance HTTP timeout. It bounds synthesis plus
// playback, so it should comfortably exceed the longest expected utterance.
// Defaults to 60 s.
func WithTimeout(d time.Duration) Option {
	return func(b *Backend) { b.httpClient.Timeout = d }
}

// WithVoice selects the daemon-side voice to synthesize with.
func WithVoice(voice string) Option {
	return func(b *Backend) { b.voice = voice }
}

// WithLanguage sets the BCP-47 language code sent with each utterance.
func WithLanguage(lang string) Option {
	return func(b *Backend) { b.language = lang }
}

// Backend implements speech.Backend against a voice daemon's REST API.
// A single utterance plays at a time; the speech queue is its only caller.
type Backend struct {
	serverURL  string
	voice      string
	language   string
	httpClient *http.Client

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New creates a Backend targeting the voice daemon at serverURL
// (e.g. "http://localhost:5002").
func New(serverURL string, opts ...Option) (*Backend, error) {
	serverURL = strings.TrimRight(strings.TrimSpace(serverURL), "/")
	if serverURL == "" {
		return nil, errors.New("httpvoice: serverURL must not be empty")
	}
	b := &Backend{
		serverURL: serverURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// speakRequest is the JSON body sent to POST /speak.
type speakRequest struct {
	Text     string `json:"text"`
	Voice    string `json:"voice,omitempty"`
	Language string `json:"language,omitempty"`
}

// Speak sends text to the daemon and blocks until the daemon reports playback
// complete, ctx is cancelled, or Stop is called.
func (b *Backend) Speak(ctx context.Context, text string) error {
	speakCtx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()
	defer func() {
		cancel()
		b.mu.Lock()
		b.cancel = nil
		b.mu.Unlock()
	}()

	body, err := json.Marshal(speakRequest{
		Text:     text,
		Voice:    b.voice,
		Language: b.language,
	})
	if err != nil {
		return fmt.Errorf("httpvoice: marshal speak request: %w", err)
	}

	req, err := http.NewRequestWithContext(speakCtx, http.MethodPost, b.serverURL+speakEndpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("httpvoice: create speak request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		// A Stop-triggered cancellation is a normal end of playback.
		if speakCtx.Err() != nil && ctx.Err() == nil {
			return nil
		}
		return fmt.Errorf("httpvoice: POST %s: %w", speakEndpoint, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("httpvoice: POST %s returned status %d", speakEndpoint, resp.StatusCode)
	}
	return nil
}

// Stop aborts the in-flight Speak and tells the daemon to halt playback.
func (b *Backend) Stop() {
	b.mu.Lock()
	if b.cancel != nil {
		b.cancel()
	}
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.serverURL+stopEndpoint, nil)
	if err != nil {
		return
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// Close is a no-op; the backend holds no persistent connection.
func (b *Backend) Close() error { return nil }
