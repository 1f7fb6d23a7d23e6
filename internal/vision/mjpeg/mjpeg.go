// Package mjpeg implements a vision.Device that consumes a multipart MJPEG
// stream over HTTP, the wire format exposed by most IP cameras and by
// mjpg-streamer style daemons.
package mjpeg

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // frame dimension probing
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/halcyonix/vigil/internal/vision"
)

const defaultConnectTimeout = 10 * time.Second

// Device streams frames from an MJPEG HTTP endpoint. The connection is
// established lazily on the first ReadFrame and re-established after stream
// errors. Device is not safe for concurrent ReadFrame calls; the capture
// loop is its only intended caller.
type Device struct {
	url            string
	client         *http.Client
	connectTimeout time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	body   io.ReadCloser
	parts  *multipart.Reader
	closed bool
}

// Option configures a [Device].
type Option func(*Device)

// WithHTTPClient overrides the HTTP client used to open the stream.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Device) { d.client = c }
}

// WithConnectTimeout bounds how long opening the stream may take. It does not
// limit the lifetime of the stream itself.
func WithConnectTimeout(t time.Duration) Option {
	return func(d *Device) { d.connectTimeout = t }
}

// New creates a Device for the MJPEG stream at rawURL.
func New(rawURL string, opts ...Option) (*Device, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, fmt.Errorf("mjpeg: stream URL must not be empty")
	}
	d := &Device{
		url:            rawURL,
		client:         &http.Client{},
		connectTimeout: defaultConnectTimeout,
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// connect opens the stream and prepares the multipart reader. Caller holds
// d.mu.
func (d *Device) connect() error {
	ctx, cancel := context.WithCancel(context.Background())

	connectCtx, connectCancel := context.WithTimeout(ctx, d.connectTimeout)
	defer connectCancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("mjpeg: build stream request: %w", err)
	}
	// The request context must outlive the connect deadline; only the
	// response headers are bounded by it.
	type result struct {
		resp *http.Response
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		resp, err := d.client.Do(req)
		resCh <- result{resp, err}
	}()

	var resp *http.Response
	select {
	case <-connectCtx.Done():
		cancel()
		return fmt.Errorf("mjpeg: connect to %s: %w", d.url, connectCtx.Err())
	case res := <-resCh:
		if res.err != nil {
			cancel()
			return fmt.Errorf("mjpeg: connect to %s: %w", d.url, res.err)
		}
		resp = res.resp
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("mjpeg: stream returned status %d", resp.StatusCode)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("mjpeg: parse stream content type: %w", err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("mjpeg: endpoint is not a multipart stream (got %s)", mediaType)
	}
	boundary := params["boundary"]
	if boundary == "" {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("mjpeg: stream content type carries no boundary")
	}

	d.cancel = cancel
	d.body = resp.Body
	d.parts = multipart.NewReader(resp.Body, strings.Trim(boundary, `"`))
	return nil
}

// disconnect tears down the current stream. Caller holds d.mu.
func (d *Device) disconnect() {
	if d.body != nil {
		d.body.Close()
		d.body = nil
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.parts = nil
}

// ReadFrame returns the next JPEG frame from the stream, reconnecting on the
// next call after a stream error.
func (d *Device) ReadFrame() (vision.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return vision.Frame{}, fmt.Errorf("mjpeg: device is released")
	}
	if d.parts == nil {
		if err := d.connect(); err != nil {
			return vision.Frame{}, err
		}
	}

	part, err := d.parts.NextPart()
	if err != nil {
		d.disconnect()
		return vision.Frame{}, fmt.Errorf("mjpeg: read stream part: %w", err)
	}
	data, err := io.ReadAll(part)
	part.Close()
	if err != nil {
		d.disconnect()
		return vision.Frame{}, fmt.Errorf("mjpeg: read frame body: %w", err)
	}
	if len(data) == 0 {
		return vision.Frame{}, fmt.Errorf("mjpeg: stream delivered an empty part")
	}

	frame := vision.Frame{Data: data, CapturedAt: time.Now()}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		frame.Width = cfg.Width
		frame.Height = cfg.Height
	}
	return frame, nil
}

// Release closes the stream. Subsequent ReadFrame calls fail.
func (d *Device) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	d.disconnect()
	return nil
}

// Ensure Device implements vision.Device at compile time.
var _ vision.Device = (*Device)(nil)
