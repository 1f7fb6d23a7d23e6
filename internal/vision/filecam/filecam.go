// Package filecam implements a vision.Device backed by a directory of image
// files. It exists for development and testing rigs without a camera: frames
// are served from disk at a fixed rate, looping over the directory.
package filecam

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg" // frame dimension probing
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/halcyonix/vigil/internal/vision"
)

const defaultFrameInterval = 200 * time.Millisecond

// Device replays image files from a directory in lexical order, looping
// forever. ReadFrame paces delivery to the configured frame interval.
type Device struct {
	paths    []string
	interval time.Duration

	mu       sync.Mutex
	idx      int
	lastRead time.Time
	released chan struct{}
	once     sync.Once
}

// Option configures a [Device].
type Option func(*Device)

// WithFrameInterval sets the minimum delay between successive frames.
func WithFrameInterval(d time.Duration) Option {
	return func(dev *Device) { dev.interval = d }
}

// New creates a Device replaying the .jpg/.jpeg/.png files in dir. An empty
// or missing directory is an error: a camera that can never produce a frame
// is a misconfiguration, not an idle device.
func New(dir string, opts ...Option) (*Device, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("filecam: read frame directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("filecam: no image files in %s", dir)
	}
	sort.Strings(paths)

	d := &Device{
		paths:    paths,
		interval: defaultFrameInterval,
		released: make(chan struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// ReadFrame returns the next file's contents, sleeping as needed to honour
// the frame interval. It returns an error once the device is released.
func (d *Device) ReadFrame() (vision.Frame, error) {
	d.mu.Lock()
	wait := d.interval - time.Since(d.lastRead)
	d.mu.Unlock()

	if wait > 0 {
		select {
		case <-d.released:
			return vision.Frame{}, fmt.Errorf("filecam: device is released")
		case <-time.After(wait):
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	select {
	case <-d.released:
		return vision.Frame{}, fmt.Errorf("filecam: device is released")
	default:
	}

	path := d.paths[d.idx]
	d.idx = (d.idx + 1) % len(d.paths)
	d.lastRead = time.Now()

	data, err := os.ReadFile(path)
	if err != nil {
		return vision.Frame{}, fmt.Errorf("filecam: read %s: %w", path, err)
	}

	frame := vision.Frame{Data: data, CapturedAt: time.Now()}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		frame.Width = cfg.Width
		frame.Height = cfg.Height
	}
	return frame, nil
}

// Release stops the device. Any ReadFrame waiting out the frame interval
// returns promptly.
func (d *Device) Release() error {
	d.once.Do(func() { close(d.released) })
	return nil
}

// Ensure Device implements vision.Device at compile time.
var _ vision.Device = (*Device)(nil)
