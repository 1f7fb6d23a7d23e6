package chat

import (
	"bufio"
	"context"
	"io"
	"sync"
)

// ConsoleReader is a LineReader over an io.Reader (normally stdin). Reading
// happens on a pump goroutine so ReadLine can honour context cancellation
// even though the underlying read cannot be interrupted.
type ConsoleReader struct {
	lines chan string
	errs  chan error
	once  sync.Once
	src   io.Reader

	mu      sync.Mutex
	termErr error
}

// NewConsoleReader creates a ConsoleReader over src. The pump goroutine
// starts on the first ReadLine call.
func NewConsoleReader(src io.Reader) *ConsoleReader {
	return &ConsoleReader{
		lines: make(chan string),
		errs:  make(chan error, 1),
		src:   src,
	}
}

func (r *ConsoleReader) pump() {
	scanner := bufio.NewScanner(r.src)
	for scanner.Scan() {
		r.lines <- scanner.Text()
	}
	if err := scanner.Err(); err != nil {
		r.errs <- err
		return
	}
	r.errs <- io.EOF
}

// ReadLine returns the next input line. It returns io.EOF when the input
// source ends and ctx.Err() on cancellation; a line consumed by the pump
// after cancellation is delivered to the next ReadLine call.
func (r *ConsoleReader) ReadLine(ctx context.Context) (string, error) {
	r.once.Do(func() { go r.pump() })

	r.mu.Lock()
	if r.termErr != nil {
		err := r.termErr
		r.mu.Unlock()
		return "", err
	}
	r.mu.Unlock()

	select {
	case line := <-r.lines:
		return line, nil
	case err := <-r.errs:
		r.mu.Lock()
		r.termErr = err
		r.mu.Unlock()
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Ensure ConsoleReader implements LineReader at compile time.
var _ LineReader = (*ConsoleReader)(nil)
