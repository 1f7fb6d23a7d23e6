// Package wsvoice provides a speech.Backend that streams utterances to a
// voice daemon over a WebSocket session. Unlike the REST backend, the
// connection is held open across utterances, and playback completion is
// signalled by daemon events rather than the HTTP response.
//
// Wire protocol (JSON text messages):
//
//	client → daemon: {"type":"speak","id":1,"text":"...","voice":"..."}
//	client → daemon: {"type":"stop"}
//	daemon → client: {"type":"done","id":1}
//	daemon → client: {"type":"stopped","id":1}
//	daemon → client: {"type":"error","id":1,"message":"..."}
package wsvoice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/halcyonix/vigil/internal/speech"
)

// Compile-time interface assertion.
var _ speech.Backend = (*Backend)(nil)

const defaultDialTimeout = 10 * time.Second

// Option is a functional option for configuring a Backend.
type Option func(*Backend)

// WithToken sets a bearer token sent on the WebSocket handshake.
func WithToken(token string) Option {
	return func(b *Backend) { b.token = token }
}

// WithVoice selects the daemon-side voice to synthesize with.
func WithVoice(voice string) Option {
	return func(b *Backend) { b.voice = voice }
}

// WithDialTimeout bounds how long establishing the session may take.
func WithDialTimeout(d time.Duration) Option {
	return func(b *Backend) { b.dialTimeout = d }
}

// Backend implements speech.Backend over a persistent WebSocket session.
// The session is established lazily on the first Speak and re-established
// after connection errors. A single utterance plays at a time; the speech
// queue is its only caller.
type Backend struct {
	url         string
	token       string
	voice       string
	dialTimeout time.Duration

	mu      sync.Mutex
	conn    *websocket.Conn
	waiter  chan playbackResult
	nextID  uint64
	curID   uint64
	closed  bool
	readCtx context.CancelFunc
}

type playbackResult struct {
	id  uint64
	err error
}

// speakMessage is the JSON body of a speak request.
type speakMessage struct {
	Type  string `json:"type"`
	ID    uint64 `json:"id,omitempty"`
	Text  string `json:"text,omitempty"`
	Voice string `json:"voice,omitempty"`
}

// daemonEvent is a JSON message received from the daemon.
type daemonEvent struct {
	Type    string `json:"type"`
	ID      uint64 `json:"id"`
	Message string `json:"message"`
}

// New creates a Backend for the voice daemon at wsURL
// (e.g. "ws://localhost:5003/session").
func New(wsURL string, opts ...Option) (*Backend, error) {
	if wsURL == "" {
		return nil, errors.New("wsvoice: wsURL must not be empty")
	}
	b := &Backend{
		url:         wsURL,
		dialTimeout: defaultDialTimeout,
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// connect dials the daemon and starts the read loop. Caller holds b.mu.
func (b *Backend) connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, b.dialTimeout)
	defer cancel()

	headers := http.Header{}
	if b.token != "" {
		headers.Set("Authorization", "Bearer "+b.token)
	}

	conn, _, err := websocket.Dial(dialCtx, b.url, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return fmt.Errorf("wsvoice: dial %s: %w", b.url, err)
	}

	readCtx, readCancel := context.WithCancel(context.Background())
	b.conn = conn
	b.readCtx = readCancel
	go b.readLoop(readCtx, conn)
	return nil
}

// readLoop delivers daemon events to the waiting Speak, and tears the session
// down on read errors so the next Speak reconnects.
func (b *Backend) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			b.mu.Lock()
			if b.conn == conn {
				b.conn = nil
				if b.waiter != nil {
					b.waiter <- playbackResult{id: b.curID, err: fmt.Errorf("wsvoice: session lost: %w", err)}
					b.waiter = nil
				}
			}
			b.mu.Unlock()
			return
		}

		var ev daemonEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}

		var res playbackResult
		switch ev.Type {
		case "done", "stopped":
			res = playbackResult{id: ev.ID}
		case "error":
			res = playbackResult{id: ev.ID, err: fmt.Errorf("wsvoice: daemon error: %s", ev.Message)}
		default:
			continue
		}

		b.mu.Lock()
		if b.waiter != nil && res.id == b.curID {
			b.waiter <- res
			b.waiter = nil
		}
		b.mu.Unlock()
	}
}

// Speak streams text to the daemon and blocks until it reports playback
// complete, ctx is cancelled, or Stop is called.
func (b *Backend) Speak(ctx context.Context, text string) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New("wsvoice: backend is closed")
	}
	if b.conn == nil {
		if err := b.connect(ctx); err != nil {
			b.mu.Unlock()
			return err
		}
	}
	conn := b.conn
	b.nextID++
	id := b.nextID
	b.curID = id
	waiter := make(chan playbackResult, 1)
	b.waiter = waiter
	b.mu.Unlock()

	msg, err := json.Marshal(speakMessage{Type: "speak", ID: id, Text: text, Voice: b.voice})
	if err != nil {
		return fmt.Errorf("wsvoice: marshal speak message: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
		b.dropSession(conn)
		return fmt.Errorf("wsvoice: send utterance: %w", err)
	}

	select {
	case res := <-waiter:
		return res.err
	case <-ctx.Done():
		b.mu.Lock()
		b.waiter = nil
		b.mu.Unlock()
		b.sendStop(conn)
		return ctx.Err()
	}
}

// Stop tells the daemon to halt playback; the in-flight Speak returns once
// the daemon acknowledges with a stopped event.
func (b *Backend) Stop() {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn != nil {
		b.sendStop(conn)
	}
}

func (b *Backend) sendStop(conn *websocket.Conn) {
	msg, _ := json.Marshal(speakMessage{Type: "stop"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
		b.dropSession(conn)
	}
}

// dropSession discards a broken connection and unblocks any waiter.
func (b *Backend) dropSession(conn *websocket.Conn) {
	b.mu.Lock()
	if b.conn == conn {
		b.conn = nil
		if b.readCtx != nil {
			b.readCtx()
			b.readCtx = nil
		}
		if b.waiter != nil {
			b.waiter <- playbackResult{id: b.curID, err: errors.New("wsvoice: session lost")}
			b.waiter = nil
		}
	}
	b.mu.Unlock()
	conn.Close(websocket.StatusInternalError, "session dropped")
}

// Close terminates the session cleanly.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	conn := b.conn
	b.conn = nil
	if b.readCtx != nil {
		b.readCtx()
		b.readCtx = nil
	}
	if b.waiter != nil {
		b.waiter <- playbackResult{id: b.curID, err: errors.New("wsvoice: backend closed")}
		b.waiter = nil
	}
	b.mu.Unlock()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "backend closed")
	}
	return nil
}
