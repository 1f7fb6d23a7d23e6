package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/halcyonix/vigil/internal/chat"
	"github.com/halcyonix/vigil/internal/identify"
)

// defaultDebounce is the minimum gap between accepted greetings. The window
// is global, not per person: it exists to stop re-greeting someone who never
// left the frame, and a second person arriving within the window simply
// waits out the remainder.
const defaultDebounce = 15 * time.Second

// Speaker is the slice of the speech queue the controller needs.
type Speaker interface {
	Enqueue(text string) error
	Clear()
}

// Runner is a started chat session. chat.Session is the production
// implementation.
type Runner interface {
	Run(ctx context.Context) error
}

// SessionFactory builds the chat session for an accepted identification.
type SessionFactory func(person string, history *chat.History) Runner

// Controller is the identify.EventSink that drives the watch/greet/chat
// cycle. Offer applies the greeting debounce and the Watching→Greeting
// transition atomically, so a burst of identifications from consecutive
// frames yields exactly one session.
type Controller struct {
	speaker Speaker
	factory SessionFactory

	debounce time.Duration
	clock    func() time.Time
	out      io.Writer

	onSessionStart func(person string)
	onSessionEnd   func(person string)

	mu           sync.Mutex
	state        State
	current      string
	lastGreeting time.Time

	wg sync.WaitGroup
}

// ControllerOption configures a [Controller].
type ControllerOption func(*Controller)

// WithDebounce overrides the global greeting debounce window.
func WithDebounce(d time.Duration) ControllerOption {
	return func(c *Controller) { c.debounce = d }
}

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) ControllerOption {
	return func(c *Controller) { c.clock = clock }
}

// WithOutput redirects controller output away from stdout.
func WithOutput(w io.Writer) ControllerOption {
	return func(c *Controller) { c.out = w }
}

// WithOnSessionStart installs a callback invoked when a session begins.
// Used for metrics.
func WithOnSessionStart(fn func(person string)) ControllerOption {
	return func(c *Controller) { c.onSessionStart = fn }
}

// WithOnSessionEnd installs a callback invoked when a session ends. Used for
// metrics.
func WithOnSessionEnd(fn func(person string)) ControllerOption {
	return func(c *Controller) { c.onSessionEnd = fn }
}

// NewController creates a controller in the Watching state.
func NewController(speaker Speaker, factory SessionFactory, opts ...ControllerOption) *Controller {
	c := &Controller{
		speaker:  speaker,
		factory:  factory,
		debounce: defaultDebounce,
		clock:    time.Now,
		out:      os.Stdout,
		state:    StateWatching,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetDebounce updates the greeting debounce window at runtime. Used by the
// config hot reload.
func (c *Controller) SetDebounce(d time.Duration) {
	c.mu.Lock()
	c.debounce = d
	c.mu.Unlock()
}

// State returns the controller's current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Current returns the person in the active session, or "" when watching.
func (c *Controller) Current() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Watching reports whether the controller accepts identifications.
func (c *Controller) Watching() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateWatching
}

// Offer accepts or rejects an identification. Acceptance means the debounce
// window was clear and the controller was watching; both are checked and the
// Greeting transition applied under one lock, so concurrent offers cannot
// both win. On acceptance the greeting is spoken, a fresh history is seeded,
// and the chat session starts on its own goroutine before Offer returns.
func (c *Controller) Offer(ctx context.Context, ev identify.Event) bool {
	c.mu.Lock()
	if c.state != StateWatching {
		c.mu.Unlock()
		return false
	}
	now := c.clock()
	if !c.lastGreeting.IsZero() && now.Sub(c.lastGreeting) < c.debounce {
		c.mu.Unlock()
		return false
	}
	c.state = StateGreeting
	c.current = ev.Name
	c.lastGreeting = now
	c.mu.Unlock()

	c.greetAndStart(ctx, ev.Name, now)
	return true
}

// greetAndStart runs the Greeting side effects and launches the session.
func (c *Controller) greetAndStart(ctx context.Context, person string, now time.Time) {
	greeting := Greeting(person, now)
	fmt.Fprintf(c.out, "🤖: %s\n", greeting)
	if err := c.speaker.Enqueue(greeting); err != nil {
		slog.Warn("enqueue greeting failed", "person", person, "err", err)
	}

	history := chat.NewHistory(SystemPrompt(person))
	runner := c.factory(person, history)

	c.mu.Lock()
	c.state = StateChatting
	c.mu.Unlock()

	if c.onSessionStart != nil {
		c.onSessionStart(person)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("chat session failed", "person", person, "err", err)
		}
		c.endSession(person)
	}()
}

// endSession performs the mandatory cleanup after a session ends, however it
// ended: pending session speech is discarded (in-flight audio finishes), the
// current person is cleared, and the controller returns to Watching. The
// history dies with the session goroutine.
func (c *Controller) endSession(person string) {
	c.speaker.Clear()

	c.mu.Lock()
	c.current = ""
	c.state = StateWatching
	c.mu.Unlock()

	if c.onSessionEnd != nil {
		c.onSessionEnd(person)
	}
	fmt.Fprintln(c.out, "\n🔄 Chat session ended. Looking for faces again...")
	slog.Info("session ended, watching resumed", "person", person)
}

// Wait blocks until any active session goroutine has finished. Call after
// cancelling the context that sessions run under.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Ensure Controller implements identify.EventSink at compile time.
var _ identify.EventSink = (*Controller)(nil)
