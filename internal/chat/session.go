package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// defaultTurnTimeout bounds a single router round trip. A slow upstream
	// costs one turn, never the session.
	defaultTurnTimeout = 30 * time.Second

	// farewellDrain bounds how long the quit path waits for the farewell to
	// finish playing before the session returns.
	farewellDrain = 10 * time.Second
)

// turnFailureReply is spoken and shown when the router cannot answer a turn.
const turnFailureReply = "Sorry, I ran into a problem answering that. Please try again."

// Session is one interactive conversation with a recognized person. It is
// created by the session controller after the greeting and runs in its own
// goroutine until the person quits, input ends, or the process stops.
type Session struct {
	id      uuid.UUID
	person  string
	history *History
	router  Router
	reader  LineReader
	speaker Speaker

	out         io.Writer
	turnTimeout time.Duration
	onTurn      func(d time.Duration, source string, err error)
}

// SessionOption configures a [Session].
type SessionOption func(*Session)

// WithOutput redirects session output away from stdout.
func WithOutput(w io.Writer) SessionOption {
	return func(s *Session) { s.out = w }
}

// WithTurnTimeout overrides the per-turn router deadline.
func WithTurnTimeout(d time.Duration) SessionOption {
	return func(s *Session) { s.turnTimeout = d }
}

// WithOnTurn installs a callback invoked after every routed turn with its
// duration, answer source, and error. Used for metrics.
func WithOnTurn(fn func(d time.Duration, source string, err error)) SessionOption {
	return func(s *Session) { s.onTurn = fn }
}

// NewSession creates a session for person over the given collaborators.
func NewSession(person string, history *History, router Router, reader LineReader, speaker Speaker, opts ...SessionOption) *Session {
	s := &Session{
		id:          uuid.New(),
		person:      person,
		history:     history,
		router:      router,
		reader:      reader,
		speaker:     speaker,
		out:         os.Stdout,
		turnTimeout: defaultTurnTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// Run drives the turn loop until the person quits, input ends, or ctx is
// cancelled. Router failures are reported to the person and the loop
// continues; Run only returns session-ending conditions, and a normal quit
// returns nil.
func (s *Session) Run(ctx context.Context) error {
	slog.Info("chat session started", "session_id", s.id, "person", s.person)
	fmt.Fprintf(s.out, "\n💬 Chat session started with %s\n", s.person)
	fmt.Fprintln(s.out, "Type 'quit' or 'exit' to end the session")
	fmt.Fprintln(s.out, "Type 'voice on/off' to toggle voice responses")
	fmt.Fprintln(s.out, strings.Repeat("-", 50))

	voiceEnabled := true

	for {
		fmt.Fprintf(s.out, "\n%s: ", s.person)

		line, err := s.reader.ReadLine(ctx)
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(s.out)
			slog.Info("chat input ended", "session_id", s.id)
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return ctx.Err()
		}
		if err != nil {
			return fmt.Errorf("chat: read input: %w", err)
		}

		input := strings.TrimSpace(line)
		switch strings.ToLower(input) {
		case "quit", "exit", "bye":
			s.farewell(voiceEnabled)
			return nil
		case "voice on":
			voiceEnabled = true
			fmt.Fprintln(s.out, "🤖: Voice responses enabled!")
			continue
		case "voice off":
			voiceEnabled = false
			fmt.Fprintln(s.out, "🤖: Voice responses disabled!")
			continue
		case "":
			continue
		}

		s.history.Add(RoleUser, input)

		turnCtx, cancel := context.WithTimeout(ctx, s.turnTimeout)
		start := time.Now()
		answer, err := s.router.Route(turnCtx, input, s.history)
		cancel()
		if s.onTurn != nil {
			s.onTurn(time.Since(start), answer.Source, err)
		}

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("turn failed", "session_id", s.id, "err", err)
			fmt.Fprintf(s.out, "🤖: %s\n", turnFailureReply)
			if voiceEnabled {
				s.enqueue(turnFailureReply)
			}
			continue
		}

		s.history.Add(RoleAssistant, answer.Text)
		slog.Debug("turn answered", "session_id", s.id, "source", answer.Source)
		fmt.Fprintf(s.out, "🤖: %s\n", answer.Text)
		if voiceEnabled {
			s.enqueue(answer.Text)
		}
	}
}

// farewell interrupts any backlog so the goodbye plays immediately, speaks
// it, and waits for it to finish.
func (s *Session) farewell(voiceEnabled bool) {
	farewell := fmt.Sprintf("Goodbye %s! Have a great day!", s.person)
	fmt.Fprintf(s.out, "🤖: %s\n", farewell)
	if !voiceEnabled {
		return
	}
	s.speaker.Interrupt()
	s.enqueue(farewell)
	if !s.speaker.WaitUntilDone(farewellDrain) {
		slog.Warn("farewell playback did not finish in time", "session_id", s.id)
	}
}

func (s *Session) enqueue(text string) {
	if err := s.speaker.Enqueue(text); err != nil {
		slog.Warn("enqueue utterance failed", "session_id", s.id, "err", err)
	}
}
