package chat_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/halcyonix/vigil/internal/chat"
	"github.com/halcyonix/vigil/internal/chat/mock"
)

func TestSessionRoutesTurnsAndSpeaksAnswers(t *testing.T) {
	t.Parallel()

	router := &mock.Router{
		Answers: []chat.Answer{
			{Text: "It is sunny.", Source: "weather"},
			{Text: "AAPL is up.", Source: "finance"},
		},
	}
	reader := &mock.LineReader{Lines: []string{"weather today", "apple stock", "quit"}}
	speaker := &mock.Speaker{}
	history := chat.NewHistory("system prompt")
	var out bytes.Buffer

	s := chat.NewSession("alice", history, router, reader, speaker, chat.WithOutput(&out))
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	calls := router.Calls()
	if len(calls) != 2 {
		t.Fatalf("router called %d times, want 2", len(calls))
	}
	if calls[0].Query != "weather today" || calls[1].Query != "apple stock" {
		t.Errorf("router queries = %v", calls)
	}

	// system + 2 user + 2 assistant
	if history.Len() != 5 {
		t.Errorf("history length = %d, want 5", history.Len())
	}

	spoken := speaker.Spoken()
	if len(spoken) != 3 {
		t.Fatalf("spoken = %v, want two answers plus the farewell", spoken)
	}
	if spoken[2] != "Goodbye alice! Have a great day!" {
		t.Errorf("farewell = %q", spoken[2])
	}
	if !strings.Contains(out.String(), "It is sunny.") {
		t.Errorf("output missing answer: %q", out.String())
	}
}

func TestSessionQuitAliases(t *testing.T) {
	t.Parallel()

	for _, cmd := range []string{"quit", "exit", "bye", "QUIT", "Bye"} {
		cmd := cmd
		t.Run(cmd, func(t *testing.T) {
			t.Parallel()

			router := &mock.Router{}
			reader := &mock.LineReader{Lines: []string{cmd}}
			speaker := &mock.Speaker{}
			var out bytes.Buffer

			s := chat.NewSession("bob", chat.NewHistory(""), router, reader, speaker, chat.WithOutput(&out))
			if err := s.Run(context.Background()); err != nil {
				t.Fatalf("Run: %v", err)
			}
			if len(router.Calls()) != 0 {
				t.Errorf("quit command reached the router: %v", router.Calls())
			}
			if speaker.InterruptCalls != 1 {
				t.Errorf("InterruptCalls = %d, want 1 (farewell jumps the backlog)", speaker.InterruptCalls)
			}
			spoken := speaker.Spoken()
			if len(spoken) != 1 || spoken[0] != "Goodbye bob! Have a great day!" {
				t.Errorf("spoken = %v, want just the farewell", spoken)
			}
		})
	}
}

func TestSessionVoiceToggle(t *testing.T) {
	t.Parallel()

	router := &mock.Router{
		Answers: []chat.Answer{
			{Text: "silent answer", Source: "ai"},
			{Text: "spoken answer", Source: "ai"},
		},
	}
	reader := &mock.LineReader{Lines: []string{
		"voice off",
		"first question",
		"voice on",
		"second question",
		"quit",
	}}
	speaker := &mock.Speaker{}
	var out bytes.Buffer

	s := chat.NewSession("carol", chat.NewHistory(""), router, reader, speaker, chat.WithOutput(&out))
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	spoken := speaker.Spoken()
	// voice off suppresses the first answer; voice on restores speech for
	// the second answer and the farewell.
	want := []string{"spoken answer", "Goodbye carol! Have a great day!"}
	if len(spoken) != len(want) {
		t.Fatalf("spoken = %v, want %v", spoken, want)
	}
	for i := range want {
		if spoken[i] != want[i] {
			t.Errorf("spoken[%d] = %q, want %q", i, spoken[i], want[i])
		}
	}
	if !strings.Contains(out.String(), "silent answer") {
		t.Error("voice off suppressed the printed answer too")
	}
}

func TestSessionSkipsEmptyInput(t *testing.T) {
	t.Parallel()

	router := &mock.Router{}
	reader := &mock.LineReader{Lines: []string{"", "   ", "quit"}}
	speaker := &mock.Speaker{}
	var out bytes.Buffer

	s := chat.NewSession("dave", chat.NewHistory(""), router, reader, speaker, chat.WithOutput(&out))
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(router.Calls()) != 0 {
		t.Errorf("empty input reached the router: %v", router.Calls())
	}
}

func TestSessionRouterErrorIsTurnLevel(t *testing.T) {
	t.Parallel()

	router := &mock.Router{
		Answers: []chat.Answer{{}, {Text: "recovered", Source: "ai"}},
		Errs:    map[int]error{0: errors.New("upstream down")},
	}
	reader := &mock.LineReader{Lines: []string{"broken question", "working question", "quit"}}
	speaker := &mock.Speaker{}
	history := chat.NewHistory("sys")
	var out bytes.Buffer

	s := chat.NewSession("erin", history, router, reader, speaker, chat.WithOutput(&out))
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(router.Calls()) != 2 {
		t.Fatalf("router called %d times, want 2 (session survived the failure)", len(router.Calls()))
	}
	if !strings.Contains(out.String(), "Sorry, I ran into a problem") {
		t.Errorf("output missing turn failure message: %q", out.String())
	}
	// Failed turn leaves no assistant message: sys + 2 user + 1 assistant.
	if history.Len() != 4 {
		t.Errorf("history length = %d, want 4", history.Len())
	}
}

func TestSessionTurnTimeout(t *testing.T) {
	t.Parallel()

	router := &mock.Router{
		RouteDelay: 10 * time.Second,
	}
	reader := &mock.LineReader{Lines: []string{"slow question", "quit"}}
	speaker := &mock.Speaker{}
	var out bytes.Buffer

	s := chat.NewSession("frank", chat.NewHistory(""), router, reader, speaker,
		chat.WithOutput(&out),
		chat.WithTurnTimeout(30*time.Millisecond),
	)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session hung on a slow router turn")
	}
	if !strings.Contains(out.String(), "Sorry, I ran into a problem") {
		t.Errorf("output missing turn failure message: %q", out.String())
	}
}

func TestSessionEndsOnEOF(t *testing.T) {
	t.Parallel()

	router := &mock.Router{}
	reader := &mock.LineReader{} // immediate EOF
	speaker := &mock.Speaker{}
	var out bytes.Buffer

	s := chat.NewSession("grace", chat.NewHistory(""), router, reader, speaker, chat.WithOutput(&out))
	if err := s.Run(context.Background()); err != nil {
		t.Errorf("Run on EOF = %v, want nil", err)
	}
	if len(speaker.Spoken()) != 0 {
		t.Errorf("EOF spoke %v, want no farewell", speaker.Spoken())
	}
}

func TestSessionStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	router := &mock.Router{}
	reader := mock.NewBlockingLineReader()
	speaker := &mock.Speaker{}
	var out bytes.Buffer

	s := chat.NewSession("heidi", chat.NewHistory(""), router, reader, speaker, chat.WithOutput(&out))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run after cancel = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop on context cancel")
	}
}

func TestConsoleReaderDeliversLinesAndEOF(t *testing.T) {
	t.Parallel()

	r := chat.NewConsoleReader(strings.NewReader("hello\nworld\n"))
	ctx := context.Background()

	for _, want := range []string{"hello", "world"} {
		got, err := r.ReadLine(ctx)
		if err != nil {
			t.Fatalf("ReadLine: %v", err)
		}
		if got != want {
			t.Errorf("ReadLine = %q, want %q", got, want)
		}
	}

	if _, err := r.ReadLine(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("ReadLine at end = %v, want io.EOF", err)
	}
	// EOF is sticky.
	if _, err := r.ReadLine(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("second ReadLine at end = %v, want io.EOF", err)
	}
}

func TestConsoleReaderHonoursContext(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	defer pw.Close()
	r := chat.NewConsoleReader(pr)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := r.ReadLine(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("ReadLine on blocked input = %v, want context.DeadlineExceeded", err)
	}
}
