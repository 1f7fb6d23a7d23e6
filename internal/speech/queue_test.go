package speech_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/halcyonix/vigil/internal/speech"
	"github.com/halcyonix/vigil/internal/speech/mock"
)

func TestQueueSpeaksInOrder(t *testing.T) {
	t.Parallel()

	backend := &mock.Backend{}
	q := speech.NewQueue(backend)
	defer q.Close()

	for _, text := range []string{"first", "second", "third"} {
		if err := q.Enqueue(text); err != nil {
			t.Fatalf("Enqueue(%q): %v", text, err)
		}
	}
	if !q.WaitUntilDone(2 * time.Second) {
		t.Fatal("queue did not drain")
	}

	got := backend.Spoken()
	want := []string{"first", "second", "third"}
	if len(got) != len(want) {
		t.Fatalf("spoke %d utterances, want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("utterance #%d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestQueueSanitizesAtEnqueue(t *testing.T) {
	t.Parallel()

	backend := &mock.Backend{}
	q := speech.NewQueue(backend)
	defer q.Close()

	if err := q.Enqueue("It is 20°C 😀"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if !q.WaitUntilDone(2 * time.Second) {
		t.Fatal("queue did not drain")
	}

	got := backend.Spoken()
	if len(got) != 1 || got[0] != "It is 20 degrees Celsius" {
		t.Errorf("spoken = %v, want [It is 20 degrees Celsius]", got)
	}
}

func TestQueueDropsEmptyUtterances(t *testing.T) {
	t.Parallel()

	backend := &mock.Backend{}
	q := speech.NewQueue(backend)
	defer q.Close()

	if err := q.Enqueue("🎉🎉"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Enqueue("   "); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if q.IsBusy() {
		t.Error("IsBusy() = true after enqueueing only empty utterances")
	}
	if len(backend.Spoken()) != 0 {
		t.Errorf("backend spoke %v, want nothing", backend.Spoken())
	}
}

func TestQueueInterruptDiscardsBacklogAndHaltsPlayback(t *testing.T) {
	t.Parallel()

	backend := &mock.Backend{SpeakDelay: 10 * time.Second}
	q := speech.NewQueue(backend)
	defer q.Close()

	if err := q.Enqueue("long running utterance"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := q.Enqueue("backlog"); err != nil {
			t.Fatalf("Enqueue backlog: %v", err)
		}
	}

	// Let the worker pick up the first utterance.
	deadline := time.Now().Add(time.Second)
	for len(backend.Spoken()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("worker never started speaking")
		}
		time.Sleep(5 * time.Millisecond)
	}

	q.Interrupt()

	if q.IsBusy() {
		t.Error("IsBusy() = true immediately after Interrupt")
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d after Interrupt, want 0", q.Len())
	}
	if backend.StopCalls == 0 {
		t.Error("Interrupt did not call backend Stop")
	}

	// The backlog must never play.
	time.Sleep(50 * time.Millisecond)
	if got := backend.Spoken(); len(got) != 1 {
		t.Errorf("spoken after interrupt = %v, want only the first utterance", got)
	}
}

// ctxOnlyBackend blocks Speak on context cancellation alone; Stop is a
// no-op. It exposes the moment Speak is entered via the started channel.
type ctxOnlyBackend struct {
	started chan string
}

func (b *ctxOnlyBackend) Speak(ctx context.Context, text string) error {
	b.started <- text
	<-ctx.Done()
	return ctx.Err()
}

func (b *ctxOnlyBackend) Stop() {}

func (b *ctxOnlyBackend) Close() error { return nil }

func TestQueueInterruptCancelsUtteranceContext(t *testing.T) {
	t.Parallel()

	backend := &ctxOnlyBackend{started: make(chan string, 1)}
	q := speech.NewQueue(backend)
	defer q.Close()

	if err := q.Enqueue("halt me"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case <-backend.started:
	case <-time.After(time.Second):
		t.Fatal("worker never started speaking")
	}

	// Stop cannot reach this backend's playback, so only the utterance
	// context cancellation can end it.
	q.Interrupt()

	if q.IsBusy() {
		t.Error("IsBusy() = true immediately after Interrupt")
	}

	// The worker can only reach the next utterance if the interrupted
	// Speak call returned.
	if err := q.Enqueue("next"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	select {
	case text := <-backend.started:
		if text != "next" {
			t.Errorf("next utterance = %q, want %q", text, "next")
		}
	case <-time.After(time.Second):
		t.Fatal("interrupted utterance kept playing; worker never advanced")
	}
	q.Interrupt()
}

func TestQueueUsableAfterInterrupt(t *testing.T) {
	t.Parallel()

	backend := &mock.Backend{}
	q := speech.NewQueue(backend)
	defer q.Close()

	q.Interrupt()

	if err := q.Enqueue("after interrupt"); err != nil {
		t.Fatalf("Enqueue after Interrupt: %v", err)
	}
	if !q.WaitUntilDone(2 * time.Second) {
		t.Fatal("queue did not drain after interrupt")
	}
	got := backend.Spoken()
	if len(got) != 1 || got[0] != "after interrupt" {
		t.Errorf("spoken = %v, want [after interrupt]", got)
	}
}

func TestQueueIsBusyWhileSpeaking(t *testing.T) {
	t.Parallel()

	backend := &mock.Backend{SpeakDelay: 200 * time.Millisecond}
	q := speech.NewQueue(backend)
	defer q.Close()

	if err := q.Enqueue("something"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for !q.IsBusy() {
		if time.Now().After(deadline) {
			t.Fatal("queue never became busy")
		}
		time.Sleep(time.Millisecond)
	}

	if !q.WaitUntilDone(2 * time.Second) {
		t.Fatal("queue did not drain")
	}
	if q.IsBusy() {
		t.Error("IsBusy() = true after drain")
	}
}

func TestQueueWaitUntilDoneTimesOut(t *testing.T) {
	t.Parallel()

	backend := &mock.Backend{SpeakDelay: 10 * time.Second}
	q := speech.NewQueue(backend)
	defer q.Close()

	if err := q.Enqueue("never ends"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if q.WaitUntilDone(50 * time.Millisecond) {
		t.Error("WaitUntilDone returned true while playback was still running")
	}
}

func TestQueueCloseRejectsEnqueue(t *testing.T) {
	t.Parallel()

	backend := &mock.Backend{}
	q := speech.NewQueue(backend)

	if err := q.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if err := q.Enqueue("too late"); !errors.Is(err, speech.ErrQueueClosed) {
		t.Errorf("Enqueue after Close = %v, want ErrQueueClosed", err)
	}
	if backend.CloseCalls != 1 {
		t.Errorf("backend CloseCalls = %d, want 1", backend.CloseCalls)
	}
}

func TestQueueOnSpokenCallback(t *testing.T) {
	t.Parallel()

	backend := &mock.Backend{}
	var mu sync.Mutex
	var seen []string
	q := speech.NewQueue(backend, speech.WithOnSpoken(func(text string, d time.Duration) {
		mu.Lock()
		seen = append(seen, text)
		mu.Unlock()
	}))
	defer q.Close()

	if err := q.Enqueue("observed"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if !q.WaitUntilDone(2 * time.Second) {
		t.Fatal("queue did not drain")
	}

	// OnSpoken fires after Speak returns; give the worker a beat.
	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("OnSpoken callback never fired")
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if seen[0] != "observed" {
		t.Errorf("OnSpoken text = %q, want %q", seen[0], "observed")
	}
}
