package app

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/halcyonix/vigil/internal/chat"
	chatmock "github.com/halcyonix/vigil/internal/chat/mock"
	"github.com/halcyonix/vigil/internal/config"
	"github.com/halcyonix/vigil/internal/identify"
	identifymock "github.com/halcyonix/vigil/internal/identify/mock"
	"github.com/halcyonix/vigil/internal/observe"
	speechmock "github.com/halcyonix/vigil/internal/speech/mock"
	"github.com/halcyonix/vigil/internal/vision"
	visionmock "github.com/halcyonix/vigil/internal/vision/mock"
)

// testConfig returns a config suitable for a fully mocked app: no HTTP
// server and a debounce long enough that only one session can start.
func testConfig() *config.Config {
	return &config.Config{
		Camera:      config.CameraConfig{Provider: "mock", BufferSize: 4},
		Recognition: config.RecognitionConfig{Provider: "mock", Debounce: config.Duration(time.Hour)},
		Speech:      config.SpeechConfig{Provider: "mock"},
		Chat:        config.ChatConfig{TurnTimeout: config.Duration(5 * time.Second)},
	}
}

// testMetrics returns a Metrics instance bound to a private provider so
// tests do not touch the global default.
func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// frames returns n identical scripted camera frames.
func frames(n int) []vision.Frame {
	out := make([]vision.Frame, n)
	for i := range out {
		out[i] = vision.Frame{Data: []byte("jpeg")}
	}
	return out
}

func TestNew_RequiresProviders(t *testing.T) {
	t.Parallel()

	full := func() *Providers {
		return &Providers{
			Camera:     &visionmock.Device{},
			Recognizer: &identifymock.Recognizer{},
			Speech:     &speechmock.Backend{},
		}
	}

	tests := []struct {
		name   string
		mutate func(p *Providers)
	}{
		{name: "missing camera", mutate: func(p *Providers) { p.Camera = nil }},
		{name: "missing recognizer", mutate: func(p *Providers) { p.Recognizer = nil }},
		{name: "missing speech", mutate: func(p *Providers) { p.Speech = nil }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := full()
			tc.mutate(p)
			_, err := New(testConfig(), p,
				WithRouter(&chatmock.Router{}),
				WithMetrics(testMetrics(t)),
			)
			if err == nil {
				t.Error("New() = nil error, want provider error")
			}
		})
	}

	t.Run("nil providers", func(t *testing.T) {
		t.Parallel()
		if _, err := New(testConfig(), nil); err == nil {
			t.Error("New() = nil error, want error")
		}
	})
}

func TestNew_DefaultBufferSize(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Camera.BufferSize = 0

	a, err := New(cfg, &Providers{
		Camera:     &visionmock.Device{},
		Recognizer: &identifymock.Recognizer{},
		Speech:     &speechmock.Backend{},
	},
		WithRouter(&chatmock.Router{}),
		WithMetrics(testMetrics(t)),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		shCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = a.Shutdown(shCtx)
	})

	if got := a.buffer.Cap(); got != 5 {
		t.Errorf("buffer capacity = %d, want 5 when unset", got)
	}
}

func TestApp_ShutdownAfterRunError(t *testing.T) {
	t.Parallel()

	// Occupy a port so the app's HTTP listener fails to bind.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	defer ln.Close()

	cfg := testConfig()
	cfg.Server.ListenAddr = ln.Addr().String()

	dev := &visionmock.Device{}
	a, err := New(cfg, &Providers{
		Camera:     dev,
		Recognizer: &identifymock.Recognizer{},
		Speech:     &speechmock.Backend{},
	},
		WithRouter(&chatmock.Router{}),
		WithMetrics(testMetrics(t)),
		WithOutput(io.Discard),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := a.Run(context.Background()); err == nil {
		t.Fatal("Run() = nil error, want bind failure")
	}

	// A failed run must still shut down cleanly so the camera is released
	// and the speech queue drains.
	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(shCtx); err != nil {
		t.Errorf("Shutdown after run error: %v", err)
	}
	if dev.ReleaseCalls != 1 {
		t.Errorf("camera released %d times, want 1", dev.ReleaseCalls)
	}
}

func TestApp_EndToEnd(t *testing.T) {
	dev := &visionmock.Device{Frames: frames(64)}
	rec := &identifymock.Recognizer{
		Results: [][]identify.Match{{{Name: "Alice", Confidence: 0.92}}},
	}
	backend := &speechmock.Backend{}
	router := &chatmock.Router{
		Answers: []chat.Answer{{Text: "Sunny, 21 degrees.", Source: "weather"}},
	}
	// "bye" interrupts the speech queue, so it is held back until the routed
	// answer has actually been spoken.
	reader := &gatedReader{steps: []readStep{
		{line: "what's the weather"},
		{line: "bye", gate: func() bool {
			for _, s := range backend.Spoken() {
				if strings.Contains(s, "Sunny, 21 degrees.") {
					return true
				}
			}
			return false
		}},
	}}

	a, err := New(testConfig(), &Providers{
		Camera:     dev,
		Recognizer: rec,
		Speech:     backend,
	},
		WithRouter(router),
		WithReader(reader),
		WithMetrics(testMetrics(t)),
		WithOutput(io.Discard),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(ctx) }()

	// The farewell is the last utterance of the session; once it shows up
	// the whole greet/chat/end cycle has completed.
	waitFor(t, 5*time.Second, func() bool {
		for _, s := range backend.Spoken() {
			if strings.Contains(s, "Goodbye Alice") {
				return true
			}
		}
		return false
	})

	spoken := backend.Spoken()
	if len(spoken) < 3 {
		t.Fatalf("spoken = %q, want greeting, answer, and farewell", spoken)
	}
	if !strings.Contains(spoken[0], "Alice") {
		t.Errorf("first utterance = %q, want a greeting for Alice", spoken[0])
	}
	found := false
	for _, s := range spoken {
		if strings.Contains(s, "Sunny, 21 degrees.") {
			found = true
		}
	}
	if !found {
		t.Errorf("spoken = %q, missing the routed answer", spoken)
	}

	if calls := router.Calls(); len(calls) != 1 || calls[0].Query != "what's the weather" {
		t.Errorf("router calls = %+v, want exactly the weather query", calls)
	}

	cancel()
	if err := <-runErr; err != nil && err != context.Canceled {
		t.Errorf("Run() = %v, want nil or context.Canceled", err)
	}

	shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shCancel()
	if err := a.Shutdown(shCtx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
	if dev.ReleaseCalls != 1 {
		t.Errorf("camera released %d times, want 1", dev.ReleaseCalls)
	}
}

func TestApp_StatusEndpoint(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Server.ListenAddr = "127.0.0.1:0"

	a, err := New(cfg, &Providers{
		Camera:     &visionmock.Device{},
		Recognizer: &identifymock.Recognizer{},
		Speech:     &speechmock.Backend{},
	},
		WithRouter(&chatmock.Router{}),
		WithMetrics(testMetrics(t)),
		WithOutput(io.Discard),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req := httptest.NewRequest("GET", "/statusz", nil)
	rec := httptest.NewRecorder()
	a.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var st Status
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if st.State != "watching" {
		t.Errorf("state = %q, want %q", st.State, "watching")
	}
	if st.Person != "" {
		t.Errorf("person = %q, want empty while watching", st.Person)
	}
}

func TestApp_HealthEndpoints(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Server.ListenAddr = "127.0.0.1:0"

	a, err := New(cfg, &Providers{
		Camera:     &visionmock.Device{},
		Recognizer: &identifymock.Recognizer{},
		Speech:     &speechmock.Backend{},
	},
		WithRouter(&chatmock.Router{}),
		WithMetrics(testMetrics(t)),
		WithOutput(io.Discard),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Liveness passes regardless of pipeline state.
	rec := httptest.NewRecorder()
	a.server.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/healthz = %d, want %d", rec.Code, http.StatusOK)
	}

	// Readiness fails: the capture loop has never read a frame.
	rec = httptest.NewRecorder()
	a.server.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/readyz = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

// readStep is one scripted input line, optionally gated on a condition.
type readStep struct {
	line string
	gate func() bool
}

// gatedReader serves scripted lines, blocking each gated line until its
// condition holds. After the script it returns io.EOF.
type gatedReader struct {
	mu    sync.Mutex
	steps []readStep
	idx   int
}

func (r *gatedReader) ReadLine(ctx context.Context) (string, error) {
	r.mu.Lock()
	if r.idx >= len(r.steps) {
		r.mu.Unlock()
		return "", io.EOF
	}
	step := r.steps[r.idx]
	r.idx++
	r.mu.Unlock()

	for step.gate != nil && !step.gate() {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
	return step.line, nil
}

// waitFor polls cond until it reports true or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
