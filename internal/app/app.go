// Package app wires all Vigil subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the capture and identification loops plus the
// HTTP endpoint, and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithRouter, WithReader, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/halcyonix/vigil/internal/chat"
	"github.com/halcyonix/vigil/internal/chatbot"
	"github.com/halcyonix/vigil/internal/config"
	"github.com/halcyonix/vigil/internal/encstore"
	"github.com/halcyonix/vigil/internal/identify"
	"github.com/halcyonix/vigil/internal/observe"
	"github.com/halcyonix/vigil/internal/resilience"
	"github.com/halcyonix/vigil/internal/session"
	"github.com/halcyonix/vigil/internal/speech"
	"github.com/halcyonix/vigil/internal/vision"
)

// defaultBufferSize is the frame buffer capacity when the config leaves it
// unset.
const defaultBufferSize = 5

// frameStatsInterval paces the frame counter scrape from the capture loop
// and buffer into the OTel instruments.
const frameStatsInterval = 5 * time.Second

// httpShutdownTimeout bounds the graceful drain of the HTTP server.
const httpShutdownTimeout = 5 * time.Second

// Providers holds one interface value per provider slot, populated by
// main.go via the config registry.
type Providers struct {
	Camera     vision.Device
	Recognizer identify.Recognizer
	Speech     speech.Backend
	LLM        chatbot.LLMModule
}

// App owns all subsystem lifetimes and orchestrates the Vigil pipeline:
// camera → frame buffer → identification gate → session controller → chat.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics *observe.Metrics
	store   encstore.Store
	out     io.Writer
	started time.Time

	// turnTimeout is atomic so the config hot reload can update it while
	// sessions are being created.
	turnTimeout atomic.Int64

	// Subsystems — initialised in New, torn down in Shutdown.
	buffer     *vision.FrameBuffer
	capture    *vision.CaptureLoop
	queue      *speech.Queue
	controller *session.Controller
	gate       *identify.Gate
	router     chat.Router
	reader     chat.LineReader
	server     *http.Server

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects the encoding store used for health checks. The store
// itself is owned by the caller; the app never closes it.
func WithStore(s encstore.Store) Option {
	return func(a *App) { a.store = s }
}

// WithRouter injects a chat router instead of building one from config.
func WithRouter(r chat.Router) Option {
	return func(a *App) { a.router = r }
}

// WithReader injects a line reader instead of reading os.Stdin.
func WithReader(r chat.LineReader) Option {
	return func(a *App) { a.reader = r }
}

// WithMetrics injects a metrics instance instead of the package default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithOutput redirects console output (greetings, replies) away from stdout.
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.out = w }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles for any subsystem.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		return nil, fmt.Errorf("app: providers are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		started:   time.Now(),
	}
	for _, o := range opts {
		o(a)
	}

	if providers.Camera == nil {
		return nil, fmt.Errorf("app: camera provider is required")
	}
	if providers.Recognizer == nil {
		return nil, fmt.Errorf("app: recognizer provider is required")
	}
	if providers.Speech == nil {
		return nil, fmt.Errorf("app: speech provider is required")
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.turnTimeout.Store(int64(cfg.Chat.TurnTimeout.Std()))

	// ── 1. Frame buffer + capture loop ──────────────────────────────────
	size := cfg.Camera.BufferSize
	if size == 0 {
		size = defaultBufferSize
	}
	buf, err := vision.NewFrameBuffer(size)
	if err != nil {
		return nil, fmt.Errorf("app: create frame buffer: %w", err)
	}
	a.buffer = buf
	a.closers = append(a.closers, func() error {
		buf.Close()
		return nil
	})
	a.capture = vision.NewCaptureLoop(providers.Camera, buf)

	// ── 2. Speech queue ─────────────────────────────────────────────────
	a.queue = speech.NewQueue(providers.Speech, speech.WithOnSpoken(func(_ string, d time.Duration) {
		a.metrics.RecordUtterance(context.Background(), d.Seconds())
	}))
	a.closers = append(a.closers, a.queue.Close)

	// ── 3. Chat router + input ──────────────────────────────────────────
	if a.router == nil {
		r, err := buildRouter(cfg, providers.LLM)
		if err != nil {
			return nil, fmt.Errorf("app: build router: %w", err)
		}
		a.router = r
	}
	if a.reader == nil {
		a.reader = chat.NewConsoleReader(os.Stdin)
	}

	// ── 4. Session controller ───────────────────────────────────────────
	a.controller = session.NewController(a.queue, a.sessionFactory(),
		a.controllerOptions()...)

	// ── 5. Identification gate ──────────────────────────────────────────
	// The recognizer sits behind a circuit breaker so a dead recognition
	// service is backed off instead of being hit on every buffered frame.
	guarded := resilience.NewRecognizer(providers.Recognizer,
		resilience.BreakerConfig{Name: "recognizer"})
	a.gate = identify.NewGate(buf, guarded, a.controller,
		identify.WithOnResult(func(d time.Duration, _ bool, _ error) {
			a.metrics.RecognitionDuration.Record(context.Background(), d.Seconds())
		}),
		identify.WithOnOffer(func(ev identify.Event, accepted bool) {
			outcome := "accepted"
			if !accepted {
				outcome = "suppressed"
			}
			a.metrics.RecordIdentification(context.Background(), ev.Name, outcome)
		}),
	)

	// ── 6. HTTP endpoint ────────────────────────────────────────────────
	if cfg.Server.ListenAddr != "" {
		a.server = a.buildServer(cfg.Server.ListenAddr)
	}

	return a, nil
}

// sessionFactory builds chat sessions for accepted identifications, with
// turn metrics wired in.
func (a *App) sessionFactory() session.SessionFactory {
	return func(person string, history *chat.History) session.Runner {
		opts := []chat.SessionOption{
			chat.WithOnTurn(func(d time.Duration, source string, err error) {
				ctx := context.Background()
				a.metrics.TurnDuration.Record(ctx, d.Seconds())
				status := "ok"
				if err != nil {
					status = "error"
				}
				a.metrics.RecordRouterRequest(ctx, source, status)
			}),
		}
		if t := time.Duration(a.turnTimeout.Load()); t > 0 {
			opts = append(opts, chat.WithTurnTimeout(t))
		}
		if a.out != nil {
			opts = append(opts, chat.WithOutput(a.out))
		}
		return chat.NewSession(person, history, a.router, a.reader, a.queue, opts...)
	}
}

// controllerOptions assembles the session controller options from config
// and metrics.
func (a *App) controllerOptions() []session.ControllerOption {
	opts := []session.ControllerOption{
		session.WithOnSessionStart(func(_ string) {
			a.metrics.ActiveSessions.Add(context.Background(), 1)
		}),
		session.WithOnSessionEnd(func(_ string) {
			a.metrics.ActiveSessions.Add(context.Background(), -1)
		}),
	}
	if d := a.cfg.Recognition.Debounce.Std(); d > 0 {
		opts = append(opts, session.WithDebounce(d))
	}
	if a.out != nil {
		opts = append(opts, session.WithOutput(a.out))
	}
	return opts
}

// buildRouter constructs the production answer modules around the
// configured LLM.
func buildRouter(cfg *config.Config, llm chatbot.LLMModule) (chat.Router, error) {
	var newsOpts []chatbot.NewsOption
	if cfg.Chat.BingAPIKey != "" {
		newsOpts = append(newsOpts, chatbot.WithBingKey(cfg.Chat.BingAPIKey))
	}
	return chatbot.NewRouter(
		chatbot.NewWeather(),
		chatbot.NewNews(cfg.Chat.GNewsAPIKey, newsOpts...),
		chatbot.NewFinance(),
		chatbot.NewFacts(),
		llm,
	)
}

// Controller exposes the session controller, mainly for status reporting.
func (a *App) Controller() *session.Controller {
	return a.controller
}

// ApplyDiff applies hot-reloadable config changes to the running app.
// Changes outside the diff's scope require a restart and are ignored here.
func (a *App) ApplyDiff(d config.ConfigDiff) {
	if d.DebounceChanged {
		a.controller.SetDebounce(d.NewDebounce.Std())
		slog.Info("greeting debounce updated", "debounce", d.NewDebounce.Std())
	}
	if d.TurnTimeoutChanged {
		a.turnTimeout.Store(int64(d.NewTurnTimeout.Std()))
		slog.Info("turn timeout updated", "turn_timeout", d.NewTurnTimeout.Std())
	}
}

// Run starts the capture loop, the identification gate, and the HTTP
// endpoint, then blocks until ctx is cancelled or a subsystem fails. When
// ctx is done, Run returns context.Canceled (or the underlying cause).
func (a *App) Run(ctx context.Context) error {
	a.capture.Start()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.gate.Run(ctx)
	})

	g.Go(func() error {
		a.collectFrameStats(ctx)
		return nil
	})

	if a.server != nil {
		g.Go(func() error {
			slog.Info("http endpoint listening", "addr", a.server.Addr)
			if err := a.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
			defer cancel()
			return a.server.Shutdown(shCtx)
		})
	}

	slog.Info("vigil running",
		"camera", a.cfg.Camera.Provider,
		"recognizer", a.cfg.Recognition.Provider,
		"speech", a.cfg.Speech.Provider,
		"llm", a.cfg.Chat.LLM.Name,
	)
	return g.Wait()
}

// collectFrameStats periodically scrapes the capture and drop counters into
// the OTel instruments. Counters are monotonic, so only deltas are recorded.
func (a *App) collectFrameStats(ctx context.Context) {
	ticker := time.NewTicker(frameStatsInterval)
	defer ticker.Stop()

	var prevCaptured, prevDropped uint64
	record := func() {
		captured := a.capture.Frames()
		dropped := a.buffer.Dropped()
		if d := captured - prevCaptured; d > 0 {
			a.metrics.FramesCaptured.Add(ctx, int64(d))
		}
		if d := dropped - prevDropped; d > 0 {
			a.metrics.FramesDropped.Add(ctx, int64(d))
		}
		prevCaptured, prevDropped = captured, dropped
	}

	for {
		select {
		case <-ctx.Done():
			record()
			return
		case <-ticker.C:
			record()
		}
	}
}

// Shutdown tears down all subsystems in reverse-init order: the camera is
// released first so no new frames arrive, active sessions are waited out,
// then the speech queue and frame buffer close. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		a.capture.Stop()
		a.controller.Wait()

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
