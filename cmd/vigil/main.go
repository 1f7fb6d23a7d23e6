// Command vigil is the main entry point for the Vigil assistant: it watches
// a camera, greets recognized people, and holds a voice-assisted chat
// session with them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/halcyonix/vigil/internal/app"
	"github.com/halcyonix/vigil/internal/chatbot"
	"github.com/halcyonix/vigil/internal/config"
	"github.com/halcyonix/vigil/internal/encstore"
	"github.com/halcyonix/vigil/internal/identify"
	"github.com/halcyonix/vigil/internal/identify/httpface"
	"github.com/halcyonix/vigil/internal/identify/vector"
	"github.com/halcyonix/vigil/internal/observe"
	"github.com/halcyonix/vigil/internal/speech"
	"github.com/halcyonix/vigil/internal/speech/console"
	"github.com/halcyonix/vigil/internal/speech/httpvoice"
	"github.com/halcyonix/vigil/internal/speech/wsvoice"
	"github.com/halcyonix/vigil/internal/vision"
	"github.com/halcyonix/vigil/internal/vision/filecam"
	"github.com/halcyonix/vigil/internal/vision/mjpeg"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// .env is optional; it only supplies API keys for local development.
	_ = godotenv.Load()

	// ── Logger (level is hot-reloadable) ──────────────────────────────────────
	levelVar := new(slog.LevelVar)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar})))

	// ── Load configuration + start the file watcher ───────────────────────────
	var application *app.App
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if !d.Any() {
			return
		}
		if d.LogLevelChanged {
			levelVar.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level updated", "log_level", d.NewLogLevel)
		}
		if application != nil {
			application.ApplyDiff(d)
		}
		if d.SpeechVoiceChanged {
			slog.Warn("speech voice change takes effect after restart")
		}
		if d.NewsKeysChanged {
			slog.Warn("news API key change takes effect after restart")
		}
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "vigil: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "vigil: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()

	cfg := watcher.Current()
	levelVar.Set(slogLevel(cfg.Server.LogLevel))

	slog.Info("vigil starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "vigil"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Encoding store (vector recognizer + health checks) ────────────────────
	var store encstore.Store
	if cfg.Encodings.Backend != "" {
		store, err = openStore(ctx, cfg.Encodings)
		if err != nil {
			slog.Error("failed to open encoding store", "backend", cfg.Encodings.Backend, "err", err)
			return 1
		}
		defer func() {
			if err := store.Close(); err != nil {
				slog.Warn("encoding store close error", "err", err)
			}
		}()
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, store)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	var appOpts []app.Option
	if store != nil {
		appOpts = append(appOpts, app.WithStore(store))
	}
	application, err = app.New(cfg, providers, appOpts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("watching for faces — press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	if runErr != nil {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	// Run errors go through the same shutdown path as Ctrl+C so the speech
	// queue drains and the ops server stops cleanly either way.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// llmProviderNames are the any-llm backends reachable through the registry.
// ollama is registered separately because it authenticates by address, not
// API key.
var llmProviderNames = []string{
	"openai", "anthropic", "gemini",
	"deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// The vector recognizer needs the encoding store, which is passed in because
// it outlives any single provider.
func registerBuiltinProviders(reg *config.Registry, store encstore.Store) {
	// ── Cameras ───────────────────────────────────────────────────────────────

	reg.RegisterCamera("mjpeg", func(cfg config.CameraConfig) (vision.Device, error) {
		return mjpeg.New(cfg.URL)
	})

	reg.RegisterCamera("filecam", func(cfg config.CameraConfig) (vision.Device, error) {
		var opts []filecam.Option
		if d := cfg.FrameInterval.Std(); d > 0 {
			opts = append(opts, filecam.WithFrameInterval(d))
		}
		return filecam.New(cfg.Dir, opts...)
	})

	// ── Recognizers ───────────────────────────────────────────────────────────

	reg.RegisterRecognizer("httpface", func(cfg config.RecognitionConfig) (identify.Recognizer, error) {
		var opts []httpface.Option
		if cfg.APIKey != "" {
			opts = append(opts, httpface.WithAPIKey(cfg.APIKey))
		}
		return httpface.New(cfg.BaseURL, opts...)
	})

	reg.RegisterRecognizer("vector", func(cfg config.RecognitionConfig) (identify.Recognizer, error) {
		if store == nil {
			return nil, fmt.Errorf("recognizer \"vector\" requires an encodings backend")
		}
		var opts []vector.Option
		if cfg.Tolerance > 0 {
			opts = append(opts, vector.WithTolerance(cfg.Tolerance))
		}
		return vector.New(cfg.BaseURL, store, opts...)
	})

	// ── Speech backends ───────────────────────────────────────────────────────

	reg.RegisterSpeech("console", func(cfg config.SpeechConfig) (speech.Backend, error) {
		var opts []console.Option
		if cfg.Rate > 0 {
			opts = append(opts, console.WithRate(cfg.Rate))
		}
		return console.New(opts...), nil
	})

	reg.RegisterSpeech("http", func(cfg config.SpeechConfig) (speech.Backend, error) {
		var opts []httpvoice.Option
		if cfg.Voice != "" {
			opts = append(opts, httpvoice.WithVoice(cfg.Voice))
		}
		if cfg.Language != "" {
			opts = append(opts, httpvoice.WithLanguage(cfg.Language))
		}
		return httpvoice.New(cfg.URL, opts...)
	})

	reg.RegisterSpeech("websocket", func(cfg config.SpeechConfig) (speech.Backend, error) {
		var opts []wsvoice.Option
		if cfg.Token != "" {
			opts = append(opts, wsvoice.WithToken(cfg.Token))
		}
		if cfg.Voice != "" {
			opts = append(opts, wsvoice.WithVoice(cfg.Voice))
		}
		return wsvoice.New(cfg.URL, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai, anthropic, gemini, deepseek, mistral, groq, llamacpp, llamafile
	// all share the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range llmProviderNames {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (chatbot.LLMModule, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return chatbot.NewLLM(providerName, entry.Model, opts)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (chatbot.LLMModule, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return chatbot.NewLLM("ollama", entry.Model, opts)
	})
}

// buildProviders instantiates the providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	var err error

	if ps.Camera, err = reg.CreateCamera(cfg.Camera); err != nil {
		return nil, fmt.Errorf("create camera %q: %w", cfg.Camera.Provider, err)
	}
	slog.Info("provider created", "kind", "camera", "name", cfg.Camera.Provider)

	if ps.Recognizer, err = reg.CreateRecognizer(cfg.Recognition); err != nil {
		return nil, fmt.Errorf("create recognizer %q: %w", cfg.Recognition.Provider, err)
	}
	slog.Info("provider created", "kind", "recognizer", "name", cfg.Recognition.Provider)

	if ps.Speech, err = reg.CreateSpeech(cfg.Speech); err != nil {
		return nil, fmt.Errorf("create speech backend %q: %w", cfg.Speech.Provider, err)
	}
	slog.Info("provider created", "kind", "speech", "name", cfg.Speech.Provider)

	// The LLM is optional; without it the router still answers weather,
	// news, finance and fact queries.
	if cfg.Chat.LLM.Name != "" {
		if ps.LLM, err = reg.CreateLLM(cfg.Chat.LLM); err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", cfg.Chat.LLM.Name, err)
		}
		slog.Info("provider created", "kind", "llm", "name", cfg.Chat.LLM.Name, "model", cfg.Chat.LLM.Model)
	}

	return ps, nil
}

// openStore opens the configured encoding store.
func openStore(ctx context.Context, cfg config.EncodingsConfig) (encstore.Store, error) {
	switch cfg.Backend {
	case config.EncodingsFile:
		return encstore.OpenFile(cfg.Path)
	case config.EncodingsPostgres:
		return encstore.OpenPostgres(ctx, cfg.PostgresDSN, cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown encodings backend %q", cfg.Backend)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Vigil — startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Camera", cfg.Camera.Provider, "")
	printProvider("Recognizer", cfg.Recognition.Provider, "")
	printProvider("Encodings", string(cfg.Encodings.Backend), "")
	printProvider("Speech", cfg.Speech.Provider, cfg.Speech.Voice)
	printProvider("LLM", cfg.Chat.LLM.Name, cfg.Chat.LLM.Model)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, detail string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if detail != "" {
		value = name + " / " + detail
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
