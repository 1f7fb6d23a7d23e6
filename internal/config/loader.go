package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"camera":     {"mjpeg", "filecam"},
	"recognizer": {"httpface", "vector"},
	"speech":     {"console", "http", "websocket"},
	"llm":        {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("camera", cfg.Camera.Provider)
	validateProviderName("recognizer", cfg.Recognition.Provider)
	validateProviderName("speech", cfg.Speech.Provider)
	validateProviderName("llm", cfg.Chat.LLM.Name)

	// Camera
	switch cfg.Camera.Provider {
	case "mjpeg":
		if cfg.Camera.URL == "" {
			errs = append(errs, errors.New("camera.url is required when camera.provider is mjpeg"))
		}
	case "filecam":
		if cfg.Camera.Dir == "" {
			errs = append(errs, errors.New("camera.dir is required when camera.provider is filecam"))
		}
	}
	if cfg.Camera.BufferSize < 0 {
		errs = append(errs, fmt.Errorf("camera.buffer_size %d must not be negative", cfg.Camera.BufferSize))
	}

	// Recognition
	if cfg.Recognition.Provider != "" && cfg.Recognition.BaseURL == "" {
		errs = append(errs, fmt.Errorf("recognition.base_url is required when recognition.provider is %q", cfg.Recognition.Provider))
	}
	if cfg.Recognition.Tolerance < 0 || cfg.Recognition.Tolerance > 1 {
		errs = append(errs, fmt.Errorf("recognition.tolerance %.2f is out of range [0, 1]", cfg.Recognition.Tolerance))
	}
	if cfg.Recognition.Debounce < 0 {
		errs = append(errs, fmt.Errorf("recognition.debounce %s must not be negative", cfg.Recognition.Debounce.Std()))
	}

	// Encodings ↔ recognition cross-validation
	if cfg.Encodings.Backend != "" && !cfg.Encodings.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("encodings.backend %q is invalid; valid values: file, postgres", cfg.Encodings.Backend))
	}
	if cfg.Encodings.Backend == EncodingsFile && cfg.Encodings.Path == "" {
		errs = append(errs, errors.New("encodings.path is required when encodings.backend is file"))
	}
	if cfg.Encodings.Backend == EncodingsPostgres {
		if cfg.Encodings.PostgresDSN == "" {
			errs = append(errs, errors.New("encodings.postgres_dsn is required when encodings.backend is postgres"))
		}
		if cfg.Encodings.Dimensions <= 0 {
			errs = append(errs, errors.New("encodings.dimensions must be positive when encodings.backend is postgres"))
		}
	}
	if cfg.Recognition.Provider == "vector" && cfg.Encodings.Backend == "" {
		errs = append(errs, errors.New("recognition.provider \"vector\" requires an encodings backend"))
	}

	// Speech
	switch cfg.Speech.Provider {
	case "http", "websocket":
		if cfg.Speech.URL == "" {
			errs = append(errs, fmt.Errorf("speech.url is required when speech.provider is %s", cfg.Speech.Provider))
		}
	}
	if cfg.Speech.Rate < 0 {
		errs = append(errs, fmt.Errorf("speech.rate %d must not be negative", cfg.Speech.Rate))
	}

	// Chat
	if cfg.Chat.LLM.Name == "" {
		slog.Warn("chat.llm is not configured; conversational answers will be unavailable")
	}
	if cfg.Chat.GNewsAPIKey == "" {
		slog.Warn("chat.gnews_api_key is empty; news queries will use fallback sources only")
	}
	if cfg.Chat.TurnTimeout < 0 {
		errs = append(errs, fmt.Errorf("chat.turn_timeout %s must not be negative", cfg.Chat.TurnTimeout.Std()))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
