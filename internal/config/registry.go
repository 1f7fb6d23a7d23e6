package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/halcyonix/vigil/internal/chatbot"
	"github.com/halcyonix/vigil/internal/identify"
	"github.com/halcyonix/vigil/internal/speech"
	"github.com/halcyonix/vigil/internal/vision"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	camera     map[string]func(CameraConfig) (vision.Device, error)
	recognizer map[string]func(RecognitionConfig) (identify.Recognizer, error)
	speech     map[string]func(SpeechConfig) (speech.Backend, error)
	llm        map[string]func(ProviderEntry) (chatbot.LLMModule, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		camera:     make(map[string]func(CameraConfig) (vision.Device, error)),
		recognizer: make(map[string]func(RecognitionConfig) (identify.Recognizer, error)),
		speech:     make(map[string]func(SpeechConfig) (speech.Backend, error)),
		llm:        make(map[string]func(ProviderEntry) (chatbot.LLMModule, error)),
	}
}

// RegisterCamera registers a camera factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterCamera(name string, factory func(CameraConfig) (vision.Device, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.camera[name] = factory
}

// RegisterRecognizer registers a face recognizer factory under name.
func (r *Registry) RegisterRecognizer(name string, factory func(RecognitionConfig) (identify.Recognizer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recognizer[name] = factory
}

// RegisterSpeech registers a speech backend factory under name.
func (r *Registry) RegisterSpeech(name string, factory func(SpeechConfig) (speech.Backend, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.speech[name] = factory
}

// RegisterLLM registers an LLM module factory under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (chatbot.LLMModule, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// CreateCamera instantiates a camera using the factory registered under cfg.Provider.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateCamera(cfg CameraConfig) (vision.Device, error) {
	r.mu.RLock()
	factory, ok := r.camera[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: camera/%q", ErrProviderNotRegistered, cfg.Provider)
	}
	return factory(cfg)
}

// CreateRecognizer instantiates a recognizer using the factory registered under cfg.Provider.
func (r *Registry) CreateRecognizer(cfg RecognitionConfig) (identify.Recognizer, error) {
	r.mu.RLock()
	factory, ok := r.recognizer[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: recognizer/%q", ErrProviderNotRegistered, cfg.Provider)
	}
	return factory(cfg)
}

// CreateSpeech instantiates a speech backend using the factory registered under cfg.Provider.
func (r *Registry) CreateSpeech(cfg SpeechConfig) (speech.Backend, error) {
	r.mu.RLock()
	factory, ok := r.speech[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: speech/%q", ErrProviderNotRegistered, cfg.Provider)
	}
	return factory(cfg)
}

// CreateLLM instantiates an LLM module using the factory registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (chatbot.LLMModule, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
