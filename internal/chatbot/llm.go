package chatbot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/halcyonix/vigil/internal/chat"
)

const (
	defaultLLMModel       = "llama-3.1-8b-instant"
	defaultLLMTemperature = 0.3
	defaultLLMMaxTokens   = 512
	defaultLLMTimeout     = 30 * time.Second

	fallbackSystemPrompt = "You are a concise factual assistant."
)

// LLM is the conversational fallback module, backed by
// github.com/mozilla-ai/any-llm-go so any supported provider can serve it.
// Queries about fresh information are answered from live web sources before
// the model gets a chance to hallucinate a date.
type LLM struct {
	backend     anyllmlib.Provider
	model       string
	temperature float64
	maxTokens   int

	httpClient     *http.Client
	ddgURL         string
	wikiSummaryURL string
	userAgent      string
	clock          func() time.Time
}

// LLMOption configures an [LLM] module.
type LLMOption func(*LLM)

// WithLLMTemperature overrides the sampling temperature.
func WithLLMTemperature(t float64) LLMOption {
	return func(l *LLM) { l.temperature = t }
}

// WithLLMMaxTokens overrides the completion token cap.
func WithLLMMaxTokens(n int) LLMOption {
	return func(l *LLM) { l.maxTokens = n }
}

// WithLLMHTTPClient overrides the HTTP client used for real-time lookups.
func WithLLMHTTPClient(client *http.Client) LLMOption {
	return func(l *LLM) { l.httpClient = client }
}

// WithLLMEndpoints overrides the real-time lookup URLs, for tests. Empty
// values keep the defaults.
func WithLLMEndpoints(ddg, wikiSummary string) LLMOption {
	return func(l *LLM) {
		if ddg != "" {
			l.ddgURL = ddg
		}
		if wikiSummary != "" {
			l.wikiSummaryURL = wikiSummary
		}
	}
}

// WithLLMClock overrides the time source, for tests.
func WithLLMClock(clock func() time.Time) LLMOption {
	return func(l *LLM) { l.clock = clock }
}

// NewLLM creates an LLM module backed by the named provider.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama",
// "deepseek", "mistral", "groq", "llamacpp", "llamafile". An empty model
// selects the Groq default. providerOpts are any-llm-go options such as
// anyllmlib.WithAPIKey; without an API key option the provider reads its
// usual environment variable.
func NewLLM(providerName, model string, providerOpts []anyllmlib.Option, opts ...LLMOption) (*LLM, error) {
	if providerName == "" {
		return nil, fmt.Errorf("chatbot: llm provider name must not be empty")
	}
	if model == "" {
		model = defaultLLMModel
	}
	backend, err := createBackend(providerName, providerOpts...)
	if err != nil {
		return nil, fmt.Errorf("chatbot: create %q llm backend: %w", providerName, err)
	}
	return newLLMWithBackend(backend, model, opts...), nil
}

// newLLMWithBackend wires an already-built provider, for tests.
func newLLMWithBackend(backend anyllmlib.Provider, model string, opts ...LLMOption) *LLM {
	l := &LLM{
		backend:        backend,
		model:          model,
		temperature:    defaultLLMTemperature,
		maxTokens:      defaultLLMMaxTokens,
		httpClient:     &http.Client{Timeout: defaultLLMTimeout},
		ddgURL:         defaultDDGURL,
		wikiSummaryURL: defaultWikiSummaryURL,
		userAgent:      "vigil/1.0 (+https://github.com/halcyonix/vigil)",
		clock:          time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", providerName)
	}
}

// Answer completes one conversational turn. The session history, which
// already ends with the user's latest message, becomes the completion
// context; without a history the query is wrapped in a minimal exchange.
func (l *LLM) Answer(ctx context.Context, query string, history *chat.History) (string, error) {
	if text := l.realTimeAnswer(ctx, query); text != "" {
		return text, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	params := anyllmlib.CompletionParams{
		Model:    l.model,
		Messages: l.buildMessages(query, history),
	}
	t := l.temperature
	params.Temperature = &t
	if l.maxTokens > 0 {
		mt := l.maxTokens
		params.MaxTokens = &mt
	}

	resp, err := l.backend.Completion(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chatbot: llm completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chatbot: llm returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.ContentString()), nil
}

func (l *LLM) buildMessages(query string, history *chat.History) []anyllmlib.Message {
	if history == nil || history.Len() == 0 {
		return []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: fallbackSystemPrompt},
			{Role: "user", Content: query},
		}
	}
	msgs := history.Messages()
	out := make([]anyllmlib.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, anyllmlib.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}

// realTimeAnswer short-circuits queries about fresh information with a live
// lookup: the DuckDuckGo instant answer first, then the Wikipedia summary.
// Empty means no live answer was found and the model should answer.
func (l *LLM) realTimeAnswer(ctx context.Context, query string) string {
	if !l.isRealTime(query) {
		return ""
	}
	topic := normalizeFactQuery(query)
	if topic == "" {
		return ""
	}
	if text := l.ddgInstant(ctx, topic); text != "" {
		return text + " (DuckDuckGo, real-time)"
	}
	if text := l.wikiExtract(ctx, topic); text != "" {
		return text + " (Wikipedia, latest)"
	}
	return ""
}

// isRealTime reports whether the query asks about fresh information. The
// current year in a query counts the same as "latest".
func (l *LLM) isRealTime(query string) bool {
	if hasRealTimeKeyword(query) {
		return true
	}
	year := fmt.Sprint(l.clock().Year())
	return strings.Contains(query, year)
}

func (l *LLM) ddgInstant(ctx context.Context, topic string) string {
	params := url.Values{
		"q":       {topic},
		"format":  {"json"},
		"no_html": {"1"},
	}
	var out struct {
		AbstractText  string `json:"AbstractText"`
		Definition    string `json:"Definition"`
		RelatedTopics []struct {
			Text string `json:"Text"`
		} `json:"RelatedTopics"`
	}
	if err := l.getJSON(ctx, l.ddgURL+"?"+params.Encode(), &out); err != nil {
		return ""
	}
	text := out.AbstractText
	if text == "" {
		text = out.Definition
	}
	if text == "" {
		for _, t := range out.RelatedTopics {
			if t.Text != "" {
				text = t.Text
				break
			}
		}
	}
	if text == "" {
		return ""
	}
	return clampFact(text)
}

func (l *LLM) wikiExtract(ctx context.Context, topic string) string {
	rawURL := l.wikiSummaryURL + "/" + url.PathEscape(strings.ReplaceAll(topic, " ", "_"))
	var out struct {
		Type    string `json:"type"`
		Extract string `json:"extract"`
	}
	if err := l.getJSON(ctx, rawURL, &out); err != nil {
		return ""
	}
	if out.Type == "disambiguation" {
		return ""
	}
	return clampFact(out.Extract)
}

func (l *LLM) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", l.userAgent)
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
