package chatbot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"
)

const (
	defaultWikiSummaryURL = "https://en.wikipedia.org/api/rest_v1/page/summary"
	defaultWikiActionURL  = "https://en.wikipedia.org/w/api.php"

	defaultFactsTimeout = 10 * time.Second
	factMaxLen          = 800
)

var factLeadRe = regexp.MustCompile(`(?i)^(who is|who's|what is|what's|tell me about|give me info on|find info about|about)\s+`)

// Facts answers short factual queries from Wikipedia, with the DuckDuckGo
// instant-answer API as a fallback. Answers are cached per normalized query
// for the life of the process.
type Facts struct {
	httpClient     *http.Client
	wikiSummaryURL string
	wikiActionURL  string
	ddgURL         string
	userAgent      string

	mu    sync.Mutex
	cache map[string]string
}

// FactsOption configures a [Facts] module.
type FactsOption func(*Facts)

// WithFactsHTTPClient overrides the HTTP client.
func WithFactsHTTPClient(client *http.Client) FactsOption {
	return func(f *Facts) { f.httpClient = client }
}

// WithFactsEndpoints overrides the upstream API URLs, for tests. Empty
// values keep the defaults.
func WithFactsEndpoints(wikiSummary, wikiAction, ddg string) FactsOption {
	return func(f *Facts) {
		if wikiSummary != "" {
			f.wikiSummaryURL = wikiSummary
		}
		if wikiAction != "" {
			f.wikiActionURL = wikiAction
		}
		if ddg != "" {
			f.ddgURL = ddg
		}
	}
}

// NewFacts creates a facts module.
func NewFacts(opts ...FactsOption) *Facts {
	f := &Facts{
		httpClient:     &http.Client{Timeout: defaultFactsTimeout},
		wikiSummaryURL: defaultWikiSummaryURL,
		wikiActionURL:  defaultWikiActionURL,
		ddgURL:         defaultDDGURL,
		userAgent:      "vigil/1.0 (+https://github.com/halcyonix/vigil)",
		cache:          make(map[string]string),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Lookup answers one factual query. An empty answer with a nil error means
// no concise answer was found and the caller should fall through.
func (f *Facts) Lookup(ctx context.Context, query string) (string, error) {
	topic := normalizeFactQuery(query)
	if topic == "" {
		return "", nil
	}

	f.mu.Lock()
	cached, ok := f.cache[topic]
	f.mu.Unlock()
	if ok {
		return cached, nil
	}

	answer, err := f.fromWikipedia(ctx, topic)
	if err != nil && ctx.Err() != nil {
		return "", ctx.Err()
	}
	if answer == "" {
		answer, err = f.fromDuckDuckGo(ctx, topic)
		if err != nil && ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	if answer == "" {
		return "", err
	}

	f.mu.Lock()
	f.cache[topic] = answer
	f.mu.Unlock()
	return answer, nil
}

// normalizeFactQuery strips the question lead-in and trailing punctuation.
func normalizeFactQuery(query string) string {
	s := strings.TrimSpace(query)
	s = factLeadRe.ReplaceAllString(s, "")
	s = strings.TrimRight(s, "?!. ")
	return strings.TrimSpace(s)
}

// fromWikipedia tries the page summary for the topic directly, then
// searches for the best-matching page title and summarizes that.
func (f *Facts) fromWikipedia(ctx context.Context, topic string) (string, error) {
	if text, err := f.wikiSummary(ctx, topic); err == nil && text != "" {
		return text + " (Wikipedia)", nil
	} else if ctx.Err() != nil {
		return "", ctx.Err()
	}

	title, err := f.wikiSearch(ctx, topic)
	if err != nil || title == "" {
		return "", err
	}
	text, err := f.wikiSummary(ctx, title)
	if err != nil || text == "" {
		return "", err
	}
	return text + " (Wikipedia)", nil
}

func (f *Facts) wikiSummary(ctx context.Context, title string) (string, error) {
	rawURL := f.wikiSummaryURL + "/" + url.PathEscape(strings.ReplaceAll(title, " ", "_"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", f.userAgent)
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("wikipedia summary returned status %d", resp.StatusCode)
	}

	var out struct {
		Type    string `json:"type"`
		Extract string `json:"extract"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	// Disambiguation pages are not answers.
	if out.Type == "disambiguation" {
		return "", nil
	}
	return clampFact(out.Extract), nil
}

func (f *Facts) wikiSearch(ctx context.Context, topic string) (string, error) {
	params := url.Values{
		"action":   {"query"},
		"list":     {"search"},
		"srsearch": {topic},
		"srlimit":  {"5"},
		"format":   {"json"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.wikiActionURL+"?"+params.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", f.userAgent)
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("wikipedia search returned status %d", resp.StatusCode)
	}

	var out struct {
		Query struct {
			Search []struct {
				Title string `json:"title"`
			} `json:"search"`
		} `json:"query"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if len(out.Query.Search) == 0 {
		return "", nil
	}
	return out.Query.Search[0].Title, nil
}

// fromDuckDuckGo tries the instant-answer abstract, then the definition,
// then the first related-topic snippet.
func (f *Facts) fromDuckDuckGo(ctx context.Context, topic string) (string, error) {
	params := url.Values{
		"q":       {topic},
		"format":  {"json"},
		"no_html": {"1"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.ddgURL+"?"+params.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", f.userAgent)
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("duckduckgo returned status %d", resp.StatusCode)
	}

	var out struct {
		AbstractText  string `json:"AbstractText"`
		Definition    string `json:"Definition"`
		RelatedTopics []struct {
			Text string `json:"Text"`
		} `json:"RelatedTopics"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
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
		return "", nil
	}
	return clampFact(text) + " (DuckDuckGo)", nil
}

// clampFact collapses whitespace and truncates long extracts at a word
// boundary.
func clampFact(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= factMaxLen {
		return s
	}
	cut := s[:factMaxLen]
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return cut + "..."
}
