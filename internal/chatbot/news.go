package chatbot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/halcyonix/vigil/internal/resilience"
)

const (
	defaultGNewsURL = "https://gnews.io/api/v4/search"
	defaultBingURL  = "https://api.bing.microsoft.com/v7.0/news/search"
	defaultDDGURL   = "https://api.duckduckgo.com/"

	defaultNewsTimeout = 10 * time.Second
	maxHeadlines       = 5

	// A source that keeps failing is skipped for this long before being
	// probed again.
	newsBreakerReset    = 2 * time.Minute
	newsBreakerFailures = 3
)

// errNoResults makes an empty result set advance the source chain. It does
// not count against a source's breaker.
var errNoResults = errors.New("chatbot: no headlines found")

var newsFillRe = regexp.MustCompile(`(?i)\b(news|headline|headlines)\b`)

// newsFetch is one headline source, as registered with the source chain.
type newsFetch func(ctx context.Context, topic string) ([]headline, error)

// News returns headlines for a topic. GNews is the primary source; Bing
// News and the DuckDuckGo instant-answer API serve as fallbacks so a
// missing key or exhausted quota still yields something to read out. Each
// source sits behind its own circuit breaker.
type News struct {
	httpClient *http.Client
	gnewsKey   string
	bingKey    string
	gnewsURL   string
	bingURL    string
	ddgURL     string
	sources    *resilience.Chain[newsFetch]
}

// NewsOption configures a [News] module.
type NewsOption func(*News)

// WithNewsHTTPClient overrides the HTTP client.
func WithNewsHTTPClient(client *http.Client) NewsOption {
	return func(n *News) { n.httpClient = client }
}

// WithBingKey enables the Bing News fallback.
func WithBingKey(key string) NewsOption {
	return func(n *News) { n.bingKey = key }
}

// WithNewsEndpoints overrides the upstream API URLs, for tests. Empty
// values keep the defaults.
func WithNewsEndpoints(gnews, bing, ddg string) NewsOption {
	return func(n *News) {
		if gnews != "" {
			n.gnewsURL = gnews
		}
		if bing != "" {
			n.bingURL = bing
		}
		if ddg != "" {
			n.ddgURL = ddg
		}
	}
}

// NewNews creates a news module. gnewsKey may be empty, in which case only
// the fallback sources are used.
func NewNews(gnewsKey string, opts ...NewsOption) *News {
	n := &News{
		httpClient: &http.Client{Timeout: defaultNewsTimeout},
		gnewsKey:   gnewsKey,
		gnewsURL:   defaultGNewsURL,
		bingURL:    defaultBingURL,
		ddgURL:     defaultDDGURL,
	}
	for _, o := range opts {
		o(n)
	}

	n.sources = resilience.NewChain[newsFetch](resilience.BreakerConfig{
		MaxFailures:  newsBreakerFailures,
		ResetTimeout: newsBreakerReset,
		IsFailure: func(err error) bool {
			return !errors.Is(err, errNoResults) &&
				!errors.Is(err, resilience.ErrAbort) &&
				!errors.Is(err, context.Canceled) &&
				!errors.Is(err, context.DeadlineExceeded)
		},
	})
	if n.gnewsKey != "" {
		n.sources.Add("gnews", n.gnewsHeadlines)
	}
	if n.bingKey != "" {
		n.sources.Add("bing", n.bingHeadlines)
	}
	n.sources.Add("duckduckgo", n.ddgHeadlines)

	return n
}

type headline struct {
	Title       string
	Source      string
	Description string
}

func (h headline) format() string {
	s := fmt.Sprintf("📰 %s", h.Title)
	if h.Source != "" {
		s += fmt.Sprintf(" - %s", h.Source)
	}
	if h.Description != "" {
		s += fmt.Sprintf("\n   %s", h.Description)
	}
	return s
}

// Headlines answers one news query. Sources are tried in order and the
// first that yields results wins; a source with an open breaker is skipped.
func (n *News) Headlines(ctx context.Context, query string) ([]string, error) {
	topic := cleanNewsQuery(query)

	items, err := resilience.DoResult(n.sources, func(fetch newsFetch) ([]headline, error) {
		return fetch(ctx, topic)
	})
	if err == nil {
		return formatHeadlines(items), nil
	}

	// Key and quota problems carry an actionable message instead of
	// silently falling back to a keyless source.
	var abort *newsAbort
	if errors.As(err, &abort) {
		return []string{abort.msg}, nil
	}
	if errors.Is(err, errNoResults) {
		return []string{fmt.Sprintf("No recent news found for %q.", topic)}, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return nil, fmt.Errorf("chatbot: all news sources failed for %q: %w", topic, err)
}

// gnewsHeadlines adapts fetchGNews to the source chain, turning key and
// quota rejections into chain aborts so the message reaches the user.
func (n *News) gnewsHeadlines(ctx context.Context, topic string) ([]headline, error) {
	items, err := n.fetchGNews(ctx, topic)
	if err != nil {
		if msg := gnewsUserError(err); msg != "" {
			return nil, &newsAbort{msg: msg}
		}
		return nil, err
	}
	if len(items) == 0 {
		return nil, errNoResults
	}
	return items, nil
}

func (n *News) bingHeadlines(ctx context.Context, topic string) ([]headline, error) {
	items, err := n.fetchBing(ctx, topic)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, errNoResults
	}
	return items, nil
}

func (n *News) ddgHeadlines(ctx context.Context, topic string) ([]headline, error) {
	items, err := n.fetchDDG(ctx, topic)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, errNoResults
	}
	return items, nil
}

// newsAbort stops the source chain with a message meant for the user.
type newsAbort struct{ msg string }

func (e *newsAbort) Error() string { return "chatbot: " + e.msg }

func (e *newsAbort) Is(target error) bool { return target == resilience.ErrAbort }

// cleanNewsQuery strips the intent words and defaults to world news.
func cleanNewsQuery(query string) string {
	s := newsFillRe.ReplaceAllString(query, " ")
	s = strings.TrimSpace(strings.Join(strings.Fields(s), " "))
	if s == "" {
		return "world"
	}
	return s
}

type gnewsStatusError struct {
	status int
}

func (e *gnewsStatusError) Error() string {
	return fmt.Sprintf("gnews returned status %d", e.status)
}

func gnewsUserError(err error) string {
	var se *gnewsStatusError
	if !errors.As(err, &se) {
		return ""
	}
	switch se.status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return "Invalid GNews API key."
	case http.StatusTooManyRequests:
		return "GNews quota exhausted for today. Try again later."
	}
	return ""
}

// fetchGNews queries GNews, retrying once with AND-joined terms when a
// multi-word topic comes back empty.
func (n *News) fetchGNews(ctx context.Context, topic string) ([]headline, error) {
	items, err := n.gnewsSearch(ctx, topic)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 && strings.Contains(topic, " ") {
		joined := strings.Join(strings.Fields(topic), " AND ")
		return n.gnewsSearch(ctx, joined)
	}
	return items, nil
}

func (n *News) gnewsSearch(ctx context.Context, q string) ([]headline, error) {
	params := url.Values{
		"q":      {q},
		"token":  {n.gnewsKey},
		"lang":   {"en"},
		"max":    {fmt.Sprint(maxHeadlines)},
		"sortby": {"publishedAt"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.gnewsURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := n.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
		return nil, &gnewsStatusError{status: resp.StatusCode}
	}

	var out struct {
		Articles []struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			Source      struct {
				Name string `json:"name"`
			} `json:"source"`
		} `json:"articles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	items := make([]headline, 0, len(out.Articles))
	for _, a := range out.Articles {
		items = append(items, headline{Title: a.Title, Source: a.Source.Name, Description: a.Description})
	}
	return items, nil
}

func (n *News) fetchBing(ctx context.Context, topic string) ([]headline, error) {
	params := url.Values{
		"q":     {topic},
		"count": {fmt.Sprint(maxHeadlines)},
		"mkt":   {"en-US"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.bingURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", n.bingKey)
	resp, err := n.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bing returned status %d", resp.StatusCode)
	}

	var out struct {
		Value []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			Provider    []struct {
				Name string `json:"name"`
			} `json:"provider"`
		} `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	items := make([]headline, 0, len(out.Value))
	for _, v := range out.Value {
		h := headline{Title: v.Name, Description: v.Description}
		if len(v.Provider) > 0 {
			h.Source = v.Provider[0].Name
		}
		items = append(items, h)
	}
	return items, nil
}

func (n *News) fetchDDG(ctx context.Context, topic string) ([]headline, error) {
	params := url.Values{
		"q":       {topic + " news"},
		"format":  {"json"},
		"no_html": {"1"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.ddgURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := n.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo returned status %d", resp.StatusCode)
	}

	var out struct {
		RelatedTopics []struct {
			Text string `json:"Text"`
		} `json:"RelatedTopics"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	var items []headline
	for _, t := range out.RelatedTopics {
		if t.Text == "" {
			continue
		}
		items = append(items, headline{Title: t.Text})
		if len(items) == maxHeadlines {
			break
		}
	}
	return items, nil
}

func formatHeadlines(items []headline) []string {
	out := make([]string, 0, len(items))
	for _, h := range items {
		out = append(out, h.format())
	}
	return out
}
