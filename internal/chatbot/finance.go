package chatbot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const (
	defaultYahooChartURL = "https://query1.finance.yahoo.com/v8/finance/chart"
	defaultCoinGeckoURL  = "https://api.coingecko.com/api/v3/simple/price"
	defaultWorldBankURL  = "https://api.worldbank.org/v2"

	defaultFinanceTimeout = 10 * time.Second

	indicatorGDP       = "NY.GDP.MKTP.CD"
	indicatorInflation = "FP.CPI.TOTL.ZG"
)

var (
	gdpRe       = regexp.MustCompile(`(?i)gdp of ([a-z\s]+)`)
	inflationRe = regexp.MustCompile(`(?i)inflation of ([a-z\s]+)`)
)

// Finance answers price and macroeconomic queries: equities and indices via
// the Yahoo chart API, cryptocurrencies via CoinGecko, GDP and inflation via
// the World Bank indicators API.
type Finance struct {
	httpClient   *http.Client
	yahooURL     string
	coinGeckoURL string
	worldBankURL string
	userAgent    string
}

// FinanceOption configures a [Finance] module.
type FinanceOption func(*Finance)

// WithFinanceHTTPClient overrides the HTTP client.
func WithFinanceHTTPClient(client *http.Client) FinanceOption {
	return func(f *Finance) { f.httpClient = client }
}

// WithFinanceEndpoints overrides the upstream API URLs, for tests. Empty
// values keep the defaults.
func WithFinanceEndpoints(yahoo, coinGecko, worldBank string) FinanceOption {
	return func(f *Finance) {
		if yahoo != "" {
			f.yahooURL = yahoo
		}
		if coinGecko != "" {
			f.coinGeckoURL = coinGecko
		}
		if worldBank != "" {
			f.worldBankURL = worldBank
		}
	}
}

// NewFinance creates a finance module.
func NewFinance(opts ...FinanceOption) *Finance {
	f := &Finance{
		httpClient:   &http.Client{Timeout: defaultFinanceTimeout},
		yahooURL:     defaultYahooChartURL,
		coinGeckoURL: defaultCoinGeckoURL,
		worldBankURL: defaultWorldBankURL,
		userAgent:    "vigil/1.0 (+https://github.com/halcyonix/vigil)",
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Query answers one finance query. Macro indicators are checked first so
// "gdp of india" never resolves to a ticker.
func (f *Finance) Query(ctx context.Context, query string) (string, error) {
	if m := gdpRe.FindStringSubmatch(query); m != nil {
		return f.indicator(ctx, strings.TrimSpace(m[1]), indicatorGDP)
	}
	if m := inflationRe.FindStringSubmatch(query); m != nil {
		return f.indicator(ctx, strings.TrimSpace(m[1]), indicatorInflation)
	}

	symbol, ok := ResolveTicker(query)
	if !ok {
		return "Please specify a company, index, or crypto. For example: \"Apple stock price\" or \"bitcoin price\".", nil
	}
	if id, crypto := coinGeckoIDs[symbol]; crypto {
		return f.cryptoPrice(ctx, symbol, id)
	}
	return f.quote(ctx, symbol)
}

// quote fetches the latest price for an equity or index symbol.
func (f *Finance) quote(ctx context.Context, symbol string) (string, error) {
	params := url.Values{
		"interval": {"1d"},
		"range":    {"5d"},
	}
	rawURL := fmt.Sprintf("%s/%s?%s", f.yahooURL, url.PathEscape(symbol), params.Encode())

	var out struct {
		Chart struct {
			Result []struct {
				Meta struct {
					Symbol             string  `json:"symbol"`
					Currency           string  `json:"currency"`
					RegularMarketPrice float64 `json:"regularMarketPrice"`
					PreviousClose      float64 `json:"chartPreviousClose"`
				} `json:"meta"`
			} `json:"result"`
			Error *struct {
				Description string `json:"description"`
			} `json:"error"`
		} `json:"chart"`
	}
	if err := f.getJSON(ctx, rawURL, &out); err != nil {
		return "", fmt.Errorf("chatbot: fetch quote for %s: %w", symbol, err)
	}
	if out.Chart.Error != nil {
		return "", fmt.Errorf("chatbot: quote for %s: %s", symbol, out.Chart.Error.Description)
	}
	if len(out.Chart.Result) == 0 {
		return "", fmt.Errorf("chatbot: no quote data for %s", symbol)
	}

	meta := out.Chart.Result[0].Meta
	s := fmt.Sprintf("💹 %s: %.2f %s", meta.Symbol, meta.RegularMarketPrice, meta.Currency)
	if meta.PreviousClose > 0 {
		change := meta.RegularMarketPrice - meta.PreviousClose
		pct := change / meta.PreviousClose * 100
		arrow := "▲"
		if change < 0 {
			arrow = "▼"
		}
		s += fmt.Sprintf(" %s %.2f (%.2f%%)", arrow, math.Abs(change), pct)
	}
	return s, nil
}

// cryptoPrice fetches a USD spot price from CoinGecko.
func (f *Finance) cryptoPrice(ctx context.Context, symbol, coinID string) (string, error) {
	params := url.Values{
		"ids":                 {coinID},
		"vs_currencies":       {"usd"},
		"include_24hr_change": {"true"},
	}
	var out map[string]struct {
		USD       float64 `json:"usd"`
		Change24h float64 `json:"usd_24h_change"`
	}
	if err := f.getJSON(ctx, f.coinGeckoURL+"?"+params.Encode(), &out); err != nil {
		return "", fmt.Errorf("chatbot: fetch crypto price for %s: %w", coinID, err)
	}
	price, ok := out[coinID]
	if !ok {
		return "", fmt.Errorf("chatbot: no price data for %s", coinID)
	}
	return fmt.Sprintf("🪙 %s: %.2f USD (%+.2f%% 24h)", symbol, price.USD, price.Change24h), nil
}

// indicator answers a World Bank indicator query for a country. The API
// returns years newest first; the first non-null value wins.
func (f *Finance) indicator(ctx context.Context, country, indicator string) (string, error) {
	code := countryCode(country)
	rawURL := fmt.Sprintf("%s/country/%s/indicator/%s?format=json&per_page=10",
		f.worldBankURL, url.PathEscape(code), indicator)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", f.userAgent)
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chatbot: fetch %s for %s: %w", indicator, country, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chatbot: world bank returned status %d", resp.StatusCode)
	}

	// The World Bank wraps results as [metadata, rows].
	var envelope []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return "", fmt.Errorf("chatbot: decode world bank response: %w", err)
	}
	if len(envelope) < 2 {
		return "", fmt.Errorf("chatbot: no indicator data for %s", country)
	}
	var rows []struct {
		Date  string   `json:"date"`
		Value *float64 `json:"value"`
	}
	if err := json.Unmarshal(envelope[1], &rows); err != nil {
		return "", fmt.Errorf("chatbot: decode world bank rows: %w", err)
	}

	display := titleWords(country)
	for _, row := range rows {
		if row.Value == nil {
			continue
		}
		if indicator == indicatorGDP {
			billions := math.Round(*row.Value/1e9*100) / 100
			return fmt.Sprintf("%s GDP in %s: %.2f Billion USD", display, row.Date, billions), nil
		}
		return fmt.Sprintf("%s inflation in %s: %.2f%%", display, row.Date, *row.Value), nil
	}
	return "", fmt.Errorf("chatbot: no recent indicator values for %s", country)
}

// countryCodes maps common country names to ISO codes the World Bank API
// accepts. Unknown names pass through unchanged; the API also accepts full
// names for many countries.
var countryCodes = map[string]string{
	"india":          "IN",
	"usa":            "US",
	"united states":  "US",
	"china":          "CN",
	"japan":          "JP",
	"germany":        "DE",
	"france":         "FR",
	"united kingdom": "GB",
	"uk":             "GB",
	"brazil":         "BR",
	"russia":         "RU",
	"canada":         "CA",
	"australia":      "AU",
}

func countryCode(country string) string {
	if code, ok := countryCodes[strings.ToLower(strings.TrimSpace(country))]; ok {
		return code
	}
	return country
}

func titleWords(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = titleCase(w)
	}
	return strings.Join(words, " ")
}

func (f *Finance) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", f.userAgent)
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
