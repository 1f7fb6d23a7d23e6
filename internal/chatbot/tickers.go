package chatbot

import (
	"regexp"
	"strings"

	"github.com/antzucaro/matchr"
)

// commonTickers maps well-known company and index names to their quote
// symbols. Checked by substring first, then by fuzzy match.
var commonTickers = map[string]string{
	"tata motors": "TATAMOTORS.NS",
	"reliance":    "RELIANCE.NS",
	"infosys":     "INFY.NS",
	"itc":         "ITC.NS",
	"hdfc":        "HDFCBANK.NS",
	"icici":       "ICICIBANK.NS",
	"sbi":         "SBIN.NS",
	"adani":       "ADANIENT.NS",
	"mrf":         "MRF.NS",
	"tvs":         "TVSMOTOR.NS",
	"apple":       "AAPL",
	"google":      "GOOGL",
	"microsoft":   "MSFT",
	"amazon":      "AMZN",
	"tesla":       "TSLA",
	"meta":        "META",
	"nifty":       "^NSEI",
	"sensex":      "^BSESN",
	"nasdaq":      "^IXIC",
	"dow jones":   "^DJI",
	"s&p 500":     "^GSPC",
}

// cryptoTickers are resolved before the company map so "bitcoin price"
// never fuzzy-matches an equity.
var cryptoTickers = map[string]string{
	"bitcoin":  "BTC-USD",
	"btc":      "BTC-USD",
	"ethereum": "ETH-USD",
	"eth":      "ETH-USD",
	"dogecoin": "DOGE-USD",
	"doge":     "DOGE-USD",
}

// coinGeckoIDs maps quote symbols to CoinGecko coin ids.
var coinGeckoIDs = map[string]string{
	"BTC-USD":  "bitcoin",
	"ETH-USD":  "ethereum",
	"DOGE-USD": "dogecoin",
}

var upperSymbolRe = regexp.MustCompile(`\b([A-Z]{1,6})(?:\.[A-Z]{1,3})?\b`)

// symbolStopWords are uppercase words in queries that are never tickers.
var symbolStopWords = map[string]bool{
	"I": true, "A": true, "THE": true, "IS": true, "OF": true,
	"GDP": true, "USD": true, "INR": true,
}

const fuzzyThreshold = 0.88

// ResolveTicker extracts a quote symbol from a finance query. Resolution
// order: crypto names, known company names by substring, known names by
// Jaro-Winkler fuzzy match against each query word, and finally an explicit
// uppercase symbol written in the query itself.
func ResolveTicker(query string) (symbol string, ok bool) {
	lower := strings.ToLower(query)

	for name, sym := range cryptoTickers {
		if containsWord(lower, name) {
			return sym, true
		}
	}
	for name, sym := range commonTickers {
		if strings.Contains(lower, name) {
			return sym, true
		}
	}

	best := ""
	bestScore := fuzzyThreshold
	for _, word := range strings.Fields(lower) {
		if len(word) < 3 {
			continue
		}
		for name, sym := range commonTickers {
			score := matchr.JaroWinkler(word, name, true)
			if score > bestScore {
				best = sym
				bestScore = score
			}
		}
	}
	if best != "" {
		return best, true
	}

	for _, m := range upperSymbolRe.FindAllString(query, -1) {
		if !symbolStopWords[m] {
			return m, true
		}
	}
	return "", false
}

func containsWord(haystack, word string) bool {
	for _, f := range strings.Fields(haystack) {
		if strings.Trim(f, ".,!?") == word {
			return true
		}
	}
	return false
}
