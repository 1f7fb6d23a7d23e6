// Package chatbot implements the query router and its answer modules:
// weather (Open-Meteo), news (GNews with fallbacks), finance (Yahoo quote,
// CoinGecko, World Bank), facts (Wikipedia and DuckDuckGo instant answers),
// and the LLM fallback. Intent detection is keyword based and routed in
// priority order; module failures degrade to an apologetic system answer
// rather than failing the turn.
package chatbot

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/halcyonix/vigil/internal/chat"
)

// Intent patterns, checked in priority order.
var (
	weatherRe = regexp.MustCompile(`(?i)\b(weather|forecast|temperature|rain|rainfall|sunrise|sunset|wind|humidity)\b`)
	newsRe    = regexp.MustCompile(`(?i)\b(news|headlines|breaking|latest)\b`)
	financeRe = regexp.MustCompile(`(?i)\b(stock|share|price|bitcoin|crypto|btc|eth|market|nifty|sensex)\b`)
	factRe    = regexp.MustCompile(`(?i)\b(who|what|when|where|tell me about|define|explain|is it true)\b`)
)

// realTimeKeywords route factual-sounding queries about fresh information to
// the facts module before the LLM gets a chance to answer from stale
// training data.
var realTimeKeywords = []string{"current", "latest", "today", "now", "as of"}

// WeatherModule answers weather queries.
type WeatherModule interface {
	Query(ctx context.Context, query string) (string, error)
}

// NewsModule returns headlines for a topic.
type NewsModule interface {
	Headlines(ctx context.Context, query string) ([]string, error)
}

// FinanceModule answers price and macroeconomic queries.
type FinanceModule interface {
	Query(ctx context.Context, query string) (string, error)
}

// FactsModule answers short factual queries. An empty answer with a nil
// error means nothing concise was found and the router should fall through.
type FactsModule interface {
	Lookup(ctx context.Context, query string) (string, error)
}

// LLMModule is the conversational fallback.
type LLMModule interface {
	Answer(ctx context.Context, query string, history *chat.History) (string, error)
}

// Router dispatches queries to the answer modules. It implements
// chat.Router.
type Router struct {
	weather WeatherModule
	news    NewsModule
	finance FinanceModule
	facts   FactsModule
	llm     LLMModule
}

// NewRouter assembles a router. Any module may be nil: intents of a nil
// module fall through to the LLM, and with a nil LLM unmatched queries get
// a canned system answer instead of a conversational one.
func NewRouter(weather WeatherModule, news NewsModule, finance FinanceModule, facts FactsModule, llm LLMModule) (*Router, error) {
	return &Router{
		weather: weather,
		news:    news,
		finance: finance,
		facts:   facts,
		llm:     llm,
	}, nil
}

// Route answers one query. Module failures become "system" answers so a
// broken upstream costs one turn; only context expiry is reported as an
// error.
func (r *Router) Route(ctx context.Context, query string, history *chat.History) (chat.Answer, error) {
	q := strings.TrimSpace(query)

	switch {
	case r.weather != nil && weatherRe.MatchString(q):
		text, err := r.weather.Query(ctx, q)
		if err != nil {
			return r.moduleFailure(ctx, "Weather", err)
		}
		return chat.Answer{Text: text, Source: "weather"}, nil

	case r.news != nil && newsRe.MatchString(q):
		items, err := r.news.Headlines(ctx, q)
		if err != nil {
			return r.moduleFailure(ctx, "News", err)
		}
		return chat.Answer{Text: strings.Join(items, "\n\n"), Source: "gnews"}, nil

	case r.finance != nil && financeRe.MatchString(q):
		text, err := r.finance.Query(ctx, q)
		if err != nil {
			return r.moduleFailure(ctx, "Finance", err)
		}
		return chat.Answer{Text: text, Source: "finance"}, nil
	}

	if r.facts != nil && (factRe.MatchString(q) || hasRealTimeKeyword(q)) {
		text, err := r.facts.Lookup(ctx, q)
		if err != nil && ctx.Err() != nil {
			return chat.Answer{}, ctx.Err()
		}
		// Facts failures fall through to the LLM.
		if err == nil && text != "" {
			return chat.Answer{Text: text, Source: "fact"}, nil
		}
	}

	if r.llm == nil {
		return chat.Answer{
			Text:   "I can answer weather, news, finance and factual questions, but conversational chat is not configured.",
			Source: "system",
		}, nil
	}

	text, err := r.llm.Answer(ctx, q, history)
	if err == nil && text != "" {
		return chat.Answer{Text: text, Source: "ai"}, nil
	}
	if ctx.Err() != nil {
		return chat.Answer{}, ctx.Err()
	}
	return chat.Answer{Text: "Sorry — I couldn't answer that right now.", Source: "system"}, nil
}

// moduleFailure turns a module error into a turn-level system answer, unless
// the whole turn was cancelled.
func (r *Router) moduleFailure(ctx context.Context, module string, err error) (chat.Answer, error) {
	if ctx.Err() != nil {
		return chat.Answer{}, ctx.Err()
	}
	return chat.Answer{
		Text:   fmt.Sprintf("%s module error: %v", module, err),
		Source: "system",
	}, nil
}

func hasRealTimeKeyword(q string) bool {
	lower := strings.ToLower(q)
	for _, k := range realTimeKeywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// Ensure Router implements chat.Router at compile time.
var _ chat.Router = (*Router)(nil)
