// Package marketdata implements the Market Data Gateway (§4.4): rate
// limiting, a two-tier cache, a circuit breaker, and symbol validation in
// front of the external quote provider.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/tradebot/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Gateway owns every process-wide mutable resource for market data access:
// rate-limiter buckets, circuit-breaker state, and both cache tiers. No
// other component reaches these directly (§9 "global mutable state").
type Gateway struct {
	provider domain.QuoteProvider
	shared   domain.SharedCache
	log      zerolog.Logger

	l1 *l1Cache

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter
	burst      int
	perMinute  int

	breaker *circuitBreaker

	symbolsMu   sync.Mutex
	validSymbols map[string]struct{}
	symbolsAt    time.Time
}

// New builds a Gateway. shared may be nil; L2 reads/writes are then no-ops
// and L1+provider remain correct (§6 shared-cache contract).
func New(provider domain.QuoteProvider, shared domain.SharedCache, perMinute, burst int, log zerolog.Logger) *Gateway {
	return &Gateway{
		provider:  provider,
		shared:    shared,
		log:       log.With().Str("component", "marketdata").Logger(),
		l1:        newL1Cache(1024),
		limiters:  make(map[string]*rate.Limiter),
		burst:     burst,
		perMinute: perMinute,
		breaker:   newCircuitBreaker(),
	}
}

func (g *Gateway) limiterFor(key string) *rate.Limiter {
	g.limitersMu.Lock()
	defer g.limitersMu.Unlock()

	lim, ok := g.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(g.perMinute)/60.0), g.burst)
		g.limiters[key] = lim
	}
	return lim
}

// GetQuote implements the cache hierarchy: L1 → L2 → provider (§4.4).
func (g *Gateway) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	if cached, ok := g.l1.get(quoteKey(symbol)); ok {
		if q, ok := quoteFromCache(cached); ok {
			return q, nil
		}
	}

	if g.shared != nil {
		if raw, ok, err := g.shared.Get(ctx, quoteKey(symbol)); err == nil && ok {
			var q domain.Quote
			if jsonErr := json.Unmarshal(raw, &q); jsonErr == nil {
				g.l1.set(quoteKey(symbol), q, l1QuoteTTL)
				return q, nil
			}
		}
	}

	return g.fetchQuote(ctx, symbol)
}

func (g *Gateway) fetchQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	if g.breaker.isOpen() {
		return domain.Quote{}, &domain.BrokerUnavailableError{Cause: fmt.Errorf("quote provider circuit open")}
	}
	if !g.breaker.allow() {
		return domain.Quote{}, &domain.BrokerUnavailableError{Cause: fmt.Errorf("quote provider circuit open")}
	}

	if !g.limiterFor("global").Allow() {
		return domain.Quote{}, &domain.RateLimitedError{Key: "quote:" + symbol}
	}

	q, err := g.provider.GetQuote(ctx, symbol)
	if err != nil {
		g.breaker.recordFailure()
		return domain.Quote{}, err
	}
	g.breaker.recordSuccess()

	g.l1.set(quoteKey(symbol), q, l1QuoteTTL)
	if g.shared != nil {
		if raw, jsonErr := json.Marshal(q); jsonErr == nil {
			_ = g.shared.Set(ctx, quoteKey(symbol), raw, l2QuoteTTL)
		}
	}

	return q, nil
}

// GetVIX returns the current VIX level, cached up to 5 minutes (§4.3, §4.4).
func (g *Gateway) GetVIX(ctx context.Context) (decimal.Decimal, error) {
	if cached, ok := g.l1.get(vixKey); ok {
		if v, ok := cached.(decimal.Decimal); ok {
			return v, nil
		}
	}

	if g.shared != nil {
		if raw, ok, getErr := g.shared.Get(ctx, vixKey); getErr == nil && ok {
			var s string
			if jsonErr := json.Unmarshal(raw, &s); jsonErr == nil {
				if v, decErr := decimal.NewFromString(s); decErr == nil {
					g.l1.set(vixKey, v, l1VixTTL)
					return v, nil
				}
			}
		}
	}

	if g.breaker.isOpen() || !g.breaker.allow() {
		return decimal.Zero, &domain.BrokerUnavailableError{Cause: fmt.Errorf("quote provider circuit open")}
	}
	if !g.limiterFor("global").Allow() {
		return decimal.Zero, &domain.RateLimitedError{Key: "vix"}
	}

	v, err := g.provider.GetVIX(ctx)
	if err != nil {
		g.breaker.recordFailure()
		return decimal.Zero, err
	}
	g.breaker.recordSuccess()

	g.l1.set(vixKey, v, l1VixTTL)
	if g.shared != nil {
		if raw, jsonErr := json.Marshal(v.String()); jsonErr == nil {
			_ = g.shared.Set(ctx, vixKey, raw, l2VixTTL)
		}
	}
	return v, nil
}

// IsMarketOpen delegates to the provider; not cached since it changes at
// session boundaries, not on a TTL.
func (g *Gateway) IsMarketOpen(ctx context.Context) (bool, error) {
	return g.provider.IsMarketOpen(ctx)
}

// ValidateSymbol checks the provider-backed allow-list, cached for 1 hour
// (§4.4). Unknown symbols are rejected before any network call for the
// quote itself.
func (g *Gateway) ValidateSymbol(ctx context.Context, symbol string) (bool, error) {
	if !isWellFormedSymbol(symbol) {
		return false, nil
	}

	g.symbolsMu.Lock()
	stale := g.validSymbols == nil || time.Since(g.symbolsAt) > time.Hour
	g.symbolsMu.Unlock()

	if stale {
		symbols, err := g.provider.ValidSymbols(ctx)
		if err != nil {
			g.symbolsMu.Lock()
			known := g.validSymbols
			g.symbolsMu.Unlock()
			if known == nil {
				return false, err
			}
			_, ok := known[symbol]
			return ok, nil
		}
		g.symbolsMu.Lock()
		g.validSymbols = symbols
		g.symbolsAt = time.Now()
		g.symbolsMu.Unlock()
	}

	g.symbolsMu.Lock()
	defer g.symbolsMu.Unlock()
	_, ok := g.validSymbols[symbol]
	return ok, nil
}

func isWellFormedSymbol(symbol string) bool {
	if len(symbol) < 1 || len(symbol) > 5 {
		return false
	}
	for _, r := range symbol {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
