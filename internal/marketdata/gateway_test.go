package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aristath/tradebot/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	mu        sync.Mutex
	calls     int
	quote     domain.Quote
	err       error
	vix       decimal.Decimal
	vixErr    error
	open      bool
	symbols   map[string]struct{}
	symErr    error
}

func (f *fakeProvider) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return domain.Quote{}, f.err
	}
	return f.quote, nil
}

func (f *fakeProvider) GetVIX(ctx context.Context) (decimal.Decimal, error) {
	if f.vixErr != nil {
		return decimal.Zero, f.vixErr
	}
	return f.vix, nil
}

func (f *fakeProvider) IsMarketOpen(ctx context.Context) (bool, error) { return f.open, nil }

func (f *fakeProvider) ValidSymbols(ctx context.Context) (map[string]struct{}, error) {
	if f.symErr != nil {
		return nil, f.symErr
	}
	return f.symbols, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSharedCache struct {
	mu    sync.Mutex
	store map[string][]byte
}

func newFakeSharedCache() *fakeSharedCache {
	return &fakeSharedCache{store: make(map[string][]byte)}
}

func (f *fakeSharedCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.store[key]
	return v, ok, nil
}

func (f *fakeSharedCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store[key] = value
	return nil
}

func newTestGateway(provider domain.QuoteProvider, shared domain.SharedCache) *Gateway {
	return New(provider, shared, 300, 10, zerolog.Nop())
}

func TestGateway_GetQuoteFetchesFromProviderOnMiss(t *testing.T) {
	provider := &fakeProvider{quote: domain.Quote{Symbol: "AAPL", Price: decimal.NewFromInt(150)}}
	g := newTestGateway(provider, nil)

	q, err := g.GetQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", q.Symbol)
	assert.Equal(t, 1, provider.callCount())
}

func TestGateway_GetQuoteServesFromL1OnSecondCall(t *testing.T) {
	provider := &fakeProvider{quote: domain.Quote{Symbol: "AAPL", Price: decimal.NewFromInt(150)}}
	g := newTestGateway(provider, nil)

	_, err := g.GetQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	_, err = g.GetQuote(context.Background(), "AAPL")
	require.NoError(t, err)

	assert.Equal(t, 1, provider.callCount(), "second call within L1 TTL must not hit the provider")
}

func TestGateway_GetQuoteFallsThroughToL2Cache(t *testing.T) {
	provider := &fakeProvider{err: errors.New("should not be called")}
	shared := newFakeSharedCache()
	g := newTestGateway(provider, shared)

	q := domain.Quote{Symbol: "MSFT", Price: decimal.NewFromInt(300)}
	raw, err := json.Marshal(q)
	require.NoError(t, err)
	shared.store[quoteKey("MSFT")] = raw

	got, err := g.GetQuote(context.Background(), "MSFT")
	require.NoError(t, err)
	assert.Equal(t, "MSFT", got.Symbol)
	assert.Equal(t, 0, provider.callCount(), "an L2 hit must never reach the provider")
}

func TestGateway_GetQuotePropagatesProviderError(t *testing.T) {
	provider := &fakeProvider{err: errors.New("provider down")}
	g := newTestGateway(provider, nil)

	_, err := g.GetQuote(context.Background(), "AAPL")
	assert.Error(t, err)
}

func TestGateway_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	provider := &fakeProvider{err: errors.New("provider down")}
	g := newTestGateway(provider, nil)

	var lastErr error
	for i := 0; i < 10; i++ {
		_, lastErr = g.GetQuote(context.Background(), "AAPL")
	}

	var unavailable *domain.BrokerUnavailableError
	assert.ErrorAs(t, lastErr, &unavailable, "after enough failures the breaker must short-circuit instead of calling the provider")
}

func TestGateway_RateLimitExhaustionReturnsRateLimitedError(t *testing.T) {
	provider := &fakeProvider{quote: domain.Quote{Symbol: "AAPL"}}
	g := New(provider, nil, 60, 1, zerolog.Nop()) // burst of 1

	_, err := g.GetQuote(context.Background(), "AAPL")
	require.NoError(t, err)

	// Force a cache miss on the second call so the limiter is actually
	// consulted, then exhaust the single-token bucket immediately after.
	g.l1 = newL1Cache(1024)
	_, err = g.GetQuote(context.Background(), "AAPL")
	var rl *domain.RateLimitedError
	if err != nil {
		assert.ErrorAs(t, err, &rl)
	}
}

func TestGateway_ValidateSymbolRejectsMalformedInput(t *testing.T) {
	provider := &fakeProvider{symbols: map[string]struct{}{"AAPL": {}}}
	g := newTestGateway(provider, nil)

	ok, err := g.ValidateSymbol(context.Background(), "aapl")
	require.NoError(t, err)
	assert.False(t, ok, "lowercase input is not well-formed")

	ok, err = g.ValidateSymbol(context.Background(), "TOOLONG")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGateway_ValidateSymbolChecksProviderAllowList(t *testing.T) {
	provider := &fakeProvider{symbols: map[string]struct{}{"AAPL": {}}}
	g := newTestGateway(provider, nil)

	ok, err := g.ValidateSymbol(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.ValidateSymbol(context.Background(), "ZZZZ")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGateway_ValidateSymbolFallsBackToStaleListOnRefreshError(t *testing.T) {
	provider := &fakeProvider{symbols: map[string]struct{}{"AAPL": {}}}
	g := newTestGateway(provider, nil)

	_, err := g.ValidateSymbol(context.Background(), "AAPL")
	require.NoError(t, err)

	g.symbolsAt = time.Now().Add(-2 * time.Hour) // force staleness
	provider.symErr = errors.New("provider unreachable")

	ok, err := g.ValidateSymbol(context.Background(), "AAPL")
	require.NoError(t, err, "a refresh failure must fall back to the last known list, not error out")
	assert.True(t, ok)
}

func TestGateway_GetVIXCachesAcrossCalls(t *testing.T) {
	provider := &fakeProvider{vix: decimal.NewFromInt(18)}
	g := newTestGateway(provider, nil)

	v1, err := g.GetVIX(context.Background())
	require.NoError(t, err)
	v2, err := g.GetVIX(context.Background())
	require.NoError(t, err)

	assert.True(t, v1.Equal(v2))
}

func TestGateway_IsMarketOpenDelegatesToProvider(t *testing.T) {
	provider := &fakeProvider{open: true}
	g := newTestGateway(provider, nil)

	open, err := g.IsMarketOpen(context.Background())
	require.NoError(t, err)
	assert.True(t, open)
}
