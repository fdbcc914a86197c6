package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aristath/tradebot/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQuoteProviderAgainst(srv *httptest.Server) *HTTPQuoteProvider {
	return NewHTTPQuoteProvider(srv.URL, "apikey", zerolog.Nop())
}

func TestHTTPQuoteProvider_GetQuoteComputesChangeAndPct(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/quotes/AAPL", r.URL.Path)
		assert.Equal(t, "apikey", r.Header.Get("X-Api-Key"))
		json.NewEncoder(w).Encode(quoteResponse{
			Symbol:        "AAPL",
			Price:         "110",
			PreviousClose: "100",
			DayHigh:       "112",
			DayLow:        "99",
			Volume:        1000,
		})
	}))
	defer srv.Close()

	p := newQuoteProviderAgainst(srv)
	q, err := p.GetQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", q.Symbol)
	assert.True(t, q.Price.Equal(decimalMustParse("110")))
	assert.True(t, q.Change.Equal(decimalMustParse("10")))
	assert.True(t, q.ChangePct.Equal(decimalMustParse("10")))
	assert.Equal(t, int64(1000), q.Volume)
}

func TestHTTPQuoteProvider_GetQuoteZeroPreviousCloseAvoidsDivideByZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(quoteResponse{Symbol: "NEW", Price: "10", PreviousClose: "0", DayHigh: "10", DayLow: "9"})
	}))
	defer srv.Close()

	p := newQuoteProviderAgainst(srv)
	q, err := p.GetQuote(context.Background(), "NEW")
	require.NoError(t, err)
	assert.True(t, q.ChangePct.IsZero())
}

func TestHTTPQuoteProvider_GetQuoteParsesOptionalFields(t *testing.T) {
	mc := "2500000000"
	pe := "28.5"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(quoteResponse{
			Symbol: "AAPL", Price: "110", PreviousClose: "100", DayHigh: "112", DayLow: "99",
			MarketCap: &mc, PE: &pe,
		})
	}))
	defer srv.Close()

	p := newQuoteProviderAgainst(srv)
	q, err := p.GetQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	require.NotNil(t, q.MarketCap)
	require.NotNil(t, q.PE)
	assert.True(t, q.MarketCap.Equal(decimalMustParse("2500000000")))
	assert.True(t, q.PE.Equal(decimalMustParse("28.5")))
}

func TestHTTPQuoteProvider_GetQuoteRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := newQuoteProviderAgainst(srv)
	_, err := p.GetQuote(context.Background(), "AAPL")
	var rl *domain.RateLimitedError
	assert.ErrorAs(t, err, &rl)
}

func TestHTTPQuoteProvider_GetQuoteServerErrorMapsToBrokerUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := newQuoteProviderAgainst(srv)
	_, err := p.GetQuote(context.Background(), "AAPL")
	var unavailable *domain.BrokerUnavailableError
	assert.ErrorAs(t, err, &unavailable)
}

func TestHTTPQuoteProvider_GetQuoteClientErrorIsPlainError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := newQuoteProviderAgainst(srv)
	_, err := p.GetQuote(context.Background(), "UNKNOWN")
	require.Error(t, err)
	var unavailable *domain.BrokerUnavailableError
	assert.NotErrorAs(t, err, &unavailable)
	var rl *domain.RateLimitedError
	assert.NotErrorAs(t, err, &rl)
}

func TestHTTPQuoteProvider_GetVIXParsesLevel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/vix", r.URL.Path)
		json.NewEncoder(w).Encode(vixResponse{Level: "18.5"})
	}))
	defer srv.Close()

	p := newQuoteProviderAgainst(srv)
	v, err := p.GetVIX(context.Background())
	require.NoError(t, err)
	assert.True(t, v.Equal(decimalMustParse("18.5")))
}

func TestHTTPQuoteProvider_IsMarketOpenDelegatesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/market-status", r.URL.Path)
		json.NewEncoder(w).Encode(marketStatusResponse{IsOpen: true})
	}))
	defer srv.Close()

	p := newQuoteProviderAgainst(srv)
	open, err := p.IsMarketOpen(context.Background())
	require.NoError(t, err)
	assert.True(t, open)
}

func TestHTTPQuoteProvider_ValidSymbolsBuildsSet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/symbols", r.URL.Path)
		json.NewEncoder(w).Encode(symbolsResponse{Symbols: []string{"AAPL", "MSFT"}})
	}))
	defer srv.Close()

	p := newQuoteProviderAgainst(srv)
	set, err := p.ValidSymbols(context.Background())
	require.NoError(t, err)
	assert.Len(t, set, 2)
	_, ok := set["AAPL"]
	assert.True(t, ok)
}

func TestHTTPQuoteProvider_NetworkErrorMapsToBrokerUnavailable(t *testing.T) {
	p := NewHTTPQuoteProvider("http://127.0.0.1:0", "apikey", zerolog.Nop())
	_, err := p.GetQuote(context.Background(), "AAPL")
	var unavailable *domain.BrokerUnavailableError
	assert.ErrorAs(t, err, &unavailable)
}
