package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aristath/tradebot/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// HTTPQuoteProvider is the domain.QuoteProvider implementation backing the
// market data gateway, grounded on the same request/response idiom as the
// other HTTP clients in this package.
type HTTPQuoteProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        zerolog.Logger
}

func NewHTTPQuoteProvider(baseURL, apiKey string, log zerolog.Logger) *HTTPQuoteProvider {
	return &HTTPQuoteProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		log: log.With().Str("component", "quoteprovider").Logger(),
	}
}

type quoteResponse struct {
	Symbol        string  `json:"symbol"`
	Price         string  `json:"price"`
	PreviousClose string  `json:"previous_close"`
	DayHigh       string  `json:"day_high"`
	DayLow        string  `json:"day_low"`
	Volume        int64   `json:"volume"`
	MarketCap     *string `json:"market_cap,omitempty"`
	PE            *string `json:"pe,omitempty"`
}

func (p *HTTPQuoteProvider) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	start := time.Now()
	var resp quoteResponse
	if err := p.get(ctx, "/v1/quotes/"+symbol, &resp); err != nil {
		return domain.Quote{}, err
	}

	price, err := decimal.NewFromString(resp.Price)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("parse price: %w", err)
	}
	prevClose, err := decimal.NewFromString(resp.PreviousClose)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("parse previous_close: %w", err)
	}
	dayHigh, _ := decimal.NewFromString(resp.DayHigh)
	dayLow, _ := decimal.NewFromString(resp.DayLow)

	change := price.Sub(prevClose)
	changePct := decimal.Zero
	if !prevClose.IsZero() {
		changePct = change.Div(prevClose).Mul(decimal.NewFromInt(100)).Round(4)
	}

	q := domain.Quote{
		Symbol:          resp.Symbol,
		Price:           price.Round(4),
		PreviousClose:   prevClose.Round(4),
		Change:          change.Round(4),
		ChangePct:       changePct,
		DayHigh:         dayHigh.Round(4),
		DayLow:          dayLow.Round(4),
		Volume:          resp.Volume,
		AsOf:            time.Now().UTC(),
		SourceLatencyMs: time.Since(start).Milliseconds(),
	}
	if resp.MarketCap != nil {
		if mc, err := decimal.NewFromString(*resp.MarketCap); err == nil {
			q.MarketCap = &mc
		}
	}
	if resp.PE != nil {
		if pe, err := decimal.NewFromString(*resp.PE); err == nil {
			q.PE = &pe
		}
	}
	return q, nil
}

type vixResponse struct {
	Level string `json:"level"`
}

func (p *HTTPQuoteProvider) GetVIX(ctx context.Context) (decimal.Decimal, error) {
	var resp vixResponse
	if err := p.get(ctx, "/v1/vix", &resp); err != nil {
		return decimal.Zero, err
	}
	v, err := decimal.NewFromString(resp.Level)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse vix level: %w", err)
	}
	return v, nil
}

type marketStatusResponse struct {
	IsOpen bool `json:"is_open"`
}

func (p *HTTPQuoteProvider) IsMarketOpen(ctx context.Context) (bool, error) {
	var resp marketStatusResponse
	if err := p.get(ctx, "/v1/market-status", &resp); err != nil {
		return false, err
	}
	return resp.IsOpen, nil
}

type symbolsResponse struct {
	Symbols []string `json:"symbols"`
}

func (p *HTTPQuoteProvider) ValidSymbols(ctx context.Context) (map[string]struct{}, error) {
	var resp symbolsResponse
	if err := p.get(ctx, "/v1/symbols", &resp); err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(resp.Symbols))
	for _, s := range resp.Symbols {
		out[s] = struct{}{}
	}
	return out, nil
}

func (p *HTTPQuoteProvider) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return err
	}
	if p.apiKey != "" {
		req.Header.Set("X-Api-Key", p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return &domain.BrokerUnavailableError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return &domain.RateLimitedError{Key: path}
	}
	if resp.StatusCode >= 500 {
		return &domain.BrokerUnavailableError{Cause: fmt.Errorf("quote provider returned %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("quote provider error %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
