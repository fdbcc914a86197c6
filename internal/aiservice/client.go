// Package aiservice defines the AI risk-analysis collaborator (§6): an
// optional, best-effort call with a hard 5s timeout.
package aiservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aristath/tradebot/internal/domain"
	"github.com/rs/zerolog"
)

// Client analyzes a prospective trade and returns a risk verdict.
type Client interface {
	Analyze(ctx context.Context, trade domain.Trade, marketContext map[string]any) (domain.RiskAnalysis, error)
}

// timeout is the hard budget for the AI risk call (§4.1, §6): failure
// (including timeout) renders "risk unavailable" and never blocks submit.
const timeout = 5 * time.Second

// HTTPClient is the net/http-backed Client implementation.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

func NewHTTPClient(baseURL string, log zerolog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With().Str("component", "aiservice").Logger(),
	}
}

// Disabled is a Client that always reports unavailability, used when no
// AI risk service URL is configured.
type Disabled struct{}

func (Disabled) Analyze(ctx context.Context, trade domain.Trade, marketContext map[string]any) (domain.RiskAnalysis, error) {
	return domain.RiskAnalysis{}, &domain.TimeoutError{Operation: "ai risk analysis"}
}

type analyzeRequest struct {
	Trade         analyzeTradeDTO `json:"trade"`
	MarketContext map[string]any  `json:"market_context"`
}

type analyzeTradeDTO struct {
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Quantity int    `json:"quantity"`
}

type analyzeResponse struct {
	Score     int      `json:"score"`
	Narrative string   `json:"narrative"`
	Flags     []string `json:"flags"`
}

func (c *HTTPClient) Analyze(ctx context.Context, trade domain.Trade, marketContext map[string]any) (domain.RiskAnalysis, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(analyzeRequest{
		Trade: analyzeTradeDTO{
			Symbol:   trade.Symbol,
			Side:     string(trade.Side),
			Quantity: trade.Quantity,
		},
		MarketContext: marketContext,
	})
	if err != nil {
		return domain.RiskAnalysis{}, fmt.Errorf("marshal analyze request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/analyze", bytes.NewReader(body))
	if err != nil {
		return domain.RiskAnalysis{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.RiskAnalysis{}, &domain.TimeoutError{Operation: "ai risk analysis"}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.RiskAnalysis{}, fmt.Errorf("read analyze response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return domain.RiskAnalysis{}, fmt.Errorf("ai service error %d: %s", resp.StatusCode, raw)
	}

	var out analyzeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return domain.RiskAnalysis{}, fmt.Errorf("decode analyze response: %w", err)
	}
	return domain.RiskAnalysis{Score: out.Score, Narrative: out.Narrative, Flags: out.Flags}, nil
}
