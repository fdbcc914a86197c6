// Package broker provides a paper-trading HTTP client (the domain.BrokerAPI
// implementation), a deterministic fill simulator that does not implement
// domain.BrokerAPI, and the HTTP quote provider adapter used by the market
// data gateway.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aristath/tradebot/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// PaperClient talks to a paper-trading broker endpoint over HTTP. It
// refuses to construct against any host that doesn't match the configured
// paper-trading host — the router must never be able to reach a live
// endpoint through this client (§4.2).
type PaperClient struct {
	baseURL    string
	keyID      string
	secret     string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewPaperClient constructs a PaperClient. paperHost is the allow-listed
// hostname; baseURL must resolve to it or construction fails.
func NewPaperClient(baseURL, paperHost, keyID, secret string, log zerolog.Logger) (*PaperClient, error) {
	if !strings.Contains(baseURL, paperHost) {
		return nil, &domain.PolicyError{Reason: fmt.Sprintf("broker base url %q does not match paper host %q", baseURL, paperHost)}
	}
	return &PaperClient{
		baseURL: baseURL,
		keyID:   keyID,
		secret:  secret,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log.With().Str("component", "broker.paper").Logger(),
	}, nil
}

func (c *PaperClient) Venue() domain.Venue { return domain.VenueBroker }

type accountResponse struct {
	BuyingPower string `json:"buying_power"`
	Status      string `json:"status"`
}

func (c *PaperClient) Account(ctx context.Context) (domain.BrokerAccount, error) {
	var resp accountResponse
	if err := c.get(ctx, "/v2/account", &resp); err != nil {
		return domain.BrokerAccount{}, err
	}
	bp, err := decimal.NewFromString(resp.BuyingPower)
	if err != nil {
		return domain.BrokerAccount{}, fmt.Errorf("parse buying_power: %w", err)
	}
	return domain.BrokerAccount{BuyingPower: bp, Status: resp.Status}, nil
}

type assetResponse struct {
	Tradable bool `json:"tradable"`
}

func (c *PaperClient) IsSymbolTradable(ctx context.Context, symbol string) (bool, error) {
	var resp assetResponse
	if err := c.get(ctx, "/v2/assets/"+symbol, &resp); err != nil {
		return false, err
	}
	return resp.Tradable, nil
}

type clockResponse struct {
	IsOpen bool `json:"is_open"`
}

func (c *PaperClient) IsMarketOpen(ctx context.Context, symbol string, orderType domain.OrderType) (bool, error) {
	var resp clockResponse
	if err := c.get(ctx, "/v2/clock", &resp); err != nil {
		return false, err
	}
	if resp.IsOpen {
		return true, nil
	}
	// After-hours limit orders are accepted per §4.2.
	return orderType == domain.OrderLimit, nil
}

type submitOrderRequest struct {
	Symbol    string `json:"symbol"`
	Qty       int    `json:"qty"`
	Side      string `json:"side"`
	Type      string `json:"type"`
	TimeInForce string `json:"time_in_force"`
	LimitPrice *string `json:"limit_price,omitempty"`
}

type orderResponse struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	FilledQty      string `json:"filled_qty"`
	FilledAvgPrice string `json:"filled_avg_price"`
}

func (c *PaperClient) SubmitOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	body := submitOrderRequest{
		Symbol:      req.Symbol,
		Qty:         req.Quantity,
		Side:        string(req.Side),
		Type:        orderTypeToBrokerType(req.OrderType),
		TimeInForce: "day",
	}
	if req.LimitPrice != nil {
		lp := req.LimitPrice.StringFixed(4)
		body.LimitPrice = &lp
	}

	var resp orderResponse
	if err := c.post(ctx, "/v2/orders", body, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *PaperClient) GetOrder(ctx context.Context, orderID string) (domain.BrokerOrderStatus, error) {
	var resp orderResponse
	if err := c.get(ctx, "/v2/orders/"+orderID, &resp); err != nil {
		return domain.BrokerOrderStatus{}, err
	}

	out := domain.BrokerOrderStatus{OrderID: resp.ID, Status: resp.Status}
	if resp.FilledQty != "" {
		qty, err := decimal.NewFromString(resp.FilledQty)
		if err != nil {
			return domain.BrokerOrderStatus{}, fmt.Errorf("parse filled_qty: %w", err)
		}
		out.FilledQuantity = int(qty.IntPart())
	}
	if resp.FilledAvgPrice != "" {
		price, err := decimal.NewFromString(resp.FilledAvgPrice)
		if err != nil {
			return domain.BrokerOrderStatus{}, fmt.Errorf("parse filled_avg_price: %w", err)
		}
		out.AvgFillPrice = price
	}
	return out, nil
}

func (c *PaperClient) CancelOrder(ctx context.Context, orderID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/v2/orders/"+orderID, nil)
	if err != nil {
		return err
	}
	c.sign(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.BrokerUnavailableError{Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("cancel order: broker returned %d", resp.StatusCode)
	}
	return nil
}

type positionResponse struct {
	Symbol string `json:"symbol"`
	Qty    string `json:"qty"`
}

func (c *PaperClient) Positions(ctx context.Context) ([]domain.BrokerPosition, error) {
	var resp []positionResponse
	if err := c.get(ctx, "/v2/positions", &resp); err != nil {
		return nil, err
	}
	out := make([]domain.BrokerPosition, 0, len(resp))
	for _, p := range resp {
		qty, err := decimal.NewFromString(p.Qty)
		if err != nil {
			continue
		}
		out = append(out, domain.BrokerPosition{Symbol: p.Symbol, Quantity: int(qty.IntPart())})
	}
	return out, nil
}

func orderTypeToBrokerType(ot domain.OrderType) string {
	switch ot {
	case domain.OrderMarket:
		return "market"
	case domain.OrderLimit:
		return "limit"
	case domain.OrderStop:
		return "stop"
	case domain.OrderStopLimit:
		return "stop_limit"
	default:
		return "market"
	}
}

func (c *PaperClient) sign(req *http.Request) {
	req.Header.Set("APCA-API-KEY-ID", c.keyID)
	req.Header.Set("APCA-API-SECRET-KEY", c.secret)
}

func (c *PaperClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.sign(req)
	return c.do(req, out)
}

func (c *PaperClient) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.sign(req)
	return c.do(req, out)
}

func (c *PaperClient) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.BrokerUnavailableError{Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read broker response: %w", err)
	}

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnprocessableEntity {
		return &domain.InsufficientFundsError{Required: "unknown", Available: "unknown"}
	}
	if resp.StatusCode >= 500 {
		return &domain.BrokerUnavailableError{Cause: fmt.Errorf("broker returned %d: %s", resp.StatusCode, raw)}
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("broker error %d: %s", resp.StatusCode, raw)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode broker response: %w", err)
	}
	return nil
}
