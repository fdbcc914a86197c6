package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// BrokerAccount is the subset of broker account state the router needs.
type BrokerAccount struct {
	BuyingPower decimal.Decimal
	Status      string
}

// OrderRequest is what the router submits to a broker.
type OrderRequest struct {
	Symbol     string
	Side       Side
	Quantity   int
	OrderType  OrderType
	LimitPrice *decimal.Decimal
}

// BrokerOrderStatus is the broker's view of a submitted order.
type BrokerOrderStatus struct {
	OrderID        string
	Status         string
	FilledQuantity int
	AvgFillPrice   decimal.Decimal
}

// BrokerPosition is the broker's view of a held position, used only for
// reconciliation diagnostics; the bot's own Position is authoritative.
type BrokerPosition struct {
	Symbol   string
	Quantity int
}

// BrokerAPI is the paper-trading broker collaborator (§6), implemented by
// broker.PaperClient. broker.Simulator does not implement it; the execution
// router holds the paper client and the simulator as concrete types.
// Implementations must refuse any non-paper host at construction time —
// never at call time.
type BrokerAPI interface {
	Account(ctx context.Context) (BrokerAccount, error)
	IsSymbolTradable(ctx context.Context, symbol string) (bool, error)
	IsMarketOpen(ctx context.Context, symbol string, orderType OrderType) (bool, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (string, error)
	GetOrder(ctx context.Context, orderID string) (BrokerOrderStatus, error)
	CancelOrder(ctx context.Context, orderID string) error
	Positions(ctx context.Context) ([]BrokerPosition, error)
	Venue() Venue
}

// QuoteProvider is the external market-data collaborator (§6).
type QuoteProvider interface {
	GetQuote(ctx context.Context, symbol string) (Quote, error)
	GetVIX(ctx context.Context) (decimal.Decimal, error)
	IsMarketOpen(ctx context.Context) (bool, error)
	ValidSymbols(ctx context.Context) (map[string]struct{}, error)
}

// AIService is the optional risk-analysis collaborator (§6).
type AIService interface {
	Analyze(ctx context.Context, trade Trade, marketContext map[string]any) (RiskAnalysis, error)
}

// SharedCache is the opaque external cache collaborator (§6). Failures are
// non-fatal by contract — callers must fall through to the next tier.
type SharedCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
