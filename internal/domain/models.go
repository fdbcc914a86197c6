// Package domain holds the entities, enums and collaborator interfaces
// shared across every component of the trading bot.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role is a user's function within the bot.
type Role string

const (
	RoleAnalyst         Role = "analyst"
	RoleTrader          Role = "trader"
	RolePortfolioManager Role = "portfolio_manager"
	RoleAdmin           Role = "admin"
)

// UserStatus is a user's account state.
type UserStatus string

const (
	UserActive    UserStatus = "active"
	UserSuspended UserStatus = "suspended"
)

// User is a chat-platform identity known to the bot.
type User struct {
	UserID            string
	ChatID            string
	DisplayName       string
	Role              Role
	AssignedManagerID *string
	Status            UserStatus
	// QuietHoursStartUTC/QuietHoursEndUTC bound a per-user suppression
	// window for non-critical notifications (§4.6), hour-of-day in UTC.
	// Either both nil (no quiet hours) or both set; a window that wraps
	// midnight (start > end) is valid and spans the day boundary.
	QuietHoursStartUTC *int
	QuietHoursEndUTC   *int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType constrains how a trade is priced.
type OrderType string

const (
	OrderMarket     OrderType = "market"
	OrderLimit      OrderType = "limit"
	OrderStop       OrderType = "stop"
	OrderStopLimit  OrderType = "stop_limit"
)

// TradeStatus is a trade's lifecycle stage.
type TradeStatus string

const (
	TradePending         TradeStatus = "pending"
	TradeSubmitted       TradeStatus = "submitted"
	TradePartiallyFilled TradeStatus = "partially_filled"
	TradeFilled          TradeStatus = "filled"
	TradeRejected        TradeStatus = "rejected"
	TradeCancelled       TradeStatus = "cancelled"
)

// IsTerminal reports whether no further router activity will mutate the trade.
func (s TradeStatus) IsTerminal() bool {
	switch s {
	case TradeFilled, TradeRejected, TradeCancelled:
		return true
	default:
		return false
	}
}

// Venue is where a trade was ultimately executed.
type Venue string

const (
	VenueSimulator Venue = "simulator"
	VenueBroker    Venue = "broker"
)

// EntryPriceSource records whether entry_price came from a live quote or a
// user override (spec's quote-fetch-failure fallback).
type EntryPriceSource string

const (
	EntryPriceQuote EntryPriceSource = "quote"
	EntryPriceUser  EntryPriceSource = "user"
)

// Trade is a single order, from submission intent through terminal state.
type Trade struct {
	TradeID          string
	UserID           string
	Symbol           string
	Side             Side
	Quantity         int
	OrderType        OrderType
	LimitPrice       *decimal.Decimal
	EntryPrice       decimal.Decimal
	EntryPriceSource EntryPriceSource
	Status           TradeStatus
	ExecutionID      *string
	FillPrice        *decimal.Decimal
	FilledQuantity   *int
	Commission       decimal.Decimal
	Venue            Venue
	CorrelationID    string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Notional is quantity × entry_price, rounded half-to-even to 2 dp.
func (t *Trade) Notional() decimal.Decimal {
	return t.EntryPrice.Mul(decimal.NewFromInt(int64(t.Quantity))).RoundBank(2)
}

// Position is a user's net holding in a symbol, derived from terminal trades.
type Position struct {
	UserID      string
	Symbol      string
	NetQuantity int
	CostBasis   decimal.Decimal
	RealizedPnL decimal.Decimal
	UpdatedAt   time.Time
}

// AlertStatus is a risk alert configuration's lifecycle state.
type AlertStatus string

const (
	AlertActive  AlertStatus = "active"
	AlertPaused  AlertStatus = "paused"
	AlertDeleted AlertStatus = "deleted"
)

// RiskAlertConfig is a portfolio manager's standing predicate over trades.
type RiskAlertConfig struct {
	AlertID              string
	OwnerUserID          string
	Name                 string
	TradeSizeThreshold   decimal.Decimal
	LossPctThreshold     decimal.Decimal
	VixThreshold         decimal.Decimal
	MonitorNew           bool
	ScanExistingAtCreate bool
	Status               AlertStatus
	TriggerCount         int
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// AlertTriggerEvent is an immutable record of one alert firing on one trade.
type AlertTriggerEvent struct {
	EventID      string
	AlertID      string
	TradeID      string
	OwnerUserID  string
	TradeSize    decimal.Decimal
	LossPct      decimal.Decimal
	VixLevel     decimal.Decimal
	Context      map[string]string
	TriggeredAt  time.Time
}

// AuditAction enumerates the audit-logged actions across the system.
type AuditAction string

const (
	AuditTradeCreated      AuditAction = "trade_created"
	AuditTradeExecuted     AuditAction = "trade_executed"
	AuditRoutingDowngrade  AuditAction = "routing_downgrade"
	AuditAlertCreated      AuditAction = "alert_created"
	AuditAlertTriggered    AuditAction = "alert_triggered"
	AuditAlertPaused       AuditAction = "alert_paused"
	AuditAlertDeleted      AuditAction = "alert_deleted"
	AuditRoleChanged       AuditAction = "role_changed"
	AuditPolicyRefusal     AuditAction = "policy_refusal"
	AuditSystemError       AuditAction = "system_error"
	AuditNotificationFailed AuditAction = "notification_failed"
)

// AuditSeverity is the severity carried on an audit entry.
type AuditSeverity string

const (
	SeverityInfo     AuditSeverity = "info"
	SeverityWarn     AuditSeverity = "warn"
	SeverityHigh     AuditSeverity = "high"
	SeverityError    AuditSeverity = "error"
)

// AuditEntry is an append-only record of a mutation or refusal.
type AuditEntry struct {
	AuditID       string
	Timestamp     time.Time
	ActorUserID   *string
	Action        AuditAction
	Severity      AuditSeverity
	SubjectKind   string
	SubjectID     string
	Before        map[string]any
	After         map[string]any
	CorrelationID string
}

// Quote is a point-in-time market snapshot for a symbol.
type Quote struct {
	Symbol           string
	Price            decimal.Decimal
	PreviousClose    decimal.Decimal
	Change           decimal.Decimal
	ChangePct        decimal.Decimal
	DayHigh          decimal.Decimal
	DayLow           decimal.Decimal
	Volume           int64
	MarketCap        *decimal.Decimal
	PE               *decimal.Decimal
	AsOf             time.Time
	SourceLatencyMs  int64
}

// ExecutionReport is the common normalization of a broker or simulator fill.
type ExecutionReport struct {
	Success        bool
	ExecutionID    string
	Status         TradeStatus
	FilledQuantity int
	FillPrice      decimal.Decimal
	Venue          Venue
	Commission     decimal.Decimal
	SubmittedAt    time.Time
	FilledAt       *time.Time
	Errors         []string
}

// RiskAnalysis is the AI risk collaborator's verdict on a prospective trade.
type RiskAnalysis struct {
	Score     int
	Narrative string
	Flags     []string
}

// HighRisk reports whether the analysis requires typed confirmation before
// submit, per spec's score ≥ 8 rule.
func (r RiskAnalysis) HighRisk() bool {
	return r.Score >= 8
}
