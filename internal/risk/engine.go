// Package risk implements the Risk Alert Engine (§4.3): predicate
// evaluation of standing alerts against executed trades, both in real time
// and on demand against trade history.
package risk

import (
	"context"
	"time"

	"github.com/aristath/tradebot/internal/domain"
	"github.com/aristath/tradebot/internal/events"
	"github.com/aristath/tradebot/internal/marketdata"
	"github.com/aristath/tradebot/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// checkTradeBudget bounds real-time predicate evaluation per trade (§4.3).
// Alerts not reached before it expires are skipped for this trade and the
// overrun is logged; no background sweep evaluates them later.
const checkTradeBudget = 500 * time.Millisecond

// Engine evaluates RiskAlertConfig predicates against trades.
type Engine struct {
	store  *store.Store
	quotes *marketdata.Gateway
	events *events.Manager
	log    zerolog.Logger
}

func New(st *store.Store, quotes *marketdata.Gateway, evt *events.Manager, log zerolog.Logger) *Engine {
	return &Engine{
		store:  st,
		quotes: quotes,
		events: evt,
		log:    log.With().Str("component", "risk").Logger(),
	}
}

// CheckTrade is the real-time path (§4.3). The execution router does not
// call it: the orchestrator's detachedExecute calls it after Execute has
// persisted the trade, and only for trades whose status is Filled. It runs
// on that detached goroutine, so the chat ack never waits for it. Every
// Active alert in the system is evaluated (scope decision recorded in
// DESIGN.md).
func (e *Engine) CheckTrade(ctx context.Context, trade domain.Trade) {
	deadline := time.Now().Add(checkTradeBudget)

	alerts, err := e.store.Alerts.ListActive(ctx)
	if err != nil {
		e.log.Error().Err(err).Msg("failed to list active alerts")
		return
	}

	vix, vixErr := e.quotes.GetVIX(ctx)
	if vixErr != nil {
		e.auditWarn(ctx, trade, "vix fetch failed, skipping real-time evaluation")
		return
	}

	quote, quoteErr := e.quotes.GetQuote(ctx, trade.Symbol)

	for _, alert := range alerts {
		if time.Now().After(deadline) {
			e.log.Warn().Str("trade_id", trade.TradeID).Msg("real-time alert evaluation exceeded budget, remaining alerts skipped")
			break
		}
		e.evaluateOne(ctx, alert, trade, quote, quoteErr == nil, vix)
	}
}

func (e *Engine) evaluateOne(ctx context.Context, alert domain.RiskAlertConfig, trade domain.Trade, quote domain.Quote, haveQuote bool, vix decimal.Decimal) {
	tradeSize, ok := filledTradeSize(trade)
	if !ok {
		return
	}

	lossPct := decimal.Zero
	if haveQuote {
		lossPct = lossPercent(trade, quote.Price)
	}

	if !matches(tradeSize, alert.TradeSizeThreshold, lossPct, alert.LossPctThreshold, vix, alert.VixThreshold) {
		return
	}

	event := domain.AlertTriggerEvent{
		EventID:     uuid.NewString(),
		AlertID:     alert.AlertID,
		TradeID:     trade.TradeID,
		OwnerUserID: alert.OwnerUserID,
		TradeSize:   tradeSize,
		LossPct:     lossPct,
		VixLevel:    vix,
		TriggeredAt: time.Now(),
	}

	newCount, err := e.store.RecordTrigger(ctx, event)
	if err != nil {
		e.log.Error().Err(err).Str("alert_id", alert.AlertID).Msg("failed to record alert trigger")
		return
	}

	e.events.Emit(events.AlertTriggered, "risk", map[string]any{
		"alert_id":      alert.AlertID,
		"trade_id":      trade.TradeID,
		"owner_user_id": alert.OwnerUserID,
		"trigger_count": newCount,
		"trade_size":    tradeSize.StringFixed(4),
		"loss_pct":      lossPct.StringFixed(4),
		"vix_level":     vix.StringFixed(4),
	})
}

// matches implements the three-way AND predicate (§4.3); ties count as
// matches (>=, never >).
func matches(tradeSize, tradeSizeThreshold, lossPct, lossPctThreshold, vix, vixThreshold decimal.Decimal) bool {
	return tradeSize.GreaterThanOrEqual(tradeSizeThreshold) &&
		lossPct.GreaterThanOrEqual(lossPctThreshold) &&
		vix.GreaterThanOrEqual(vixThreshold)
}

// filledTradeSize returns filled_quantity * fill_price (§4.3's literal
// trade_size definition), or false if the trade has no fill yet.
func filledTradeSize(trade domain.Trade) (decimal.Decimal, bool) {
	if trade.FilledQuantity == nil || trade.FillPrice == nil {
		return decimal.Zero, false
	}
	return trade.FillPrice.Mul(decimal.NewFromInt(int64(*trade.FilledQuantity))).Round(4), true
}

// lossPercent computes loss_pct against the current quote (§4.3, §9):
// for Buy, (entry - current) / entry * 100; for Sell, (current - entry) /
// entry * 100; clamped at 0 from below.
func lossPercent(trade domain.Trade, currentPrice decimal.Decimal) decimal.Decimal {
	if trade.EntryPrice.IsZero() {
		return decimal.Zero
	}
	var pct decimal.Decimal
	if trade.Side == domain.SideBuy {
		pct = trade.EntryPrice.Sub(currentPrice).Div(trade.EntryPrice).Mul(decimal.NewFromInt(100))
	} else {
		pct = currentPrice.Sub(trade.EntryPrice).Div(trade.EntryPrice).Mul(decimal.NewFromInt(100))
	}
	if pct.IsNegative() {
		return decimal.Zero
	}
	return pct.Round(4)
}

func (e *Engine) auditWarn(ctx context.Context, trade domain.Trade, reason string) {
	entry := domain.AuditEntry{
		AuditID:       uuid.NewString(),
		Timestamp:     time.Now(),
		ActorUserID:   &trade.UserID,
		Action:        domain.AuditSystemError,
		Severity:      domain.SeverityWarn,
		SubjectKind:   "trade",
		SubjectID:     trade.TradeID,
		After:         map[string]any{"reason": reason},
		CorrelationID: trade.CorrelationID,
	}
	if err := e.store.Audit.Insert(ctx, entry); err != nil {
		e.log.Error().Err(err).Msg("failed to audit vix fetch failure")
	}
}
