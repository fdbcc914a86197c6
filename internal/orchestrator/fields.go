package orchestrator

import (
	"context"
	"strconv"

	"github.com/aristath/tradebot/internal/domain"
	"github.com/shopspring/decimal"
)

// detachedSymbolInput is the Opened→Quoted transition's I/O-bound half
// (§4.1 row 2, §9): ValidateSymbol and GetQuote both hit the network, so
// HandleBlockAction acks the webhook immediately and hands the symbol off
// here rather than blocking the ack on either call. A quote-fetch failure
// falls back to manual entry_price; a rejected symbol surfaces as an
// inline error on the next render instead of as a returned error, since
// there is no caller left waiting for one by the time this runs.
func (o *Orchestrator) detachedSymbolInput(ctx context.Context, sess *session, symbol string) {
	if symbol == "" {
		return
	}

	valid, err := o.quotes.ValidateSymbol(ctx, symbol)
	if err != nil || !valid {
		sess.mu.Lock()
		sess.SymbolError = "symbol not recognized"
		view := renderView(sess)
		sess.mu.Unlock()
		if updateErr := o.chat.UpdateView(ctx, sess.ViewID, view); updateErr != nil {
			o.log.Error().Err(updateErr).Str("view_id", sess.ViewID).Msg("failed to update modal after symbol rejection")
		}
		return
	}

	sess.mu.Lock()
	sess.Symbol = symbol
	sess.SymbolError = ""
	sess.mu.Unlock()

	quote, err := o.quotes.GetQuote(ctx, symbol)
	sess.mu.Lock()
	if err != nil {
		sess.EntryPriceSource = domain.EntryPriceUser
	} else {
		sess.EntryPrice = quote.Price
		sess.EntryPriceSource = domain.EntryPriceQuote
		sess.Notional = sess.EntryPrice.Mul(decimal.NewFromInt(int64(sess.Quantity))).RoundBank(2)
	}
	sess.State = StateQuoted
	view := renderView(sess)
	sess.mu.Unlock()

	if updateErr := o.chat.UpdateView(ctx, sess.ViewID, view); updateErr != nil {
		o.log.Error().Err(updateErr).Str("view_id", sess.ViewID).Msg("failed to update modal after quote fetch")
	}
}

// handleQuantityInput is §4.1 row 3: quantity → notional, guarded by the
// updating_field token so the write-back doesn't re-trigger itself.
func (o *Orchestrator) handleQuantityInput(ctx context.Context, sess *session, raw string) error {
	if !sess.tryClaim(fieldQuantity) {
		return nil // dropped: caused by our own notional write-back
	}
	defer sess.release()

	qty, err := strconv.Atoi(raw)
	if err != nil || qty < 0 {
		return &domain.ValidationError{Field: "quantity", Reason: "quantity must be a non-negative integer"}
	}

	sess.mu.Lock()
	sess.Quantity = qty
	if sess.EntryPrice.IsPositive() {
		sess.Notional = sess.EntryPrice.Mul(decimal.NewFromInt(int64(qty))).RoundBank(2)
	}
	view := renderView(sess)
	sess.mu.Unlock()

	return o.chat.UpdateView(ctx, sess.ViewID, view)
}

// handleNotionalInput is §4.1 row 4: notional → quantity via floor
// division, never upscaling notional in response.
func (o *Orchestrator) handleNotionalInput(ctx context.Context, sess *session, raw string) error {
	if !sess.tryClaim(fieldNotional) {
		return nil
	}
	defer sess.release()

	notional, err := decimal.NewFromString(raw)
	if err != nil || notional.IsNegative() {
		return &domain.ValidationError{Field: "notional", Reason: "notional must be a non-negative number"}
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !sess.EntryPrice.IsPositive() {
		return &domain.ValidationError{Field: "notional", Reason: "entry price not yet available"}
	}
	sess.Notional = notional
	sess.Quantity = int(notional.Div(sess.EntryPrice).Floor().IntPart())
	view := renderView(sess)

	return o.chat.UpdateView(ctx, sess.ViewID, view)
}

func (o *Orchestrator) handleOrderTypeSelect(ctx context.Context, sess *session, raw string) error {
	ot := domain.OrderType(raw)
	switch ot {
	case domain.OrderMarket, domain.OrderLimit, domain.OrderStop, domain.OrderStopLimit:
	default:
		return &domain.ValidationError{Field: "order_type", Reason: "unrecognized order type"}
	}

	sess.mu.Lock()
	sess.OrderType = ot
	if ot != domain.OrderLimit && ot != domain.OrderStopLimit {
		sess.LimitPrice = nil
	}
	view := renderView(sess)
	sess.mu.Unlock()

	return o.chat.UpdateView(ctx, sess.ViewID, view)
}

func (o *Orchestrator) handleLimitPriceInput(ctx context.Context, sess *session, raw string) error {
	price, err := decimal.NewFromString(raw)
	if err != nil || !price.IsPositive() {
		return &domain.ValidationError{Field: "limit_price", Reason: "limit price must be positive"}
	}

	sess.mu.Lock()
	sess.LimitPrice = &price
	view := renderView(sess)
	sess.mu.Unlock()

	return o.chat.UpdateView(ctx, sess.ViewID, view)
}

// detachedAnalyzeRisk is the best-effort "Analyze risk" action (§4.1):
// 5s timeout baked into aiservice.Client, failure renders "risk
// unavailable" and never blocks submit.
func (o *Orchestrator) detachedAnalyzeRisk(ctx context.Context, sess *session) {
	sess.mu.Lock()
	trade := domain.Trade{
		Symbol:     sess.Symbol,
		Side:       sess.Side,
		Quantity:   sess.Quantity,
		EntryPrice: sess.EntryPrice,
	}
	sess.mu.Unlock()

	analysis, err := o.ai.Analyze(ctx, trade, map[string]any{"entry_price": trade.EntryPrice.String()})
	sess.mu.Lock()
	if err != nil {
		sess.RiskAnalysis = &domain.RiskAnalysis{Narrative: "risk unavailable"}
	} else {
		sess.RiskAnalysis = &analysis
	}
	view := renderView(sess)
	sess.mu.Unlock()

	_ = o.chat.UpdateView(ctx, sess.ViewID, view)
}
