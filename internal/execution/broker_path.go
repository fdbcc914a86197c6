package execution

import (
	"context"
	"time"

	"github.com/aristath/tradebot/internal/domain"
)

// executeReal implements the pre-trade checks, submission, and fill-poll
// loop of §4.2's real-broker path.
func (r *Router) executeReal(ctx context.Context, trade domain.Trade) (*domain.ExecutionReport, error) {
	tradable, err := r.paper.IsSymbolTradable(ctx, trade.Symbol)
	if err != nil {
		return nil, err
	}
	if !tradable {
		return nil, &domain.MarketClosedError{Symbol: trade.Symbol}
	}

	open, err := r.paper.IsMarketOpen(ctx, trade.Symbol, trade.OrderType)
	if err != nil {
		return nil, err
	}
	if !open {
		return nil, &domain.MarketClosedError{Symbol: trade.Symbol}
	}

	account, err := r.paper.Account(ctx)
	if err != nil {
		return nil, err
	}
	if account.BuyingPower.LessThan(trade.Notional()) {
		return nil, &domain.InsufficientFundsError{
			Required:  trade.Notional().StringFixed(4),
			Available: account.BuyingPower.StringFixed(4),
		}
	}

	orderID, err := r.paper.SubmitOrder(ctx, domain.OrderRequest{
		Symbol:     trade.Symbol,
		Side:       trade.Side,
		Quantity:   trade.Quantity,
		OrderType:  trade.OrderType,
		LimitPrice: trade.LimitPrice,
	})
	if err != nil {
		return nil, err
	}
	submittedAt := time.Now()

	return r.pollForFill(ctx, orderID, submittedAt)
}

// pollForFill polls the broker with the backoff schedule from §4.2, up to
// a 15s total budget. A partial fill is recorded once, then one more poll
// is attempted; running out of budget returns whatever terminal-non-final
// status the last poll observed.
func (r *Router) pollForFill(ctx context.Context, orderID string, submittedAt time.Time) (*domain.ExecutionReport, error) {
	deadline := submittedAt.Add(fillPollBudget)
	sawPartial := false

	var last domain.BrokerOrderStatus
	for _, wait := range fillPollBackoff {
		select {
		case <-ctx.Done():
			return nil, &domain.TimeoutError{Operation: "fill poll"}
		case <-time.After(wait):
		}

		status, err := r.paper.GetOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		last = status

		if status.Status == "filled" {
			return brokerReport(orderID, status, submittedAt, domain.TradeFilled), nil
		}
		if status.Status == "partially_filled" {
			if sawPartial {
				return brokerReport(orderID, status, submittedAt, domain.TradePartiallyFilled), nil
			}
			sawPartial = true
		}
		if time.Now().After(deadline) {
			break
		}
	}

	status := domain.TradeSubmitted
	if sawPartial {
		status = domain.TradePartiallyFilled
	}
	return brokerReport(orderID, last, submittedAt, status), nil
}

func brokerReport(orderID string, status domain.BrokerOrderStatus, submittedAt time.Time, tradeStatus domain.TradeStatus) *domain.ExecutionReport {
	rep := &domain.ExecutionReport{
		Success:        tradeStatus == domain.TradeFilled || tradeStatus == domain.TradePartiallyFilled,
		ExecutionID:    orderID,
		Status:         tradeStatus,
		FilledQuantity: status.FilledQuantity,
		FillPrice:      status.AvgFillPrice,
		Venue:          domain.VenueBroker,
		SubmittedAt:    submittedAt,
	}
	if tradeStatus == domain.TradeFilled {
		now := time.Now()
		rep.FilledAt = &now
	}
	return rep
}

// executeSimulated implements §4.2's simulator path: one synchronous call,
// deterministic slippage, optional partial fill for large orders.
func (r *Router) executeSimulated(trade domain.Trade) (*domain.ExecutionReport, error) {
	fillPrice, firstQty, secondQty := r.simulator.Fill(trade)
	now := time.Now()

	status := domain.TradeFilled
	filled := firstQty
	if secondQty > 0 {
		filled = firstQty + secondQty
	}

	return &domain.ExecutionReport{
		Success:        true,
		ExecutionID:    "sim-" + trade.TradeID,
		Status:         status,
		FilledQuantity: filled,
		FillPrice:      fillPrice,
		Venue:          domain.VenueSimulator,
		SubmittedAt:    now,
		FilledAt:       &now,
	}, nil
}
