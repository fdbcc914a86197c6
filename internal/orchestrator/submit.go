package orchestrator

import (
	"context"
	"strconv"
	"time"

	"github.com/aristath/tradebot/internal/chat"
	"github.com/aristath/tradebot/internal/chat/blocks"
	"github.com/aristath/tradebot/internal/domain"
	"github.com/aristath/tradebot/internal/events"
	"github.com/google/uuid"
)

// handleSubmit is §4.1's Quoted→Submitting transition: validates the
// submit guard, optimistically confirms, and detaches the actual
// execution so the ack deadline is never at risk.
func (o *Orchestrator) handleSubmit(ctx context.Context, sess *session) error {
	sess.mu.Lock()
	if sess.Quantity < 1 {
		sess.mu.Unlock()
		return &domain.ValidationError{Field: "quantity", Reason: "quantity must be at least 1"}
	}
	if (sess.OrderType == domain.OrderLimit || sess.OrderType == domain.OrderStopLimit) && sess.LimitPrice == nil {
		sess.mu.Unlock()
		return &domain.ValidationError{Field: "limit_price", Reason: "limit price required for this order type"}
	}
	if sess.RiskAnalysis != nil && sess.RiskAnalysis.HighRisk() && sess.RiskConfirmToken != sess.Symbol {
		sess.mu.Unlock()
		return &domain.ValidationError{Field: "risk_confirm", Reason: "high-risk trade requires typed confirmation"}
	}

	trade := domain.Trade{
		TradeID:          uuid.NewString(),
		UserID:           sess.UserID,
		Symbol:           sess.Symbol,
		Side:             sess.Side,
		Quantity:         sess.Quantity,
		OrderType:        sess.OrderType,
		LimitPrice:       sess.LimitPrice,
		EntryPrice:       sess.EntryPrice,
		EntryPriceSource: sess.EntryPriceSource,
		Status:           domain.TradePending,
		CorrelationID:    sess.CorrelationID,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}
	sess.lastTradeID = trade.TradeID
	sess.State = StateSubmitting
	optimistic := chat.View{
		"type": "modal",
		"blocks": []map[string]any{
			blocks.Section(blocks.Text("Submitting your order…", false), nil),
		},
	}
	sess.mu.Unlock()

	if err := o.store.Trades.CreatePending(ctx, trade, trade.TradeID); err != nil {
		return err
	}
	o.events.Emit(events.TradeCreated, "orchestrator", map[string]interface{}{"trade_id": trade.TradeID, "user_id": trade.UserID})

	if err := o.chat.UpdateView(ctx, sess.ViewID, optimistic); err != nil {
		return err
	}

	go o.detachedExecute(context.Background(), sess, trade)
	return nil
}

// detachedExecute runs the execution router off the ack path and updates
// the modal in place with the final outcome (§4.1 Submitting rows).
func (o *Orchestrator) detachedExecute(ctx context.Context, sess *session, trade domain.Trade) {
	report, err := o.router.Execute(ctx, trade, "exec-"+trade.TradeID)

	sess.mu.Lock()
	if err != nil {
		sess.State = StateFailed
	} else {
		sess.State = StateConfirmed
	}
	sess.mu.Unlock()

	view := resultView(trade, report, err)
	if updateErr := o.chat.UpdateView(ctx, sess.ViewID, view); updateErr != nil {
		o.log.Error().Err(updateErr).Str("view_id", sess.ViewID).Msg("failed to update modal with execution result")
	}

	if err != nil {
		return
	}

	trade.Status = report.Status
	if report.FilledQuantity > 0 {
		fq := report.FilledQuantity
		trade.FilledQuantity = &fq
		fp := report.FillPrice
		trade.FillPrice = &fp
	}
	if trade.Status == domain.TradeFilled {
		o.risk.CheckTrade(ctx, trade)
	}

	if user, userErr := o.store.Users.Get(ctx, trade.UserID); userErr == nil {
		if notifyErr := o.notify.SendConfirmation(ctx, *user, trade); notifyErr != nil {
			o.log.Error().Err(notifyErr).Msg("failed to send trade confirmation")
		}
	}
}

func resultView(trade domain.Trade, report *domain.ExecutionReport, err error) chat.View {
	if err != nil {
		return chat.View{
			"type": "modal",
			"blocks": []map[string]any{
				blocks.Section(blocks.Text("Order failed: "+err.Error(), false), nil),
			},
		}
	}
	return chat.View{
		"type": "modal",
		"blocks": []map[string]any{
			blocks.Section(blocks.Text("Order "+string(report.Status)+" — filled "+
				strconv.Itoa(report.FilledQuantity)+" @ "+report.FillPrice.StringFixed(4), false), nil),
		},
	}
}
