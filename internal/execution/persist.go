package execution

import (
	"context"
	"time"

	"github.com/aristath/tradebot/internal/domain"
	"github.com/google/uuid"
)

// persist applies the execution report to the trade and writes the
// position + audit entry atomically via the store's single-transaction
// helper (§4.5's core invariant).
func (r *Router) persist(ctx context.Context, trade domain.Trade, report domain.ExecutionReport, opID string) error {
	trade.Status = report.Status
	trade.ExecutionID = &report.ExecutionID
	trade.Venue = report.Venue
	trade.Commission = report.Commission
	trade.UpdatedAt = time.Now()
	if report.FilledQuantity > 0 {
		fq := report.FilledQuantity
		trade.FilledQuantity = &fq
		fp := report.FillPrice
		trade.FillPrice = &fp
	}

	entry := domain.AuditEntry{
		AuditID:     uuid.NewString(),
		Timestamp:   time.Now(),
		ActorUserID: &trade.UserID,
		Action:      domain.AuditTradeExecuted,
		Severity:    domain.SeverityInfo,
		SubjectKind: "trade",
		SubjectID:   trade.TradeID,
		After: map[string]any{
			"status":          string(trade.Status),
			"venue":           string(trade.Venue),
			"filled_quantity": report.FilledQuantity,
		},
		CorrelationID: trade.CorrelationID,
	}

	return r.store.Trades.ApplyExecution(ctx, r.store.Positions, r.store.Audit, trade, entry, opID)
}
