package risk

import (
	"context"
	"time"

	"github.com/aristath/tradebot/internal/domain"
	"github.com/aristath/tradebot/internal/events"
	"github.com/google/uuid"
)

// maxScanMatches caps the trade ids listed in the scan's summary event at
// 20 matches (§4.3).
const maxScanMatches = 20

// ScanExisting implements the batch path (§4.3): invoked when a new alert
// opts into scanning existing trades. Matching trades are queried via the
// persistence secondary index, capped at 100 most recent; quotes are
// fetched once per distinct symbol; one AlertTriggerEvent is recorded per
// match and a single AlertTriggered summary event lists up to 20 of their
// trade ids. The scan sends no chat notification itself. No code path in
// the application calls ScanExisting.
func (e *Engine) ScanExisting(ctx context.Context, alert domain.RiskAlertConfig) error {
	vix, vixErr := e.quotes.GetVIX(ctx)
	if vixErr != nil {
		// Retry once with whatever VIX we last cached, per §4.3's failure
		// semantics for the batch path; GetVIX already serves from cache
		// when fresh, so a second identical call only helps if the
		// breaker has since closed.
		vix, vixErr = e.quotes.GetVIX(ctx)
		if vixErr != nil {
			e.log.Warn().Str("alert_id", alert.AlertID).Msg("vix fetch failed for scan, evaluation skipped")
			return vixErr
		}
	}

	candidates, err := e.store.Trades.ListFilledAboveSize(ctx, alert.TradeSizeThreshold, 100)
	if err != nil {
		return err
	}

	quoteCache := make(map[string]domain.Quote)
	var matchedTrades []domain.Trade

	for _, trade := range candidates {
		quote, ok := quoteCache[trade.Symbol]
		if !ok {
			q, qErr := e.quotes.GetQuote(ctx, trade.Symbol)
			if qErr != nil {
				continue
			}
			quote = q
			quoteCache[trade.Symbol] = q
		}

		tradeSize, ok := filledTradeSize(trade)
		if !ok {
			continue
		}
		lossPct := lossPercent(trade, quote.Price)

		if matches(tradeSize, alert.TradeSizeThreshold, lossPct, alert.LossPctThreshold, vix, alert.VixThreshold) {
			matchedTrades = append(matchedTrades, trade)

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
			if _, err := e.store.RecordTrigger(ctx, event); err != nil {
				e.log.Error().Err(err).Str("alert_id", alert.AlertID).Msg("failed to record scan trigger")
			}
		}
	}

	summary := matchedTrades
	if len(summary) > maxScanMatches {
		summary = summary[:maxScanMatches]
	}
	tradeIDs := make([]string, 0, len(summary))
	for _, t := range summary {
		tradeIDs = append(tradeIDs, t.TradeID)
	}

	e.events.Emit(events.AlertTriggered, "risk.scan", map[string]any{
		"alert_id":      alert.AlertID,
		"owner_user_id": alert.OwnerUserID,
		"match_count":   len(matchedTrades),
		"trade_ids":     tradeIDs,
	})

	return nil
}
