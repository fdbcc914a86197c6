package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/aristath/tradebot/internal/database"
	"github.com/aristath/tradebot/internal/domain"
)

// AlertEventRepository persists append-only domain.AlertTriggerEvent rows,
// one per (alert, trade) pair (§3 invariant).
type AlertEventRepository struct {
	db *database.DB
}

// RecordTrigger atomically increments the alert's trigger_count and
// appends one AlertTriggerEvent, satisfying §5's strictly-monotonic
// trigger_count ordering and §3's one-event-per-pair invariant (the
// UNIQUE(alert_id, trade_id) constraint makes a duplicate event insert a
// no-op; trigger_count still increments on every call).
func (s *Store) RecordTrigger(ctx context.Context, event domain.AlertTriggerEvent) (newCount int, err error) {
	err = withRetry(ctx, func() error {
		return database.WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
			n, incErr := s.Alerts.IncrementTriggerCount(ctx, tx, event.AlertID)
			if incErr != nil {
				return incErr
			}

			ctxJSON, _ := json.Marshal(event.Context)
			_, insErr := tx.Exec(`
				INSERT INTO alert_events (event_id, alert_id, trade_id, owner_user_id, trade_size, loss_pct, vix_level, context, triggered_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (alert_id, trade_id) DO NOTHING`,
				event.EventID, event.AlertID, event.TradeID, event.OwnerUserID,
				decToCol(event.TradeSize), decToCol(event.LossPct), decToCol(event.VixLevel),
				string(ctxJSON), timeToCol(event.TriggeredAt),
			)
			if insErr != nil {
				return fmt.Errorf("insert alert event: %w", insErr)
			}

			newCount = n
			return nil
		})
	})
	return newCount, err
}

// ListByAlert returns trigger events for an alert, newest first, via the
// alert_id secondary index (§4.5).
func (r *AlertEventRepository) ListByAlert(ctx context.Context, alertID string, limit int) ([]domain.AlertTriggerEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT event_id, alert_id, trade_id, owner_user_id, trade_size, loss_pct, vix_level, context, triggered_at
		FROM alert_events WHERE alert_id = ? ORDER BY triggered_at DESC LIMIT ?`, alertID, limit)
	if err != nil {
		return nil, fmt.Errorf("list alert events: %w", err)
	}
	defer rows.Close()

	var out []domain.AlertTriggerEvent
	for rows.Next() {
		var e domain.AlertTriggerEvent
		var tradeSize, lossPct, vix, ctxJSON, triggeredAt string
		if err := rows.Scan(&e.EventID, &e.AlertID, &e.TradeID, &e.OwnerUserID, &tradeSize, &lossPct, &vix, &ctxJSON, &triggeredAt); err != nil {
			return nil, err
		}
		if e.TradeSize, err = colToDec(tradeSize); err != nil {
			return nil, err
		}
		if e.LossPct, err = colToDec(lossPct); err != nil {
			return nil, err
		}
		if e.VixLevel, err = colToDec(vix); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(ctxJSON), &e.Context)
		if e.TriggeredAt, err = colToTime(triggeredAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
