package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aristath/tradebot/internal/database"
	"github.com/aristath/tradebot/internal/domain"
)

// AlertRepository persists domain.RiskAlertConfig rows (§3, §4.5).
type AlertRepository struct {
	db    *database.DB
	cache *readCache
}

func (r *AlertRepository) cacheKey(alertID string) string { return "alert:" + alertID }

// Create inserts a new alert configuration with the status the caller set
// on it.
func (r *AlertRepository) Create(ctx context.Context, a domain.RiskAlertConfig) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO alerts (alert_id, owner_user_id, name, trade_size_threshold, loss_pct_threshold,
			vix_threshold, monitor_new, scan_existing_at_create, status, trigger_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.AlertID, a.OwnerUserID, a.Name, decToCol(a.TradeSizeThreshold), decToCol(a.LossPctThreshold),
		decToCol(a.VixThreshold), boolToInt(a.MonitorNew), boolToInt(a.ScanExistingAtCreate),
		string(a.Status), a.TriggerCount, timeToCol(a.CreatedAt), timeToCol(a.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create alert: %w", err)
	}
	return nil
}

// Get fetches an alert by id, through the read-through cache.
func (r *AlertRepository) Get(ctx context.Context, alertID string) (*domain.RiskAlertConfig, error) {
	if cached, ok := r.cache.get(r.cacheKey(alertID)); ok {
		a := cached.(domain.RiskAlertConfig)
		return &a, nil
	}

	row := r.db.QueryRowContext(ctx, alertSelectCols+` WHERE alert_id = ?`, alertID)
	a, err := scanAlert(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &domain.NotFoundError{Kind: "alert", ID: alertID}
		}
		return nil, fmt.Errorf("get alert: %w", err)
	}
	r.cache.set(r.cacheKey(alertID), *a)
	return a, nil
}

// ListActive returns every alert currently Active, for the real-time
// evaluation path (§4.3; scope decision recorded in DESIGN.md — every
// active alert system-wide, not filtered by owner).
func (r *AlertRepository) ListActive(ctx context.Context) ([]domain.RiskAlertConfig, error) {
	rows, err := r.db.QueryContext(ctx, alertSelectCols+` WHERE status = 'active'`)
	if err != nil {
		return nil, fmt.Errorf("list active alerts: %w", err)
	}
	defer rows.Close()
	return scanAlertRows(rows)
}

// ListByOwner returns every alert owned by a user (newest first), via the
// owner_user_id secondary index (§4.5).
func (r *AlertRepository) ListByOwner(ctx context.Context, ownerUserID string) ([]domain.RiskAlertConfig, error) {
	rows, err := r.db.QueryContext(ctx, alertSelectCols+` WHERE owner_user_id = ? ORDER BY created_at DESC`, ownerUserID)
	if err != nil {
		return nil, fmt.Errorf("list alerts by owner: %w", err)
	}
	defer rows.Close()
	return scanAlertRows(rows)
}

// SetStatus transitions an alert's status (Active ↔ Paused, either → Deleted).
// Deleted is terminal and soft: the row is never physically removed (§3).
func (r *AlertRepository) SetStatus(ctx context.Context, alertID string, status domain.AlertStatus) error {
	_, err := r.db.ExecContext(ctx, `UPDATE alerts SET status = ?, updated_at = datetime('now') WHERE alert_id = ? AND status != 'deleted'`,
		string(status), alertID)
	if err != nil {
		return fmt.Errorf("set alert status: %w", err)
	}
	r.cache.invalidate(r.cacheKey(alertID))
	return nil
}

// IncrementTriggerCount atomically increments trigger_count via a
// conditional update on the previous value, guaranteeing the strictly
// monotonic ordering required by §5. Returns the new count.
func (r *AlertRepository) IncrementTriggerCount(ctx context.Context, tx *sql.Tx, alertID string) (int, error) {
	var current int
	if err := tx.QueryRow(`SELECT trigger_count FROM alerts WHERE alert_id = ?`, alertID).Scan(&current); err != nil {
		return 0, fmt.Errorf("read trigger_count: %w", err)
	}

	next := current + 1
	res, err := tx.Exec(`UPDATE alerts SET trigger_count = ?, updated_at = datetime('now') WHERE alert_id = ? AND trigger_count = ?`,
		next, alertID, current)
	if err != nil {
		return 0, fmt.Errorf("increment trigger_count: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("increment trigger_count rows affected: %w", err)
	}
	if affected == 0 {
		return 0, fmt.Errorf("concurrent trigger_count update detected for alert %s", alertID)
	}

	r.cache.invalidate(r.cacheKey(alertID))
	return next, nil
}

const alertSelectCols = `
	SELECT alert_id, owner_user_id, name, trade_size_threshold, loss_pct_threshold, vix_threshold,
		monitor_new, scan_existing_at_create, status, trigger_count, created_at, updated_at
	FROM alerts`

func scanAlert(row *sql.Row) (*domain.RiskAlertConfig, error) {
	var a domain.RiskAlertConfig
	var tradeSize, lossPct, vix, status, createdAt, updatedAt string
	var monitorNew, scanExisting int

	err := row.Scan(&a.AlertID, &a.OwnerUserID, &a.Name, &tradeSize, &lossPct, &vix,
		&monitorNew, &scanExisting, &status, &a.TriggerCount, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	return finishAlertScan(&a, tradeSize, lossPct, vix, status, createdAt, updatedAt, monitorNew, scanExisting)
}

func scanAlertRows(rows *sql.Rows) ([]domain.RiskAlertConfig, error) {
	var out []domain.RiskAlertConfig
	for rows.Next() {
		var a domain.RiskAlertConfig
		var tradeSize, lossPct, vix, status, createdAt, updatedAt string
		var monitorNew, scanExisting int

		err := rows.Scan(&a.AlertID, &a.OwnerUserID, &a.Name, &tradeSize, &lossPct, &vix,
			&monitorNew, &scanExisting, &status, &a.TriggerCount, &createdAt, &updatedAt)
		if err != nil {
			return nil, err
		}
		full, err := finishAlertScan(&a, tradeSize, lossPct, vix, status, createdAt, updatedAt, monitorNew, scanExisting)
		if err != nil {
			return nil, err
		}
		out = append(out, *full)
	}
	return out, rows.Err()
}

func finishAlertScan(a *domain.RiskAlertConfig, tradeSize, lossPct, vix, status, createdAt, updatedAt string, monitorNew, scanExisting int) (*domain.RiskAlertConfig, error) {
	var err error
	if a.TradeSizeThreshold, err = colToDec(tradeSize); err != nil {
		return nil, err
	}
	if a.LossPctThreshold, err = colToDec(lossPct); err != nil {
		return nil, err
	}
	if a.VixThreshold, err = colToDec(vix); err != nil {
		return nil, err
	}
	a.Status = domain.AlertStatus(status)
	a.MonitorNew = monitorNew != 0
	a.ScanExistingAtCreate = scanExisting != 0
	if a.CreatedAt, err = colToTime(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = colToTime(updatedAt); err != nil {
		return nil, err
	}
	return a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
