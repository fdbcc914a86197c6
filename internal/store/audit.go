package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/aristath/tradebot/internal/database"
	"github.com/aristath/tradebot/internal/domain"
)

// AuditRepository persists append-only domain.AuditEntry rows (§3, §4.5).
type AuditRepository struct {
	db *database.DB
}

// Insert appends a single audit entry outside of any larger transaction.
func (r *AuditRepository) Insert(ctx context.Context, entry domain.AuditEntry) error {
	return withRetry(ctx, func() error {
		_, err := r.db.ExecContext(ctx, insertAuditSQL, auditArgs(entry)...)
		if err != nil {
			return fmt.Errorf("insert audit: %w", err)
		}
		return nil
	})
}

// insertAuditTx appends an audit entry as part of a caller-managed
// transaction (used by the atomic trade+position+audit write).
func insertAuditTx(tx *sql.Tx, entry domain.AuditEntry) error {
	if _, err := tx.Exec(insertAuditSQL, auditArgs(entry)...); err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

const insertAuditSQL = `
	INSERT INTO audit (audit_id, timestamp, actor_user_id, action, severity, subject_kind, subject_id, before_json, after_json, correlation_id)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func auditArgs(entry domain.AuditEntry) []any {
	var actor any
	if entry.ActorUserID != nil {
		actor = *entry.ActorUserID
	}
	before, _ := json.Marshal(entry.Before)
	after, _ := json.Marshal(entry.After)

	return []any{
		entry.AuditID, timeToCol(entry.Timestamp), actor, string(entry.Action), string(entry.Severity),
		entry.SubjectKind, entry.SubjectID, string(before), string(after), entry.CorrelationID,
	}
}

// ListByCorrelationID traces every audit entry for a correlation id — the
// chat event → trade → alert-trigger thread (§4.5, supplemented audit
// query endpoint in SPEC_FULL §9).
func (r *AuditRepository) ListByCorrelationID(ctx context.Context, correlationID string) ([]domain.AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT audit_id, timestamp, actor_user_id, action, severity, subject_kind, subject_id, before_json, after_json, correlation_id
		FROM audit WHERE correlation_id = ? ORDER BY timestamp ASC`, correlationID)
	if err != nil {
		return nil, fmt.Errorf("list audit by correlation: %w", err)
	}
	defer rows.Close()
	return scanAuditRows(rows)
}

func scanAuditRows(rows *sql.Rows) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var actor sql.NullString
		var action, severity, ts, beforeJSON, afterJSON sql.NullString

		if err := rows.Scan(&e.AuditID, &ts, &actor, &action, &severity, &e.SubjectKind, &e.SubjectID, &beforeJSON, &afterJSON, &e.CorrelationID); err != nil {
			return nil, err
		}
		e.Action = domain.AuditAction(action.String)
		e.Severity = domain.AuditSeverity(severity.String)
		if actor.Valid {
			e.ActorUserID = &actor.String
		}
		var err error
		if e.Timestamp, err = colToTime(ts.String); err != nil {
			return nil, err
		}
		if beforeJSON.Valid {
			_ = json.Unmarshal([]byte(beforeJSON.String), &e.Before)
		}
		if afterJSON.Valid {
			_ = json.Unmarshal([]byte(afterJSON.String), &e.After)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
