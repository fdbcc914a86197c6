package store

import (
	"database/sql"
	"fmt"
)

// reserveOpID implements the "attribute_not_exists(op_id) OR op_id = self"
// conditional write (§4.5). It returns alreadyApplied=true when op_id was
// already recorded for this exact (table, rowID) pair, in which case the
// caller must treat the write as a no-op rather than re-executing it.
// A conflicting op_id reused for a different row is a hard error — it is
// never silently retried.
func reserveOpID(tx *sql.Tx, opID, table, rowID string) (alreadyApplied bool, err error) {
	var existingTable, existingRowID string
	err = tx.QueryRow(
		`SELECT table_name, row_id FROM idempotency_keys WHERE op_id = ?`, opID,
	).Scan(&existingTable, &existingRowID)

	switch {
	case err == sql.ErrNoRows:
		// Not seen before — reserve it now.
		if _, insErr := tx.Exec(
			`INSERT INTO idempotency_keys (op_id, table_name, row_id, created_at) VALUES (?, ?, ?, datetime('now'))`,
			opID, table, rowID,
		); insErr != nil {
			return false, fmt.Errorf("failed to reserve op_id %s: %w", opID, insErr)
		}
		return false, nil
	case err != nil:
		return false, fmt.Errorf("failed to check op_id %s: %w", opID, err)
	case existingTable == table && existingRowID == rowID:
		return true, nil
	default:
		return false, fmt.Errorf("op_id %s already used for %s/%s, cannot reuse for %s/%s",
			opID, existingTable, existingRowID, table, rowID)
	}
}
