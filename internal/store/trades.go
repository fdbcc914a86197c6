package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aristath/tradebot/internal/database"
	"github.com/aristath/tradebot/internal/domain"
	"github.com/shopspring/decimal"
)

// TradeRepository persists domain.Trade rows and the secondary indexes
// over symbol and status (§4.5).
type TradeRepository struct {
	db *database.DB
}

// CreatePending inserts a new trade in Pending state. opID guards against
// duplicate submission of the same modal action.
func (r *TradeRepository) CreatePending(ctx context.Context, t domain.Trade, opID string) error {
	return withRetry(ctx, func() error {
		return database.WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
			applied, err := reserveOpID(tx, opID, "trades", t.TradeID)
			if err != nil {
				return nonRetryable(err)
			}
			if applied {
				return nil
			}
			return insertTrade(tx, t, opID)
		})
	})
}

func insertTrade(tx *sql.Tx, t domain.Trade, opID string) error {
	var limitPrice any
	if t.LimitPrice != nil {
		limitPrice = decToCol(*t.LimitPrice)
	}
	var executionID any
	if t.ExecutionID != nil {
		executionID = *t.ExecutionID
	}
	var fillPrice any
	if t.FillPrice != nil {
		fillPrice = decToCol(*t.FillPrice)
	}
	var filledQty any
	if t.FilledQuantity != nil {
		filledQty = *t.FilledQuantity
	}

	_, err := tx.Exec(`
		INSERT INTO trades (
			trade_id, user_id, symbol, side, quantity, order_type, limit_price,
			entry_price, entry_price_source, status, execution_id, fill_price,
			filled_quantity, commission, venue, correlation_id, op_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TradeID, t.UserID, t.Symbol, string(t.Side), t.Quantity, string(t.OrderType), limitPrice,
		decToCol(t.EntryPrice), string(t.EntryPriceSource), string(t.Status), executionID, fillPrice,
		filledQty, decToCol(t.Commission), string(t.Venue), t.CorrelationID, opID,
		timeToCol(t.CreatedAt), timeToCol(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// Get fetches a trade by id.
func (r *TradeRepository) Get(ctx context.Context, tradeID string) (*domain.Trade, error) {
	row := r.db.QueryRowContext(ctx, tradeSelectCols+` WHERE trade_id = ?`, tradeID)
	t, err := scanTrade(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &domain.NotFoundError{Kind: "trade", ID: tradeID}
		}
		return nil, fmt.Errorf("get trade: %w", err)
	}
	return t, nil
}

// ApplyExecution transitions a trade to a terminal state and atomically
// updates the user's position and writes an audit entry (§4.5, §3
// invariant: the pair is a single atomic unit). opID guards re-delivery of
// the same execution report.
func (r *TradeRepository) ApplyExecution(ctx context.Context, positions *PositionRepository, audit *AuditRepository, t domain.Trade, entry domain.AuditEntry, opID string) error {
	return withRetry(ctx, func() error {
		return database.WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
			applied, err := reserveOpID(tx, opID, "trades", t.TradeID)
			if err != nil {
				return nonRetryable(err)
			}
			if applied {
				return nil
			}

			if err := updateTradeTerminal(tx, t); err != nil {
				return err
			}
			if t.Status.IsTerminal() && t.Status == domain.TradeFilled {
				if err := positions.applyTerminalTradeTx(tx, t); err != nil {
					return err
				}
			}
			if err := insertAuditTx(tx, entry); err != nil {
				return err
			}
			return nil
		})
	})
}

func updateTradeTerminal(tx *sql.Tx, t domain.Trade) error {
	var executionID any
	if t.ExecutionID != nil {
		executionID = *t.ExecutionID
	}
	var fillPrice any
	if t.FillPrice != nil {
		fillPrice = decToCol(*t.FillPrice)
	}
	var filledQty any
	if t.FilledQuantity != nil {
		filledQty = *t.FilledQuantity
	}

	_, err := tx.Exec(`
		UPDATE trades SET status = ?, execution_id = ?, fill_price = ?, filled_quantity = ?,
			commission = ?, venue = ?, updated_at = ?
		WHERE trade_id = ?`,
		string(t.Status), executionID, fillPrice, filledQty, decToCol(t.Commission),
		string(t.Venue), timeToCol(t.UpdatedAt), t.TradeID,
	)
	if err != nil {
		return fmt.Errorf("update trade terminal: %w", err)
	}
	return nil
}

const tradeSelectCols = `
	SELECT trade_id, user_id, symbol, side, quantity, order_type, limit_price,
		entry_price, entry_price_source, status, execution_id, fill_price,
		filled_quantity, commission, venue, correlation_id, created_at, updated_at
	FROM trades`

func scanTrade(row *sql.Row) (*domain.Trade, error) {
	var t domain.Trade
	var side, orderType, entryPriceSource, status, venue, createdAt, updatedAt string
	var limitPrice, executionID, fillPrice sql.NullString
	var filledQty sql.NullInt64
	var entryPrice, commission string

	err := row.Scan(
		&t.TradeID, &t.UserID, &t.Symbol, &side, &t.Quantity, &orderType, &limitPrice,
		&entryPrice, &entryPriceSource, &status, &executionID, &fillPrice,
		&filledQty, &commission, &venue, &t.CorrelationID, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Side = domain.Side(side)
	t.OrderType = domain.OrderType(orderType)
	t.EntryPriceSource = domain.EntryPriceSource(entryPriceSource)
	t.Status = domain.TradeStatus(status)
	t.Venue = domain.Venue(venue)

	if t.EntryPrice, err = colToDec(entryPrice); err != nil {
		return nil, err
	}
	if t.Commission, err = colToDec(commission); err != nil {
		return nil, err
	}
	if limitPrice.Valid {
		d, err := colToDec(limitPrice.String)
		if err != nil {
			return nil, err
		}
		t.LimitPrice = &d
	}
	if executionID.Valid {
		t.ExecutionID = &executionID.String
	}
	if fillPrice.Valid {
		d, err := colToDec(fillPrice.String)
		if err != nil {
			return nil, err
		}
		t.FillPrice = &d
	}
	if filledQty.Valid {
		q := int(filledQty.Int64)
		t.FilledQuantity = &q
	}
	if t.CreatedAt, err = colToTime(createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = colToTime(updatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// ListFilledAboveSize queries filled trades whose trade_size
// (fill_price * filled_quantity) meets minTradeSize, for the batch alert
// scan's first filtering pass (§4.3), capped at 100 most recent.
func (r *TradeRepository) ListFilledAboveSize(ctx context.Context, minTradeSize decimal.Decimal, limit int) ([]domain.Trade, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT trade_id, user_id, symbol, side, quantity, order_type, limit_price,
			entry_price, entry_price_source, status, execution_id, fill_price,
			filled_quantity, commission, venue, correlation_id, created_at, updated_at
		FROM trades
		WHERE status = 'filled' AND (CAST(fill_price AS REAL) * filled_quantity) >= ?
		ORDER BY created_at DESC
		LIMIT ?`, minTradeSize.InexactFloat64(), limit)
	if err != nil {
		return nil, fmt.Errorf("list filled trades above size: %w", err)
	}
	defer rows.Close()

	return scanTradeRows(rows)
}

// ListRecentFilled returns the most recent filled trades across all
// symbols, for the alert engine's scan_existing bounded scan (§4.3).
func (r *TradeRepository) ListRecentFilled(ctx context.Context, limit int) ([]domain.Trade, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT trade_id, user_id, symbol, side, quantity, order_type, limit_price,
			entry_price, entry_price_source, status, execution_id, fill_price,
			filled_quantity, commission, venue, correlation_id, created_at, updated_at
		FROM trades
		WHERE status = 'filled'
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent filled trades: %w", err)
	}
	defer rows.Close()

	return scanTradeRows(rows)
}

// ListTerminalByUser returns a user's filled trades, oldest first, for
// PositionRepository.RecomputeFromTerminalTrades. Cancelled and rejected
// trades are not included.
func (r *TradeRepository) ListTerminalByUser(ctx context.Context, userID string) ([]domain.Trade, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT trade_id, user_id, symbol, side, quantity, order_type, limit_price,
			entry_price, entry_price_source, status, execution_id, fill_price,
			filled_quantity, commission, venue, correlation_id, created_at, updated_at
		FROM trades
		WHERE user_id = ? AND status = 'filled'
		ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list terminal trades by user: %w", err)
	}
	defer rows.Close()

	return scanTradeRows(rows)
}

func scanTradeRows(rows *sql.Rows) ([]domain.Trade, error) {
	var out []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var side, orderType, entryPriceSource, status, venue, createdAt, updatedAt string
		var limitPrice, executionID, fillPrice sql.NullString
		var filledQty sql.NullInt64
		var entryPrice, commission string

		err := rows.Scan(
			&t.TradeID, &t.UserID, &t.Symbol, &side, &t.Quantity, &orderType, &limitPrice,
			&entryPrice, &entryPriceSource, &status, &executionID, &fillPrice,
			&filledQty, &commission, &venue, &t.CorrelationID, &createdAt, &updatedAt,
		)
		if err != nil {
			return nil, err
		}

		t.Side = domain.Side(side)
		t.OrderType = domain.OrderType(orderType)
		t.EntryPriceSource = domain.EntryPriceSource(entryPriceSource)
		t.Status = domain.TradeStatus(status)
		t.Venue = domain.Venue(venue)

		if t.EntryPrice, err = colToDec(entryPrice); err != nil {
			return nil, err
		}
		if t.Commission, err = colToDec(commission); err != nil {
			return nil, err
		}
		if limitPrice.Valid {
			d, err := colToDec(limitPrice.String)
			if err != nil {
				return nil, err
			}
			t.LimitPrice = &d
		}
		if executionID.Valid {
			t.ExecutionID = &executionID.String
		}
		if fillPrice.Valid {
			d, err := colToDec(fillPrice.String)
			if err != nil {
				return nil, err
			}
			t.FillPrice = &d
		}
		if filledQty.Valid {
			q := int(filledQty.Int64)
			t.FilledQuantity = &q
		}
		if t.CreatedAt, err = colToTime(createdAt); err != nil {
			return nil, err
		}
		if t.UpdatedAt, err = colToTime(updatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
