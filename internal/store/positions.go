package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/tradebot/internal/database"
	"github.com/aristath/tradebot/internal/domain"
	"github.com/shopspring/decimal"
)

// PositionRepository persists domain.Position rows, recomputed on every
// terminal trade write (§3 invariant).
type PositionRepository struct {
	db    *database.DB
	cache *readCache
}

func (r *PositionRepository) cacheKey(userID, symbol string) string {
	return "position:" + userID + ":" + symbol
}

// Get fetches a position, through the read-through cache.
func (r *PositionRepository) Get(ctx context.Context, userID, symbol string) (*domain.Position, error) {
	key := r.cacheKey(userID, symbol)
	if cached, ok := r.cache.get(key); ok {
		p := cached.(domain.Position)
		return &p, nil
	}

	p, err := r.getTx(r.db.Conn(), userID, symbol)
	if err != nil {
		return nil, err
	}
	if p != nil {
		r.cache.set(key, *p)
	}
	return p, nil
}

// queryRower is satisfied by both *sql.DB and *sql.Tx.
type queryRower interface {
	QueryRow(query string, args ...any) *sql.Row
}

func (r *PositionRepository) getTx(q queryRower, userID, symbol string) (*domain.Position, error) {
	row := q.QueryRow(`
		SELECT user_id, symbol, net_quantity, cost_basis, realized_pnl, updated_at
		FROM positions WHERE user_id = ? AND symbol = ?`, userID, symbol)

	var p domain.Position
	var costBasis, realizedPnL, updatedAt string
	err := row.Scan(&p.UserID, &p.Symbol, &p.NetQuantity, &costBasis, &realizedPnL, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get position: %w", err)
	}
	if p.CostBasis, err = colToDec(costBasis); err != nil {
		return nil, err
	}
	if p.RealizedPnL, err = colToDec(realizedPnL); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = colToTime(updatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// applyTerminalTradeTx recomputes the (user, symbol) position from a single
// newly-filled trade, inside the caller's transaction (§4.5 atomicity:
// Trade write + Position update + Audit entry as one unit).
func (r *PositionRepository) applyTerminalTradeTx(tx *sql.Tx, t domain.Trade) error {
	existing, err := r.getTx(tx, t.UserID, t.Symbol)
	if err != nil {
		return err
	}

	updated := applyFillToPosition(existing, t)

	_, err = tx.Exec(`
		INSERT INTO positions (user_id, symbol, net_quantity, cost_basis, realized_pnl, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, symbol) DO UPDATE SET
			net_quantity = excluded.net_quantity,
			cost_basis = excluded.cost_basis,
			realized_pnl = excluded.realized_pnl,
			updated_at = excluded.updated_at`,
		updated.UserID, updated.Symbol, updated.NetQuantity,
		decToCol(updated.CostBasis), decToCol(updated.RealizedPnL), timeToCol(updated.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}

	r.cache.invalidate(r.cacheKey(t.UserID, t.Symbol))
	return nil
}

// applyFillToPosition computes the new position state from a filled trade.
// Buy adds to net_quantity, Sell subtracts (§3). Opening or adding in the
// same direction recomputes cost_basis as a volume-weighted average;
// reducing or flipping direction realizes P&L on the closed portion. A full
// close or a flip sets cost_basis to the fill price.
func applyFillToPosition(existing *domain.Position, t domain.Trade) domain.Position {
	if existing == nil {
		existing = &domain.Position{UserID: t.UserID, Symbol: t.Symbol}
	}

	filled := 0
	if t.FilledQuantity != nil {
		filled = *t.FilledQuantity
	}
	fillPrice := t.EntryPrice
	if t.FillPrice != nil {
		fillPrice = *t.FillPrice
	}

	signedQty := filled
	if t.Side == domain.SideSell {
		signedQty = -filled
	}

	oldNet := existing.NetQuantity
	newNet := oldNet + signedQty

	result := domain.Position{
		UserID:    t.UserID,
		Symbol:    t.Symbol,
		CostBasis: existing.CostBasis,
		RealizedPnL: existing.RealizedPnL,
		UpdatedAt: time.Now().UTC(),
	}

	sameDirectionOrFlat := oldNet == 0 || sign(oldNet) == sign(signedQty)

	switch {
	case sameDirectionOrFlat:
		oldAbs := decimal.NewFromInt(int64(abs(oldNet)))
		addAbs := decimal.NewFromInt(int64(abs(signedQty)))
		totalAbs := oldAbs.Add(addAbs)
		if totalAbs.IsZero() {
			result.CostBasis = fillPrice
		} else {
			weighted := existing.CostBasis.Mul(oldAbs).Add(fillPrice.Mul(addAbs))
			result.CostBasis = weighted.Div(totalAbs).Round(4)
		}
		result.NetQuantity = newNet
	case abs(signedQty) <= abs(oldNet):
		closingQty := decimal.NewFromInt(int64(abs(signedQty)))
		var pnl decimal.Decimal
		if oldNet > 0 {
			pnl = fillPrice.Sub(existing.CostBasis).Mul(closingQty)
		} else {
			pnl = existing.CostBasis.Sub(fillPrice).Mul(closingQty)
		}
		result.RealizedPnL = existing.RealizedPnL.Add(pnl).Round(4)
		result.NetQuantity = newNet
		result.CostBasis = existing.CostBasis
		if newNet == 0 {
			result.CostBasis = fillPrice
		}
	default:
		closingQty := decimal.NewFromInt(int64(abs(oldNet)))
		var pnl decimal.Decimal
		if oldNet > 0 {
			pnl = fillPrice.Sub(existing.CostBasis).Mul(closingQty)
		} else {
			pnl = existing.CostBasis.Sub(fillPrice).Mul(closingQty)
		}
		result.RealizedPnL = existing.RealizedPnL.Add(pnl).Round(4)
		result.NetQuantity = newNet
		result.CostBasis = fillPrice
	}

	return result
}

func sign(n int) int {
	if n > 0 {
		return 1
	}
	if n < 0 {
		return -1
	}
	return 0
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// ListByUser returns every open or historical position for a user,
// bypassing the per-symbol cache since this is a full-table scan.
func (r *PositionRepository) ListByUser(ctx context.Context, userID string) ([]domain.Position, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, symbol, net_quantity, cost_basis, realized_pnl, updated_at
		FROM positions WHERE user_id = ? ORDER BY symbol`, userID)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var p domain.Position
		var costBasis, realizedPnL, updatedAt string
		if err := rows.Scan(&p.UserID, &p.Symbol, &p.NetQuantity, &costBasis, &realizedPnL, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		if p.CostBasis, err = colToDec(costBasis); err != nil {
			return nil, err
		}
		if p.RealizedPnL, err = colToDec(realizedPnL); err != nil {
			return nil, err
		}
		if p.UpdatedAt, err = colToTime(updatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RecomputeFromTerminalTrades rebuilds every position of a user from
// scratch over all the user's filled trades. It is idempotent. No code path
// in the application calls it: ApplyExecution always updates the position
// inside its own single transaction.
func (r *PositionRepository) RecomputeFromTerminalTrades(ctx context.Context, trades *TradeRepository, userID string) error {
	all, err := trades.ListTerminalByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("recompute positions: %w", err)
	}

	bySymbol := make(map[string]*domain.Position)
	for _, t := range all {
		cur := bySymbol[t.Symbol]
		next := applyFillToPosition(cur, t)
		bySymbol[t.Symbol] = &next
	}

	for symbol, p := range bySymbol {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO positions (user_id, symbol, net_quantity, cost_basis, realized_pnl, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (user_id, symbol) DO UPDATE SET
				net_quantity = excluded.net_quantity,
				cost_basis = excluded.cost_basis,
				realized_pnl = excluded.realized_pnl,
				updated_at = excluded.updated_at`,
			userID, symbol, p.NetQuantity, decToCol(p.CostBasis), decToCol(p.RealizedPnL), timeToCol(p.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("recompute position upsert %s: %w", symbol, err)
		}
		r.cache.invalidate(r.cacheKey(userID, symbol))
	}
	return nil
}
