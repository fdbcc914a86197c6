package execution

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/tradebot/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestRouter_Persist_UpdatesTradeAndCreatesPosition(t *testing.T) {
	st := newTestStore(t)
	trade := pendingTrade("user-1", "AAPL", 10, decimal.NewFromInt(100))
	seedUserAndTrade(t, st, trade)

	r := &Router{store: st}
	report := domain.ExecutionReport{
		Success:        true,
		ExecutionID:    "sim-" + trade.TradeID,
		Status:         domain.TradeFilled,
		FilledQuantity: 10,
		FillPrice:      decimal.NewFromInt(101),
		Venue:          domain.VenueSimulator,
		SubmittedAt:    time.Now(),
	}

	require.NoError(t, r.persist(context.Background(), trade, report, "persist-1"))

	saved, err := st.Trades.Get(context.Background(), trade.TradeID)
	require.NoError(t, err)
	require.Equal(t, domain.TradeFilled, saved.Status)
	require.NotNil(t, saved.FilledQuantity)
	require.Equal(t, 10, *saved.FilledQuantity)

	pos, err := st.Positions.Get(context.Background(), trade.UserID, trade.Symbol)
	require.NoError(t, err)
	require.NotNil(t, pos)
	require.Equal(t, 10, pos.NetQuantity)
}

func TestRouter_Persist_NonTerminalStatusLeavesPositionUntouched(t *testing.T) {
	st := newTestStore(t)
	trade := pendingTrade("user-1", "AAPL", 10, decimal.NewFromInt(100))
	seedUserAndTrade(t, st, trade)

	r := &Router{store: st}
	report := domain.ExecutionReport{
		Success:     false,
		ExecutionID: "order-1",
		Status:      domain.TradeSubmitted,
		SubmittedAt: time.Now(),
	}

	require.NoError(t, r.persist(context.Background(), trade, report, "persist-1"))

	pos, err := st.Positions.Get(context.Background(), trade.UserID, trade.Symbol)
	require.NoError(t, err)
	require.Nil(t, pos)
}

func TestRouter_Persist_WritesAuditEntry(t *testing.T) {
	st := newTestStore(t)
	trade := pendingTrade("user-1", "AAPL", 10, decimal.NewFromInt(100))
	seedUserAndTrade(t, st, trade)

	r := &Router{store: st}
	report := domain.ExecutionReport{
		Success:        true,
		ExecutionID:    "sim-" + trade.TradeID,
		Status:         domain.TradeFilled,
		FilledQuantity: 10,
		FillPrice:      decimal.NewFromInt(101),
		Venue:          domain.VenueSimulator,
		SubmittedAt:    time.Now(),
	}
	require.NoError(t, r.persist(context.Background(), trade, report, "persist-1"))

	entries, err := st.Audit.ListByCorrelationID(context.Background(), trade.CorrelationID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, domain.AuditTradeExecuted, entries[0].Action)
}
