package store

import (
	"testing"
	"time"

	"github.com/aristath/tradebot/internal/database"
	"github.com/aristath/tradebot/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// newTestStore builds a fully migrated in-memory ledger for repository
// tests. Each call gets its own isolated sqlite connection.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    ":memory:",
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	return New(db, zerolog.Nop())
}

func testUser(userID string) domain.User {
	now := time.Now().UTC().Truncate(time.Second)
	return domain.User{
		UserID:      userID,
		ChatID:      "chat-" + userID,
		DisplayName: "Test User",
		Role:        domain.RoleTrader,
		Status:      domain.UserActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func testTrade(tradeID, userID string) domain.Trade {
	now := time.Now().UTC().Truncate(time.Second)
	return domain.Trade{
		TradeID:          tradeID,
		UserID:           userID,
		Symbol:           "AAPL",
		Side:             domain.SideBuy,
		Quantity:         10,
		OrderType:        domain.OrderMarket,
		EntryPrice:       decimal.NewFromFloat(150.25),
		EntryPriceSource: domain.EntryPriceQuote,
		Status:           domain.TradePending,
		Commission:       decimal.Zero,
		Venue:            domain.VenueSimulator,
		CorrelationID:    "corr-1",
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}
