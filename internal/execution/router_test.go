package execution

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aristath/tradebot/internal/broker"
	"github.com/aristath/tradebot/internal/database"
	"github.com/aristath/tradebot/internal/domain"
	"github.com/aristath/tradebot/internal/events"
	"github.com/aristath/tradebot/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := database.New(database.Config{Path: ":memory:", Profile: database.ProfileLedger, Name: "ledger"})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	return store.New(db, zerolog.Nop())
}

func testRoutingConfig() RoutingConfig {
	return RoutingConfig{
		MaxPositionSize: 100_000,
		MaxTradeValue:   decimal.NewFromInt(1_000_000),
	}
}

func pendingTrade(userID, symbol string, qty int, entry decimal.Decimal) domain.Trade {
	return domain.Trade{
		TradeID:          uuid.NewString(),
		UserID:           userID,
		Symbol:           symbol,
		Side:             domain.SideBuy,
		Quantity:         qty,
		OrderType:        domain.OrderMarket,
		EntryPrice:       entry,
		EntryPriceSource: domain.EntryPriceQuote,
		Status:           domain.TradePending,
		Venue:            domain.VenueSimulator,
		CorrelationID:    uuid.NewString(),
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}
}

func seedUserAndTrade(t *testing.T, st *store.Store, trade domain.Trade) {
	t.Helper()
	require.NoError(t, st.Users.Create(context.Background(), domain.User{
		UserID:      trade.UserID,
		ChatID:      "chat-" + trade.UserID,
		DisplayName: "Test User",
		Role:        domain.RoleTrader,
		Status:      domain.UserActive,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}))
	require.NoError(t, st.Trades.CreatePending(context.Background(), trade, "create-"+trade.TradeID))
}

func TestRouter_DecideRouting_UseRealTradingOffStaysSimulated(t *testing.T) {
	r := &Router{cfg: RoutingConfig{UseRealTrading: false}}
	useReal, reason := r.decideRouting()
	require.False(t, useReal)
	require.Empty(t, reason)
}

func TestRouter_DecideRouting_BrokerDisabled(t *testing.T) {
	r := &Router{cfg: RoutingConfig{UseRealTrading: true, BrokerEnabled: false}}
	useReal, reason := r.decideRouting()
	require.False(t, useReal)
	require.NotEmpty(t, reason)
}

func TestRouter_DecideRouting_NoPaperClientConfigured(t *testing.T) {
	r := &Router{cfg: RoutingConfig{UseRealTrading: true, BrokerEnabled: true}}
	useReal, reason := r.decideRouting()
	require.False(t, useReal)
	require.NotEmpty(t, reason)
}

func TestRouter_DecideRouting_CredentialPrefixMismatch(t *testing.T) {
	paper, err := broker.NewPaperClient("https://paper.example.com", "paper.example.com", "LIVE-key", "secret", zerolog.Nop())
	require.NoError(t, err)
	r := &Router{
		paper: paper,
		cfg: RoutingConfig{
			UseRealTrading: true,
			BrokerEnabled:  true,
			BrokerKeyID:    "LIVE-key",
			PaperPrefix:    "PK",
			BrokerBaseURL:  "https://paper.example.com",
			PaperHost:      "paper.example.com",
		},
	}
	useReal, reason := r.decideRouting()
	require.False(t, useReal)
	require.NotEmpty(t, reason)
}

func TestRouter_DecideRouting_BaseURLHostMismatch(t *testing.T) {
	paper, err := broker.NewPaperClient("https://paper.example.com", "paper.example.com", "PK-key", "secret", zerolog.Nop())
	require.NoError(t, err)
	r := &Router{
		paper: paper,
		cfg: RoutingConfig{
			UseRealTrading: true,
			BrokerEnabled:  true,
			BrokerKeyID:    "PK-key",
			PaperPrefix:    "PK",
			BrokerBaseURL:  "https://other.example.com",
			PaperHost:      "paper.example.com",
		},
	}
	useReal, reason := r.decideRouting()
	require.False(t, useReal)
	require.NotEmpty(t, reason)
}

func TestRouter_DecideRouting_AllConditionsMetUsesReal(t *testing.T) {
	paper, err := broker.NewPaperClient("https://paper.example.com", "paper.example.com", "PK-key", "secret", zerolog.Nop())
	require.NoError(t, err)
	r := &Router{
		paper: paper,
		cfg: RoutingConfig{
			UseRealTrading: true,
			BrokerEnabled:  true,
			BrokerKeyID:    "PK-key",
			PaperPrefix:    "PK",
			BrokerBaseURL:  "https://paper.example.com",
			PaperHost:      "paper.example.com",
		},
	}
	useReal, reason := r.decideRouting()
	require.True(t, useReal)
	require.Empty(t, reason)
}

func TestRouter_Execute_RejectsNonPendingTrade(t *testing.T) {
	st := newTestStore(t)
	sim := broker.NewSimulator(nil)
	router := New(st, nil, sim, events.NewManager(zerolog.Nop()), testRoutingConfig(), zerolog.Nop())

	trade := pendingTrade("user-1", "AAPL", 10, decimal.NewFromInt(100))
	trade.Status = domain.TradeFilled

	_, err := router.Execute(context.Background(), trade, "op-1")
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestRouter_Execute_RejectsQuantityOutOfBounds(t *testing.T) {
	st := newTestStore(t)
	sim := broker.NewSimulator(nil)
	cfg := testRoutingConfig()
	cfg.MaxPositionSize = 100
	router := New(st, nil, sim, events.NewManager(zerolog.Nop()), cfg, zerolog.Nop())

	trade := pendingTrade("user-1", "AAPL", 500, decimal.NewFromInt(100))

	_, err := router.Execute(context.Background(), trade, "op-1")
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "quantity", verr.Field)
}

func TestRouter_Execute_RejectsNotionalOverMax(t *testing.T) {
	st := newTestStore(t)
	sim := broker.NewSimulator(nil)
	cfg := testRoutingConfig()
	cfg.MaxTradeValue = decimal.NewFromInt(100)
	router := New(st, nil, sim, events.NewManager(zerolog.Nop()), cfg, zerolog.Nop())

	trade := pendingTrade("user-1", "AAPL", 10, decimal.NewFromInt(100))

	_, err := router.Execute(context.Background(), trade, "op-1")
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestRouter_Execute_SimulatedPathPersistsFillAndEmitsEvent(t *testing.T) {
	st := newTestStore(t)
	trade := pendingTrade("user-1", "AAPL", 10, decimal.NewFromInt(100))
	seedUserAndTrade(t, st, trade)

	var gotEvent events.Event
	mgr := events.NewManager(zerolog.Nop())
	mgr.Subscribe(events.TradeExecuted, func(e events.Event) { gotEvent = e })

	router := New(st, nil, broker.NewSimulator(nil), mgr, testRoutingConfig(), zerolog.Nop())

	report, err := router.Execute(context.Background(), trade, "exec-1")
	require.NoError(t, err)
	require.True(t, report.Success)
	require.Equal(t, domain.VenueSimulator, report.Venue)

	saved, err := st.Trades.Get(context.Background(), trade.TradeID)
	require.NoError(t, err)
	require.Equal(t, domain.TradeFilled, saved.Status)
	require.Equal(t, events.TradeExecuted, gotEvent.Type)
}

func TestRouter_Execute_SimulatedPathIsIdempotentOnOpID(t *testing.T) {
	st := newTestStore(t)
	trade := pendingTrade("user-1", "AAPL", 10, decimal.NewFromInt(100))
	seedUserAndTrade(t, st, trade)

	router := New(st, nil, broker.NewSimulator(nil), events.NewManager(zerolog.Nop()), testRoutingConfig(), zerolog.Nop())

	_, err := router.Execute(context.Background(), trade, "exec-1")
	require.NoError(t, err)

	_, err = router.Execute(context.Background(), trade, "exec-1")
	require.NoError(t, err, "a retried call with the same opID must not error")
}

func TestRouter_Execute_RealPathFillsOnFirstPoll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v2/assets/AAPL":
			w.Write([]byte(`{"tradable":true}`))
		case r.URL.Path == "/v2/clock":
			w.Write([]byte(`{"is_open":true}`))
		case r.URL.Path == "/v2/account":
			w.Write([]byte(`{"buying_power":"100000.0000","status":"ACTIVE"}`))
		case r.URL.Path == "/v2/orders":
			w.Write([]byte(`{"id":"order-1","status":"accepted"}`))
		case r.URL.Path == "/v2/orders/order-1":
			w.Write([]byte(`{"id":"order-1","status":"filled","filled_qty":"10","filled_avg_price":"101.0000"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	paper, err := broker.NewPaperClient(srv.URL, srv.URL, "PK-key", "secret", zerolog.Nop())
	require.NoError(t, err)

	st := newTestStore(t)
	trade := pendingTrade("user-1", "AAPL", 10, decimal.NewFromInt(100))
	seedUserAndTrade(t, st, trade)

	cfg := testRoutingConfig()
	cfg.UseRealTrading = true
	cfg.BrokerEnabled = true
	cfg.BrokerKeyID = "PK-key"
	cfg.PaperPrefix = "PK"
	cfg.BrokerBaseURL = srv.URL
	cfg.PaperHost = srv.URL

	router := New(st, paper, broker.NewSimulator(nil), events.NewManager(zerolog.Nop()), cfg, zerolog.Nop())

	report, err := router.Execute(context.Background(), trade, "exec-1")
	require.NoError(t, err)
	require.Equal(t, domain.TradeFilled, report.Status)
	require.Equal(t, domain.VenueBroker, report.Venue)
}

func TestRouter_Execute_RealPathInsufficientFunds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/assets/AAPL":
			w.Write([]byte(`{"tradable":true}`))
		case "/v2/clock":
			w.Write([]byte(`{"is_open":true}`))
		case "/v2/account":
			w.Write([]byte(`{"buying_power":"1.0000","status":"ACTIVE"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	paper, err := broker.NewPaperClient(srv.URL, srv.URL, "PK-key", "secret", zerolog.Nop())
	require.NoError(t, err)

	st := newTestStore(t)
	trade := pendingTrade("user-1", "AAPL", 10, decimal.NewFromInt(100))
	seedUserAndTrade(t, st, trade)

	cfg := testRoutingConfig()
	cfg.UseRealTrading = true
	cfg.BrokerEnabled = true
	cfg.BrokerKeyID = "PK-key"
	cfg.PaperPrefix = "PK"
	cfg.BrokerBaseURL = srv.URL
	cfg.PaperHost = srv.URL

	router := New(st, paper, broker.NewSimulator(nil), events.NewManager(zerolog.Nop()), cfg, zerolog.Nop())

	_, err = router.Execute(context.Background(), trade, "exec-1")
	var insufficient *domain.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
}

func TestRouter_Execute_CircuitTripDowngradesToSimulator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	paper, err := broker.NewPaperClient(srv.URL, srv.URL, "PK-key", "secret", zerolog.Nop())
	require.NoError(t, err)

	st := newTestStore(t)
	trade := pendingTrade("user-1", "AAPL", 10, decimal.NewFromInt(100))
	seedUserAndTrade(t, st, trade)

	cfg := testRoutingConfig()
	cfg.UseRealTrading = true
	cfg.BrokerEnabled = true
	cfg.BrokerKeyID = "PK-key"
	cfg.PaperPrefix = "PK"
	cfg.BrokerBaseURL = srv.URL
	cfg.PaperHost = srv.URL

	router := New(st, paper, broker.NewSimulator(nil), events.NewManager(zerolog.Nop()), cfg, zerolog.Nop())

	report, err := router.Execute(context.Background(), trade, "exec-1")
	require.NoError(t, err, "a tripped circuit must fall back to the simulator rather than fail the trade")
	require.Equal(t, domain.VenueSimulator, report.Venue)

	entries, err := st.Audit.ListByCorrelationID(context.Background(), trade.CorrelationID)
	require.NoError(t, err)
	found := false
	for _, e := range entries {
		if e.Action == domain.AuditRoutingDowngrade {
			found = true
		}
	}
	require.True(t, found, "the downgrade must be audited")
}

func TestIsCircuitTrip_MatchesBrokerUnavailable(t *testing.T) {
	require.True(t, isCircuitTrip(&domain.BrokerUnavailableError{}))
	require.False(t, isCircuitTrip(&domain.ValidationError{}))
	require.False(t, isCircuitTrip(nil))
}
