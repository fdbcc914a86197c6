package di

import (
	"fmt"
	"math/rand"

	"github.com/aristath/tradebot/internal/aiservice"
	"github.com/aristath/tradebot/internal/broker"
	"github.com/aristath/tradebot/internal/chat"
	"github.com/aristath/tradebot/internal/config"
	"github.com/aristath/tradebot/internal/database"
	"github.com/aristath/tradebot/internal/events"
	"github.com/aristath/tradebot/internal/execution"
	"github.com/aristath/tradebot/internal/marketdata"
	"github.com/aristath/tradebot/internal/notify"
	"github.com/aristath/tradebot/internal/orchestrator"
	"github.com/aristath/tradebot/internal/risk"
	"github.com/aristath/tradebot/internal/store"
	"github.com/shopspring/decimal"
	"github.com/rs/zerolog"
)

// Wire initializes every dependency and returns a fully wired container.
// Order of operations mirrors the teacher's staged init: database, then
// store/repositories, then collaborator services, then the orchestrator
// that ties them together. Any failure at a stage closes what the
// earlier stages opened before returning.
func Wire(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	ledgerDB, err := database.New(database.Config{
		Path:    cfg.DataDir + "/ledger.db",
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ledger database: %w", err)
	}
	if err := ledgerDB.Migrate(); err != nil {
		ledgerDB.Close()
		return nil, fmt.Errorf("failed to migrate ledger database: %w", err)
	}

	st := store.New(ledgerDB, log)

	provider := broker.NewHTTPQuoteProvider(cfg.QuoteProviderURL, cfg.QuoteProviderAPIKey, log)
	// No SharedCache collaborator exists in this deployment (§6); the
	// gateway degrades to L1-only, which it supports by contract.
	quotes := marketdata.New(provider, nil, cfg.QuoteRateLimitPerMin, cfg.QuoteRateLimitBurst, log)

	sim := broker.NewSimulator(rand.NewSource(1))

	var paper *broker.PaperClient
	if cfg.BrokerEnabled {
		paper, err = broker.NewPaperClient(cfg.BrokerBaseURL, cfg.BrokerPaperHost, cfg.BrokerKeyID, cfg.BrokerSecret, log)
		if err != nil {
			log.Warn().Err(err).Msg("paper broker client not configured, real trading routes will downgrade to simulator")
			paper = nil
		}
	}

	var ai aiservice.Client
	if cfg.AIServiceURL != "" {
		ai = aiservice.NewHTTPClient(cfg.AIServiceURL, log)
	} else {
		ai = aiservice.Disabled{}
	}

	chatClient := chat.NewMemoryClient()
	evt := events.NewManager(log)

	maxTradeValue, err := decimal.NewFromString(cfg.MaxTradeValue)
	if err != nil {
		ledgerDB.Close()
		return nil, fmt.Errorf("invalid MAX_TRADE_VALUE %q: %w", cfg.MaxTradeValue, err)
	}

	router := execution.New(st, paper, sim, evt, execution.RoutingConfig{
		UseRealTrading:  cfg.UseRealTrading,
		BrokerEnabled:   cfg.BrokerEnabled,
		BrokerKeyID:     cfg.BrokerKeyID,
		PaperPrefix:     cfg.BrokerPaperPrefix,
		PaperHost:       cfg.BrokerPaperHost,
		BrokerBaseURL:   cfg.BrokerBaseURL,
		MaxPositionSize: cfg.MaxPositionSize,
		MaxTradeValue:   maxTradeValue,
	}, log)

	riskEngine := risk.New(st, quotes, evt, log)
	dispatcher := notify.New(chatClient, st, log)

	orch := orchestrator.New(chatClient, quotes, ai, router, riskEngine, dispatcher, st, evt, orchestrator.Config{}, log)

	log.Info().Msg("dependency injection wiring completed")

	return &Container{
		LedgerDB: ledgerDB,
		Store:    st,
		Quotes:   quotes,
		Paper:    paper,
		Sim:      sim,
		AI:       ai,
		Chat:     chatClient,
		Events:   evt,
		Router:   router,
		Risk:     riskEngine,
		Notify:   dispatcher,
		Orch:     orch,
	}, nil
}
