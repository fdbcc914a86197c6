// Package di provides dependency injection wiring for the trading bot,
// staged the way the teacher's wire.go assembles its 7-database
// architecture: databases, then repositories, then services, narrowed
// here to the single ledger database and five collaborator services
// this system needs.
package di

import (
	"github.com/aristath/tradebot/internal/aiservice"
	"github.com/aristath/tradebot/internal/broker"
	"github.com/aristath/tradebot/internal/chat"
	"github.com/aristath/tradebot/internal/database"
	"github.com/aristath/tradebot/internal/events"
	"github.com/aristath/tradebot/internal/execution"
	"github.com/aristath/tradebot/internal/marketdata"
	"github.com/aristath/tradebot/internal/notify"
	"github.com/aristath/tradebot/internal/orchestrator"
	"github.com/aristath/tradebot/internal/risk"
	"github.com/aristath/tradebot/internal/store"
)

// Container holds every wired component the server and its background
// workers depend on.
type Container struct {
	LedgerDB *database.DB
	Store    *store.Store

	Quotes  *marketdata.Gateway
	Paper   *broker.PaperClient // nil when the broker is disabled or the base URL does not match the paper host
	Sim     *broker.Simulator
	AI      aiservice.Client
	Chat    chat.Client
	Events  *events.Manager
	Router  *execution.Router
	Risk    *risk.Engine
	Notify  *notify.Dispatcher
	Orch    *orchestrator.Orchestrator
}

// Close releases every resource the container owns.
func (c *Container) Close() error {
	if c.LedgerDB != nil {
		return c.LedgerDB.Close()
	}
	return nil
}
