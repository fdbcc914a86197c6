// Package execution implements the Trade Execution Router (§4.2): routes a
// pending trade to the real paper broker or the local simulator, validates
// preconditions, monitors fills, and persists the result atomically.
package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/tradebot/internal/broker"
	"github.com/aristath/tradebot/internal/domain"
	"github.com/aristath/tradebot/internal/events"
	"github.com/aristath/tradebot/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// fillPollBackoff is the broker fill-poll schedule from §4.2, capped at 15s
// total wait.
var fillPollBackoff = []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, 1 * time.Second, 2 * time.Second, 4 * time.Second}

const fillPollBudget = 15 * time.Second

// RoutingConfig carries the policy inputs that decide real-broker vs
// simulator (§4.2's routing decision), kept separate from internal/config
// so the router doesn't import the whole app config.
type RoutingConfig struct {
	UseRealTrading  bool
	BrokerEnabled   bool
	BrokerKeyID     string
	PaperPrefix     string
	PaperHost       string
	BrokerBaseURL   string
	MaxPositionSize int
	MaxTradeValue   decimal.Decimal
}

// Router selects between broker.PaperClient and broker.Simulator and
// normalizes the result into a persisted Trade + Position + audit entry.
type Router struct {
	store     *store.Store
	paper     *broker.PaperClient // nil if never configured
	simulator *broker.Simulator
	events    *events.Manager
	cfg       RoutingConfig
	log       zerolog.Logger
}

func New(st *store.Store, paper *broker.PaperClient, sim *broker.Simulator, evt *events.Manager, cfg RoutingConfig, log zerolog.Logger) *Router {
	return &Router{
		store:     st,
		paper:     paper,
		simulator: sim,
		events:    evt,
		cfg:       cfg,
		log:       log.With().Str("component", "execution").Logger(),
	}
}

// Execute routes trade (which must be in Pending status) to the real
// broker or the simulator, persists the outcome, and emits trade-executed.
// opID is the idempotency key: a retried call with the same opID and trade
// must not double-submit or double-write.
func (r *Router) Execute(ctx context.Context, trade domain.Trade, opID string) (*domain.ExecutionReport, error) {
	if trade.Status != domain.TradePending {
		return nil, &domain.ValidationError{Field: "status", Reason: "trade must be pending to execute"}
	}
	if trade.Quantity <= 0 || trade.Quantity > r.cfg.MaxPositionSize {
		return nil, &domain.ValidationError{Field: "quantity", Reason: "quantity out of bounds"}
	}
	if trade.Notional().GreaterThan(r.cfg.MaxTradeValue) {
		return nil, &domain.ValidationError{Field: "quantity", Reason: "notional exceeds max trade value"}
	}

	useReal, downgradeReason := r.decideRouting()
	if downgradeReason != "" {
		r.auditDowngrade(ctx, trade, downgradeReason)
	}

	var report *domain.ExecutionReport
	var err error
	if useReal {
		report, err = r.executeReal(ctx, trade)
		if isCircuitTrip(err) {
			r.log.Warn().Str("trade_id", trade.TradeID).Msg("broker circuit open, downgrading to simulator for this call")
			r.auditDowngrade(ctx, trade, "broker unavailable, downgraded to simulator")
			report, err = r.executeSimulated(trade)
		}
	} else {
		report, err = r.executeSimulated(trade)
	}
	if err != nil {
		return nil, err
	}

	if err := r.persist(ctx, trade, *report, opID); err != nil {
		return nil, fmt.Errorf("persist execution: %w", err)
	}

	r.events.Emit(events.TradeExecuted, "execution", map[string]any{
		"trade_id": trade.TradeID,
		"user_id":  trade.UserID,
		"symbol":   trade.Symbol,
		"status":   string(report.Status),
	})

	return report, nil
}

// decideRouting implements §4.2's routing decision verbatim: real broker
// iff use_real_trading, broker_enabled, credentials start with the
// paper-trading prefix, and the base URL matches the paper host. Any
// mismatch downgrades to the simulator, and the router never dispatches
// to a non-paper host regardless of these flags (broker.NewPaperClient
// refuses construction against one, so r.paper is nil in that case).
func (r *Router) decideRouting() (useReal bool, downgradeReason string) {
	if !r.cfg.UseRealTrading {
		return false, ""
	}
	if !r.cfg.BrokerEnabled {
		return false, "broker disabled"
	}
	if r.paper == nil {
		return false, "no paper-trading broker client configured"
	}
	if r.cfg.PaperPrefix != "" && !strings.HasPrefix(r.cfg.BrokerKeyID, r.cfg.PaperPrefix) {
		return false, "broker credentials do not match paper-trading prefix"
	}
	if !strings.Contains(r.cfg.BrokerBaseURL, r.cfg.PaperHost) {
		return false, "broker base url does not match paper-trading host"
	}
	return true, ""
}

func (r *Router) auditDowngrade(ctx context.Context, trade domain.Trade, reason string) {
	entry := domain.AuditEntry{
		AuditID:       uuid.NewString(),
		Timestamp:     time.Now(),
		ActorUserID:   &trade.UserID,
		Action:        domain.AuditRoutingDowngrade,
		Severity:      domain.SeverityWarn,
		SubjectKind:   "trade",
		SubjectID:     trade.TradeID,
		After:         map[string]any{"reason": reason},
		CorrelationID: trade.CorrelationID,
	}
	if err := r.store.Audit.Insert(ctx, entry); err != nil {
		r.log.Error().Err(err).Msg("failed to audit routing downgrade")
	}
}

func isCircuitTrip(err error) bool {
	var unavailable *domain.BrokerUnavailableError
	return errors.As(err, &unavailable)
}
